package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/erp/crmsync/internal/app"
	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type eventLine struct {
	EventID     int64                    `json:"event_id"`
	EventType   integration.EventType    `json:"event_type"`
	EntityType  string                   `json:"entity_type"`
	CanonicalID uuid.UUID                `json:"canonical_id"`
	OccurredAt  time.Time                `json:"occurred_at"`
	BatchID     uuid.UUID                `json:"batch_id"`
	Payload     integration.EventPayload `json:"payload"`
}

type tailOptions struct {
	entityType string
	from       int64
	limit      int
	follow     bool
	interval   time.Duration
}

func newEventsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Read the domain event log",
	}

	opts := tailOptions{}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print events after an event id, one JSON object per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd, flags, func(ctx context.Context, p *app.Pipeline) error {
				return tailEvents(ctx, p.Events, cmd.OutOrStdout(), opts)
			})
		},
	}
	tail.Flags().StringVar(&opts.entityType, "type", "", "Entity type (default: every type)")
	tail.Flags().Int64Var(&opts.from, "from", 0, "Print events with an id greater than this")
	tail.Flags().IntVar(&opts.limit, "limit", 0, "Stop after this many events (0: no limit)")
	tail.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Keep polling for new events")
	tail.Flags().DurationVar(&opts.interval, "interval", 2*time.Second, "Poll interval with --follow")
	cmd.AddCommand(tail)
	return cmd
}

// tailEvents streams events until the log is drained, the limit is reached
// or, with follow, ctx ends
func tailEvents(ctx context.Context, events integration.EventStore, w io.Writer, opts tailOptions) error {
	enc := json.NewEncoder(w)
	after, printed := opts.from, 0
	for {
		for ev, err := range integration.Replay(ctx, events, opts.entityType, after, 200) {
			if err != nil {
				if opts.follow && ctx.Err() != nil {
					return nil
				}
				return err
			}
			if err := enc.Encode(eventLine{
				EventID:     ev.EventID,
				EventType:   ev.EventType,
				EntityType:  ev.EntityType,
				CanonicalID: ev.CanonicalID,
				OccurredAt:  ev.OccurredAt,
				BatchID:     ev.CausationBatchID,
				Payload:     ev.PayloadDelta,
			}); err != nil {
				return err
			}
			after = ev.EventID
			printed++
			if opts.limit > 0 && printed >= opts.limit {
				return nil
			}
		}
		if !opts.follow {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.interval):
		}
	}
}
