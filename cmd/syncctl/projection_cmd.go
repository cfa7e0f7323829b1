package main

import (
	"context"
	"time"

	"github.com/erp/crmsync/internal/app"
	"github.com/spf13/cobra"
)

func newProjectionCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projection",
		Short: "Inspect and repair projections",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show every projection against the event log head",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd, flags, func(ctx context.Context, p *app.Pipeline) error {
				status, err := p.Engine.Status(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), status)
			})
		},
	})

	var timeout time.Duration
	catchUp := &cobra.Command{
		Use:   "run",
		Short: "Apply pending events to every projection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd, flags, func(ctx context.Context, p *app.Pipeline) error {
				results, err := p.CatchUp(ctx, timeout)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), results)
			})
		},
	}
	catchUp.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Bound on the catch-up")
	cmd.AddCommand(catchUp)

	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild <name>",
		Short: "Drop a projection and replay the event log from the start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd, flags, func(ctx context.Context, p *app.Pipeline) error {
				res, err := p.Engine.Rebuild(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "resume <name>",
		Short: "Clear a halt and retry from the failed event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd, flags, func(ctx context.Context, p *app.Pipeline) error {
				res, err := p.Engine.Resume(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	})
	return cmd
}
