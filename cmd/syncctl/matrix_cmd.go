package main

import (
	"context"
	"fmt"

	"github.com/erp/crmsync/internal/app"
	"github.com/erp/crmsync/internal/application/projection"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newMatrixCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Inspect the access matrix",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <userId>",
		Short: "Show a user's subordinates and visible entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			return withPipeline(cmd, flags, func(ctx context.Context, p *app.Pipeline) error {
				entry, err := p.Query.GetAccessEntry(ctx, userID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), entry)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "recompute",
		Short: "Recompute every access entry from the stored hierarchy and ownership",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd, flags, func(ctx context.Context, p *app.Pipeline) error {
				if err := p.Engine.Recompute(ctx, projection.AccessMatrixName); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "access matrix recomputed")
				return nil
			})
		},
	})
	return cmd
}
