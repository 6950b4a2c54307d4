package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/casevault/importer/internal/core"
	"github.com/casevault/importer/internal/store"
)

func newBatchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Inspect and roll back import batches",
	}

	cmd.AddCommand(newBatchesListCmd())
	cmd.AddCommand(newBatchesShowCmd())
	cmd.AddCommand(newBatchesRollbackCmd())
	return cmd
}

// connectService opens the configured database and wires a service over it.
// The returned func closes the pool.
func connectService(ctx context.Context) (*core.Service, func(), error) {
	cfg := loadCLIConfig()
	if cfg.DatabaseURL == "" {
		return nil, nil, withCode(exitUsage, fmt.Errorf("database url is not configured; set database.url in importctl.yaml or IMPORTCTL_DATABASE_URL"))
	}
	core.SimilarityThreshold = cfg.SimilarityThreshold

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := store.Connect(connectCtx, cfg.DatabaseURL, store.PoolOptions{})
	if err != nil {
		return nil, nil, withCode(exitDB, err)
	}

	pg := store.NewPostgres(pool)
	return core.NewService(pg, pg, cliLogger(), core.Options{}), pool.Close, nil
}

// orgFlag attaches a required --org flag and parses it in PreRunE.
func orgFlag(cmd *cobra.Command, out *uuid.UUID) {
	var org string
	cmd.Flags().StringVar(&org, "org", "", "Organization UUID (required)")
	_ = cmd.MarkFlagRequired("org")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(strings.TrimSpace(org))
		if err != nil {
			return withCode(exitUsage, fmt.Errorf("invalid --org: %w", err))
		}
		*out = id
		return nil
	}
}

func newBatchesListCmd() *cobra.Command {
	var orgID uuid.UUID

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the organization's batches, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			service, closeFn, err := connectService(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			batches, err := service.ListBatches(ctx, orgID)
			if err != nil {
				return withCode(exitDB, err)
			}
			for _, b := range batches {
				if err := writeJSONLine(b); err != nil {
					return err
				}
			}
			return nil
		},
	}

	orgFlag(cmd, &orgID)
	return cmd
}

func newBatchesShowCmd() *cobra.Command {
	var orgID uuid.UUID

	cmd := &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show one batch with its per-type outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			batchID, err := uuid.Parse(strings.TrimSpace(args[0]))
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid batch id: %w", err))
			}

			service, closeFn, err := connectService(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			batch, err := service.GetBatch(ctx, orgID, batchID)
			if err != nil {
				return mapStoreError(err)
			}
			byType, err := typeBreakdown(ctx, service, orgID, batchID)
			if err != nil {
				return withCode(exitDB, err)
			}

			return writeJSONLine(map[string]any{
				"batch":   batch,
				"by_type": byType,
			})
		},
	}

	orgFlag(cmd, &orgID)
	return cmd
}

func newBatchesRollbackCmd() *cobra.Command {
	var orgID uuid.UUID
	var apply, yes bool

	cmd := &cobra.Command{
		Use:   "rollback <batch-id>",
		Short: "Void everything a completed batch imported (dry-run by default)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			batchID, err := uuid.Parse(strings.TrimSpace(args[0]))
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid batch id: %w", err))
			}

			service, closeFn, err := connectService(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			preview, err := service.PreviewRollback(ctx, orgID, batchID)
			if err != nil {
				return mapStoreError(err)
			}

			if !apply {
				return writeJSONLine(map[string]any{
					"status":  "dry_run",
					"preview": preview,
				})
			}
			if !yes {
				return withCode(exitSafetyNet, fmt.Errorf("refusing to rollback without --yes"))
			}

			batch, removed, err := service.RollbackBatch(ctx, orgID, batchID)
			if err != nil {
				return mapStoreError(err)
			}
			return writeJSONLine(map[string]any{
				"status":           "applied",
				"batch":            batch,
				"entities_removed": removed,
			})
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "Apply the rollback (default is dry-run)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm destructive rollback")

	orgFlag(cmd, &orgID)
	return cmd
}

// mapStoreError turns service errors into exit codes: unknown ids and
// illegal states are the caller's mistake, the rest is the database.
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, core.ErrBatchNotFound),
		errors.Is(err, core.ErrNotRollbackable):
		return withCode(exitValidation, err)
	default:
		return withCode(exitDB, err)
	}
}
