package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/config"
	"github.com/jmerrifield20/civicstreak/internal/recordstore"
	"github.com/jmerrifield20/civicstreak/internal/snapshot"
	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// openStore opens the configured record store bound to ns, or to the
// configured namespace when ns is empty.
func openStore(ctx context.Context, cfg *config.Config, ns string, logger *zap.Logger) (recordstore.Backend, error) {
	opts := cfg.StoreOptions()
	// CLI runs are short-lived; a read cache only hides concurrent writers.
	opts.CacheSize = 0
	if ns != "" {
		opts.Namespace = streak.Namespace(ns)
	}
	if opts.Driver == recordstore.DriverMemory {
		return nil, errors.New("store.driver is memory; offline commands need a persistent store")
	}
	return recordstore.Open(ctx, opts, logger)
}

func newBucket(ctx context.Context, cfg *config.Config) (snapshot.Bucket, error) {
	if cfg.Snapshot.S3Bucket != "" {
		up, err := snapshot.NewS3Uploader(ctx, snapshot.S3Options{
			Bucket:          cfg.Snapshot.S3Bucket,
			Region:          cfg.Snapshot.S3Region,
			Endpoint:        cfg.Snapshot.S3Endpoint,
			AccessKeyID:     cfg.Snapshot.AccessKeyID,
			SecretAccessKey: cfg.Snapshot.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return up, nil
	}
	if cfg.Snapshot.Dir != "" {
		return snapshot.NewDirUploader(cfg.Snapshot.Dir), nil
	}
	return nil, errors.New("no snapshot destination: set snapshot.dir or snapshot.s3_bucket")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── migrate-namespace ─────────────────────────────────────────────────────────

func newMigrateNamespaceCmd(g *globals) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "migrate-namespace",
		Short: "Copy every record of one namespace into another",
		Long: `Copies all records from --from into --to within the configured store.
Records already present in the target namespace are skipped, so the command
can be re-run after a partial failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" || to == "" {
				return errors.New("--from and --to are required")
			}
			if from == to {
				return errors.New("--from and --to must differ")
			}
			cfg, err := config.Load(g.cfgFile)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := zap.NewNop()

			src, err := openStore(ctx, cfg, from, logger)
			if err != nil {
				return fmt.Errorf("open source namespace: %w", err)
			}
			defer src.Close()
			dst, err := openStore(ctx, cfg, to, logger)
			if err != nil {
				return fmt.Errorf("open target namespace: %w", err)
			}
			defer dst.Close()

			st, err := snapshot.Migrate(ctx, src, dst)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s -> %s: %d copied, %d skipped\n", from, to, st.Copied, st.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source namespace")
	cmd.Flags().StringVar(&to, "to", "", "Target namespace")
	return cmd
}

// ── snapshot ──────────────────────────────────────────────────────────────────

func newSnapshotCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export, trigger and restore record snapshots",
	}

	export := &cobra.Command{
		Use:   "export",
		Short: "Export the configured namespace to the snapshot destination",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.cfgFile)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			up, err := newBucket(ctx, cfg)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg, "", zap.NewNop())
			if err != nil {
				return err
			}
			defer store.Close()

			m, err := snapshot.NewExporter(store, store.Namespace(), up, cfg.Snapshot.Prefix, zap.NewNop()).Export(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, m)
		},
	}

	var adminSecret string
	trigger := &cobra.Command{
		Use:   "trigger",
		Short: "Ask --server to export a snapshot (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if adminSecret == "" {
				adminSecret = os.Getenv("CIVICSTREAK_ADMIN_SECRET")
			}
			if adminSecret == "" {
				return errors.New("--admin-secret or CIVICSTREAK_ADMIN_SECRET is required")
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			m, err := c.Snapshot(cmd.Context(), adminSecret)
			if err != nil {
				return err
			}
			return printJSON(cmd, m)
		},
	}
	trigger.Flags().StringVar(&adminSecret, "admin-secret", "", "Admin secret (default $CIVICSTREAK_ADMIN_SECRET)")

	var fromKey bool
	restore := &cobra.Command{
		Use:   "restore <file|key>",
		Short: "Load a snapshot data object into the configured namespace",
		Long: `Restores records from a snapshot data object. The argument is a local file,
or with --key an object key fetched from the configured snapshot destination.
Existing records are never overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.cfgFile)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var data []byte
			if fromKey {
				up, err := newBucket(ctx, cfg)
				if err != nil {
					return err
				}
				if data, err = up.Fetch(ctx, args[0]); err != nil {
					return err
				}
			} else if data, err = os.ReadFile(args[0]); err != nil {
				return err
			}

			store, err := openStore(ctx, cfg, "", zap.NewNop())
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := snapshot.Restore(ctx, data, store)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored into %s: %d copied, %d skipped\n", store.Namespace(), st.Copied, st.Skipped)
			return nil
		},
	}
	restore.Flags().BoolVar(&fromKey, "key", false, "Treat the argument as an object key in the snapshot destination")

	cmd.AddCommand(export, trigger, restore)
	return cmd
}
