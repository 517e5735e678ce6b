package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wikimannia/refreshstats/internal/logger"
	"github.com/wikimannia/refreshstats/internal/model"
	"github.com/wikimannia/refreshstats/internal/report"
	"github.com/wikimannia/refreshstats/internal/store"
)

// passFunc runs one pass against a local or remote service.
type passFunc func(ctx context.Context, svc model.StatsService) (model.Report, error)

func newCheckCmd(root *rootOptions) *cobra.Command {
	var metric string
	var remote bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare live counts with site_stats without writing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPass(cmd, root, remote, func(ctx context.Context, svc model.StatsService) (model.Report, error) {
				rep, err := svc.Check(ctx)
				if err != nil || metric == "" {
					return rep, err
				}
				return onlyMetric(rep, metric)
			})
		},
	}
	addReportFlags(cmd, &metric, &remote)
	return cmd
}

func newReconcileCmd(root *rootOptions) *cobra.Command {
	var metric string
	var remote bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recount statistics and repair site_stats where it drifted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPass(cmd, root, remote, func(ctx context.Context, svc model.StatsService) (model.Report, error) {
				if metric != "" {
					return svc.ReconcileMetric(ctx, metric)
				}
				return svc.ReconcileAll(ctx)
			})
		},
	}
	addReportFlags(cmd, &metric, &remote)
	cmd.Flags().String("snapshot-dir", "", "copy the DuckDB file here before writing")
	return cmd
}

// runPass resolves config, picks a local or remote service, runs pass and
// renders the report. A report that is not ok yields errNotOK.
func runPass(cmd *cobra.Command, root *rootOptions, remote bool, pass passFunc) error {
	cfg, err := loadConfig(root.configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	var svc model.StatsService
	if remote {
		if cmd.Name() == "reconcile" && cfg.SnapshotDir != "" {
			// The serving process owns the database file.
			if cmd.Flags().Changed("snapshot-dir") {
				return errors.New("--snapshot-dir cannot be combined with --remote")
			}
			log.Warn("snapshot skipped for remote reconcile", logger.String("snapshot_dir", cfg.SnapshotDir))
		}
		client, err := remoteService(cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		svc = client
	} else {
		a, err := openApp(cfg, log, nil)
		if err != nil {
			return err
		}
		defer a.Close()
		if cmd.Name() == "reconcile" {
			if err := a.snapshot(ctx, cfg.SnapshotDir); err != nil {
				return err
			}
		}
		svc = a.rec
	}

	rep, err := pass(ctx, svc)
	if err != nil {
		if len(rep.Results) > 0 {
			_ = report.Render(cmd.OutOrStdout(), rep, cfg.Output)
		}
		return err
	}
	if err := report.Render(cmd.OutOrStdout(), rep, cfg.Output); err != nil {
		return err
	}
	if !rep.OK {
		return errNotOK
	}
	return nil
}

// onlyMetric narrows a full report to the named metric.
func onlyMetric(rep model.Report, name string) (model.Report, error) {
	d, err := model.Lookup(model.Descriptors(nil), name)
	if err != nil {
		return rep, err
	}
	out := rep
	out.Results = nil
	for _, res := range rep.Results {
		if res.Metric == d.Metric {
			out.Results = append(out.Results, res)
		}
	}
	out.Summarize()
	return out, nil
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var status, demo bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or inspect the embedded DuckDB schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root.configPath, cmd.Flags())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.DBDriver != store.DriverDuckDB {
				return fmt.Errorf("migrate only manages the embedded %s schema, not %s", store.DriverDuckDB, cfg.DBDriver)
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			s, err := store.Open(store.Config{
				Driver:       cfg.DBDriver,
				DSN:          cfg.DSN(),
				TablePrefix:  cfg.TablePrefix,
				QueryTimeout: cfg.QueryTimeout,
				Migrate:      !status,
			})
			if err != nil {
				return err
			}
			defer s.Close()

			current, pending, err := s.MigrationStatus()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d, %d pending\n", current, pending)
			if status || !demo {
				return nil
			}

			if err := seedDemo(cmd.Context(), s); err != nil {
				return fmt.Errorf("seeding demo data: %w", err)
			}
			log.Info("demo data seeded", logger.String("path", s.Path()))
			fmt.Fprintln(cmd.OutOrStdout(), "demo data seeded; run `refreshstats check` to see the drift")
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print the schema version without migrating")
	cmd.Flags().BoolVar(&demo, "demo", false, "seed sample pages, images and users with stale statistics")
	return cmd
}

// seedDemo inserts a small wiki whose cached statistics are out of date.
func seedDemo(ctx context.Context, s *store.Store) error {
	pages := []store.Page{
		{Namespace: model.NSMain, Title: "Main_Page"},
		{Namespace: model.NSMain, Title: "Go_(programming_language)"},
		{Namespace: model.NSMain, Title: "Golang", Redirect: true},
		{Namespace: model.NSMain, Title: "Concurrency"},
		{Namespace: 1, Title: "Concurrency"},
		{Namespace: 2, Title: "Alice"},
	}
	if err := s.InsertPages(ctx, pages); err != nil {
		return err
	}
	if err := s.InsertImages(ctx, "Gopher.png", "Wiki.png"); err != nil {
		return err
	}
	if err := s.InsertUsers(ctx, "Alice", "Bob", "MediaWiki_default"); err != nil {
		return err
	}
	stale := map[string]int64{
		model.FieldGood:   1,
		model.FieldTotal:  6,
		model.FieldImages: 0,
		model.FieldUsers:  1,
	}
	for field, v := range stale {
		if err := s.SetSummary(ctx, field, v); err != nil {
			return err
		}
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "refreshstats - MediaWiki site statistics reconciler\n")
	fmt.Fprintf(w, "  Version:    %s\n", version)
	fmt.Fprintf(w, "  Commit:     %s\n", commit)
	fmt.Fprintf(w, "  Built:      %s\n", buildTime)
	fmt.Fprintf(w, "  Go version: %s\n", goVersion)
}
