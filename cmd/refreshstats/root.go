package main

import (
	"github.com/spf13/cobra"

	"github.com/wikimannia/refreshstats/internal/report"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "refreshstats",
		Short: "Recount and repair MediaWiki site statistics",
		Long: `refreshstats recounts good articles, pages, images and users from the
wiki's content tables and compares them with the cached site_stats row.
Mismatches are written back with a conditional update and confirmed by
re-reading the row.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default is $HOME/.config/refreshstats/config.yml)")
	pf.String("db-driver", "", "database driver: duckdb, mysql or postgres")
	pf.String("db-dsn", "", "database connection string")
	pf.String("db-replica-dsn", "", "read replica connection string used for counting")
	pf.String("db-path", "", "DuckDB file used when no DSN is given")
	pf.String("table-prefix", "", "table name prefix ($wgDBprefix)")
	pf.IntSlice("content-namespaces", nil, "namespaces whose pages count as articles")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log format: console or json")
	pf.String("log-file", "", "write logs to this file instead of stderr")

	cmd.AddCommand(
		newCheckCmd(opts),
		newReconcileCmd(opts),
		newServeCmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// addReportFlags registers the flags shared by check and reconcile.
func addReportFlags(cmd *cobra.Command, metric *string, remote *bool) {
	cmd.Flags().StringVarP(metric, "metric", "m", "", "limit the pass to one metric (good_articles, total_pages, images, users)")
	cmd.Flags().BoolVar(remote, "remote", false, "run the pass through a running serve process")
	cmd.Flags().StringP("output", "o", "", "output format: "+report.FormatText+", "+report.FormatJSON+" or "+report.FormatYAML)
	cmd.Flags().String("socket-path", "", "socket of the serve process used with --remote")
	cmd.Flags().Int("concurrency", 0, "metrics evaluated in parallel (1-4)")
	cmd.Flags().Duration("query-timeout", 0, "timeout for a single query")
}
