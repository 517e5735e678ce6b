package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wikimannia/refreshstats/internal/model"
	"github.com/wikimannia/refreshstats/internal/report"
	"github.com/wikimannia/refreshstats/internal/socketrpc"
	"github.com/wikimannia/refreshstats/internal/store"
)

const (
	envPrefix           = "REFRESHSTATS"
	defaultAPIAddr      = "127.0.0.1:3000"
	defaultQueryTimeout = model.DefaultQueryTimeout
	defaultConcurrency  = model.DefaultConcurrency
	defaultLogLevel     = "info"
	defaultLogFormat    = "console"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	DBDriver          string        `mapstructure:"db-driver"`
	DBDSN             string        `mapstructure:"db-dsn"`
	DBReplicaDSN      string        `mapstructure:"db-replica-dsn"`
	DBPath            string        `mapstructure:"db-path"`
	TablePrefix       string        `mapstructure:"table-prefix"`
	ContentNamespaces []int         `mapstructure:"content-namespaces"`
	QueryTimeout      time.Duration `mapstructure:"query-timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
	RefreshInterval   time.Duration `mapstructure:"refresh-interval"`
	APIEnabled        bool          `mapstructure:"api-enabled"`
	APIAddr           string        `mapstructure:"api-addr"`
	APIToken          string        `mapstructure:"api-token"`
	SocketPath        string        `mapstructure:"socket-path"`
	SnapshotDir       string        `mapstructure:"snapshot-dir"`
	LogLevel          string        `mapstructure:"log-level"`
	LogFormat         string        `mapstructure:"log-format"`
	LogFile           string        `mapstructure:"log-file"`
	Output            string        `mapstructure:"output"`
	ConfigPath        string        `mapstructure:"-"` // not from config file
}

// DSN returns the connection string for the primary database. DuckDB falls
// back to db-path when no DSN is given.
func (c appConfig) DSN() string {
	if c.DBDSN == "" && c.DBDriver == store.DriverDuckDB {
		return c.DBPath
	}
	return c.DBDSN
}

// Namespaces returns the content namespaces as model values.
func (c appConfig) Namespaces() []int64 {
	out := make([]int64, 0, len(c.ContentNamespaces))
	for _, ns := range c.ContentNamespaces {
		out = append(out, int64(ns))
	}
	return out
}

// loadEnvFiles loads .env then .env.local from the working directory.
// Variables already present in the environment win.
func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		_ = godotenv.Load(name)
	}
}

// loadConfig resolves configuration from defaults, the config file, the
// environment and flags, in increasing order of precedence.
func loadConfig(configPath string, flags *pflag.FlagSet) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("db-driver", store.DriverDuckDB)
	v.SetDefault("db-path", filepath.Join(home, ".local", "share", "refreshstats", "wiki.duckdb"))
	v.SetDefault("table-prefix", model.DefaultTablePrefix)
	v.SetDefault("content-namespaces", []int{model.NSMain})
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("concurrency", defaultConcurrency)
	v.SetDefault("refresh-interval", time.Duration(0))
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-addr", defaultAPIAddr)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)
	v.SetDefault("output", report.FormatText)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return cfg, fmt.Errorf("binding flags: %w", err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "refreshstats", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if configPath != "" || (!errors.As(err, &configFileNotFound) && !os.IsNotExist(err)) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	return cfg, cfg.normalize(home)
}

func (c *appConfig) normalize(home string) error {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	switch c.DBDriver {
	case store.DriverDuckDB, store.DriverMySQL, store.DriverPostgres:
	default:
		return fmt.Errorf("%w: %q", store.ErrUnsupportedDriver, c.DBDriver)
	}
	if c.DBDriver != store.DriverDuckDB && c.DBDSN == "" {
		return fmt.Errorf("db-dsn is required for driver %s", c.DBDriver)
	}

	// Expand ~ in paths
	for _, p := range []*string{&c.DBPath, &c.SocketPath, &c.SnapshotDir, &c.LogFile} {
		if strings.HasPrefix(*p, "~/") {
			*p = filepath.Join(home, (*p)[2:])
		}
	}

	if len(c.ContentNamespaces) == 0 {
		return errors.New("content-namespaces must name at least one namespace")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("invalid query-timeout: %s", c.QueryTimeout)
	}
	if c.Concurrency < 1 {
		c.Concurrency = defaultConcurrency
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("invalid refresh-interval: %s", c.RefreshInterval)
	}
	if !validFormat(c.Output) {
		return fmt.Errorf("invalid output %q (want one of %s)", c.Output, strings.Join(report.Formats(), ", "))
	}
	return nil
}

func validFormat(f string) bool {
	for _, known := range report.Formats() {
		if f == known {
			return true
		}
	}
	return false
}
