package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/steveyegge/convmerge/internal/config"
	"github.com/steveyegge/convmerge/internal/storage"
)

var (
	// store is opened by the root command before any subcommand runs
	store storage.Storage
	// cfg is the effective configuration after file, env and flags
	cfg *config.Config
	// logger receives engine diagnostics on stderr
	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "convmerge",
	Short: "Merge duplicate conversations of messaging sessions",
	Long: `convmerge finds conversations in the same messaging session that belong to the
same contact, keeps the best one and moves every message of the others into it.

Run "convmerge merge --simulate" first to see what would change.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if skipsStore(cmd) {
			return
		}
		if err := setup(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().String("config", "", "Config file (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().String("backend", "", "Storage backend: sqlite or postgres")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path")
	rootCmd.PersistentFlags().String("dsn", "", "PostgreSQL connection string (implies --backend postgres)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log engine diagnostics")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// skipsStore reports whether cmd works without an open database
func skipsStore(cmd *cobra.Command) bool {
	if cmd.Name() == "help" {
		return true
	}
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations["store"] == "none" {
			return true
		}
	}
	return false
}

// setup loads the configuration, applies global flags and opens the store
func setup(cmd *cobra.Command) error {
	loaded, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg = loaded

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger = newLogger(verbose)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}
	store = s
	return nil
}

// loadConfig builds the effective configuration; flags override file and env
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	c, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		c.Storage.Backend = backend
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		c.Storage.Path = db
	}
	if dsn, _ := cmd.Flags().GetString("dsn"); dsn != "" {
		c.Storage.Postgres.DSN = dsn
		c.Storage.Backend = storage.BackendPostgres
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()
}
