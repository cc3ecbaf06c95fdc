package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"trade-signal-sim/config"
	"trade-signal-sim/internal/database"
	"trade-signal-sim/internal/events"
	"trade-signal-sim/internal/logging"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "tradesim",
		Short: "Deterministic trade-signal replay simulator",
		Long: `tradesim replays recorded or synthetic bars through the indicator,
signal, risk and order pipeline and writes one event log per instrument.`,
		SilenceUsage: true,
	}

	sampleConfigCmd = &cobra.Command{
		Use:   "sample-config [file]",
		Short: "Write a sample configuration (.json or .yaml)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.GenerateSampleConfig(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sample configuration written to %s\n", args[0])
			return nil
		},
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.json, .yaml); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(replayCmd, serveCmd, sampleConfigCmd)
}

// loadConfig loads the configuration and builds the process logger
func loadConfig() (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	logging.SetDefault(logger)
	return cfg, logger, closer, nil
}

// stores holds the optional persistence backends
type stores struct {
	db     *database.DB
	repo   *database.Repository
	stream *database.RedisEventStream
}

// openStores connects whatever the configuration enables. A database that
// is enabled but unreachable is an error; Redis falls back to memory.
func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	s := &stores{}

	if cfg.Database.Enabled {
		db, err := database.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		s.db = db
		s.repo = database.NewRepository(db)
	}

	if client := database.NewRedisClient(cfg.Redis); client != nil {
		s.stream = database.NewRedisEventStream(ctx, client, logger)
	}
	return s, nil
}

// sinks returns the export targets in write order
func (s *stores) sinks() []events.Sink {
	var out []events.Sink
	if s.stream != nil {
		out = append(out, s.stream)
	}
	if s.repo != nil {
		out = append(out, s.repo)
	}
	return out
}

func (s *stores) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
