package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trade-signal-sim/internal/backtest"
	"trade-signal-sim/internal/circuit"
	"trade-signal-sim/internal/database"
	"trade-signal-sim/internal/execution"
	"trade-signal-sim/internal/indicators"
	"trade-signal-sim/internal/logging"
	"trade-signal-sim/internal/market"
	"trade-signal-sim/internal/risk"
	"trade-signal-sim/internal/signal"
)

// Config is the full application configuration
type Config struct {
	Logging       logging.Config       `json:"logging" yaml:"logging"`
	Run           RunConfig            `json:"run" yaml:"run"`
	Instruments   []InstrumentConfig   `json:"instruments" yaml:"instruments"`
	Indicators    indicators.Params    `json:"indicators" yaml:"indicators"`
	Signal        signal.Config        `json:"signal" yaml:"signal"`
	Gate          GateConfig           `json:"gate" yaml:"gate"`
	Risk          risk.Config          `json:"risk" yaml:"risk"`
	Trailing      risk.TrailingConfig  `json:"trailing" yaml:"trailing"`
	Governance    circuit.Config       `json:"governance" yaml:"governance"`
	Execution     execution.SimConfig  `json:"execution" yaml:"execution"`
	HealDelayBars int                  `json:"heal_delay_bars" yaml:"heal_delay_bars"`
	Database      database.Config      `json:"database" yaml:"database"`
	Redis         database.RedisConfig `json:"redis" yaml:"redis"`
	Server        ServerConfig         `json:"server" yaml:"server"`
}

// RunConfig holds run-level settings
type RunConfig struct {
	Seed          int64   `json:"seed" yaml:"seed"`
	Parallelism   int     `json:"parallelism" yaml:"parallelism"`
	InitialEquity float64 `json:"initial_equity" yaml:"initial_equity"`
	OutputDir     string  `json:"output_dir" yaml:"output_dir"` // JSONL event files, empty disables
}

// Feed kinds
const (
	FeedSynthetic = "synthetic"
	FeedCSV       = "csv"
)

// FeedConfig selects and configures an instrument's bar source
type FeedConfig struct {
	Kind        string                 `json:"kind" yaml:"kind"`
	Path        string                 `json:"path,omitempty" yaml:"path,omitempty"`
	Granularity time.Duration          `json:"granularity,omitempty" yaml:"granularity,omitempty"`
	From        time.Time              `json:"from,omitempty" yaml:"from,omitempty"`
	To          time.Time              `json:"to,omitempty" yaml:"to,omitempty"`
	Synthetic   market.SyntheticConfig `json:"synthetic,omitempty" yaml:"synthetic,omitempty"`
}

// InstrumentConfig describes one replayed instrument
type InstrumentConfig struct {
	ID          string     `json:"id" yaml:"id"`
	PipSize     float64    `json:"pip_size" yaml:"pip_size"`
	UnitStep    float64    `json:"unit_step" yaml:"unit_step"`
	MinNotional float64    `json:"min_notional" yaml:"min_notional"`
	Feed        FeedConfig `json:"feed" yaml:"feed"`
}

// Gate kinds
const (
	GateNone      = "none"
	GateNeutral   = "neutral"
	GateHeuristic = "heuristic"
)

// GateConfig selects the probability model consulted by the aggregator
type GateConfig struct {
	Kind      string               `json:"kind" yaml:"kind"`
	Heuristic signal.HeuristicGate `json:"heuristic" yaml:"heuristic"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string `json:"host" yaml:"host"`
	Port            int    `json:"port" yaml:"port"`
	AllowedOrigins  string `json:"allowed_origins" yaml:"allowed_origins"` // Comma separated, "*" allows all
	ReadTimeout     int    `json:"read_timeout" yaml:"read_timeout"`       // Seconds
	WriteTimeout    int    `json:"write_timeout" yaml:"write_timeout"`     // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns a runnable configuration with two synthetic instruments
func Default() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		Run: RunConfig{
			Seed:          1,
			Parallelism:   4,
			InitialEquity: 10000,
			OutputDir:     "events",
		},
		Instruments: []InstrumentConfig{
			{
				ID: "EURUSD", PipSize: 0.0001, UnitStep: 1000, MinNotional: 1000,
				Feed: FeedConfig{Kind: FeedSynthetic, Synthetic: syntheticDefaults(1.10)},
			},
			{
				ID: "GBPUSD", PipSize: 0.0001, UnitStep: 1000, MinNotional: 1000,
				Feed: FeedConfig{Kind: FeedSynthetic, Synthetic: syntheticDefaults(1.27)},
			},
		},
		Indicators:    indicators.DefaultParams(),
		Signal:        signal.DefaultConfig(),
		Gate:          GateConfig{Kind: GateHeuristic, Heuristic: *signal.DefaultHeuristicGate()},
		Risk:          risk.DefaultConfig(),
		Trailing:      risk.DefaultTrailingConfig(),
		Governance:    circuit.DefaultConfig(),
		Execution:     execution.SimConfig{OcoDropProbability: 0.05},
		HealDelayBars: 1,
		Database: database.Config{
			Host: "localhost", Port: 5432, User: "sim", Database: "trade_signal_sim", SSLMode: "disable",
		},
		Redis: database.RedisConfig{Addr: "localhost:6379"},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
	}
}

func syntheticDefaults(base float64) market.SyntheticConfig {
	s := market.DefaultSyntheticConfig()
	s.BasePrice = base
	s.Volatility = 0.0004
	return s
}

// Load reads an optional .env, then the config file (JSON or YAML by
// extension) over the defaults, then environment overrides. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides lets the environment take precedence over the file
func applyEnvOverrides(cfg *Config) {
	// Logging config
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)
	cfg.Logging.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.Logging.IncludeFile)

	// Run config
	cfg.Run.Seed = int64(getEnvIntOrDefault("SIM_SEED", int(cfg.Run.Seed)))
	cfg.Run.Parallelism = getEnvIntOrDefault("SIM_PARALLELISM", cfg.Run.Parallelism)
	cfg.Run.InitialEquity = getEnvFloatOrDefault("SIM_INITIAL_EQUITY", cfg.Run.InitialEquity)
	cfg.Run.OutputDir = getEnvOrDefault("SIM_OUTPUT_DIR", cfg.Run.OutputDir)
	cfg.Execution.OcoDropProbability = getEnvFloatOrDefault("SIM_OCO_DROP_PROBABILITY", cfg.Execution.OcoDropProbability)
	cfg.HealDelayBars = getEnvIntOrDefault("SIM_HEAL_DELAY_BARS", cfg.HealDelayBars)
	cfg.Governance.Cooldown = getEnvDurationOrDefault("SIM_COOLDOWN", cfg.Governance.Cooldown)
	cfg.Governance.DailyRFloor = getEnvFloatOrDefault("SIM_DAILY_R_FLOOR", cfg.Governance.DailyRFloor)

	// Database config
	cfg.Database.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	// Redis config
	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)

	// Server config
	cfg.Server.Host = getEnvOrDefault("WEB_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", cfg.Server.Port)
	cfg.Server.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
}

// Validate checks every section
func (c *Config) Validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	seen := make(map[string]bool)
	for i, inst := range c.Instruments {
		if inst.ID == "" {
			return fmt.Errorf("instrument %d has no id", i)
		}
		if seen[inst.ID] {
			return fmt.Errorf("duplicate instrument %s", inst.ID)
		}
		seen[inst.ID] = true
		if inst.PipSize <= 0 {
			return fmt.Errorf("instrument %s: pip_size must be positive", inst.ID)
		}
		if inst.UnitStep < 0 || inst.MinNotional < 0 {
			return fmt.Errorf("instrument %s: unit_step and min_notional must not be negative", inst.ID)
		}
		switch inst.Feed.Kind {
		case FeedSynthetic:
		case FeedCSV:
			if inst.Feed.Path == "" {
				return fmt.Errorf("instrument %s: csv feed needs a path", inst.ID)
			}
		default:
			return fmt.Errorf("instrument %s: unknown feed kind %q", inst.ID, inst.Feed.Kind)
		}
	}

	switch c.Gate.Kind {
	case "", GateNone, GateNeutral, GateHeuristic:
	default:
		return fmt.Errorf("unknown gate kind %q", c.Gate.Kind)
	}
	if c.Run.Parallelism < 0 {
		return fmt.Errorf("parallelism must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	return c.RunConfig("").Validate()
}

// RunConfig assembles the replay configuration for one run
func (c *Config) RunConfig(runID string) backtest.RunConfig {
	return backtest.RunConfig{
		RunID:       runID,
		Seed:        c.Run.Seed,
		Parallelism: c.Run.Parallelism,
		Driver: backtest.DriverConfig{
			Indicators:    c.Indicators,
			Risk:          c.Risk,
			Trailing:      c.Trailing,
			Governance:    c.Governance,
			HealDelayBars: c.HealDelayBars,
			InitialEquity: c.Run.InitialEquity,
		},
		Execution: c.Execution,
		Signal:    c.Signal,
	}
}

// NewGate builds the configured probability model, nil for none
func (c *Config) NewGate() signal.Gate {
	switch c.Gate.Kind {
	case GateNeutral:
		return signal.NeutralGate{}
	case GateHeuristic:
		g := c.Gate.Heuristic
		return &g
	}
	return nil
}

// InstrumentSpecs builds the instruments and their feeds. Synthetic feeds
// are seeded per instrument from seed.
func (c *Config) InstrumentSpecs(seed int64) []backtest.InstrumentSpec {
	specs := make([]backtest.InstrumentSpec, 0, len(c.Instruments))
	for _, ic := range c.Instruments {
		inst := market.Instrument{
			ID:          ic.ID,
			PipSize:     ic.PipSize,
			UnitStep:    ic.UnitStep,
			MinNotional: ic.MinNotional,
		}

		var feed market.Feed
		switch ic.Feed.Kind {
		case FeedCSV:
			feed = market.NewCSVFeed(market.FeedKey{
				Instrument:  ic.ID,
				Granularity: ic.Feed.Granularity,
				From:        ic.Feed.From,
				To:          ic.Feed.To,
			}, ic.Feed.Path)
		default:
			feed = market.NewSyntheticFeed(ic.ID, ic.Feed.Synthetic, market.InstrumentSeed(seed, ic.ID))
		}
		specs = append(specs, backtest.InstrumentSpec{Instrument: inst, Feed: feed})
	}
	return specs
}

// Origins splits AllowedOrigins
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Addr is the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes the default configuration, as YAML when the
// filename ends in .yaml/.yml and JSON otherwise
func GenerateSampleConfig(filename string) error {
	cfg := Default()

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
