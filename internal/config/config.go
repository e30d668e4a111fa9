package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pricewire/leadlag/internal/model"
)

// Config is the root configuration for a relay instance.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Venues    VenuesConfig    `yaml:"venues"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Relay     RelayConfig     `yaml:"relay"`
	Signal    SignalConfig    `yaml:"signal"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
}

// VenuesConfig holds upstream endpoints, one per venue.
type VenuesConfig struct {
	SpotTrade VenueConfig     `yaml:"spot_trade"`
	AggTrade  VenueConfig     `yaml:"agg_trade"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Orderbook OrderbookConfig `yaml:"orderbook"`
}

// VenueConfig holds settings for a plain trade stream.
type VenueConfig struct {
	URL string `yaml:"url"`
}

// OracleConfig holds settings for the oracle price feed.
type OracleConfig struct {
	URL          string        `yaml:"url"`
	Topic        string        `yaml:"topic"`
	Symbol       string        `yaml:"symbol"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// OrderbookConfig holds settings for the prediction-market order book feed.
type OrderbookConfig struct {
	URL          string        `yaml:"url"`
	PingInterval time.Duration `yaml:"ping_interval"`
	Throttle     time.Duration `yaml:"throttle"` // minimum spacing between emitted updates
}

// ResolverConfig holds market resolver settings.
type ResolverConfig struct {
	GammaURL   string        `yaml:"gamma_url"`
	SlugPrefix string        `yaml:"slug_prefix"`
	Window     time.Duration `yaml:"window"` // market rollover period
	Timeout    time.Duration `yaml:"timeout"`
	RetryDelay time.Duration `yaml:"retry_delay"` // delay before retrying a failed resolution
}

// ReconnectConfig holds backoff settings per venue class.
type ReconnectConfig struct {
	TradeDelay   time.Duration `yaml:"trade_delay"`    // constant delay for trade/oracle streams
	BookBaseWait time.Duration `yaml:"book_base_wait"` // exponential base for the order book
	BookMaxWait  time.Duration `yaml:"book_max_wait"`
}

// RelayConfig holds per-session stream settings.
type RelayConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// SignalConfig holds lead/lag signal engine settings.
type SignalConfig struct {
	MovementThreshold float64       `yaml:"movement_threshold"` // percent, e.g. 0.01
	LeaderTieWindow   time.Duration `yaml:"leader_tie_window"`
	ResponseWindow    time.Duration `yaml:"response_window"` // signal validity window
	CorrelationWindow time.Duration `yaml:"correlation_window"`
	CorrelationDepth  int           `yaml:"correlation_depth"` // movements considered
	MovementBuffer    int           `yaml:"movement_buffer"`   // rolling buffer size
	SeriesBucket      time.Duration `yaml:"series_bucket"`
	SeriesMax         int           `yaml:"series_max"`
	LeadingSource     model.Source  `yaml:"leading_source"`
	LaggingSource     model.Source  `yaml:"lagging_source"`
}

// Load reads a YAML config file and expands environment variables.
// A .env file in the working directory is applied first, if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns a fully defaulted configuration, for running without a file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
