package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Paths    PathsConfig
	Tor      TorConfig
	Solverr  SolverrConfig
	Solver   SolverConfig
	QBit     ProcessConfig `envconfig:"QBIT"`
	Prowlarr ProcessConfig `envconfig:"PROWLARR"`
	Adblock  AdblockConfig
	Logging  LogConfig
}

// ServerConfig holds bridge HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8600"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	// DataDir is the user-data directory; empty means the platform default.
	DataDir string `envconfig:"DATA_DIR" default:""`
	// ResourcesDir holds bundled binaries (resources/<name>/<platform>/<binary>).
	ResourcesDir string `envconfig:"RESOURCES_DIR" default:"resources"`
}

// TorConfig holds anonymizing proxy configuration.
type TorConfig struct {
	PortLow          int           `envconfig:"TOR_PORT_LOW" default:"9150"`
	PortHigh         int           `envconfig:"TOR_PORT_HIGH" default:"9160"`
	BootstrapTimeout time.Duration `envconfig:"TOR_BOOTSTRAP_TIMEOUT" default:"60s"`
	StopGrace        time.Duration `envconfig:"TOR_STOP_GRACE" default:"3s"`
}

// SolverrConfig holds FlareSolverr facade configuration.
type SolverrConfig struct {
	PortLow  int `envconfig:"SOLVERR_PORT_LOW" default:"11000"`
	PortHigh int `envconfig:"SOLVERR_PORT_HIGH" default:"11099"`
}

// SolverConfig holds challenge solver configuration.
type SolverConfig struct {
	Timeout      time.Duration `envconfig:"SOLVER_TIMEOUT" default:"35s"`
	PollInterval time.Duration `envconfig:"SOLVER_POLL_INTERVAL" default:"500ms"`
	SettleDelay  time.Duration `envconfig:"SOLVER_SETTLE_DELAY" default:"1500ms"`
}

// ProcessConfig holds managed subprocess configuration.
type ProcessConfig struct {
	PortLow       int           `envconfig:"PORT_LOW"`
	PortHigh      int           `envconfig:"PORT_HIGH"`
	HealthTimeout time.Duration `envconfig:"HEALTH_TIMEOUT" default:"30s"`
	ProbeInterval time.Duration `envconfig:"PROBE_INTERVAL" default:"500ms"`
}

// AdblockConfig holds network blocker configuration.
type AdblockConfig struct {
	ListURLs        []string      `envconfig:"ADBLOCK_LIST_URLS" default:"https://easylist.to/easylist/easylist.txt,https://easylist.to/easylist/easyprivacy.txt"`
	FetchTimeout    time.Duration `envconfig:"ADBLOCK_FETCH_TIMEOUT" default:"30s"`
	RefreshInterval time.Duration `envconfig:"ADBLOCK_REFRESH_INTERVAL" default:"12h"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: "8600",
			Host: "127.0.0.1",
		},
		Paths: PathsConfig{
			ResourcesDir: "resources",
		},
		Tor: TorConfig{
			PortLow:          9150,
			PortHigh:         9160,
			BootstrapTimeout: 60 * time.Second,
			StopGrace:        3 * time.Second,
		},
		Solverr: SolverrConfig{
			PortLow:  11000,
			PortHigh: 11099,
		},
		Solver: SolverConfig{
			Timeout:      35 * time.Second,
			PollInterval: 500 * time.Millisecond,
			SettleDelay:  1500 * time.Millisecond,
		},
		Adblock: AdblockConfig{
			ListURLs: []string{
				"https://easylist.to/easylist/easylist.txt",
				"https://easylist.to/easylist/easyprivacy.txt",
			},
			FetchTimeout:    30 * time.Second,
			RefreshInterval: 12 * time.Hour,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills values that depend on the process class or platform.
func applyDefaults(cfg *Config) {
	if cfg.QBit.PortLow == 0 {
		cfg.QBit.PortLow = 10200
	}
	if cfg.QBit.PortHigh == 0 {
		cfg.QBit.PortHigh = 10300
	}
	if cfg.QBit.HealthTimeout == 0 {
		cfg.QBit.HealthTimeout = 30 * time.Second
	}
	if cfg.QBit.ProbeInterval == 0 {
		cfg.QBit.ProbeInterval = 500 * time.Millisecond
	}
	if cfg.Prowlarr.PortLow == 0 {
		cfg.Prowlarr.PortLow = 10300
	}
	if cfg.Prowlarr.PortHigh == 0 {
		cfg.Prowlarr.PortHigh = 10400
	}
	if cfg.Prowlarr.HealthTimeout == 0 {
		cfg.Prowlarr.HealthTimeout = 30 * time.Second
	}
	if cfg.Prowlarr.ProbeInterval == 0 {
		cfg.Prowlarr.ProbeInterval = 500 * time.Millisecond
	}
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = defaultDataDir()
	}
}

// defaultDataDir returns the platform user-data directory for the shell.
func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "tankoban-data")
	}
	return filepath.Join(base, "Tankoban")
}
