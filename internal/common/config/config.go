// Package config provides configuration management for the tmux-agents daemon.
// It supports loading configuration from environment variables, a config file,
// and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the daemon.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Worktree     WorktreeConfig     `mapstructure:"worktree"`
	Agents       AgentsConfig       `mapstructure:"agents"`
	Runtimes     []SSHRuntimeConfig `mapstructure:"runtimes"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	Host          string `mapstructure:"host"`
	HTTPPort      int    `mapstructure:"httpPort"`      // HTTP + RPC (default 3737)
	WebSocketPort int    `mapstructure:"webSocketPort"` // WebSocket subscribers (default 3738)
	UnixSocket    string `mapstructure:"unixSocket"`    // empty = <dataDir>/daemon.sock
	DataDir       string `mapstructure:"dataDir"`
	ReadTimeout   int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout  int    `mapstructure:"writeTimeout"` // seconds
}

// DatabaseConfig holds persistent store configuration. The default driver is
// the embedded sqlite engine; driver "postgres" switches to a DSN-addressed
// server.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite3 | postgres
	Path     string `mapstructure:"path"`   // sqlite file, empty = <dataDir>/data.db
	DSN      string `mapstructure:"dsn"`    // postgres only
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds the optional external event bus configuration.
// An empty URL selects the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// OrchestratorConfig holds background worker periods, in seconds.
type OrchestratorConfig struct {
	PollPeriod      int `mapstructure:"pollPeriod"`
	AutoClosePeriod int `mapstructure:"autoClosePeriod"`
	AutoCloseDelay  int `mapstructure:"autoCloseDelay"` // minutes
	ReconcilePeriod int `mapstructure:"reconcilePeriod"`
}

// WorktreeConfig holds git worktree isolation settings.
type WorktreeConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BasePath     string `mapstructure:"basePath"`
	BranchPrefix string `mapstructure:"branchPrefix"`
}

// AgentsConfig holds AI-CLI provider selection and overrides.
type AgentsConfig struct {
	DefaultProvider  string                    `mapstructure:"defaultProvider"`
	FallbackProvider string                    `mapstructure:"fallbackProvider"`
	ProfilesFile     string                    `mapstructure:"profilesFile"` // yaml overrides, empty = <dataDir>/runtimes.yaml
	Overrides        map[string]LaunchOverride `mapstructure:"overrides"`
}

// LaunchOverride overrides parts of a provider launch profile.
type LaunchOverride struct {
	Command    string            `mapstructure:"command"`
	Args       []string          `mapstructure:"args"`
	Env        map[string]string `mapstructure:"env"`
	WorkingDir string            `mapstructure:"workingDir"`
}

// SSHRuntimeConfig describes one SSH-reachable runtime entry.
type SSHRuntimeConfig struct {
	ID           string `mapstructure:"id"`
	Label        string `mapstructure:"label"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	IdentityFile string `mapstructure:"identityFile"`
	ConfigFile   string `mapstructure:"configFile"`
	Enabled      bool   `mapstructure:"enabled"`
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// ExpandedDataDir returns the data directory with ~ expanded.
func (s *ServerConfig) ExpandedDataDir() string {
	return expandHome(s.DataDir)
}

// SocketPath returns the unix socket path, defaulting into the data dir.
func (s *ServerConfig) SocketPath() string {
	if s.UnixSocket != "" {
		return expandHome(s.UnixSocket)
	}
	return filepath.Join(s.ExpandedDataDir(), "daemon.sock")
}

// DatabasePath returns the sqlite file path, defaulting into the data dir.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return expandHome(c.Database.Path)
	}
	return filepath.Join(c.Server.ExpandedDataDir(), "data.db")
}

// ProfilesFile returns the runtime profile override file path.
func (c *Config) ProfilesFile() string {
	if c.Agents.ProfilesFile != "" {
		return expandHome(c.Agents.ProfilesFile)
	}
	return filepath.Join(c.Server.ExpandedDataDir(), "runtimes.yaml")
}

// PollPeriod returns the orchestrator poll period as a duration.
func (o *OrchestratorConfig) PollPeriodDuration() time.Duration {
	return time.Duration(o.PollPeriod) * time.Second
}

// AutoClosePeriodDuration returns the auto-close scan interval.
func (o *OrchestratorConfig) AutoClosePeriodDuration() time.Duration {
	return time.Duration(o.AutoClosePeriod) * time.Second
}

// AutoCloseDelayDuration returns how long done tasks keep their windows.
func (o *OrchestratorConfig) AutoCloseDelayDuration() time.Duration {
	return time.Duration(o.AutoCloseDelay) * time.Minute
}

// ReconcilePeriodDuration returns the reconciler tick interval.
func (o *OrchestratorConfig) ReconcilePeriodDuration() time.Duration {
	return time.Duration(o.ReconcilePeriod) * time.Second
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.httpPort", 3737)
	v.SetDefault("server.webSocketPort", 3738)
	v.SetDefault("server.unixSocket", "")
	v.SetDefault("server.dataDir", "~/.tmux-agents")
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Empty URL means use the in-memory event bus.
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "tmux-agentsd")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.outputPath", "stderr")

	v.SetDefault("orchestrator.pollPeriod", 5)
	v.SetDefault("orchestrator.autoClosePeriod", 30)
	v.SetDefault("orchestrator.autoCloseDelay", 10)
	v.SetDefault("orchestrator.reconcilePeriod", 30)

	v.SetDefault("worktree.enabled", true)
	v.SetDefault("worktree.basePath", "~/.tmux-agents/worktrees")
	v.SetDefault("worktree.branchPrefix", "tmux-agents/")

	v.SetDefault("agents.defaultProvider", "claude")
	v.SetDefault("agents.fallbackProvider", "gemini")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix TMUX_AGENTS_. The config
// file is config.yaml in the data dir, the working directory, or
// /etc/tmux-agents/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TMUX_AGENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not handle camelCase config keys, so bind the ones
	// whose env spelling differs.
	_ = v.BindEnv("server.dataDir", "TMUX_AGENTS_DATA_DIR")
	_ = v.BindEnv("server.httpPort", "TMUX_AGENTS_HTTP_PORT")
	_ = v.BindEnv("server.webSocketPort", "TMUX_AGENTS_WS_PORT")
	_ = v.BindEnv("database.driver", "TMUX_AGENTS_DB_DRIVER")
	_ = v.BindEnv("database.path", "TMUX_AGENTS_DB_PATH")
	_ = v.BindEnv("agents.defaultProvider", "TMUX_AGENTS_DEFAULT_PROVIDER")
	_ = v.BindEnv("agents.fallbackProvider", "TMUX_AGENTS_FALLBACK_PROVIDER")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".tmux-agents"))
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tmux-agents/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.httpPort out of range: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.WebSocketPort <= 0 || cfg.Server.WebSocketPort > 65535 {
		return fmt.Errorf("server.webSocketPort out of range: %d", cfg.Server.WebSocketPort)
	}
	switch cfg.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unknown database.driver: %s", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres driver")
	}
	seen := map[string]bool{"local": true}
	for _, rt := range cfg.Runtimes {
		if rt.ID == "" || rt.Host == "" {
			return fmt.Errorf("ssh runtime entries require id and host")
		}
		if seen[rt.ID] {
			return fmt.Errorf("duplicate runtime id: %s", rt.ID)
		}
		seen[rt.ID] = true
	}
	return nil
}
