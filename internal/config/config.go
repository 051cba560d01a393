// Package config loads the hub's runtime settings from environment
// variables via Viper, with built-in defaults for everything.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration the Supervisor passes down to every
// other component. Nothing below this point reads the environment
// directly.
type Config struct {
	Network NetworkConfig
	Auth    AuthConfig
	Store   StoreConfig
	Logging LoggingConfig
	Audit   AuditConfig
	Monitor MonitorConfig
	Snap    SnapshotConfig
}

// NetworkConfig holds the listener bind address and admission limits.
type NetworkConfig struct {
	BindAddress      string `mapstructure:"bind_address"`
	BindPort         int    `mapstructure:"bind_port"`
	MaxClients       int    `mapstructure:"max_clients"`
	ReadIdleTimeout  time.Duration
	ReadIdleTimeoutS int `mapstructure:"read_idle_timeout_sec"`
	AdmitPerMinute   int `mapstructure:"admit_per_minute"`
}

// AuthConfig holds the single shared password gating COMM AUTH.
type AuthConfig struct {
	Password string `mapstructure:"password"`
}

// StoreConfig points at the variable schema and persistent-value files.
type StoreConfig struct {
	VarDefsPath string `mapstructure:"var_defs"`
	VarDBPath   string `mapstructure:"var_db"`
}

// LoggingConfig configures both the client-facing log sink and the
// operator-facing diagnostic logger.
type LoggingConfig struct {
	LogFile            string `mapstructure:"log_file"`
	Level              string `mapstructure:"log_level"`
	ReplicateStdout    bool   `mapstructure:"log_replicate_stdout"`
}

// AuditConfig is optional; an empty RedisURL disables the audit publisher.
type AuditConfig struct {
	RedisURL string `mapstructure:"audit_redis_url"`
}

// MonitorConfig is optional; an empty BindAddress disables the HTTP
// monitoring endpoint entirely.
type MonitorConfig struct {
	BindAddress string `mapstructure:"monitor_bind_address"`
}

// SnapshotConfig is optional; an empty Path disables the periodic
// state dump.
type SnapshotConfig struct {
	Path     string `mapstructure:"snapshot_path"`
	Interval time.Duration
	IntervalS int `mapstructure:"snapshot_interval_sec"`
}

// Load reads configuration from the environment, falling back to the
// defaults below when a key is unset.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("bind_address", "127.0.0.1")
	v.SetDefault("bind_port", 31427)
	v.SetDefault("max_clients", 256)
	v.SetDefault("read_idle_timeout_sec", 250)
	v.SetDefault("admit_per_minute", 120)

	v.SetDefault("password", "")

	v.SetDefault("var_defs", "")
	v.SetDefault("var_db", "")

	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_replicate_stdout", false)

	v.SetDefault("audit_redis_url", "")

	v.SetDefault("monitor_bind_address", "")

	v.SetDefault("snapshot_path", "")
	v.SetDefault("snapshot_interval_sec", 30)

	cfg := &Config{
		Network: NetworkConfig{
			BindAddress:      v.GetString("bind_address"),
			BindPort:         v.GetInt("bind_port"),
			MaxClients:       v.GetInt("max_clients"),
			ReadIdleTimeoutS: v.GetInt("read_idle_timeout_sec"),
			AdmitPerMinute:   v.GetInt("admit_per_minute"),
		},
		Auth: AuthConfig{
			Password: v.GetString("password"),
		},
		Store: StoreConfig{
			VarDefsPath: v.GetString("var_defs"),
			VarDBPath:   v.GetString("var_db"),
		},
		Logging: LoggingConfig{
			LogFile:         v.GetString("log_file"),
			Level:           v.GetString("log_level"),
			ReplicateStdout: v.GetBool("log_replicate_stdout"),
		},
		Audit: AuditConfig{
			RedisURL: v.GetString("audit_redis_url"),
		},
		Monitor: MonitorConfig{
			BindAddress: v.GetString("monitor_bind_address"),
		},
		Snap: SnapshotConfig{
			Path:      v.GetString("snapshot_path"),
			IntervalS: v.GetInt("snapshot_interval_sec"),
		},
	}
	cfg.Network.ReadIdleTimeout = time.Duration(cfg.Network.ReadIdleTimeoutS) * time.Second
	cfg.Snap.Interval = time.Duration(cfg.Snap.IntervalS) * time.Second

	return cfg, nil
}
