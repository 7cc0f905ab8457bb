// Package config loads router configuration from file and environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the router's control-plane configuration.
type Config struct {
	// Server settings
	GRPCAddr    string `mapstructure:"grpc_addr"`
	GRPCPort    int    `mapstructure:"grpc_port"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	// CPU placement
	MainCPU     int   `mapstructure:"main_cpu"`
	CPUAllowlist []int `mapstructure:"cpu_allowlist"`

	// Packet graph
	DefaultMaxSleepUS  int64         `mapstructure:"default_max_sleep_us"`
	IdleCyclesBeforeSleep int        `mapstructure:"idle_cycles_before_sleep"`
	BurstSize          int           `mapstructure:"burst_size"`

	// IPv6 datapath
	HoldQueueMax int `mapstructure:"hold_queue_max"`

	// Observability
	LogLevel         string `mapstructure:"log_level"`
	MetricsNamespace string `mapstructure:"metrics_namespace"`

	StatsCollectInterval time.Duration `mapstructure:"stats_collect_interval"`
}

// Load loads configuration from file (if non-empty) and environment
// variables, applying defaults first.
func Load(configPath string) (*Config, error) {
	viper.SetDefault("grpc_addr", "0.0.0.0")
	viper.SetDefault("grpc_port", 50061)
	viper.SetDefault("metrics_addr", ":9100")

	viper.SetDefault("main_cpu", 0)
	viper.SetDefault("cpu_allowlist", []int{})

	viper.SetDefault("default_max_sleep_us", int64(1000))
	viper.SetDefault("idle_cycles_before_sleep", 64)
	viper.SetDefault("burst_size", 32)

	viper.SetDefault("hold_queue_max", 256)

	viper.SetDefault("log_level", "info")
	viper.SetDefault("metrics_namespace", "marchproxy_router")
	viper.SetDefault("stats_collect_interval", 2*time.Second)

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("MARCHPROXY_ROUTER")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.GRPCPort <= 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc_port: must be 1-65535")
	}

	for _, cpu := range c.CPUAllowlist {
		if cpu == c.MainCPU {
			return fmt.Errorf("main_cpu %d must not appear in cpu_allowlist", c.MainCPU)
		}
	}

	if c.DefaultMaxSleepUS <= 0 {
		return fmt.Errorf("default_max_sleep_us must be > 0")
	}

	if c.IdleCyclesBeforeSleep <= 0 {
		return fmt.Errorf("idle_cycles_before_sleep must be > 0")
	}

	if c.BurstSize <= 0 {
		return fmt.Errorf("burst_size must be > 0")
	}

	if c.HoldQueueMax <= 0 {
		return fmt.Errorf("hold_queue_max must be > 0")
	}

	return nil
}
