// Package common provides shared utilities for jobmesh
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the scheduling engine.
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Store       StoreConfig     `toml:"store"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds the operational HTTP surface configuration.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StoreConfig holds the Redis-backed state store configuration.
type StoreConfig struct {
	Address     string `toml:"address"` // host:port, e.g. "localhost:6379"
	Password    string `toml:"password"`
	DB          int    `toml:"db"`
	DialTimeout string `toml:"dial_timeout"` // duration string, default "5s"
}

// GetDialTimeout parses the configured dial timeout, defaulting to 5s.
func (c *StoreConfig) GetDialTimeout() time.Duration {
	return parseDurationOr(c.DialTimeout, 5*time.Second)
}

// SchedulerConfig holds the scheduling and dispatch policy: tick cadence,
// liveness/record TTLs, group housekeeping, retry policy, and the
// per-tenant fairness weight table.
type SchedulerConfig struct {
	TickInterval   string         `toml:"tick_interval"`    // default "5s"
	LivenessTTL    string         `toml:"liveness_ttl"`     // default "120s"
	AgentRecordTTL string         `toml:"agent_record_ttl"` // default "300s"
	JobRecordTTL   string         `toml:"job_record_ttl"`   // default "24h"
	GroupMaxIdle   string         `toml:"group_max_idle"`   // default "10m"
	JobMaxRuntime  string         `toml:"job_max_runtime"`  // default "30m"
	MaxAttempts    int            `toml:"max_attempts"`     // default 3
	DefaultWeight  int            `toml:"default_weight"`   // default 10
	TenantWeights  map[string]int `toml:"tenant_weights"`
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetTickInterval returns the scheduler tick cadence.
func (c *SchedulerConfig) GetTickInterval() time.Duration {
	return parseDurationOr(c.TickInterval, 5*time.Second)
}

// GetLivenessTTL returns the agent liveness TTL.
func (c *SchedulerConfig) GetLivenessTTL() time.Duration {
	return parseDurationOr(c.LivenessTTL, 120*time.Second)
}

// GetAgentRecordTTL returns the agent record store TTL.
func (c *SchedulerConfig) GetAgentRecordTTL() time.Duration {
	return parseDurationOr(c.AgentRecordTTL, 300*time.Second)
}

// GetJobRecordTTL returns the job record store TTL.
func (c *SchedulerConfig) GetJobRecordTTL() time.Duration {
	return parseDurationOr(c.JobRecordTTL, 24*time.Hour)
}

// GetGroupMaxIdle returns the build-affinity group idle eviction age.
func (c *SchedulerConfig) GetGroupMaxIdle() time.Duration {
	return parseDurationOr(c.GroupMaxIdle, 10*time.Minute)
}

// GetJobMaxRuntime returns the max runtime before a running job is reconciled.
func (c *SchedulerConfig) GetJobMaxRuntime() time.Duration {
	return parseDurationOr(c.JobMaxRuntime, 30*time.Minute)
}

// GetMaxAttempts returns the configured max attempts, defaulting to 3.
func (c *SchedulerConfig) GetMaxAttempts() int {
	if c.MaxAttempts <= 0 {
		return 3
	}
	return c.MaxAttempts
}

// TenantWeight returns the configured fairness weight for tenant, falling
// back to DefaultWeight (or 10) for unknown tenants.
func (c *SchedulerConfig) TenantWeight(tenant string) int {
	if w, ok := c.TenantWeights[tenant]; ok {
		return w
	}
	if c.DefaultWeight > 0 {
		return c.DefaultWeight
	}
	return 10
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string   `toml:"level"`
	Format  string   `toml:"format"`
	Outputs []string `toml:"outputs"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Store: StoreConfig{
			Address:     "localhost:6379",
			DB:          0,
			DialTimeout: "5s",
		},
		Scheduler: SchedulerConfig{
			TickInterval:   "5s",
			LivenessTTL:    "120s",
			AgentRecordTTL: "300s",
			JobRecordTTL:   "24h",
			GroupMaxIdle:   "10m",
			JobMaxRuntime:  "30m",
			MaxAttempts:    3,
			DefaultWeight:  10,
			TenantWeights:  map[string]int{},
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "json",
			Outputs: []string{"console"},
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later paths override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("JOBMESH_ENV"); env != "" {
		config.Environment = env
	}
	if host := os.Getenv("JOBMESH_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("JOBMESH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if level := os.Getenv("JOBMESH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if addr := os.Getenv("JOBMESH_STORE_ADDRESS"); addr != "" {
		config.Store.Address = addr
	}
	if pw := os.Getenv("JOBMESH_STORE_PASSWORD"); pw != "" {
		config.Store.Password = pw
	}
	if ma := os.Getenv("JOBMESH_MAX_ATTEMPTS"); ma != "" {
		if n, err := strconv.Atoi(ma); err == nil {
			config.Scheduler.MaxAttempts = n
		}
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
