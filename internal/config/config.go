// Package config loads the agent's YAML configuration file, applying
// field-by-field defaults before a YAML overlay.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every VMCA tunable loaded from vmca.yaml.
type Config struct {
	DebugLevel string `yaml:"debug_level"`
	LogFile    string `yaml:"log_file"`

	SpareCPU       float64 `yaml:"spare_cpu"`
	SpareMemory    float64 `yaml:"spare_memory"`
	SpareCPUPct    float64 `yaml:"spare_cpu_pct"`
	SpareMemoryPct float64 `yaml:"spare_memory_pct"`

	WeightMem float64 `yaml:"weight_mem"`
	WeightCPU float64 `yaml:"weight_cpu"`

	MaxMigrationsPerHost int      `yaml:"max_migrations_per_host"`
	DisabledHosts        []string `yaml:"disabled_hosts"`

	MigrationPlanFrequency int64 `yaml:"migration_plan_frequency"`
	DefraggerFrequency     int64 `yaml:"defragger_frequency"`
	StableTime             int64 `yaml:"stable_time"`
	MonitorizationValidity int64 `yaml:"monitorization_validity"`
	CooldownMigration      int64 `yaml:"cooldown_migration"`
	MaxMigrationTime       int64 `yaml:"max_migration_time"`

	MaxSimultaneousMigrations int  `yaml:"max_simultaneous_migrations"`
	EnableMigration           bool `yaml:"enable_migration"`
	EnableDefragger           bool `yaml:"enable_defragger"`

	ConsiderVMsStableOnStartup bool `yaml:"consider_vms_stable_on_startup"`

	RPCHost string `yaml:"xmlrpc_host"`
	RPCPort int    `yaml:"xmlrpc_port"`

	CPUMinPct    float64 `yaml:"cpu_min_pct"`
	MemoryMinPct float64 `yaml:"memory_min_pct"`
	VMCountMin   int     `yaml:"vm_count_min"`
}

// Defaults returns the configuration defaults from config_vmca.
func Defaults() Config {
	return Config{
		DebugLevel:                 "error",
		MaxSimultaneousMigrations:  1,
		MigrationPlanFrequency:     10,
		DefraggerFrequency:         10,
		StableTime:                 600,
		WeightMem:                  1,
		WeightCPU:                  1,
		EnableMigration:            false,
		EnableDefragger:            true,
		ConsiderVMsStableOnStartup: false,
		RPCPort:                    9999,
		RPCHost:                    "localhost",
		MonitorizationValidity:     10,
		CooldownMigration:          10,
		MaxMigrationsPerHost:       2,
	}
}

// Load reads path as YAML over Defaults(), then validates and normalizes
// the result the way VMCAConfig.parse does.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	cfg.parse()
	return cfg, nil
}

// parse normalizes DEBUG_LEVEL and DISABLED_HOSTS the way
// VMCAConfig.parse/ONEConfig.str2intlist do.
func (c *Config) parse() {
	switch strings.ToLower(c.DebugLevel) {
	case "error", "info", "debug":
		c.DebugLevel = strings.ToLower(c.DebugLevel)
	default:
		c.DebugLevel = "debug"
	}
	for i, h := range c.DisabledHosts {
		c.DisabledHosts[i] = strings.TrimSpace(h)
	}
}

// DisabledHostsSet returns DisabledHosts as a lookup set.
func (c *Config) DisabledHostsSet() map[string]bool {
	out := make(map[string]bool, len(c.DisabledHosts))
	for _, h := range c.DisabledHosts {
		if h != "" {
			out[h] = true
		}
	}
	return out
}
