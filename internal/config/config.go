// Package config loads and validates orchestrator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend kinds understood by the wiring layer.
const (
	KindHTTP     = "http"
	KindHeadless = "headless"
	KindScripted = "scripted"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Budget     BudgetConfig     `mapstructure:"budget"`
	DB         DBConfig         `mapstructure:"db"`
	Backends   []BackendConfig  `mapstructure:"backends"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DispatcherConfig bounds batch execution.
type DispatcherConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// ExecutorConfig controls attempt pacing in the fallback chain.
type ExecutorConfig struct {
	BackoffBaseMs         int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs          int `mapstructure:"backoff_max_ms"`
	AttemptTimeoutSeconds int `mapstructure:"attempt_timeout_seconds"`
}

// PolicyConfig tunes backend selection scoring.
type PolicyConfig struct {
	CostWeight     float64 `mapstructure:"cost_weight"`
	SuccessWeight  float64 `mapstructure:"success_weight"`
	RecencyWeight  float64 `mapstructure:"recency_weight"`
	Epsilon        float64 `mapstructure:"epsilon"`
	MinSuccessRate float64 `mapstructure:"min_success_rate"`
}

// BudgetConfig sets the spend ceilings per window. Zero means unlimited.
type BudgetConfig struct {
	MaxSpend    float64 `mapstructure:"max_spend"`
	MaxCount    int64   `mapstructure:"max_count"`
	WindowHours int     `mapstructure:"window_hours"`
}

// DBConfig controls the optional Postgres report store. An empty DSN
// disables persistence.
type DBConfig struct {
	DSN           string `mapstructure:"dsn"`
	AttemptsTable string `mapstructure:"attempts_table"`
	ReportsTable  string `mapstructure:"reports_table"`
	MaxConns      int32  `mapstructure:"max_conns"`
}

// BackendConfig declares one execution strategy.
type BackendConfig struct {
	ID                 string  `mapstructure:"id"`
	Kind               string  `mapstructure:"kind"`
	UnitCost           float64 `mapstructure:"unit_cost"`
	InitialSuccessRate float64 `mapstructure:"initial_success_rate"`
	MinIntervalMs      int     `mapstructure:"min_interval_ms"`
	RPS                float64 `mapstructure:"rps"`
	Burst              int     `mapstructure:"burst"`
	UserAgent          string  `mapstructure:"user_agent"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	MaxParallel        int     `mapstructure:"max_parallel"`
}

// MinInterval converts the configured milliseconds to a duration.
func (b BackendConfig) MinInterval() time.Duration {
	return time.Duration(b.MinIntervalMs) * time.Millisecond
}

// Timeout converts the configured seconds to a duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("dispatcher.max_concurrency", 4)
	v.SetDefault("executor.backoff_base_ms", 250)
	v.SetDefault("executor.backoff_max_ms", 5000)
	v.SetDefault("executor.attempt_timeout_seconds", 30)
	v.SetDefault("policy.cost_weight", 0.4)
	v.SetDefault("policy.success_weight", 0.4)
	v.SetDefault("policy.recency_weight", 0.2)
	v.SetDefault("policy.epsilon", 1e-4)
	v.SetDefault("policy.min_success_rate", 0.1)
	v.SetDefault("budget.max_spend", 0.0)
	v.SetDefault("budget.max_count", 0)
	v.SetDefault("budget.window_hours", 24)
	v.SetDefault("db.attempts_table", "attempts")
	v.SetDefault("db.reports_table", "batch_reports")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Dispatcher.MaxConcurrency <= 0 {
		return fmt.Errorf("dispatcher.max_concurrency must be > 0")
	}
	if c.Policy.CostWeight < 0 || c.Policy.SuccessWeight < 0 || c.Policy.RecencyWeight < 0 {
		return fmt.Errorf("policy weights must be >= 0")
	}
	if c.Policy.MinSuccessRate < 0 || c.Policy.MinSuccessRate > 1 {
		return fmt.Errorf("policy.min_success_rate must be in [0,1]")
	}
	if c.Budget.MaxSpend < 0 {
		return fmt.Errorf("budget.max_spend must be >= 0")
	}
	if c.Budget.WindowHours <= 0 {
		return fmt.Errorf("budget.window_hours must be > 0")
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backend id is required")
		}
		if seen[b.ID] {
			return fmt.Errorf("backend %q declared twice", b.ID)
		}
		seen[b.ID] = true
		switch b.Kind {
		case KindHTTP, KindHeadless, KindScripted:
		default:
			return fmt.Errorf("backend %q: unknown kind %q", b.ID, b.Kind)
		}
		if b.UnitCost < 0 {
			return fmt.Errorf("backend %q: unit_cost must be >= 0", b.ID)
		}
		if b.InitialSuccessRate < 0 || b.InitialSuccessRate > 1 {
			return fmt.Errorf("backend %q: initial_success_rate must be in [0,1]", b.ID)
		}
	}
	return nil
}

// BackoffBase converts the executor backoff base to a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Executor.BackoffBaseMs) * time.Millisecond
}

// BackoffMax converts the executor backoff cap to a duration.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Executor.BackoffMaxMs) * time.Millisecond
}

// AttemptTimeout converts the per-attempt timeout to a duration.
func (c Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Executor.AttemptTimeoutSeconds) * time.Second
}

// BudgetWindow converts the budget window to a duration.
func (c Config) BudgetWindow() time.Duration {
	return time.Duration(c.Budget.WindowHours) * time.Hour
}
