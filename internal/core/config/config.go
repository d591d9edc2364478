package config

import (
	"time"

	"github.com/vietddude/roundkeeper/internal/infra/gitexec"
	"github.com/vietddude/roundkeeper/internal/infra/platform"
	redisclient "github.com/vietddude/roundkeeper/internal/infra/redis"
	"github.com/vietddude/roundkeeper/internal/infra/storage/postgres"
	"github.com/vietddude/roundkeeper/internal/orchestrate/budget"
	"github.com/vietddude/roundkeeper/internal/orchestrate/guardrail"
	"github.com/vietddude/roundkeeper/internal/orchestrate/retry"
	"github.com/vietddude/roundkeeper/internal/orchestrate/round"
	"github.com/vietddude/roundkeeper/internal/orchestrate/syncer"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Tasks     []TaskConfig       `yaml:"tasks"`
	Driver    DriverConfig       `yaml:"driver"`
	Platform  platform.Config    `yaml:"platform"`
	Git       gitexec.Config     `yaml:"git"`
	Sync      syncer.Config      `yaml:"sync"`
	Retry     retry.Config       `yaml:"retry"`
	Round     round.Config       `yaml:"round"`
	Budget    budget.Config      `yaml:"budget"`
	Guardrail guardrail.Config   `yaml:"guardrail"`
	Redis     redisclient.Config `yaml:"redis"`
	Logging   LoggingConfig      `yaml:"logging"`
	Database  postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TaskConfig identifies one tracked task.
type TaskConfig struct {
	ID            string `yaml:"id"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// DriverConfig holds the external ticker settings.
type DriverConfig struct {
	// TickInterval is the pause between round batches.
	TickInterval time.Duration `yaml:"tick_interval"`

	// MaxParallelTasks caps how many tasks tick at once. Ticks for the
	// same task are always sequential.
	MaxParallelTasks int `yaml:"max_parallel_tasks"`
}
