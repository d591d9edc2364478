package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/roundkeeper/internal/infra/gitexec"
	"github.com/vietddude/roundkeeper/internal/orchestrate/syncer"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Driver.TickInterval == 0 {
		cfg.Driver.TickInterval = 30 * time.Second
	}
	if cfg.Driver.MaxParallelTasks == 0 {
		cfg.Driver.MaxParallelTasks = 4
	}

	for i := range cfg.Tasks {
		if cfg.Tasks[i].MaxConcurrent == 0 {
			cfg.Tasks[i].MaxConcurrent = 1
		}
	}

	if cfg.Git.MaxConcurrent == 0 {
		cfg.Git.MaxConcurrent = gitexec.DefaultConfig().MaxConcurrent
	}
	if cfg.Sync.AutoResolvePaths == nil {
		cfg.Sync.AutoResolvePaths = syncer.DefaultConfig().AutoResolvePaths
	}

	return &cfg, nil
}
