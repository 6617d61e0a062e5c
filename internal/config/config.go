// Package config loads and saves specloom's project configuration:
// ".decree/config.yml" merged with "DECREE_"-prefixed environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/sipeed/specloom/internal/checkpoint"
	"github.com/sipeed/specloom/pkg/domain"
	"gopkg.in/yaml.v3"
)

// RouterConfig selects and configures the routine-selection callback's
// backend.
type RouterConfig struct {
	Provider domain.RouterProvider `yaml:"provider" env:"DECREE_ROUTER_PROVIDER"`
	Model    string                `yaml:"model" env:"DECREE_ROUTER_MODEL"`
	BaseURL  string                `yaml:"base_url"`
	APIKey   string                `yaml:"api_key" env:"DECREE_ROUTER_API_KEY"`
}

// CommandsConfig holds external command templates, in which "{prompt}"
// marks where prompt text goes. No package reads them: the shell router
// takes its command template from RouterConfig.Model instead.
type CommandsConfig struct {
	Planning         string `yaml:"planning"`
	PlanningContinue string `yaml:"planning_continue"`
	Router           string `yaml:"router"`
}

// NotifierConfig selects and configures a single dead-letter/completion
// notification backend.
type NotifierConfig struct {
	Provider          domain.NotifyProvider `yaml:"provider"`
	SlackToken        string                `yaml:"slack_token"`
	SlackChannel      string                `yaml:"slack_channel"`
	DiscordWebhookURL string                `yaml:"discord_webhook_url"`
}

// NotifyConfig lists every notification backend to deliver dead-letter and
// chain-completion events to. More than one entry fans the same event out
// to every listed backend concurrently; this is a YAML-only list, not an
// environment-overridable scalar, since caarlos0/env has no convention for
// overlaying an arbitrary-length list of structs onto "DECREE_"-prefixed
// variables.
type NotifyConfig struct {
	Providers []NotifierConfig `yaml:"providers"`
}

// Config is the top-level, project-scoped configuration.
type Config struct {
	Router          RouterConfig   `yaml:"router"`
	Commands        CommandsConfig `yaml:"commands"`
	Notify          NotifyConfig   `yaml:"notify"`
	MaxRetries      uint           `yaml:"max_retries" env:"DECREE_MAX_RETRIES"`
	MaxDepth        uint           `yaml:"max_depth" env:"DECREE_MAX_DEPTH"`
	DefaultRoutine  string         `yaml:"default_routine" env:"DECREE_DEFAULT_ROUTINE"`
	NotebookSupport bool           `yaml:"notebook_support" env:"DECREE_NOTEBOOK_SUPPORT"`
}

// Default returns the configuration used to seed a field not present in a
// loaded YAML document.
func Default() Config {
	return Config{
		Router: RouterConfig{
			Provider: domain.RouterNone,
		},
		Commands: CommandsConfig{
			Planning:         "claude -p {prompt}",
			PlanningContinue: "claude --continue",
			Router:           "decree ai",
		},
		Notify: NotifyConfig{
			Providers: []NotifierConfig{{Provider: domain.NotifyNone}},
		},
		MaxRetries:      3,
		MaxDepth:        10,
		DefaultRoutine:  "develop",
		NotebookSupport: false,
	}
}

func configPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".decree", "config.yml")
}

// Load reads ".decree/config.yml", applies field defaults for anything the
// file leaves unset, then overlays any "DECREE_"-prefixed environment
// variables that are actually set — environment always wins over file.
func Load(projectRoot string) (Config, error) {
	cfg := Default()

	path := configPath(projectRoot)
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment overlay: %w", err)
	}

	return cfg, nil
}

// Save marshals cfg to YAML and writes it to ".decree/config.yml" via
// write-then-rename.
func Save(cfg Config, projectRoot string) error {
	path := configPath(projectRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir for %s: %w", path, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return checkpoint.WriteFileAtomic(path, data)
}
