// Package config loads and validates the service configuration file
// (.patchline.yml) and keeps the GitHub token fresh across rotations.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/patchline/patchline/internal/policy"
)

// DefaultConfirmTTLMinutes is the confirmation window when the file does
// not set one.
const DefaultConfirmTTLMinutes = 15

// ChannelRepo maps one Slack channel to its target repository.
type ChannelRepo struct {
	Repo           string `yaml:"repo"` // "owner/name"
	InstallationID int64  `yaml:"installation_id"`
}

// Config is the full service configuration.
type Config struct {
	WriteMode struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"write_mode"`

	WritePolicy policy.Config `yaml:"write_policy"`

	Confirmation struct {
		TTLMinutes int `yaml:"ttl_minutes"`
	} `yaml:"confirmation"`

	GitHub struct {
		BotLogin      string `yaml:"bot_login"`
		WebhookListen string `yaml:"webhook_listen"`
		WebhookSecret string `yaml:"webhook_secret"`
		TokenFile     string `yaml:"token_file"`
		APIBaseURL    string `yaml:"api_base_url"`
	} `yaml:"github"`

	Slack struct {
		BotToken string                 `yaml:"bot_token"`
		AppToken string                 `yaml:"app_token"`
		Channels map[string]ChannelRepo `yaml:"channels"`
	} `yaml:"slack"`

	Executor struct {
		// Command is an external executor invocation; empty means the
		// built-in Anthropic executor.
		Command []string `yaml:"command"`
		Prompt  string   `yaml:"prompt"`
		Model   string   `yaml:"model"`
	} `yaml:"executor"`
}

// ConfirmTTL returns the confirmation window as a duration.
func (c *Config) ConfirmTTL() time.Duration {
	return time.Duration(c.Confirmation.TTLMinutes) * time.Minute
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes. Unknown keys are an
// error so a typo'd policy field cannot silently disable the policy.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Confirmation.TTLMinutes <= 0 {
		c.Confirmation.TTLMinutes = DefaultConfirmTTLMinutes
	}
	if c.GitHub.WebhookListen == "" {
		c.GitHub.WebhookListen = ":8080"
	}
	if c.GitHub.BotLogin == "" {
		c.GitHub.BotLogin = "patchline"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	for channel, ref := range c.Slack.Channels {
		owner, name, ok := strings.Cut(ref.Repo, "/")
		if !ok || owner == "" || name == "" {
			return fmt.Errorf("slack channel %s: repo must be \"owner/name\", got %q", channel, ref.Repo)
		}
		if ref.InstallationID <= 0 {
			return fmt.Errorf("slack channel %s: installation_id is required", channel)
		}
	}
	if len(c.Executor.Command) == 1 && strings.TrimSpace(c.Executor.Command[0]) == "" {
		return fmt.Errorf("executor command must not be a single empty string")
	}
	return nil
}

// SplitRepo splits an "owner/name" reference. Validate has already checked
// the shape for configured channels.
func SplitRepo(ref string) (owner, name string) {
	owner, name, _ = strings.Cut(ref, "/")
	return owner, name
}
