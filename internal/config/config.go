// Package config loads the bot's configuration: defaults, an optional YAML
// file, then environment overrides, in that order. A .env file is honored
// before the environment is read.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all esabot configuration.
type Config struct {
	Slack  SlackConfig  `yaml:"slack"`
	Esa    EsaConfig    `yaml:"esa"`
	Gemini GeminiConfig `yaml:"gemini"`

	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// SlackConfig configures the chat workspace connection.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	BotID    string `yaml:"bot_id"`

	// TriggerReaction starts the article workflow when added to a message.
	TriggerReaction string `yaml:"trigger_reaction"`

	PingInterval string `yaml:"ping_interval"`
}

// EsaConfig configures the knowledge-base connection.
type EsaConfig struct {
	APIKey string `yaml:"api_key"`
	Team   string `yaml:"team"`
}

// GeminiConfig configures the generation backend. APIKey selects the Gemini
// API; Project and Location select Vertex AI.
type GeminiConfig struct {
	APIKey   string `yaml:"api_key"`
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
	Model    string `yaml:"model"`
}

// ServerConfig configures the probe HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ReadinessGrace is how long a disconnect may last before /liveness
	// reports 503.
	ReadinessGrace string `yaml:"readiness_grace"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Slack: SlackConfig{
			TriggerReaction: "esa",
			PingInterval:    "5s",
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.5-flash",
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadinessGrace: "20s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from an optional YAML file, then applies
// environment overrides. A missing file is not an error; a .env file in the
// working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Environment wins
// over the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Slack.BotToken = v
	}
	if v := os.Getenv("SLACK_BOT_ID"); v != "" {
		c.Slack.BotID = v
	}
	if v := os.Getenv("ESA_AUTOGEN_TRIGGER_REACTION"); v != "" {
		c.Slack.TriggerReaction = v
	}
	if v := os.Getenv("SLACK_PING_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Slack.PingInterval = (time.Duration(ms) * time.Millisecond).String()
		}
	}

	if v := os.Getenv("ESA_API_KEY"); v != "" {
		c.Esa.APIKey = v
	}
	if v := os.Getenv("ESA_TEAM_NAME"); v != "" {
		c.Esa.Team = v
	}

	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT_ID"); v != "" {
		c.Gemini.Project = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_LOCATION"); v != "" {
		c.Gemini.Location = v
	}
	if v := os.Getenv("GOOGLE_GEMINI_MODEL"); v != "" {
		c.Gemini.Model = v
	}

	if v := os.Getenv("HOSTNAME"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("READINESS_GRACE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Server.ReadinessGrace = (time.Duration(ms) * time.Millisecond).String()
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

func (c *Config) validate() error {
	if c.Slack.BotToken == "" {
		return fmt.Errorf("SLACK_BOT_TOKEN is required")
	}
	if c.Esa.APIKey == "" {
		return fmt.Errorf("ESA_API_KEY is required")
	}
	if c.Esa.Team == "" {
		return fmt.Errorf("ESA_TEAM_NAME is required")
	}
	if c.Gemini.APIKey == "" && c.Gemini.Project == "" {
		return fmt.Errorf("either GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT_ID is required")
	}
	return nil
}

// PingInterval returns the chat ping interval as a duration.
func (c *Config) PingInterval() time.Duration {
	d, err := time.ParseDuration(c.Slack.PingInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// ReadinessGrace returns the liveness grace period as a duration.
func (c *Config) ReadinessGrace() time.Duration {
	d, err := time.ParseDuration(c.Server.ReadinessGrace)
	if err != nil || d <= 0 {
		return 20 * time.Second
	}
	return d
}

// Addr returns the probe server's listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
