package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	envConfigPath = "ECHOBOT_CONFIG"

	HandlerEcho      = "echo"
	HandlerAssistant = "assistant"

	defaultHost         = "0.0.0.0"
	defaultPort         = 3978
	defaultTurnTimeout  = 15 * time.Second
	defaultMaxBodyBytes = 1 << 20
)

// Config is the root runtime configuration. It is built once at start and
// treated as read-only afterwards.
type Config struct {
	Bot       BotConfig       `json:"bot"`
	Auth      AuthConfig      `json:"auth"`
	Server    ServerConfig    `json:"server"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Channels  ChannelsConfig  `json:"channels"`
	Assistant AssistantConfig `json:"assistant"`
	Providers ProvidersConfig `json:"providers"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// BotConfig selects the turn handler and bounds each turn.
type BotConfig struct {
	Handler     string   `json:"handler"`
	TurnTimeout Duration `json:"turn_timeout"`
	// ExposeErrors puts handler error text in 500 bodies. Development only.
	ExposeErrors bool `json:"expose_errors"`
}

// AuthConfig holds the channel credentials checked on inbound requests.
type AuthConfig struct {
	AppID       string `json:"app_id"`
	AppPassword string `json:"app_password"`
	TenantID    string `json:"tenant_id"`
}

// ServerConfig configures the HTTP endpoint.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	MaxBodyBytes int64  `json:"max_body_bytes"`
}

// TelemetryConfig points at the monitoring backend. Empty disables export.
type TelemetryConfig struct {
	ConnectionString string `json:"connection_string"`
	RoleName         string `json:"role_name"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// ChannelsConfig stores non-HTTP channel adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// AssistantConfig configures the LLM-backed handler.
type AssistantConfig struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenCode OpenCodeProviderConfig `json:"opencode"`
	OpenAI   OpenAIProviderConfig   `json:"openai"`
}

// OpenCodeProviderConfig configures the OpenCode provider client.
type OpenCodeProviderConfig struct {
	BaseURL               string `json:"base_url"`
	Username              string `json:"username"`
	PasswordEnv           string `json:"password_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url"`
	APIKeyEnv             string `json:"api_key_env"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// environment lists the variables that override file settings. Zero values
// mean "not set".
type environment struct {
	AppID            string        `envconfig:"MICROSOFT_APP_ID"`
	AppPassword      string        `envconfig:"MICROSOFT_APP_PASSWORD"`
	TenantID         string        `envconfig:"MICROSOFT_APP_TENANTID"`
	ConnectionString string        `envconfig:"APPLICATIONINSIGHTS_CONNECTION_STRING"`
	Host             string        `envconfig:"HOST"`
	Port             int           `envconfig:"PORT"`
	Handler          string        `envconfig:"BOT_HANDLER"`
	TurnTimeout      time.Duration `envconfig:"BOT_TURN_TIMEOUT"`
	ExposeErrors     bool          `envconfig:"BOT_EXPOSE_ERRORS"`
	TelegramToken    string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramAllow    string        `envconfig:"TELEGRAM_ALLOW_FROM"`
	AssistantProv    string        `envconfig:"ASSISTANT_PROVIDER"`
	AssistantModel   string        `envconfig:"ASSISTANT_MODEL"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig reads the optional config file, applies environment overrides
// and fills defaults.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadConfigFile(configPath)
}

// LoadConfigFile is LoadConfig with an explicit file. An empty path skips the
// file.
func LoadConfigFile(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	return cfg, nil
}

// Validate reports configuration the gateway cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}

	switch c.Bot.Handler {
	case HandlerEcho, HandlerAssistant:
	default:
		return fmt.Errorf("bot.handler %q is not supported (use %s or %s)", c.Bot.Handler, HandlerEcho, HandlerAssistant)
	}
	if c.Bot.TurnTimeout.Duration() <= 0 {
		return errors.New("bot.turn_timeout must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("server.max_body_bytes must be positive")
	}
	if c.Bot.Handler == HandlerAssistant && strings.TrimSpace(c.Assistant.Model) == "" {
		return errors.New("assistant.model is required for the assistant handler")
	}

	return nil
}

// Address returns the host:port the HTTP endpoint binds to.
func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func applyEnvOverrides(cfg *Config) error {
	var env environment
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	overrideString(&cfg.Auth.AppID, env.AppID)
	overrideString(&cfg.Auth.AppPassword, env.AppPassword)
	overrideString(&cfg.Auth.TenantID, env.TenantID)
	overrideString(&cfg.Telemetry.ConnectionString, env.ConnectionString)
	overrideString(&cfg.Server.Host, env.Host)
	overrideString(&cfg.Bot.Handler, env.Handler)
	overrideString(&cfg.Channels.Telegram.Token, env.TelegramToken)
	overrideString(&cfg.Assistant.Provider, env.AssistantProv)
	overrideString(&cfg.Assistant.Model, env.AssistantModel)

	if env.Port > 0 {
		cfg.Server.Port = env.Port
	}
	if env.TurnTimeout > 0 {
		cfg.Bot.TurnTimeout = Duration(env.TurnTimeout)
	}
	if env.ExposeErrors {
		cfg.Bot.ExposeErrors = true
	}
	if strings.TrimSpace(env.TelegramToken) != "" {
		cfg.Channels.Telegram.Enabled = true
	}
	if raw := strings.TrimSpace(env.TelegramAllow); raw != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(raw)
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Bot.Handler) == "" {
		cfg.Bot.Handler = HandlerEcho
	}
	cfg.Bot.Handler = strings.ToLower(strings.TrimSpace(cfg.Bot.Handler))
	if cfg.Bot.TurnTimeout <= 0 {
		cfg.Bot.TurnTimeout = Duration(defaultTurnTimeout)
	}
	if strings.TrimSpace(cfg.Server.Host) == "" {
		cfg.Server.Host = defaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(cfg.Assistant.Provider) == "" {
		cfg.Assistant.Provider = "openai"
	}
}

func overrideString(target *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*target = trimmed
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the config file location.
//
// ECHOBOT_CONFIG must point at a file when set; otherwise cwd-local fallbacks
// are tried and an empty path means "no file, use defaults".
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
