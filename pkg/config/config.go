package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envConfigPath = "LINERELAY_CONFIG"
	envPrefix     = "LINERELAY_"

	DefaultPort      = 3000
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 1024
)

// envKeys maps the well-known deployment variables onto config keys.
var envKeys = map[string]string{
	"PORT":                      "server.port",
	"HOST":                      "server.host",
	"LINE_CHANNEL_ACCESS_TOKEN": "line.channel_access_token",
	"LINE_CHANNEL_SECRET":       "line.channel_secret",
	"LINE_API_ENDPOINT":         "line.api_endpoint",
	"OPENAI_API_KEY":            "openai.api_key",
	"OPENAI_BASE_URL":           "openai.base_url",
	"OPENAI_MODEL":              "openai.model",
	"TELEGRAM_BOT_TOKEN":        "telegram.token",
	"TELEGRAM_WEBHOOK_SECRET":   "telegram.webhook_secret",
}

var defaults = map[string]any{
	"server.host":                     "0.0.0.0",
	"server.port":                     DefaultPort,
	"server.shutdown_timeout_seconds": 10,
	"openai.model":                    DefaultModel,
	"openai.max_tokens":               DefaultMaxTokens,
	"openai.max_retries":              2,
	"tracing.service_name":            "linerelay",
}

// Config is the process-wide runtime configuration. It is read-only after Load.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Line     LineConfig     `koanf:"line"`
	OpenAI   OpenAIConfig   `koanf:"openai"`
	Telegram TelegramConfig `koanf:"telegram"`
	Logging  LoggingConfig  `koanf:"logging"`
	Tracing  TracingConfig  `koanf:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host                   string `koanf:"host"`
	Port                   int    `koanf:"port"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

// LineConfig holds the LINE Messaging API credentials.
type LineConfig struct {
	ChannelAccessToken string `koanf:"channel_access_token"`
	ChannelSecret      string `koanf:"channel_secret"`
	APIEndpoint        string `koanf:"api_endpoint"`
}

// OpenAIConfig configures the completion client.
type OpenAIConfig struct {
	APIKey                string `koanf:"api_key"`
	BaseURL               string `koanf:"base_url"`
	Model                 string `koanf:"model"`
	MaxTokens             int64  `koanf:"max_tokens"`
	RequestTimeoutSeconds int    `koanf:"request_timeout_seconds"`
	MaxRetries            int    `koanf:"max_retries"`
}

// TelegramConfig enables the Telegram webhook channel when Token is set.
type TelegramConfig struct {
	Token         string   `koanf:"token"`
	WebhookSecret string   `koanf:"webhook_secret"`
	AllowFrom     []string `koanf:"allow_from"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `koanf:"format"`
	Level     string `koanf:"level"`
	AddSource bool   `koanf:"add_source"`
}

// TracingConfig toggles the stdout OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// Presence reports which credentials are configured without exposing them.
type Presence struct {
	HasOpenAI     bool `json:"hasOpenAI"`
	HasLineToken  bool `json:"hasLineToken"`
	HasLineSecret bool `json:"hasLineSecret"`
}

// Presence returns the credential presence flags used by health reporting.
func (c *Config) Presence() Presence {
	if c == nil {
		return Presence{}
	}

	return Presence{
		HasOpenAI:     strings.TrimSpace(c.OpenAI.APIKey) != "",
		HasLineToken:  strings.TrimSpace(c.Line.ChannelAccessToken) != "",
		HasLineSecret: strings.TrimSpace(c.Line.ChannelSecret) != "",
	}
}

// Load reads .env (when present), an optional YAML file, and the environment.
//
// Precedence is defaults, then the file at path (or LINERELAY_CONFIG), then env.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")

	if path = resolvePath(path); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	for key, value := range defaults {
		if k.Exists(key) && !isBlank(k.Get(key)) {
			continue
		}
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	trimSecrets(&cfg)

	return &cfg, nil
}

func resolvePath(path string) string {
	if value := strings.TrimSpace(path); value != "" {
		return value
	}

	return strings.TrimSpace(os.Getenv(envConfigPath))
}

// envKey maps one environment variable name to a config key.
//
// Well-known names map through envKeys; LINERELAY_SECTION__KEY maps to
// section.key. Everything else is ignored.
func envKey(name string) string {
	if key, ok := envKeys[name]; ok {
		return key
	}

	if !strings.HasPrefix(name, envPrefix) || name == envConfigPath {
		return ""
	}

	rest := strings.ToLower(strings.TrimPrefix(name, envPrefix))
	if !strings.Contains(rest, "__") {
		return ""
	}

	return strings.ReplaceAll(rest, "__", ".")
}

func isBlank(value any) bool {
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}

func trimSecrets(cfg *Config) {
	cfg.Line.ChannelAccessToken = strings.TrimSpace(cfg.Line.ChannelAccessToken)
	cfg.Line.ChannelSecret = strings.TrimSpace(cfg.Line.ChannelSecret)
	cfg.OpenAI.APIKey = strings.TrimSpace(cfg.OpenAI.APIKey)
	cfg.Telegram.Token = strings.TrimSpace(cfg.Telegram.Token)
	cfg.Telegram.WebhookSecret = strings.TrimSpace(cfg.Telegram.WebhookSecret)
}
