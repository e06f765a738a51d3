package config

import (
	"os"
	"path/filepath"
	"testing"
)

func unsetRelayEnv(t *testing.T) {
	t.Helper()

	for name := range envKeys {
		t.Setenv(name, "")
		_ = os.Unsetenv(name)
	}
	t.Setenv(envConfigPath, "")
	_ = os.Unsetenv(envConfigPath)
}

func TestLoadDefaults(t *testing.T) {
	unsetRelayEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.Port != DefaultPort {
		t.Fatalf("server.port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.OpenAI.Model != DefaultModel {
		t.Fatalf("openai.model = %q, want %q", cfg.OpenAI.Model, DefaultModel)
	}
	if cfg.OpenAI.MaxTokens != DefaultMaxTokens {
		t.Fatalf("openai.max_tokens = %d, want %d", cfg.OpenAI.MaxTokens, DefaultMaxTokens)
	}
	if got := cfg.Presence(); got != (Presence{}) {
		t.Fatalf("presence = %+v, want all false", got)
	}
}

func TestLoadWellKnownEnvironment(t *testing.T) {
	unsetRelayEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("LINE_CHANNEL_ACCESS_TOKEN", " token ")
	t.Setenv("LINE_CHANNEL_SECRET", "secret")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LINERELAY_LOGGING__LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Line.ChannelAccessToken != "token" {
		t.Fatalf("line.channel_access_token = %q, want trimmed token", cfg.Line.ChannelAccessToken)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging.level = %q, want %q", cfg.Logging.Level, "debug")
	}

	want := Presence{HasOpenAI: true, HasLineToken: true, HasLineSecret: true}
	if got := cfg.Presence(); got != want {
		t.Fatalf("presence = %+v, want %+v", got, want)
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	unsetRelayEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "linerelay.yaml")
	content := `
server:
  port: 4000
openai:
  model: gpt-4.1-mini
  max_tokens: 256
logging:
  format: json
  add_source: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv(envConfigPath, path)
	t.Setenv("OPENAI_MODEL", "gpt-4o")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Fatalf("server.port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.OpenAI.Model != "gpt-4o" {
		t.Fatalf("openai.model = %q, want env override %q", cfg.OpenAI.Model, "gpt-4o")
	}
	if cfg.OpenAI.MaxTokens != 256 {
		t.Fatalf("openai.max_tokens = %d, want 256", cfg.OpenAI.MaxTokens)
	}
	if cfg.Logging.Format != "json" || !cfg.Logging.AddSource {
		t.Fatalf("logging = %+v, want json with source", cfg.Logging)
	}
}

func TestLoadMissingFile(t *testing.T) {
	unsetRelayEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "PORT", want: "server.port"},
		{name: "OPENAI_API_KEY", want: "openai.api_key"},
		{name: "LINERELAY_SERVER__HOST", want: "server.host"},
		{name: "LINERELAY_TRACING__ENABLED", want: "tracing.enabled"},
		{name: "LINERELAY_CONFIG", want: ""},
		{name: "LINERELAY_LOG_LEVEL", want: ""},
		{name: "HOME", want: ""},
	}

	for _, tt := range tests {
		if got := envKey(tt.name); got != tt.want {
			t.Fatalf("envKey(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
