package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	for _, key := range []string{
		"IRCRELAY_API_KEY", "XAI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"IRCRELAY_BASE_URL", "IRCRELAY_IRC_SERVER", "IRCRELAY_IRC_PORT",
		"IRCRELAY_IRC_NICKNAME", "IRCRELAY_IRC_PASSWORD", "IRCRELAY_DATA_DIR",
		"IRCRELAY_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	return tmpDir
}

func writeConfig(t *testing.T, home, name, content string) string {
	t.Helper()
	dir := filepath.Join(home, ".ircrelay")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.IRC.Server != DefaultServer || cfg.IRC.Port != DefaultPort || !cfg.IRC.SSL {
		t.Errorf("irc = %+v", cfg.IRC)
	}
	if cfg.Agent.Model != DefaultModel {
		t.Errorf("model = %q, want %q", cfg.Agent.Model, DefaultModel)
	}
	if cfg.Memory.LogLimit != DefaultLogLimit || cfg.Memory.MaxAge() != 72*time.Hour {
		t.Errorf("memory = %+v", cfg.Memory)
	}
	if cfg.Delivery.ChunkBytes != 400 {
		t.Errorf("chunkBytes = %d", cfg.Delivery.ChunkBytes)
	}
	if cfg.Trigger.Session() != 15*time.Second {
		t.Errorf("session = %v", cfg.Trigger.Session())
	}
	if cfg.Agent.Workspace == "" {
		t.Error("workspace should not be empty")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestDefaultConfig_SlicesAreCopies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trigger.Keywords[0] = "changed"
	cfg.Admin.AllowedModes[0] = "+b"
	if DefaultKeywords[0] == "changed" || DefaultAllowedModes[0] == "+b" {
		t.Error("DefaultConfig shares slices with package defaults")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.IRC.Nickname != DefaultNickname {
		t.Errorf("nickname = %q", cfg.IRC.Nickname)
	}
}

func TestLoadConfig_FromJSON(t *testing.T) {
	home := clearEnv(t)
	testCfg := map[string]any{
		"irc": map[string]any{
			"server":   "irc.example.net",
			"port":     6667,
			"ssl":      false,
			"channels": []string{"#go", "#relay"},
			"nickname": "helper",
			"ident":    "",
		},
		"admin": map[string]any{
			"authorizedUsers": []string{"alice"},
		},
		"provider": map[string]any{
			"apiKey": "file-key",
		},
	}
	data, _ := json.Marshal(testCfg)
	writeConfig(t, home, "config.json", string(data))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.IRC.Address() != "irc.example.net:6667" || cfg.IRC.SSL {
		t.Errorf("irc = %+v", cfg.IRC)
	}
	if len(cfg.IRC.Channels) != 2 || cfg.IRC.Channels[1] != "#relay" {
		t.Errorf("channels = %v", cfg.IRC.Channels)
	}
	if cfg.IRC.Ident != "helper" {
		t.Errorf("ident fallback = %q, want nickname", cfg.IRC.Ident)
	}
	if cfg.Provider.APIKey != "file-key" {
		t.Errorf("apiKey = %q", cfg.Provider.APIKey)
	}
	// Unset sections keep their defaults.
	if cfg.Delivery.ChunkBytes != DefaultChunkBytes || cfg.Memory.Backend != DefaultMemoryBackend {
		t.Errorf("defaults lost: %+v %+v", cfg.Delivery, cfg.Memory)
	}
}

func TestLoadConfig_FromYAML(t *testing.T) {
	home := clearEnv(t)
	writeConfig(t, home, "config.yaml", `
irc:
  server: irc.yaml.test
  channels: ["#yaml"]
trigger:
  keywords: [helper]
  sessionDuration: 30s
memory:
  backend: sqlite
`)

	if got := ConfigPath(); filepath.Base(got) != "config.yaml" {
		t.Fatalf("ConfigPath = %q", got)
	}
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.IRC.Server != "irc.yaml.test" || cfg.IRC.Channels[0] != "#yaml" {
		t.Errorf("irc = %+v", cfg.IRC)
	}
	if cfg.Trigger.Session() != 30*time.Second || cfg.Trigger.Keywords[0] != "helper" {
		t.Errorf("trigger = %+v", cfg.Trigger)
	}
	if cfg.Memory.Backend != "sqlite" {
		t.Errorf("backend = %q", cfg.Memory.Backend)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("IRCRELAY_API_KEY", "env-key")
	t.Setenv("IRCRELAY_BASE_URL", "https://proxy.example.com/v1")
	t.Setenv("IRCRELAY_IRC_SERVER", "irc.env.test")
	t.Setenv("IRCRELAY_IRC_PORT", "7000")
	t.Setenv("IRCRELAY_IRC_NICKNAME", "envbot")
	t.Setenv("IRCRELAY_IRC_PASSWORD", "hunter2")
	t.Setenv("IRCRELAY_DATA_DIR", "/tmp/relay-data")
	t.Setenv("IRCRELAY_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.APIKey != "env-key" || cfg.Provider.BaseURL != "https://proxy.example.com/v1" {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if cfg.IRC.Server != "irc.env.test" || cfg.IRC.Port != 7000 || cfg.IRC.Nickname != "envbot" || cfg.IRC.Password != "hunter2" {
		t.Errorf("irc = %+v", cfg.IRC)
	}
	if cfg.DataDir() != "/tmp/relay-data" {
		t.Errorf("dataDir = %q", cfg.DataDir())
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadConfig_EnvPriority(t *testing.T) {
	clearEnv(t)
	t.Setenv("IRCRELAY_API_KEY", "relay-key")
	t.Setenv("XAI_API_KEY", "xai-key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.APIKey != "relay-key" {
		t.Errorf("apiKey = %q, want relay-key", cfg.Provider.APIKey)
	}
}

func TestLoadConfig_AnthropicKeySwitchesProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.APIKey != "sk-ant" || cfg.Provider.Type != "anthropic" {
		t.Errorf("provider = %+v", cfg.Provider)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	home := clearEnv(t)
	writeConfig(t, home, "config.json", "{not json")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestLoadConfig_EmptyWorkspace(t *testing.T) {
	home := clearEnv(t)
	writeConfig(t, home, "config.json", `{"agent":{"workspace":""}}`)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Workspace == "" {
		t.Error("empty workspace should fall back to default")
	}
}

func TestSaveConfig(t *testing.T) {
	clearEnv(t)

	cfg := DefaultConfig()
	cfg.IRC.Channels = []string{"#saved"}
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	loaded, err := LoadConfigFrom(filepath.Join(ConfigDir(), "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.IRC.Channels) != 1 || loaded.IRC.Channels[0] != "#saved" {
		t.Errorf("channels = %v", loaded.IRC.Channels)
	}
}

func TestDataDir(t *testing.T) {
	home := clearEnv(t)
	cfg := DefaultConfig()
	if got, want := cfg.DataDir(), filepath.Join(home, ".ircrelay", "data"); got != want {
		t.Errorf("DataDir = %q, want %q", got, want)
	}
	cfg.Memory.DataDir = "/srv/relay"
	if cfg.DataDir() != "/srv/relay" {
		t.Errorf("DataDir override = %q", cfg.DataDir())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"missing server", func(c *Config) { c.IRC.Server = "" }, "Server"},
		{"bad port", func(c *Config) { c.IRC.Port = 70000 }, "Port"},
		{"channel without prefix", func(c *Config) { c.IRC.Channels = []string{"go"} }, "Channels"},
		{"nick with space", func(c *Config) { c.IRC.Nickname = "bad nick" }, "Nickname"},
		{"bad mode token", func(c *Config) { c.Admin.AllowedModes = []string{"o"} }, "AllowedModes"},
		{"unknown backend", func(c *Config) { c.Memory.Backend = "redis" }, "Backend"},
		{"unknown provider", func(c *Config) { c.Provider.Type = "bard" }, "Type"},
		{"chunk too large", func(c *Config) { c.Delivery.ChunkBytes = 1000 }, "ChunkBytes"},
		{"bad duration", func(c *Config) { c.Trigger.SessionDuration = "soon" }, "trigger.sessionDuration"},
		{"negative duration", func(c *Config) { c.IRC.ReconnectDelay = "-1s" }, "irc.reconnectDelay"},
		{"min above max", func(c *Config) { c.Delivery.MinDelay = "5s"; c.Delivery.MaxDelay = "1s" }, "minDelay"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationAccessorsFallBack(t *testing.T) {
	var d DeliveryConfig
	if d.Min() != 300*time.Millisecond || d.Max() != 1200*time.Millisecond {
		t.Errorf("delivery fallbacks = %v, %v", d.Min(), d.Max())
	}
	irc := IRCConfig{ReconnectDelay: "garbage"}
	if irc.Reconnect() != 5*time.Second {
		t.Errorf("reconnect fallback = %v", irc.Reconnect())
	}
	if (AgentConfig{RequestTimeout: "2m"}).Timeout() != 2*time.Minute {
		t.Error("timeout accessor ignored value")
	}
}
