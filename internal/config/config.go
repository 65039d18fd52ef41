package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServer           = "irc.libera.chat"
	DefaultPort             = 6697
	DefaultNickname         = "grokbot"
	DefaultIdent            = "grokbot"
	DefaultRealname         = "grok relay"
	DefaultHandshakeTimeout = "30s"
	DefaultReconnectDelay   = "5s"
	DefaultMaxEmptyReads    = 5

	DefaultSessionDuration = "15s"

	DefaultRefusalMessage = "Sorry, you are not authorized to do that."

	DefaultMemoryBackend = "json"
	DefaultHistoryLimit  = 10
	DefaultLogLimit      = 500
	DefaultLogMaxAge     = "72h"
	DefaultContextLogs   = 50

	DefaultChunkBytes     = 400
	DefaultMinDelay       = "300ms"
	DefaultMaxDelay       = "1200ms"
	DefaultLinesPerSecond = 2.0

	DefaultProviderType   = "chat"
	DefaultBaseURL        = "https://api.x.ai/v1"
	DefaultModel          = "grok-beta"
	DefaultContext        = "You are a helpful assistant in an IRC channel. Keep answers short."
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 512
	DefaultTopP           = 1.0
	DefaultRequestTimeout = "60s"

	DefaultHost = "127.0.0.1"
	DefaultHTTP = 18791

	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// DefaultKeywords mirror the trigger words the relay has always answered to.
var DefaultKeywords = []string{"bot", "grok", "ai", "assistant"}

// DefaultAllowedModes are the mode tokens a directive may request.
var DefaultAllowedModes = []string{"+o", "-o", "+v", "-v"}

type Config struct {
	IRC      IRCConfig      `json:"irc" yaml:"irc"`
	Trigger  TriggerConfig  `json:"trigger" yaml:"trigger"`
	Admin    AdminConfig    `json:"admin" yaml:"admin"`
	Memory   MemoryConfig   `json:"memory" yaml:"memory"`
	Delivery DeliveryConfig `json:"delivery" yaml:"delivery"`
	Provider ProviderConfig `json:"provider" yaml:"provider"`
	Agent    AgentConfig    `json:"agent" yaml:"agent"`
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

type IRCConfig struct {
	Server           string   `json:"server" yaml:"server" validate:"required"`
	Port             int      `json:"port" yaml:"port" validate:"min=1,max=65535"`
	SSL              bool     `json:"ssl" yaml:"ssl"`
	TLSSkipVerify    bool     `json:"tlsSkipVerify,omitempty" yaml:"tlsSkipVerify,omitempty"`
	Channels         []string `json:"channels" yaml:"channels" validate:"dive,startswith=#|startswith=&"`
	Nickname         string   `json:"nickname" yaml:"nickname" validate:"required,excludesall= :!@"`
	Ident            string   `json:"ident" yaml:"ident" validate:"required,excludesall= "`
	Realname         string   `json:"realname" yaml:"realname"`
	Password         string   `json:"password,omitempty" yaml:"password,omitempty"`
	Proxy            string   `json:"proxy,omitempty" yaml:"proxy,omitempty" validate:"omitempty,url"`
	HandshakeTimeout string   `json:"handshakeTimeout,omitempty" yaml:"handshakeTimeout,omitempty"`
	ReconnectDelay   string   `json:"reconnectDelay,omitempty" yaml:"reconnectDelay,omitempty"`
	MaxEmptyReads    int      `json:"maxEmptyReads,omitempty" yaml:"maxEmptyReads,omitempty" validate:"min=0"`
}

type TriggerConfig struct {
	Keywords             []string `json:"keywords" yaml:"keywords"`
	SessionDuration      string   `json:"sessionDuration" yaml:"sessionDuration"`
	AlwaysRespondPrivate bool     `json:"alwaysRespondPrivate" yaml:"alwaysRespondPrivate"`
}

type AdminConfig struct {
	AuthorizedUsers []string `json:"authorizedUsers" yaml:"authorizedUsers"`
	AllowedModes    []string `json:"allowedModes" yaml:"allowedModes" validate:"dive,len=2,startswith=+|startswith=-"`
	RefusalMessage  string   `json:"refusalMessage" yaml:"refusalMessage"`
	AcceptInvites   bool     `json:"acceptInvites" yaml:"acceptInvites"`
}

type MemoryConfig struct {
	Backend         string `json:"backend" yaml:"backend" validate:"oneof=json sqlite"`
	DataDir         string `json:"dataDir,omitempty" yaml:"dataDir,omitempty"`
	HistoryLimit    int    `json:"historyLimit" yaml:"historyLimit" validate:"min=0"`
	LogLimit        int    `json:"logLimit" yaml:"logLimit" validate:"min=1"`
	LogMaxAge       string `json:"logMaxAge" yaml:"logMaxAge"`
	ContextLogs     int    `json:"contextLogs" yaml:"contextLogs" validate:"min=0"`
	WatchRegistries bool   `json:"watchRegistries" yaml:"watchRegistries"`
}

type DeliveryConfig struct {
	ChunkBytes     int     `json:"chunkBytes" yaml:"chunkBytes" validate:"min=16,max=480"`
	MinDelay       string  `json:"minDelay" yaml:"minDelay"`
	MaxDelay       string  `json:"maxDelay" yaml:"maxDelay"`
	LinesPerSecond float64 `json:"linesPerSecond" yaml:"linesPerSecond" validate:"min=0"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=chat openai anthropic"` // "chat" (default), "openai" or "anthropic"
	APIKey  string `json:"apiKey" yaml:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
}

type AgentConfig struct {
	Workspace        string  `json:"workspace" yaml:"workspace"`
	Model            string  `json:"model" yaml:"model"`
	Context          string  `json:"context" yaml:"context"`
	Temperature      float64 `json:"temperature" yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens        int     `json:"maxTokens" yaml:"maxTokens" validate:"min=1"`
	TopP             float64 `json:"topP" yaml:"topP" validate:"min=0,max=1"`
	FrequencyPenalty float64 `json:"frequencyPenalty" yaml:"frequencyPenalty"`
	PresencePenalty  float64 `json:"presencePenalty" yaml:"presencePenalty"`
	RequestTimeout   string  `json:"requestTimeout" yaml:"requestTimeout"`
}

type GatewayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port" validate:"min=0,max=65535"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"omitempty,oneof=console json"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		IRC: IRCConfig{
			Server:           DefaultServer,
			Port:             DefaultPort,
			SSL:              true,
			Channels:         []string{},
			Nickname:         DefaultNickname,
			Ident:            DefaultIdent,
			Realname:         DefaultRealname,
			HandshakeTimeout: DefaultHandshakeTimeout,
			ReconnectDelay:   DefaultReconnectDelay,
			MaxEmptyReads:    DefaultMaxEmptyReads,
		},
		Trigger: TriggerConfig{
			Keywords:             append([]string(nil), DefaultKeywords...),
			SessionDuration:      DefaultSessionDuration,
			AlwaysRespondPrivate: true,
		},
		Admin: AdminConfig{
			AuthorizedUsers: []string{},
			AllowedModes:    append([]string(nil), DefaultAllowedModes...),
			RefusalMessage:  DefaultRefusalMessage,
		},
		Memory: MemoryConfig{
			Backend:         DefaultMemoryBackend,
			HistoryLimit:    DefaultHistoryLimit,
			LogLimit:        DefaultLogLimit,
			LogMaxAge:       DefaultLogMaxAge,
			ContextLogs:     DefaultContextLogs,
			WatchRegistries: true,
		},
		Delivery: DeliveryConfig{
			ChunkBytes:     DefaultChunkBytes,
			MinDelay:       DefaultMinDelay,
			MaxDelay:       DefaultMaxDelay,
			LinesPerSecond: DefaultLinesPerSecond,
		},
		Provider: ProviderConfig{
			Type:    DefaultProviderType,
			BaseURL: DefaultBaseURL,
		},
		Agent: AgentConfig{
			Workspace:      filepath.Join(home, ".ircrelay", "workspace"),
			Model:          DefaultModel,
			Context:        DefaultContext,
			Temperature:    DefaultTemperature,
			MaxTokens:      DefaultMaxTokens,
			TopP:           DefaultTopP,
			RequestTimeout: DefaultRequestTimeout,
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultHTTP,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".ircrelay")
}

// ConfigPath returns the first existing config file, preferring JSON.
func ConfigPath() string {
	dir := ConfigDir()
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, "config.json")
}

// DataDir is where the stores keep their documents unless memory.dataDir is set.
func (c *Config) DataDir() string {
	if d := strings.TrimSpace(c.Memory.DataDir); d != "" {
		return d
	}
	return filepath.Join(ConfigDir(), "data")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(cfg)
	applyFallbacks(cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("IRCRELAY_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("XAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" || cfg.Provider.Type == DefaultProviderType {
			cfg.Provider.Type = "anthropic"
		}
	}
	if url := os.Getenv("IRCRELAY_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if server := os.Getenv("IRCRELAY_IRC_SERVER"); server != "" {
		cfg.IRC.Server = server
	}
	if port := os.Getenv("IRCRELAY_IRC_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.IRC.Port = parsed
		}
	}
	if nick := os.Getenv("IRCRELAY_IRC_NICKNAME"); nick != "" {
		cfg.IRC.Nickname = nick
	}
	if pass := os.Getenv("IRCRELAY_IRC_PASSWORD"); pass != "" {
		cfg.IRC.Password = pass
	}
	if dir := os.Getenv("IRCRELAY_DATA_DIR"); dir != "" {
		cfg.Memory.DataDir = dir
	}
	if level := os.Getenv("IRCRELAY_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func applyFallbacks(cfg *Config) {
	def := DefaultConfig()
	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = def.Agent.Workspace
	}
	if cfg.Provider.Type == "" {
		cfg.Provider.Type = DefaultProviderType
	}
	if cfg.Provider.Type == DefaultProviderType && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = DefaultBaseURL
	}
	if cfg.IRC.Ident == "" {
		cfg.IRC.Ident = cfg.IRC.Nickname
	}
	if cfg.IRC.Realname == "" {
		cfg.IRC.Realname = cfg.IRC.Nickname
	}
	if cfg.IRC.MaxEmptyReads <= 0 {
		cfg.IRC.MaxEmptyReads = DefaultMaxEmptyReads
	}
	if cfg.Admin.RefusalMessage == "" {
		cfg.Admin.RefusalMessage = DefaultRefusalMessage
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = DefaultMemoryBackend
	}
	if cfg.Memory.LogLimit <= 0 {
		cfg.Memory.LogLimit = DefaultLogLimit
	}
	if cfg.Delivery.ChunkBytes <= 0 {
		cfg.Delivery.ChunkBytes = DefaultChunkBytes
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
}

// Validate checks struct constraints and that every duration field parses.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	durations := map[string]string{
		"irc.handshakeTimeout":    c.IRC.HandshakeTimeout,
		"irc.reconnectDelay":      c.IRC.ReconnectDelay,
		"trigger.sessionDuration": c.Trigger.SessionDuration,
		"memory.logMaxAge":        c.Memory.LogMaxAge,
		"delivery.minDelay":       c.Delivery.MinDelay,
		"delivery.maxDelay":       c.Delivery.MaxDelay,
		"agent.requestTimeout":    c.Agent.RequestTimeout,
	}
	for field, raw := range durations {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d < 0 {
			return fmt.Errorf("invalid config: %s: bad duration %q", field, raw)
		}
	}
	if c.Delivery.Min() > c.Delivery.Max() {
		return fmt.Errorf("invalid config: delivery.minDelay exceeds delivery.maxDelay")
	}
	return nil
}

func parseDuration(raw, fallback string) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil && d >= 0 {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}

func (c IRCConfig) Handshake() time.Duration {
	return parseDuration(c.HandshakeTimeout, DefaultHandshakeTimeout)
}

func (c IRCConfig) Reconnect() time.Duration {
	return parseDuration(c.ReconnectDelay, DefaultReconnectDelay)
}

func (c IRCConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}

func (c TriggerConfig) Session() time.Duration {
	return parseDuration(c.SessionDuration, DefaultSessionDuration)
}

func (c MemoryConfig) MaxAge() time.Duration {
	return parseDuration(c.LogMaxAge, DefaultLogMaxAge)
}

func (c DeliveryConfig) Min() time.Duration {
	return parseDuration(c.MinDelay, DefaultMinDelay)
}

func (c DeliveryConfig) Max() time.Duration {
	return parseDuration(c.MaxDelay, DefaultMaxDelay)
}

func (c AgentConfig) Timeout() time.Duration {
	return parseDuration(c.RequestTimeout, DefaultRequestTimeout)
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}
