package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

const (
	envPrefix       = "CANVAI_"
	defaultFileName = "canvai.toml"
)

// Config holds all configuration for the relay.
type Config struct {
	// Server settings
	Port      int    `koanf:"port"`
	LogLevel  string `koanf:"log_level"`
	LogPretty bool   `koanf:"log_pretty"`

	// Comment thread settings
	Repo        string `koanf:"repo"`
	Label       string `koanf:"label"`
	TitlePrefix string `koanf:"title_prefix"`

	// Agent watch detection
	WatchGrace time.Duration `koanf:"watch_grace"`

	CredentialsDir string `koanf:"credentials_dir"`

	GitHub GitHub `koanf:"github"`
}

// GitHub holds the OAuth app, GitHub App and API settings.
type GitHub struct {
	APIURL        string   `koanf:"api_url"`
	ClientID      string   `koanf:"client_id"`
	Scopes        []string `koanf:"scopes"`
	DeviceCodeURL string   `koanf:"device_code_url"`
	TokenURL      string   `koanf:"token_url"`

	// GitHub App settings, used when nobody has signed in
	AppID         string `koanf:"app_id"`
	PrivateKey    string `koanf:"private_key"`
	WebhookSecret string `koanf:"webhook_secret"`

	RequestsPerSecond float64 `koanf:"requests_per_second"`
	MaxConcurrency    int     `koanf:"max_concurrency"`
}

// CommentsEnabled reports whether a repository backs comment threads.
func (c *Config) CommentsEnabled() bool { return c.Repo != "" }

// DeviceFlowEnabled reports whether an OAuth app is configured for sign-in.
func (c *Config) DeviceFlowEnabled() bool { return c.GitHub.ClientID != "" }

// AppEnabled reports whether GitHub App credentials are configured.
func (c *Config) AppEnabled() bool { return c.GitHub.AppID != "" && c.GitHub.PrivateKey != "" }

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"port":                       4748,
		"log_level":                  "info",
		"log_pretty":                 false,
		"label":                      "canvai-comment",
		"title_prefix":               "Canvai",
		"watch_grace":                "5s",
		"github.api_url":             "https://api.github.com/",
		"github.scopes":              []string{"repo"},
		"github.device_code_url":     "https://github.com/login/device/code",
		"github.token_url":           "https://github.com/login/oauth/access_token",
		"github.requests_per_second": 10.0,
		"github.max_concurrency":     8,
	}
}

// Load reads defaults, then the TOML file at path (or $CANVAI_CONFIG, or
// ./canvai.toml when present), then CANVAI_* environment variables. A double
// underscore separates sections: CANVAI_GITHUB__CLIENT_ID.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	} else if _, err := os.Stat(defaultFileName); err == nil {
		if err := k.Load(file.Provider(defaultFileName), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", defaultFileName, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.GitHub.PrivateKey = normalizePrivateKey(cfg.GitHub.PrivateKey)

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps CANVAI_GITHUB__CLIENT_ID to github.client_id. CANVAI_CONFIG
// names the file and is not a setting.
func envKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	if s == "CONFIG" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func normalizePrivateKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	if strings.HasPrefix(trimmed, "\"") && strings.HasSuffix(trimmed, "\"") {
		trimmed = strings.TrimPrefix(trimmed, "\"")
		trimmed = strings.TrimSuffix(trimmed, "\"")
	}
	if strings.HasPrefix(trimmed, "'") && strings.HasSuffix(trimmed, "'") {
		trimmed = strings.TrimPrefix(trimmed, "'")
		trimmed = strings.TrimSuffix(trimmed, "'")
	}

	trimmed = strings.ReplaceAll(trimmed, "\r\n", "\n")
	trimmed = strings.ReplaceAll(trimmed, "\r", "\n")
	if strings.Contains(trimmed, "\\n") {
		trimmed = strings.ReplaceAll(trimmed, "\\r", "")
		trimmed = strings.ReplaceAll(trimmed, "\\n", "\n")
	}

	return trimmed
}

func (c *Config) applyDefaults() {
	if c.Label == "" {
		c.Label = "canvai-comment"
	}
	if c.TitlePrefix == "" {
		c.TitlePrefix = "Canvai"
	}
	if c.WatchGrace <= 0 {
		c.WatchGrace = 5 * time.Second
	}
	if c.CredentialsDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		c.CredentialsDir = filepath.Join(dir, "canvai", "credentials")
	}
	if c.GitHub.MaxConcurrency <= 0 {
		c.GitHub.MaxConcurrency = 8
	}
}

// validate checks that the configuration is usable
func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	if c.Repo != "" {
		parts := strings.Split(c.Repo, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("repo must be owner/name, got %q", c.Repo)
		}
	}
	if err := c.validateGitHub(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateGitHub() error {
	if (c.GitHub.AppID == "") != (c.GitHub.PrivateKey == "") {
		return errors.New("github.app_id and github.private_key must be set together")
	}
	if c.DeviceFlowEnabled() && (c.GitHub.DeviceCodeURL == "" || c.GitHub.TokenURL == "") {
		return errors.New("github.device_code_url and github.token_url are required for sign-in")
	}
	if c.GitHub.RequestsPerSecond < 0 {
		return fmt.Errorf("github.requests_per_second must be >= 0, got %v", c.GitHub.RequestsPerSecond)
	}
	return nil
}
