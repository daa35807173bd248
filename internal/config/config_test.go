package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "defaults only",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != 4748 {
					t.Errorf("Port = %d, want 4748", cfg.Port)
				}
				if cfg.LogLevel != "info" {
					t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
				}
				if cfg.Label != "canvai-comment" {
					t.Errorf("Label = %s, want canvai-comment", cfg.Label)
				}
				if cfg.TitlePrefix != "Canvai" {
					t.Errorf("TitlePrefix = %s, want Canvai", cfg.TitlePrefix)
				}
				if cfg.WatchGrace != 5*time.Second {
					t.Errorf("WatchGrace = %s, want 5s", cfg.WatchGrace)
				}
				if cfg.GitHub.APIURL != "https://api.github.com/" {
					t.Errorf("APIURL = %s", cfg.GitHub.APIURL)
				}
				if len(cfg.GitHub.Scopes) != 1 || cfg.GitHub.Scopes[0] != "repo" {
					t.Errorf("Scopes = %v, want [repo]", cfg.GitHub.Scopes)
				}
				if cfg.GitHub.MaxConcurrency != 8 {
					t.Errorf("MaxConcurrency = %d, want 8", cfg.GitHub.MaxConcurrency)
				}
				if cfg.CommentsEnabled() {
					t.Error("CommentsEnabled() = true without a repo")
				}
				if cfg.DeviceFlowEnabled() {
					t.Error("DeviceFlowEnabled() = true without a client id")
				}
			},
		},
		{
			name: "environment overrides",
			env: map[string]string{
				"CANVAI_PORT":                        "8080",
				"CANVAI_LOG_LEVEL":                   "debug",
				"CANVAI_REPO":                        "octo/site",
				"CANVAI_WATCH_GRACE":                 "250ms",
				"CANVAI_GITHUB__CLIENT_ID":           "Iv1.abc",
				"CANVAI_GITHUB__SCOPES":              "repo,read:user",
				"CANVAI_GITHUB__REQUESTS_PER_SECOND": "2.5",
				"CANVAI_GITHUB__MAX_CONCURRENCY":     "3",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != 8080 {
					t.Errorf("Port = %d, want 8080", cfg.Port)
				}
				if cfg.LogLevel != "debug" {
					t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
				}
				if cfg.Repo != "octo/site" || !cfg.CommentsEnabled() {
					t.Errorf("Repo = %s, want octo/site", cfg.Repo)
				}
				if cfg.WatchGrace != 250*time.Millisecond {
					t.Errorf("WatchGrace = %s, want 250ms", cfg.WatchGrace)
				}
				if cfg.GitHub.ClientID != "Iv1.abc" || !cfg.DeviceFlowEnabled() {
					t.Errorf("ClientID = %s, want Iv1.abc", cfg.GitHub.ClientID)
				}
				if strings.Join(cfg.GitHub.Scopes, " ") != "repo read:user" {
					t.Errorf("Scopes = %v", cfg.GitHub.Scopes)
				}
				if cfg.GitHub.RequestsPerSecond != 2.5 {
					t.Errorf("RequestsPerSecond = %v, want 2.5", cfg.GitHub.RequestsPerSecond)
				}
				if cfg.GitHub.MaxConcurrency != 3 {
					t.Errorf("MaxConcurrency = %d, want 3", cfg.GitHub.MaxConcurrency)
				}
			},
		},
		{
			name: "github app credentials",
			env: map[string]string{
				"CANVAI_GITHUB__APP_ID":         "123456",
				"CANVAI_GITHUB__PRIVATE_KEY":    `"-----BEGIN KEY-----\nabc\n-----END KEY-----"`,
				"CANVAI_GITHUB__WEBHOOK_SECRET": "s3cret",
			},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.AppEnabled() {
					t.Fatal("AppEnabled() = false")
				}
				want := "-----BEGIN KEY-----\nabc\n-----END KEY-----"
				if cfg.GitHub.PrivateKey != want {
					t.Errorf("PrivateKey = %q, want %q", cfg.GitHub.PrivateKey, want)
				}
				if cfg.GitHub.WebhookSecret != "s3cret" {
					t.Errorf("WebhookSecret = %s", cfg.GitHub.WebhookSecret)
				}
			},
		},
		{
			name:    "app id without private key",
			env:     map[string]string{"CANVAI_GITHUB__APP_ID": "123456"},
			wantErr: true,
		},
		{
			name:    "invalid port",
			env:     map[string]string{"CANVAI_PORT": "70000"},
			wantErr: true,
		},
		{
			name:    "invalid repo",
			env:     map[string]string{"CANVAI_REPO": "octo"},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			env:     map[string]string{"CANVAI_LOG_LEVEL": "loud"},
			wantErr: true,
		},
		{
			name:    "negative rate",
			env:     map[string]string{"CANVAI_GITHUB__REQUESTS_PER_SECOND": "-1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CANVAI_CONFIG", "")
			t.Setenv("CANVAI_CREDENTIALS_DIR", t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load("")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"CANVAI_PORT":              "port",
		"CANVAI_WATCH_GRACE":       "watch_grace",
		"CANVAI_GITHUB__CLIENT_ID": "github.client_id",
		"CANVAI_CONFIG":            "",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizePrivateKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "   ", want: ""},
		{name: "escaped newlines", in: `line1\nline2`, want: "line1\nline2"},
		{name: "single quoted", in: `'line1\nline2'`, want: "line1\nline2"},
		{name: "crlf", in: "line1\r\nline2", want: "line1\nline2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizePrivateKey(tt.in); got != tt.want {
				t.Errorf("normalizePrivateKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
