package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleTOML = `
port = 9000
repo = "octo/site"
label = "design-review"
watch_grace = "2s"

[github]
client_id = "Iv1.file"
scopes = ["repo", "read:user"]
max_concurrency = 4
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canvai.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_File(t *testing.T) {
	t.Setenv("CANVAI_CONFIG", "")
	t.Setenv("CANVAI_CREDENTIALS_DIR", t.TempDir())

	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.Label != "design-review" {
		t.Errorf("Label = %s, want design-review", cfg.Label)
	}
	if cfg.WatchGrace != 2*time.Second {
		t.Errorf("WatchGrace = %s, want 2s", cfg.WatchGrace)
	}
	if cfg.GitHub.ClientID != "Iv1.file" {
		t.Errorf("ClientID = %s, want Iv1.file", cfg.GitHub.ClientID)
	}
	if len(cfg.GitHub.Scopes) != 2 {
		t.Errorf("Scopes = %v", cfg.GitHub.Scopes)
	}
	if cfg.GitHub.MaxConcurrency != 4 {
		t.Errorf("MaxConcurrency = %d, want 4", cfg.GitHub.MaxConcurrency)
	}
	// untouched keys keep their defaults
	if cfg.TitlePrefix != "Canvai" {
		t.Errorf("TitlePrefix = %s, want Canvai", cfg.TitlePrefix)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("CANVAI_CREDENTIALS_DIR", t.TempDir())
	t.Setenv("CANVAI_CONFIG", writeConfig(t, sampleTOML))
	t.Setenv("CANVAI_PORT", "9100")
	t.Setenv("CANVAI_GITHUB__CLIENT_ID", "Iv1.env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port = %d, want 9100", cfg.Port)
	}
	if cfg.GitHub.ClientID != "Iv1.env" {
		t.Errorf("ClientID = %s, want Iv1.env", cfg.GitHub.ClientID)
	}
	if cfg.Repo != "octo/site" {
		t.Errorf("Repo = %s, want octo/site", cfg.Repo)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CANVAI_CONFIG", "")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Setenv("CANVAI_CONFIG", "")
	if _, err := Load(writeConfig(t, "port = = 1")); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}
