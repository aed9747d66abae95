package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watcher.yaml")
	data := []byte("apiURL: http://api.internal:3000\nsessionFile: " + filepath.Join(dir, "s.json") + "\nemail: a@example.com\npassword: secret\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "http://api.internal:3000" || cfg.Email != "a@example.com" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_FILE", filepath.Join(t.TempDir(), "s.json"))
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "http://localhost:3000" {
		t.Fatalf("unexpected default api url %q", cfg.APIURL)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Setenv("SESSION_FILE", filepath.Join(t.TempDir(), "s.json"))
	t.Setenv("API_URL", "ftp://example.com")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected non-http api url to fail")
	}
	t.Setenv("API_URL", "http://localhost:3000")
	t.Setenv("WATCHER_EMAIL", "a@example.com")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected email without password to fail")
	}
}
