package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location.
var ConfigPath = "watcher.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	APIURL      string `yaml:"apiURL"`
	SessionFile string `yaml:"sessionFile"`
	Email       string `yaml:"email"`
	Password    string `yaml:"password"`
	LogLevel    string `yaml:"logLevel"`
}

// Load reads config from path (defaults to ConfigPath). A missing file is
// fine; credentials are only needed when no session is cached.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := applyDefaults(&cfg); err != nil {
		return cfg, err
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	for key, dst := range map[string]*string{
		"API_URL":          &cfg.APIURL,
		"SESSION_FILE":     &cfg.SessionFile,
		"WATCHER_EMAIL":    &cfg.Email,
		"WATCHER_PASSWORD": &cfg.Password,
		"LOG_LEVEL":        &cfg.LogLevel,
	} {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
}

func applyDefaults(cfg *FileConfig) error {
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = "http://localhost:3000"
	}
	if strings.TrimSpace(cfg.SessionFile) == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("config: sessionFile not set and no user config dir: %w", err)
		}
		cfg.SessionFile = filepath.Join(dir, "blogs", "session.json")
	}
	return nil
}

func validateConfig(cfg FileConfig) error {
	u, err := url.Parse(cfg.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: apiURL must be an http(s) URL, got %q", cfg.APIURL)
	}
	if (cfg.Email == "") != (cfg.Password == "") {
		return errors.New("config: email and password must be set together")
	}
	return nil
}
