package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
storeDriver: memory
identityDriver: local
supabaseJWTSecret: from-file
trustedProxyCidrs: ["10.0.0.0/8"]
`)
	t.Setenv("SUPABASE_JWT_SECRET", "from-env")
	t.Setenv("AUTH_SIGNIN_RATE_LIMIT_PER_MINUTE", "7")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173, https://blog.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.SupabaseJWTSecret != "from-env" || cfg.SigninRateLimitPerMinute != 7 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://blog.example.com" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RealtimeBroker != "memory" {
		t.Fatalf("expected default broker, got %q", cfg.RealtimeBroker)
	}
}

func TestLoadWithoutFileUsesEnvironment(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://project.supabase.co")
	t.Setenv("SUPABASE_KEY", "anon")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service")
	t.Setenv("SUPABASE_JWT_SECRET", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != "rest" || cfg.IdentityDriver != "gotrue" || cfg.Port != "3000" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"missing secret":       "storeDriver: memory\nidentityDriver: local\n",
		"unknown store":        "supabaseJWTSecret: s\nstoreDriver: mongo\nidentityDriver: local\n",
		"local over rest":      "supabaseJWTSecret: s\nsupabaseURL: u\nsupabaseServiceRoleKey: k\nidentityDriver: local\n",
		"redis broker no addr": "supabaseJWTSecret: s\nstoreDriver: memory\nidentityDriver: local\nrealtimeBroker: redis\n",
		"amqp broker no url":   "supabaseJWTSecret: s\nstoreDriver: memory\nidentityDriver: local\nrealtimeBroker: amqp\n",
		"bad duration":         "supabaseJWTSecret: s\nstoreDriver: memory\nidentityDriver: local\nstoreTimeout: soon\n",
		"negative rate limit":  "supabaseJWTSecret: s\nstoreDriver: memory\nidentityDriver: local\nsignupRateLimitPerMinute: -1\n",
		"postgres without dsn": "supabaseJWTSecret: s\nstoreDriver: postgres\nidentityDriver: local\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil || !strings.HasPrefix(err.Error(), "config") && !strings.Contains(err.Error(), "duration") {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	if d, err := ParseDuration("storeTimeout", ""); err != nil || d != 0 {
		t.Fatalf("empty duration: %v %v", d, err)
	}
	if d, err := ParseDuration("storeTimeout", "2s"); err != nil || d != 2*time.Second {
		t.Fatalf("unexpected duration: %v %v", d, err)
	}
	if _, err := ParseDuration("storeTimeout", "-1s"); err == nil {
		t.Fatalf("expected negative duration to fail")
	}
}
