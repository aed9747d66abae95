package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location; the API_CONFIG environment
// variable or the -config flag override it.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                     string   `yaml:"port"`
	LogLevel                 string   `yaml:"logLevel"`
	StoreDriver              string   `yaml:"storeDriver"`
	DatabaseURL              string   `yaml:"databaseURL"`
	SupabaseURL              string   `yaml:"supabaseURL"`
	SupabaseKey              string   `yaml:"supabaseKey"`
	SupabaseServiceRoleKey   string   `yaml:"supabaseServiceRoleKey"`
	SupabaseJWTSecret        string   `yaml:"supabaseJWTSecret"`
	IdentityDriver           string   `yaml:"identityDriver"`
	JWTIssuer                string   `yaml:"jwtIssuer"`
	JWTAudience              string   `yaml:"jwtAudience"`
	JWTLeeway                string   `yaml:"jwtLeeway"`
	SessionTTL               string   `yaml:"sessionTTL"`
	RefreshTTL               string   `yaml:"refreshTTL"`
	RedisAddr                string   `yaml:"redisAddr"`
	RedisPassword            string   `yaml:"redisPassword"`
	AMQPURL                  string   `yaml:"amqpURL"`
	RealtimeBroker           string   `yaml:"realtimeBroker"`
	StoreTimeout             string   `yaml:"storeTimeout"`
	SignupRateLimitPerMinute int      `yaml:"signupRateLimitPerMinute"`
	SigninRateLimitPerMinute int      `yaml:"signinRateLimitPerMinute"`
	TrustedProxyCIDRs        []string `yaml:"trustedProxyCidrs"`
	CORSAllowedOrigins       []string `yaml:"corsAllowedOrigins"`
}

// Load reads config from path (defaults to ConfigPath). A missing file is
// fine when the environment supplies everything.
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
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	str := map[string]*string{
		"PORT":                      &cfg.Port,
		"LOG_LEVEL":                 &cfg.LogLevel,
		"STORE_DRIVER":              &cfg.StoreDriver,
		"DATABASE_URL":              &cfg.DatabaseURL,
		"SUPABASE_URL":              &cfg.SupabaseURL,
		"SUPABASE_KEY":              &cfg.SupabaseKey,
		"SUPABASE_SERVICE_ROLE_KEY": &cfg.SupabaseServiceRoleKey,
		"SUPABASE_JWT_SECRET":       &cfg.SupabaseJWTSecret,
		"IDENTITY_DRIVER":           &cfg.IdentityDriver,
		"JWT_ISSUER":                &cfg.JWTIssuer,
		"JWT_AUDIENCE":              &cfg.JWTAudience,
		"JWT_LEEWAY":                &cfg.JWTLeeway,
		"SESSION_TTL":               &cfg.SessionTTL,
		"REFRESH_TTL":               &cfg.RefreshTTL,
		"REDIS_ADDR":                &cfg.RedisAddr,
		"REDIS_PASSWORD":            &cfg.RedisPassword,
		"AMQP_URL":                  &cfg.AMQPURL,
		"REALTIME_BROKER":           &cfg.RealtimeBroker,
		"STORE_TIMEOUT":             &cfg.StoreTimeout,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("AUTH_SIGNUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SignupRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("AUTH_SIGNIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SigninRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitList(v)
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitList(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "3000"
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "rest"
	}
	if cfg.IdentityDriver == "" {
		cfg.IdentityDriver = "gotrue"
	}
	if cfg.RealtimeBroker == "" {
		cfg.RealtimeBroker = "memory"
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.IdentityDriver = strings.ToLower(strings.TrimSpace(cfg.IdentityDriver))
	cfg.RealtimeBroker = strings.ToLower(strings.TrimSpace(cfg.RealtimeBroker))
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.SupabaseJWTSecret) == "" {
		return errors.New("config: supabaseJWTSecret is required (set SUPABASE_JWT_SECRET)")
	}
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for storeDriver postgres")
		}
	case "rest":
		if cfg.SupabaseURL == "" || cfg.SupabaseServiceRoleKey == "" {
			return errors.New("config: supabaseURL and supabaseServiceRoleKey are required for storeDriver rest")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storeDriver %q", cfg.StoreDriver)
	}
	switch cfg.IdentityDriver {
	case "gotrue":
		if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
			return errors.New("config: supabaseURL and supabaseKey are required for identityDriver gotrue")
		}
	case "local":
		if cfg.StoreDriver == "rest" {
			return errors.New("config: identityDriver local needs storeDriver postgres or memory")
		}
	default:
		return fmt.Errorf("config: unknown identityDriver %q", cfg.IdentityDriver)
	}
	switch cfg.RealtimeBroker {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for realtimeBroker redis")
		}
	case "amqp":
		if strings.TrimSpace(cfg.AMQPURL) == "" {
			return errors.New("config: amqpURL is required for realtimeBroker amqp")
		}
	default:
		return fmt.Errorf("config: unknown realtimeBroker %q", cfg.RealtimeBroker)
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.SigninRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	for name, raw := range map[string]string{
		"jwtLeeway":    cfg.JWTLeeway,
		"sessionTTL":   cfg.SessionTTL,
		"refreshTTL":   cfg.RefreshTTL,
		"storeTimeout": cfg.StoreTimeout,
	} {
		if _, err := ParseDuration(name, raw); err != nil {
			return err
		}
	}
	return nil
}

// ParseDuration parses an optional duration string; empty means zero.
func ParseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
