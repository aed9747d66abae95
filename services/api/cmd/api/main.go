package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/srinadh239/blogs/internal/guard"
	"github.com/srinadh239/blogs/internal/usertoken"
	"github.com/srinadh239/blogs/internal/util"
	"github.com/srinadh239/blogs/pkg/identity"
	"github.com/srinadh239/blogs/pkg/realtime"
	"github.com/srinadh239/blogs/pkg/store"
	"github.com/srinadh239/blogs/services/api/internal/app"
	"github.com/srinadh239/blogs/services/api/internal/config"
	"github.com/srinadh239/blogs/services/api/internal/server"
)

const (
	defaultSessionTTL = time.Hour
	defaultAudience   = "authenticated"
	defaultIssuer     = "blogs"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	configPath := flag.String("config", envOr("API_CONFIG", config.ConfigPath), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("api stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.FileConfig) error {
	jwtLeeway, _ := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	sessionTTL, _ := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	refreshTTL, _ := config.ParseDuration("refreshTTL", cfg.RefreshTTL)
	storeTimeout, _ := config.ParseDuration("storeTimeout", cfg.StoreTimeout)
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	broker, closeBroker, err := openBroker(cfg, rdb)
	if err != nil {
		return err
	}
	defer closeBroker()

	var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
	var refresh store.RefreshTokenStore = store.NewMemoryRefreshTokenStore()
	if rdb != nil {
		revoker = store.NewRedisTokenRevoker(rdb, "blogs:revoked")
		refresh = store.NewRedisRefreshTokenStore(rdb, "blogs:refresh")
	}

	verifierCfg := usertoken.Config{
		Secret:   cfg.SupabaseJWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   jwtLeeway,
	}
	if cfg.IdentityDriver == "local" {
		verifierCfg.Revocations = revoker
	}
	verifier, err := usertoken.NewVerifier(verifierCfg)
	if err != nil {
		return fmt.Errorf("init token verifier: %w", err)
	}

	provider, err := openIdentity(cfg, st, verifier, revoker, refresh, sessionTTL, refreshTTL)
	if err != nil {
		return err
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}

	appCore, err := app.New(app.Config{Store: st, Broker: broker, StoreTimeout: storeTimeout})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	srvCfg := server.Config{
		App:                      appCore,
		Identity:                 provider,
		Guard:                    guard.New(verifier, trusted),
		Broker:                   broker,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		SigninRateLimitPerMinute: cfg.SigninRateLimitPerMinute,
		TrustedProxies:           trusted,
		CORSAllowedOrigins:       cfg.CORSAllowedOrigins,
	}
	if rdb != nil {
		srvCfg.Redis = rdb
	}
	httpServer, err := server.New(srvCfg)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api server listening", "addr", addr,
			"store", cfg.StoreDriver, "identity", cfg.IdentityDriver, "realtime", cfg.RealtimeBroker)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("api server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(cfg config.FileConfig) (store.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		st, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		st, err := store.NewRESTStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseServiceRoleKey, nil)
		if err != nil {
			return nil, fmt.Errorf("open rest store: %w", err)
		}
		return st, nil
	}
}

func openBroker(cfg config.FileConfig, rdb *redis.Client) (realtime.Broker, func(), error) {
	switch cfg.RealtimeBroker {
	case "redis":
		broker, err := realtime.NewRedisBroker(rdb, realtime.RedisBrokerConfig{})
		if err != nil {
			return nil, nil, fmt.Errorf("init redis broker: %w", err)
		}
		return broker, func() {}, nil
	case "amqp":
		broker, err := realtime.DialAMQPBroker(cfg.AMQPURL, "")
		if err != nil {
			return nil, nil, fmt.Errorf("init amqp broker: %w", err)
		}
		return broker, func() { _ = broker.Close() }, nil
	default:
		return realtime.NewMemoryBroker(), func() {}, nil
	}
}

func openIdentity(cfg config.FileConfig, st store.Store, verifier *usertoken.Verifier, revoker store.TokenRevoker,
	refresh store.RefreshTokenStore, sessionTTL, refreshTTL time.Duration) (identity.Provider, error) {
	if cfg.IdentityDriver != "local" {
		provider, err := identity.NewGoTrueProvider(cfg.SupabaseURL, cfg.SupabaseKey, nil)
		if err != nil {
			return nil, fmt.Errorf("init gotrue provider: %w", err)
		}
		return provider, nil
	}
	users, ok := st.(store.UserStore)
	if !ok {
		return nil, fmt.Errorf("storeDriver %s cannot hold local accounts", cfg.StoreDriver)
	}
	signer, err := usertoken.NewSigner(cfg.SupabaseJWTSecret, orDefault(cfg.JWTIssuer, defaultIssuer),
		orDefault(cfg.JWTAudience, defaultAudience), sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("init token signer: %w", err)
	}
	provider, err := identity.NewLocalProvider(identity.LocalConfig{
		Users:      users,
		Profiles:   st,
		Signer:     signer,
		Verifier:   verifier,
		Refresh:    refresh,
		Revoker:    revoker,
		RefreshTTL: refreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init local identity provider: %w", err)
	}
	return provider, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
