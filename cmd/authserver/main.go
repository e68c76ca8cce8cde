package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/auth"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/config"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/csrf"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/httpapi"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/identity"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/oauth"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/obs"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/password"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/ratelimit"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/session"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/token"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(obs.LogConfig{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		App:    cfg.App.Name,
		Env:    cfg.App.Env,
		Ver:    cfg.App.Version,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting", zap.String("http_addr", cfg.Server.HTTPAddr))

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	users, closeStore, err := buildIdentityStore(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("identity store", zap.Error(err))
	}
	defer closeStore()

	srv, sessions, err := buildServer(cfg, rdb, users, logger)
	if err != nil {
		logger.Fatal("build server", zap.Error(err))
	}

	httpSrv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	metricsSrv := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, func(ctx context.Context) error {
		_, err := sessions.Ping(ctx)
		return err
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shCtx)
	_ = metricsSrv.Shutdown(shCtx)
	logger.Info("bye")
}

func buildIdentityStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (identity.Store, func(), error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn("using the in-memory identity store; accounts do not survive restarts")
		return identity.NewMemoryStore(), func() {}, nil
	}

	if cfg.Store.Migrate {
		if err := identity.Migrate(ctx, cfg.Store.DSN); err != nil {
			return nil, nil, err
		}
		logger.Info("schema migrations applied")
	}

	pool, err := identity.NewPool(ctx, identity.PoolConfig{
		DSN:             cfg.Store.DSN,
		MaxConns:        cfg.Store.MaxConns,
		MinConns:        cfg.Store.MinConns,
		MaxConnLifetime: cfg.Store.MaxConnLifetime,
		MaxConnIdleTime: cfg.Store.MaxConnIdleTime,
		ConnectTimeout:  cfg.Store.ConnectTimeout,
		QueryTimeout:    cfg.Store.QueryTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return identity.NewPostgresStore(pool, cfg.Store.QueryTimeout), pool.Close, nil
}

func buildServer(cfg *config.Config, rdb redis.UniversalClient, users identity.Store, logger *zap.Logger) (*httpapi.Server, *session.Store, error) {
	manager, err := token.NewManager(token.ManagerConfig{
		AccessTTL:     cfg.Token.AccessTTL,
		SigningMethod: token.MethodHS256,
		PrivateKey:    []byte(cfg.Token.Secret),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, nil, err
	}

	sessions := session.NewStore(rdb, cfg.Redis.KeyPrefix)
	tokens, err := token.NewService(manager, sessions, cfg.Token.RefreshTTL)
	if err != nil {
		return nil, nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		return nil, nil, err
	}

	guard := csrf.NewGuard(rdb, cfg.Redis.KeyPrefix, cfg.CSRF.TTL)
	general := ratelimit.NewLimiter(rdb, cfg.Redis.KeyPrefix+":rl:gen", cfg.RateLimit.GeneralMax, cfg.RateLimit.GeneralWindow)
	authRL := ratelimit.NewLimiter(rdb, cfg.Redis.KeyPrefix+":rl:auth", cfg.RateLimit.AuthMax, cfg.RateLimit.AuthWindow)
	lockout := ratelimit.NewLockout(rdb, cfg.Redis.KeyPrefix, ratelimit.LockoutConfig{
		Enabled:   cfg.Lockout.Enabled,
		Threshold: cfg.Lockout.Threshold,
		Window:    cfg.Lockout.Window,
	})

	verifiers, err := buildVerifiers(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	authSvc, err := auth.NewService(users, tokens, hasher, lockout, verifiers, auth.Config{
		AdminEmails: cfg.AdminEmails,
		Delay: ratelimit.DelayPolicy{
			Base: cfg.RateLimit.DelayBase,
			Cap:  cfg.RateLimit.DelayCap,
		},
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	cookies := httpapi.CookieConfig{
		Secure: cfg.App.Production(),
		Domain: cfg.Token.CookieDomain,
	}
	return httpapi.NewServer(authSvc, tokens, guard, general, authRL, cookies, logger), sessions, nil
}

func buildVerifiers(cfg *config.Config, logger *zap.Logger) (map[identity.Provider]oauth.Verifier, error) {
	verifiers := make(map[identity.Provider]oauth.Verifier)

	if cfg.OAuth.Google.Enabled() {
		v, err := oauth.NewGoogleVerifier(oauth.Config{
			Audience: cfg.OAuth.Google.ClientID,
			Issuers:  cfg.OAuth.Google.Issuers,
			JWKSURL:  cfg.OAuth.Google.JWKSURL,
		})
		if err != nil {
			return nil, err
		}
		verifiers[identity.ProviderGoogle] = v
		logger.Info("google sign-in enabled")
	}
	if cfg.OAuth.Microsoft.Enabled() {
		v, err := oauth.NewMicrosoftVerifier(oauth.Config{
			Audience: cfg.OAuth.Microsoft.ClientID,
			Issuers:  cfg.OAuth.Microsoft.Issuers,
			JWKSURL:  cfg.OAuth.Microsoft.JWKSURL,
		})
		if err != nil {
			return nil, err
		}
		verifiers[identity.ProviderMicrosoft] = v
		logger.Info("microsoft sign-in enabled")
	}

	return verifiers, nil
}
