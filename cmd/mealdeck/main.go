package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mealdeck/mealdeck/internal/auth/flow"
	"github.com/mealdeck/mealdeck/internal/auth/identity"
	"github.com/mealdeck/mealdeck/internal/auth/local"
	"github.com/mealdeck/mealdeck/internal/auth/pkce"
	"github.com/mealdeck/mealdeck/internal/auth/providers"
	"github.com/mealdeck/mealdeck/internal/cache"
	"github.com/mealdeck/mealdeck/internal/config"
	"github.com/mealdeck/mealdeck/internal/email"
	"github.com/mealdeck/mealdeck/internal/httpx"
	"github.com/mealdeck/mealdeck/internal/observability/logger"
	"github.com/mealdeck/mealdeck/internal/session"
	"github.com/mealdeck/mealdeck/internal/store"
)

var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var configPath string

	root := &cobra.Command{
		Use:     "mealdeck",
		Short:   "MealDeck authentication service",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	root.AddCommand(serveCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), configPath)
		},
	}
	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "mealdeck",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := newStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	cacheClient, err := cache.New(cache.Config{
		Kind:       cfg.Cache.Kind,
		Addr:       cfg.Cache.Redis.Addr,
		Password:   cfg.Cache.Redis.Password,
		DB:         cfg.Cache.Redis.DB,
		Prefix:     cfg.Cache.Redis.Prefix,
		DefaultTTL: config.Dur(cfg.Cache.Memory.DefaultTTL, 30*time.Minute),
	})
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = cacheClient.Close() }()

	registry := buildRegistry(cfg)

	pkceStore := pkce.NewStore(config.Dur(cfg.PKCE.TTL, pkce.DefaultTTL))
	driver := flow.NewDriver(registry, pkceStore, nil)
	resolver := identity.NewResolver(st)

	mailer := email.NewMailer(email.Config{
		Enabled: cfg.SMTP.Enabled,
		Host:    cfg.SMTP.Host,
		Port:    cfg.SMTP.Port,
		User:    cfg.SMTP.User,
		Pass:    cfg.SMTP.Pass,
		From:    cfg.SMTP.From,
	})
	localSvc := local.New(st, mailer)

	sessions := session.NewManager(cacheClient, session.Config{
		CookieName: cfg.Session.CookieName,
		Domain:     cfg.Session.Domain,
		SameSite:   cfg.Session.SameSite,
		Secure:     cfg.Session.Secure,
		TTL:        config.Dur(cfg.Session.TTL, 168*time.Hour),
		Secret:     cfg.SessionSecret(),
	})

	metricsHandler, err := httpx.RegisterMetrics(nil)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	handler := httpx.NewHandler(cfg, registry, driver, resolver, localSvc, sessions, st, cacheClient)
	server := httpx.NewServer(cfg.Server.Addr, httpx.NewRouter(handler, metricsHandler))

	log.Info("starting",
		logger.String("env", cfg.App.Env),
		logger.String("storage", cfg.Storage.Driver),
		logger.String("cache", cfg.Cache.Kind),
		logger.Strings("providers", registry.Keys()),
	)
	return server.Run(ctx)
}

func migrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.Driver != "postgres" {
		return fmt.Errorf("migrate requires the postgres driver, got %q", cfg.Storage.Driver)
	}
	pg, err := store.NewPostgres(ctx, cfg.Storage.DSN, cfg.Storage.Postgres.MaxConns)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Storage.DSN, cfg.Storage.Postgres.MaxConns)
	default:
		return store.NewMemory(), nil
	}
}

func buildRegistry(cfg *config.Config) *providers.Registry {
	registry := providers.NewRegistry()
	factories := map[string]providers.Factory{
		config.ProviderGoogle:  providers.NewGoogle,
		config.ProviderGitHub:  providers.NewGitHub,
		config.ProviderTwitter: providers.NewTwitter,
		config.ProviderApple:   providers.NewApple,
		config.ProviderOIDC:    providers.NewOIDC,
	}
	for _, key := range config.OAuthProviders {
		creds, ok := cfg.Provider(key)
		if !ok {
			continue
		}
		registry.Register(key, creds, factories[key])
	}
	return registry
}
