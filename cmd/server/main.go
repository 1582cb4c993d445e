package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"simplechat/internal/chat"
	"simplechat/internal/clientstate"
	"simplechat/internal/config"
	"simplechat/internal/httpapi"
	"simplechat/internal/metrics"
	"simplechat/internal/providers/registry"
	"simplechat/internal/ratelimit"
	"simplechat/internal/responder"
	"simplechat/internal/session"
	"simplechat/internal/storage"
)

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level, cfg.Log.Format)
	log.Info().
		Str("environment", cfg.Environment).
		Str("db_driver", cfg.DB.Driver).
		Str("client_state", cfg.Cookie.Backend).
		Bool("gemini_configured", cfg.Gemini.APIKey != "").
		Msg("starting simplechat")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
	}

	m := metrics.Global()

	primary, err := registry.Build(registry.BuildOptions{
		Kind:    registry.KindGemini,
		BaseURL: cfg.Gemini.BaseURL,
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.Gemini.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build primary responder")
	}
	backup, err := registry.Build(registry.BuildOptions{Kind: registry.KindFallback})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build fallback responder")
	}
	replier, ok := backup.(responder.Replier)
	if !ok {
		log.Fatal().Msgf("fallback responder %T cannot reply locally", backup)
	}

	sessions := session.NewManager(session.Config{Store: store, Logger: log.Logger, Metrics: m})
	router := responder.New(responder.Config{
		Primary:  primary,
		Fallback: replier,
		Logger:   log.Logger,
		Metrics:  m,
	})

	chatCfg := chat.Config{
		Store:    store,
		Sessions: sessions,
		Router:   router,
		Logger:   log.Logger,
		Metrics:  m,
	}
	if rdb != nil && cfg.Rate.PerHour > 0 {
		chatCfg.Limiter = ratelimit.New(rdb, cfg.Rate.PerHour)
		log.Info().Int64("per_hour", cfg.Rate.PerHour).Msg("chat rate limit enabled")
	}
	chatSvc := chat.NewService(chatCfg)

	state, err := buildClientState(cfg, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize client state")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := httpapi.NewRouter(httpapi.Config{
		DB:                    store,
		Sessions:              sessions,
		Chat:                  chatSvc,
		Settings:              store,
		ClientState:           state,
		Logger:                log.Logger,
		Metrics:               m,
		AllowedOrigins:        cfg.Security.AllowedOrigins,
		ForceHTTPS:            cfg.Security.ForceHTTPS,
		ContentSecurityPolicy: cfg.Security.ContentSecurityPolicy,
		MetricsPath:           cfg.Server.MetricsPath,
	})

	errCh := make(chan error, 1)
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func buildClientState(cfg *config.Config, rdb *redis.Client) (clientstate.Store, error) {
	opts := clientstate.CookieOptions{
		Name:     cfg.Cookie.Name,
		Secure:   cfg.Cookie.Secure,
		SameSite: cfg.Cookie.SameSite,
		Lifetime: cfg.Cookie.Lifetime,
	}
	if cfg.Cookie.Backend == config.ClientStateRedis {
		if rdb == nil {
			return nil, config.ErrRedisRequired
		}
		return clientstate.NewRedisStore(rdb, opts), nil
	}
	sealer, err := clientstate.NewSealer(cfg.SecretKey, cfg.PreviousSecretKeys...)
	if err != nil {
		return nil, err
	}
	return clientstate.NewCookieStore(sealer, opts), nil
}

func loadEnvFiles() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
		}
	}
}

func setupLogger(level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	if strings.EqualFold(format, "console") {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
