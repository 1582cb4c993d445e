// Package httpapi exposes the chat backend as a JSON API on gin.
package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"simplechat/internal/chat"
	"simplechat/internal/clientstate"
	"simplechat/internal/metrics"
	"simplechat/internal/session"
)

type SettingsStore interface {
	GetUserSetting(ctx context.Context, userID int64, key, def string) (string, error)
	SaveUserSetting(ctx context.Context, userID int64, key, value string) error
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	// DB is optional; when set, /api/health pings it.
	DB          Pinger
	Sessions    *session.Manager
	Chat        *chat.Service
	Settings    SettingsStore
	ClientState clientstate.Store
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics

	AllowedOrigins        []string
	ForceHTTPS            bool
	ContentSecurityPolicy string
	MetricsPath           string
}

type handler struct {
	db       Pinger
	sessions *session.Manager
	chat     *chat.Service
	settings SettingsStore
	state    clientstate.Store
	logger   zerolog.Logger
}

func NewRouter(cfg Config) *gin.Engine {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	logger := cfg.Logger.With().Str("component", "http").Logger()

	r := gin.New()
	r.Use(
		RequestID(),
		Recovery(logger),
		Logging(logger),
		Metrics(m),
		SecurityHeaders(cfg.ForceHTTPS, cfg.ContentSecurityPolicy),
		CORS(cfg.AllowedOrigins),
	)

	h := &handler{
		db:       cfg.DB,
		sessions: cfg.Sessions,
		chat:     cfg.Chat,
		settings: cfg.Settings,
		state:    cfg.ClientState,
		logger:   logger,
	}

	if cfg.MetricsPath != "" {
		r.GET(cfg.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	api.GET("/health", h.health)
	api.POST("/chat", h.sendMessage)
	api.GET("/history", h.history)
	api.GET("/sessions", h.listSessions)
	api.POST("/sessions", h.createSession)
	api.POST("/sessions/:id/switch", h.switchSession)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.PUT("/sessions/:id/rename", h.renameSession)
	api.GET("/stats", h.stats)
	api.POST("/clear-session", h.clearSession)
	api.GET("/current-session", h.currentSession)
	api.GET("/settings/:key", h.getSetting)
	api.PUT("/settings/:key", h.putSetting)

	return r
}
