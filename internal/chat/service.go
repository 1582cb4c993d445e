// Package chat runs one chat turn: it persists the user's message, asks the
// router for a reply and persists that reply with its provenance.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"simplechat/internal/apperr"
	"simplechat/internal/metrics"
	"simplechat/internal/responder"
	"simplechat/internal/session"
	"simplechat/internal/storage"
)

const SettingPreferredService = "preferred_service"

type Store interface {
	SaveMessage(ctx context.Context, sessionID int64, msgType, content string, metadata json.RawMessage) (int64, error)
	SaveUserSetting(ctx context.Context, userID int64, key, value string) error
}

type Sessions interface {
	Ensure(ctx context.Context, cc *session.ClientContext) error
	Rebind(ctx context.Context, cc *session.ClientContext) error
}

type Router interface {
	Route(ctx context.Context, message, preferred string) (responder.Result, error)
}

type Limiter interface {
	Allow(ctx context.Context, userID int64, now time.Time) (allowed bool, used int64, resetAt time.Time, err error)
}

type Config struct {
	Store    Store
	Sessions Sessions
	Router   Router
	// Limiter is optional.
	Limiter Limiter
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

type Service struct {
	store    Store
	sessions Sessions
	router   Router
	limiter  Limiter
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Service{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		router:   cfg.Router,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger.With().Str("component", "chat").Logger(),
		metrics:  m,
	}
}

type Reply struct {
	Response      string
	Service       string
	UserMessageID int64
	AIMessageID   int64
}

// Send handles one inbound message. An empty preferred value routes as auto.
// A non-empty one is recorded as the user's preferred_service setting but
// never read back for routing.
func (s *Service) Send(ctx context.Context, cc *session.ClientContext, message, preferred string) (Reply, error) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return Reply{}, apperr.Validation("No message provided")
	}
	if err := s.sessions.Ensure(ctx, cc); err != nil {
		return Reply{}, fmt.Errorf("ensure session: %w", err)
	}
	if err := s.checkRate(ctx, cc.UserID); err != nil {
		return Reply{}, err
	}

	explicit := strings.TrimSpace(preferred) != ""
	pref := responder.NormalizeService(preferred)

	userID, err := s.saveUserMessage(ctx, cc, msg, pref)
	if err != nil {
		return Reply{}, err
	}

	if explicit {
		if err := s.store.SaveUserSetting(ctx, cc.UserID, SettingPreferredService, pref); err != nil {
			s.logger.Warn().Err(err).Int64("user_id", cc.UserID).Msg("save preferred service")
		}
	}

	res, err := s.router.Route(ctx, msg, pref)
	if err != nil {
		return Reply{}, err
	}

	aiID, err := s.store.SaveMessage(ctx, cc.ActiveSessionID, storage.MessageTypeAI, res.Text, serviceMeta(res.Service))
	if err != nil {
		return Reply{}, fmt.Errorf("save ai message: %w", err)
	}
	s.metrics.MessagesSaved.WithLabelValues(storage.MessageTypeAI).Inc()

	s.logger.Info().
		Int64("user_id", cc.UserID).
		Int64("session_id", cc.ActiveSessionID).
		Str("preferred_service", pref).
		Str("service", res.Service).
		Msg("chat reply sent")

	return Reply{
		Response:      res.Text,
		Service:       res.Service,
		UserMessageID: userID,
		AIMessageID:   aiID,
	}, nil
}

// saveUserMessage retries once on a fresh session when the bound one is gone.
func (s *Service) saveUserMessage(ctx context.Context, cc *session.ClientContext, msg, pref string) (int64, error) {
	id, err := s.store.SaveMessage(ctx, cc.ActiveSessionID, storage.MessageTypeUser, msg, serviceMeta(pref))
	if errors.Is(err, apperr.ErrNotFound) {
		s.logger.Warn().Int64("session_id", cc.ActiveSessionID).Msg("active session vanished, binding a new one")
		if err := s.sessions.Rebind(ctx, cc); err != nil {
			return 0, fmt.Errorf("rebind session: %w", err)
		}
		id, err = s.store.SaveMessage(ctx, cc.ActiveSessionID, storage.MessageTypeUser, msg, serviceMeta(pref))
	}
	if err != nil {
		return 0, fmt.Errorf("save user message: %w", err)
	}
	s.metrics.MessagesSaved.WithLabelValues(storage.MessageTypeUser).Inc()
	return id, nil
}

func (s *Service) checkRate(ctx context.Context, userID int64) error {
	if s.limiter == nil {
		return nil
	}
	allowed, used, resetAt, err := s.limiter.Allow(ctx, userID, time.Now())
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("rate limiter unavailable")
		return nil
	}
	if !allowed {
		s.metrics.RateLimited.Inc()
		return fmt.Errorf("%d messages this hour, resets at %s: %w", used, resetAt.Format(time.RFC3339), apperr.ErrRateLimited)
	}
	return nil
}

func serviceMeta(service string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"service": service})
	return b
}
