// Package responder decides which responder answers a chat message and
// labels the reply with its provenance.
package responder

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"simplechat/internal/apperr"
	"simplechat/internal/metrics"
	"simplechat/internal/providers"
)

const (
	ServiceAuto     = "auto"
	ServiceGemini   = "gemini"
	ServiceDeepseek = "deepseek"

	LabelPrimary       = "Gemini AI"
	LabelFallback      = "Backup AI"
	LabelPrimaryFailed = "Backup AI (Gemini failed)"

	promptPrefix    = "You are a helpful AI assistant. Respond to: "
	temperature     = 0.7
	maxOutputTokens = 150
)

// State is a step of a single routing decision. It is never persisted.
type State int

const (
	StateStart State = iota
	StatePrimaryAttempted
	StatePrimarySuccess
	StateFallback
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StatePrimaryAttempted:
		return "primary_attempted"
	case StatePrimarySuccess:
		return "primary_success"
	case StateFallback:
		return "fallback"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

var errNoPrimary = errors.New("no primary responder configured")

// Replier is the local responder. It must always produce text.
type Replier interface {
	Reply(message string) string
}

type Result struct {
	Text    string
	Service string
	// Outcome is StatePrimarySuccess or StateFallback.
	Outcome State
	// PrimaryErr keeps the remote failure for logging only.
	PrimaryErr error
}

type Config struct {
	Primary  providers.Provider
	Fallback Replier
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

type Router struct {
	primary  providers.Provider
	fallback Replier
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

func New(cfg Config) *Router {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Router{
		primary:  cfg.Primary,
		fallback: cfg.Fallback,
		logger:   cfg.Logger.With().Str("component", "responder").Logger(),
		metrics:  m,
	}
}

// NormalizeService maps an arbitrary preference onto a known routing policy.
// Unknown and empty values mean auto.
func NormalizeService(preferred string) string {
	switch p := strings.ToLower(strings.TrimSpace(preferred)); p {
	case ServiceGemini, ServiceDeepseek:
		return p
	default:
		return ServiceAuto
	}
}

// Route produces exactly one reply for message. Remote failures never
// surface as errors; only an empty message does.
func (r *Router) Route(ctx context.Context, message, preferred string) (Result, error) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return Result{}, apperr.Validation("No message provided")
	}
	pref := NormalizeService(preferred)

	state := StateStart
	var res Result

	if pref != ServiceDeepseek {
		state = StatePrimaryAttempted
		text, err := r.attemptPrimary(ctx, msg)
		if err == nil {
			state = StatePrimarySuccess
			res.Text = text
			res.Service = LabelPrimary
		} else {
			state = StateFallback
			res.PrimaryErr = err
			r.metrics.PrimaryFailures.Inc()
			r.logger.Warn().Err(err).Str("preferred_service", pref).Msg("primary responder failed, using fallback")
		}
	} else {
		state = StateFallback
	}

	if state == StateFallback {
		res.Text = r.fallback.Reply(msg)
		res.Service = LabelFallback
		if pref == ServiceGemini && res.PrimaryErr != nil {
			res.Service = LabelPrimaryFailed
		}
	}

	res.Outcome = state
	r.metrics.Replies.WithLabelValues(res.Service).Inc()
	r.logger.Debug().
		Str("preferred_service", pref).
		Str("outcome", state.String()).
		Str("final", StateDone.String()).
		Str("service", res.Service).
		Msg("reply routed")
	return res, nil
}

func (r *Router) attemptPrimary(ctx context.Context, msg string) (string, error) {
	if r.primary == nil {
		return "", apperr.Upstream("%v", errNoPrimary)
	}
	start := time.Now()
	resp, err := r.primary.Chat(ctx, providers.ChatRequest{
		Prompt:      promptPrefix + msg,
		MaxTokens:   maxOutputTokens,
		Temperature: temperature,
	})
	r.metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", apperr.Upstream("empty reply")
	}
	return resp.Text, nil
}
