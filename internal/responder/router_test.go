package responder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"simplechat/internal/apperr"
	"simplechat/internal/metrics"
	"simplechat/internal/providers"
	"simplechat/internal/providers/fallback"
	"simplechat/internal/providers/gemini"
)

type stubProvider struct {
	text  string
	err   error
	calls int32
	last  providers.ChatRequest
}

func (s *stubProvider) Chat(_ context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	atomic.AddInt32(&s.calls, 1)
	s.last = req
	if s.err != nil {
		return providers.ChatResponse{}, s.err
	}
	return providers.ChatResponse{Text: s.text}, nil
}

func newRouter(p providers.Provider) *Router {
	return New(Config{
		Primary:  p,
		Fallback: fallback.New(),
		Logger:   zerolog.Nop(),
		Metrics:  metrics.New(),
	})
}

func TestRoutePrimarySuccess(t *testing.T) {
	p := &stubProvider{text: "Remote answer"}
	r := newRouter(p)

	for _, pref := range []string{"auto", "gemini", "", "something-else"} {
		res, err := r.Route(context.Background(), "  tell me a joke ", pref)
		if err != nil {
			t.Fatalf("route %q: %v", pref, err)
		}
		if res.Text != "Remote answer" || res.Service != LabelPrimary || res.Outcome != StatePrimarySuccess {
			t.Fatalf("pref %q: unexpected result %+v", pref, res)
		}
	}
	if p.last.Prompt != "You are a helpful AI assistant. Respond to: tell me a joke" {
		t.Fatalf("unexpected prompt %q", p.last.Prompt)
	}
	if p.last.Temperature != 0.7 || p.last.MaxTokens != 150 {
		t.Fatalf("unexpected generation params %+v", p.last)
	}
}

func TestRouteFallbackLabels(t *testing.T) {
	failing := &stubProvider{err: apperr.Upstream("provider status 500")}
	r := newRouter(failing)

	res, err := r.Route(context.Background(), "hello", "auto")
	if err != nil {
		t.Fatalf("route auto: %v", err)
	}
	if res.Service != LabelFallback || res.Outcome != StateFallback {
		t.Fatalf("auto failure should be labelled %q, got %+v", LabelFallback, res)
	}
	if !errors.Is(res.PrimaryErr, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("expected primary error kept for logging, got %v", res.PrimaryErr)
	}

	res, err = r.Route(context.Background(), "hello", "gemini")
	if err != nil {
		t.Fatalf("route gemini: %v", err)
	}
	if res.Service != LabelPrimaryFailed {
		t.Fatalf("expected %q, got %q", LabelPrimaryFailed, res.Service)
	}
	if res.Text != "Hello! I'm your AI assistant. How can I help you today?" {
		t.Fatalf("unexpected fallback text %q", res.Text)
	}
}

func TestRouteDeepseekNeverCallsPrimary(t *testing.T) {
	p := &stubProvider{text: "Remote answer"}
	r := newRouter(p)

	res, err := r.Route(context.Background(), "bye", "DeepSeek")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if atomic.LoadInt32(&p.calls) != 0 {
		t.Fatalf("deepseek must not call the primary responder")
	}
	if res.Service != LabelFallback || res.Text != "Goodbye! It was nice chatting with you." {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRouteRejectsEmptyMessage(t *testing.T) {
	p := &stubProvider{text: "x"}
	r := newRouter(p)

	_, err := r.Route(context.Background(), "   \n\t", "gemini")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if atomic.LoadInt32(&p.calls) != 0 {
		t.Fatalf("primary must not be called for an empty message")
	}
}

func TestRouteGeminiServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newRouter(gemini.New(gemini.Config{BaseURL: srv.URL, APIKey: "key"}))
	res, err := r.Route(context.Background(), "what's up", "gemini")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Service != LabelPrimaryFailed {
		t.Fatalf("expected %q, got %q", LabelPrimaryFailed, res.Service)
	}
}

func TestRouteWithoutPrimary(t *testing.T) {
	r := newRouter(nil)
	res, err := r.Route(context.Background(), "help", "auto")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Service != LabelFallback || res.Text != "I'm here to help! You can ask me questions or have a conversation." {
		t.Fatalf("unexpected result %+v", res)
	}
}
