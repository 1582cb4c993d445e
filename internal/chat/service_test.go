package chat

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"simplechat/internal/apperr"
	"simplechat/internal/metrics"
	"simplechat/internal/providers/fallback"
	"simplechat/internal/providers/gemini"
	"simplechat/internal/ratelimit"
	"simplechat/internal/responder"
	"simplechat/internal/session"
	"simplechat/internal/storage"
)

type fixture struct {
	store   *storage.Store
	service *Service
}

func newFixture(t *testing.T, limiter Limiter) fixture {
	t.Helper()
	store, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "chat.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	m := metrics.New()
	sessions := session.NewManager(session.Config{Store: store, Logger: zerolog.Nop(), Metrics: m})
	router := responder.New(responder.Config{
		Primary:  gemini.New(gemini.Config{}),
		Fallback: fallback.New(),
		Logger:   zerolog.Nop(),
		Metrics:  m,
	})
	cfg := Config{
		Store:    store,
		Sessions: sessions,
		Router:   router,
		Logger:   zerolog.Nop(),
		Metrics:  m,
	}
	if limiter != nil {
		cfg.Limiter = limiter
	}
	return fixture{store: store, service: NewService(cfg)}
}

func TestSendHelloWithoutAPIKey(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var cc session.ClientContext
	reply, err := f.service.Send(ctx, &cc, "hello", "auto")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Response != "Hello! I'm your AI assistant. How can I help you today?" || reply.Service != "Backup AI" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if !cc.HasSession() {
		t.Fatalf("expected client to be provisioned, got %+v", cc)
	}

	history, err := f.store.GetChatHistory(ctx, cc.ActiveSessionID, 50)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Type != storage.MessageTypeUser || history[0].Content != "hello" {
		t.Fatalf("unexpected user message %+v", history[0])
	}
	if history[1].Type != storage.MessageTypeAI || history[1].Content != reply.Response {
		t.Fatalf("unexpected ai message %+v", history[1])
	}

	var meta map[string]string
	if err := json.Unmarshal(history[1].Metadata, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta["service"] != "Backup AI" {
		t.Fatalf("expected provenance in metadata, got %v", meta)
	}
	if err := json.Unmarshal(history[0].Metadata, &meta); err != nil || meta["service"] != "auto" {
		t.Fatalf("expected preference on user message, got %s", history[0].Metadata)
	}
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t, nil)

	var cc session.ClientContext
	_, err := f.service.Send(context.Background(), &cc, "   ", "auto")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if cc.HasUser() {
		t.Fatalf("empty messages must not provision a user")
	}
}

func TestSendOmittedPreferenceRoutesAuto(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var cc session.ClientContext
	reply, err := f.service.Send(ctx, &cc, "hi", "gemini")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Service != "Backup AI (Gemini failed)" {
		t.Fatalf("unexpected service %q", reply.Service)
	}

	pref, _ := f.store.GetUserSetting(ctx, cc.UserID, SettingPreferredService, "auto")
	if pref != "gemini" {
		t.Fatalf("expected stored preference gemini, got %q", pref)
	}

	reply, err = f.service.Send(ctx, &cc, "hi again", "")
	if err != nil {
		t.Fatalf("send without preference: %v", err)
	}
	if reply.Service != "Backup AI" {
		t.Fatalf("omitted preference should route as auto, got %q", reply.Service)
	}

	history, _ := f.store.GetChatHistory(ctx, cc.ActiveSessionID, 10)
	if len(history) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(history))
	}
	if string(history[2].Metadata) != `{"service":"auto"}` {
		t.Fatalf("user message should record auto, got %s", history[2].Metadata)
	}
}

func TestSendRebindsVanishedSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var cc session.ClientContext
	if _, err := f.service.Send(ctx, &cc, "first", "deepseek"); err != nil {
		t.Fatalf("send: %v", err)
	}
	gone := cc.ActiveSessionID
	if err := f.store.DeleteSession(ctx, gone); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	if _, err := f.service.Send(ctx, &cc, "second", "deepseek"); err != nil {
		t.Fatalf("send after delete: %v", err)
	}
	if cc.ActiveSessionID == gone {
		t.Fatalf("expected a new active session")
	}
	history, _ := f.store.GetChatHistory(ctx, cc.ActiveSessionID, 10)
	if len(history) != 2 || history[0].Content != "second" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestSendRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	f := newFixture(t, ratelimit.New(rdb, 1))
	ctx := context.Background()

	var cc session.ClientContext
	if _, err := f.service.Send(ctx, &cc, "one", "deepseek"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	_, err = f.service.Send(ctx, &cc, "two", "deepseek")
	if !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	history, _ := f.store.GetChatHistory(ctx, cc.ActiveSessionID, 10)
	if len(history) != 2 {
		t.Fatalf("rejected message must not be stored, got %d messages", len(history))
	}
}

func TestSendFailsOpenWhenLimiterDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	f := newFixture(t, ratelimit.New(rdb, 1))
	ctx := context.Background()

	var cc session.ClientContext
	for _, msg := range []string{"one", "two"} {
		if _, err := f.service.Send(ctx, &cc, msg, "deepseek"); err != nil {
			t.Fatalf("send %q with limiter down: %v", msg, err)
		}
	}
	history, _ := f.store.GetChatHistory(ctx, cc.ActiveSessionID, 10)
	if len(history) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(history))
	}
}
