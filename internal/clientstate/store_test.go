package clientstate

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"simplechat/internal/session"
)

func roundTrip(t *testing.T, st Store, cc session.ClientContext) (*http.Cookie, session.ClientContext) {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := st.Save(rec, httptest.NewRequest(http.MethodGet, "/", nil), cc); err != nil {
		t.Fatalf("save: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	got, err := st.Load(req)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cookies[0], got
}

func TestCookieStoreRoundTrip(t *testing.T) {
	sealer, _ := NewSealer("secret")
	st := NewCookieStore(sealer, CookieOptions{Name: "sid", Secure: true})

	ck, got := roundTrip(t, st, session.ClientContext{UserID: 3, ActiveSessionID: 9})
	if got.UserID != 3 || got.ActiveSessionID != 9 {
		t.Fatalf("unexpected context %+v", got)
	}
	if !ck.HttpOnly || !ck.Secure || ck.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes %+v", ck)
	}
	if ck.MaxAge != int((7 * 24 * time.Hour).Seconds()) {
		t.Fatalf("unexpected max-age %d", ck.MaxAge)
	}

	empty, err := st.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil || empty.HasUser() {
		t.Fatalf("missing cookie must load as anonymous, got %+v err=%v", empty, err)
	}
}

func TestCookieStoreRejectsForgedAndExpired(t *testing.T) {
	sealer, _ := NewSealer("secret")
	st := NewCookieStore(sealer, CookieOptions{Name: "sid", Lifetime: time.Hour})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "forged.value.here"})
	if _, err := st.Load(req); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}

	rec := httptest.NewRecorder()
	_ = st.Save(rec, httptest.NewRequest(http.MethodGet, "/", nil), session.ClientContext{UserID: 1, ActiveSessionID: 1})
	st.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	if _, err := st.Load(req); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired state to be rejected, got %v", err)
	}
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	st := NewRedisStore(rdb, CookieOptions{Name: "sid", Lifetime: time.Hour})
	ck, got := roundTrip(t, st, session.ClientContext{UserID: 5, ActiveSessionID: 11})
	if got.UserID != 5 || got.ActiveSessionID != 11 {
		t.Fatalf("unexpected context %+v", got)
	}
	key := "simplechat:client:" + ck.Value
	if !mr.Exists(key) {
		t.Fatalf("expected redis key %q", key)
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(ck)
	if err := st.Clear(rec, req); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if mr.Exists(key) {
		t.Fatalf("expected redis key removed")
	}
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %+v", c)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "not-a-uuid"})
	cc, err := st.Load(req)
	if err != nil || cc.HasUser() {
		t.Fatalf("unknown token must load as anonymous, got %+v err=%v", cc, err)
	}
}
