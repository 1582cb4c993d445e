// Package clientstate binds an HTTP client to its session.ClientContext
// through a cookie. The context itself lives either sealed inside the
// cookie or in redis under an opaque token.
package clientstate

import (
	"net/http"
	"time"

	"simplechat/internal/session"
)

type Store interface {
	// Load returns the zero context when the client carries no usable state.
	Load(r *http.Request) (session.ClientContext, error)
	Save(w http.ResponseWriter, r *http.Request, cc session.ClientContext) error
	Clear(w http.ResponseWriter, r *http.Request) error
}

type CookieOptions struct {
	Name     string
	Secure   bool
	SameSite http.SameSite
	Lifetime time.Duration
}

func (o CookieOptions) withDefaults() CookieOptions {
	if o.Name == "" {
		o.Name = "simplechat_session"
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	if o.Lifetime <= 0 {
		o.Lifetime = 7 * 24 * time.Hour
	}
	return o
}

func (o CookieOptions) cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     o.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(o.Lifetime.Seconds()),
		Expires:  time.Now().Add(o.Lifetime),
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: o.SameSite,
	}
}

func (o CookieOptions) expired() *http.Cookie {
	return &http.Cookie{
		Name:     o.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: o.SameSite,
	}
}
