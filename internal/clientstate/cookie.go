package clientstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"simplechat/internal/session"
)

type sealedState struct {
	UserID    int64 `json:"u"`
	SessionID int64 `json:"s"`
	IssuedAt  int64 `json:"iat"`
}

// CookieStore keeps the whole client context inside a sealed cookie.
type CookieStore struct {
	sealer *Sealer
	opts   CookieOptions
	now    func() time.Time
}

func NewCookieStore(sealer *Sealer, opts CookieOptions) *CookieStore {
	return &CookieStore{sealer: sealer, opts: opts.withDefaults(), now: time.Now}
}

var _ Store = (*CookieStore)(nil)

func (c *CookieStore) Load(r *http.Request) (session.ClientContext, error) {
	ck, err := r.Cookie(c.opts.Name)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && ck.Value == "") {
		return session.ClientContext{}, nil
	}
	if err != nil {
		return session.ClientContext{}, fmt.Errorf("read cookie: %w", err)
	}

	plain, err := c.sealer.Open(ck.Value)
	if err != nil {
		return session.ClientContext{}, err
	}
	var st sealedState
	if err := json.Unmarshal(plain, &st); err != nil {
		return session.ClientContext{}, fmt.Errorf("decode state: %w", ErrInvalidToken)
	}
	if c.now().After(time.Unix(st.IssuedAt, 0).Add(c.opts.Lifetime)) {
		return session.ClientContext{}, fmt.Errorf("state expired: %w", ErrInvalidToken)
	}
	return session.ClientContext{UserID: st.UserID, ActiveSessionID: st.SessionID}, nil
}

func (c *CookieStore) Save(w http.ResponseWriter, _ *http.Request, cc session.ClientContext) error {
	b, err := json.Marshal(sealedState{
		UserID:    cc.UserID,
		SessionID: cc.ActiveSessionID,
		IssuedAt:  c.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	token, err := c.sealer.Seal(b)
	if err != nil {
		return fmt.Errorf("seal state: %w", err)
	}
	http.SetCookie(w, c.opts.cookie(token))
	return nil
}

func (c *CookieStore) Clear(w http.ResponseWriter, _ *http.Request) error {
	http.SetCookie(w, c.opts.expired())
	return nil
}
