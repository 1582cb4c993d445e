package clientstate

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"simplechat/internal/session"
)

// RedisStore keeps the client context server side. The cookie only holds
// a random token.
type RedisStore struct {
	redis  *redis.Client
	opts   CookieOptions
	prefix string
}

func NewRedisStore(rdb *redis.Client, opts CookieOptions) *RedisStore {
	return &RedisStore{redis: rdb, opts: opts.withDefaults(), prefix: "simplechat:client:"}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) token(r *http.Request) string {
	ck, err := r.Cookie(s.opts.Name)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(ck.Value); err != nil {
		return ""
	}
	return ck.Value
}

func (s *RedisStore) Load(r *http.Request) (session.ClientContext, error) {
	tok := s.token(r)
	if tok == "" {
		return session.ClientContext{}, nil
	}
	vals, err := s.redis.HGetAll(r.Context(), s.prefix+tok).Result()
	if err != nil {
		return session.ClientContext{}, fmt.Errorf("load client state: %w", err)
	}
	if len(vals) == 0 {
		return session.ClientContext{}, nil
	}
	uid, errU := strconv.ParseInt(vals["user_id"], 10, 64)
	sid, errS := strconv.ParseInt(vals["session_id"], 10, 64)
	if err := errors.Join(errU, errS); err != nil {
		return session.ClientContext{}, fmt.Errorf("parse client state: %w", ErrInvalidToken)
	}
	return session.ClientContext{UserID: uid, ActiveSessionID: sid}, nil
}

func (s *RedisStore) Save(w http.ResponseWriter, r *http.Request, cc session.ClientContext) error {
	tok := s.token(r)
	if tok == "" {
		tok = uuid.NewString()
	}
	key := s.prefix + tok
	ctx := r.Context()
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "user_id", cc.UserID, "session_id", cc.ActiveSessionID)
		p.Expire(ctx, key, s.opts.Lifetime)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save client state: %w", err)
	}
	http.SetCookie(w, s.opts.cookie(tok))
	return nil
}

func (s *RedisStore) Clear(w http.ResponseWriter, r *http.Request) error {
	if tok := s.token(r); tok != "" {
		if err := s.redis.Del(r.Context(), s.prefix+tok).Err(); err != nil {
			return fmt.Errorf("clear client state: %w", err)
		}
	}
	http.SetCookie(w, s.opts.expired())
	return nil
}
