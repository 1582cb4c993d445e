// Package session binds an anonymous client to a user and an active chat
// session, provisioning both lazily and checking ownership on every
// session-addressed operation.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"simplechat/internal/apperr"
	"simplechat/internal/metrics"
	"simplechat/internal/storage"
)

// ClientContext is the identity carried by one client between requests.
// Zero ids mean "not provisioned yet".
type ClientContext struct {
	UserID          int64
	ActiveSessionID int64
}

func (c ClientContext) HasUser() bool {
	return c.UserID > 0
}

func (c ClientContext) HasSession() bool {
	return c.UserID > 0 && c.ActiveSessionID > 0
}

// Store is the persistence the manager needs.
type Store interface {
	CreateUser(ctx context.Context, username, email string) (int64, error)
	CreateChatSession(ctx context.Context, userID int64, name string) (int64, error)
	GetChatHistory(ctx context.Context, sessionID int64, limit int) ([]storage.Message, error)
	GetUserSessions(ctx context.Context, userID int64) ([]storage.SessionSummary, error)
	UpdateSessionName(ctx context.Context, sessionID int64, name string) error
	DeleteSession(ctx context.Context, sessionID int64) error
	GetDatabaseStats(ctx context.Context) (storage.Stats, error)
}

var errNoUser = apperr.Validation("No user session")

type Config struct {
	Store   Store
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

type Manager struct {
	store   Store
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewManager(cfg Config) *Manager {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Manager{
		store:   cfg.Store,
		logger:  cfg.Logger.With().Str("component", "session").Logger(),
		metrics: m,
	}
}

// EnsureUser provisions an anonymous user when the client has none.
func (m *Manager) EnsureUser(ctx context.Context, cc *ClientContext) error {
	if cc.HasUser() {
		return nil
	}
	uid, err := m.store.CreateUser(ctx, "", "")
	if err != nil {
		return fmt.Errorf("provision user: %w", err)
	}
	cc.UserID = uid
	cc.ActiveSessionID = 0
	m.logger.Info().Int64("user_id", uid).Msg("provisioned anonymous user")
	return nil
}

// Ensure makes sure the client has a user and an active session. A user
// that disappeared from the store is replaced by a fresh one.
func (m *Manager) Ensure(ctx context.Context, cc *ClientContext) error {
	if cc.HasSession() {
		return nil
	}
	if err := m.EnsureUser(ctx, cc); err != nil {
		return err
	}

	sid, err := m.createSession(ctx, cc.UserID, "")
	if errors.Is(err, apperr.ErrReferential) {
		m.logger.Warn().Int64("user_id", cc.UserID).Msg("bound user no longer exists, provisioning a new one")
		cc.UserID = 0
		if err := m.EnsureUser(ctx, cc); err != nil {
			return err
		}
		sid, err = m.createSession(ctx, cc.UserID, "")
	}
	if err != nil {
		return err
	}
	cc.ActiveSessionID = sid
	return nil
}

// Rebind drops the active session pointer and provisions a new session.
func (m *Manager) Rebind(ctx context.Context, cc *ClientContext) error {
	cc.ActiveSessionID = 0
	return m.Ensure(ctx, cc)
}

func (m *Manager) createSession(ctx context.Context, userID int64, name string) (int64, error) {
	sid, err := m.store.CreateChatSession(ctx, userID, name)
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	m.metrics.SessionsCreated.Inc()
	return sid, nil
}

// Create adds a session for the client's user without switching to it.
func (m *Manager) Create(ctx context.Context, cc *ClientContext, name string) (int64, error) {
	if err := m.EnsureUser(ctx, cc); err != nil {
		return 0, err
	}
	sid, err := m.createSession(ctx, cc.UserID, strings.TrimSpace(name))
	if errors.Is(err, apperr.ErrReferential) {
		cc.UserID = 0
		if err := m.EnsureUser(ctx, cc); err != nil {
			return 0, err
		}
		sid, err = m.createSession(ctx, cc.UserID, strings.TrimSpace(name))
	}
	return sid, err
}

func (m *Manager) List(ctx context.Context, cc ClientContext) ([]storage.SessionSummary, error) {
	if !cc.HasUser() {
		return []storage.SessionSummary{}, nil
	}
	return m.store.GetUserSessions(ctx, cc.UserID)
}

func (m *Manager) History(ctx context.Context, cc ClientContext, limit int) ([]storage.Message, error) {
	if !cc.HasSession() {
		return []storage.Message{}, nil
	}
	return m.store.GetChatHistory(ctx, cc.ActiveSessionID, limit)
}

// owned returns the user's summary of sessionID or ErrAccessDenied, which
// covers both foreign and unknown ids.
func (m *Manager) owned(ctx context.Context, cc ClientContext, sessionID int64) (storage.SessionSummary, error) {
	if !cc.HasUser() {
		return storage.SessionSummary{}, errNoUser
	}
	sessions, err := m.store.GetUserSessions(ctx, cc.UserID)
	if err != nil {
		return storage.SessionSummary{}, fmt.Errorf("load user sessions: %w", err)
	}
	for _, s := range sessions {
		if s.ID == sessionID {
			return s, nil
		}
	}
	return storage.SessionSummary{}, fmt.Errorf("session %d: %w", sessionID, apperr.ErrAccessDenied)
}

// Switch points the client at another of its sessions. Only client state changes.
func (m *Manager) Switch(ctx context.Context, cc *ClientContext, sessionID int64) error {
	if _, err := m.owned(ctx, *cc, sessionID); err != nil {
		return err
	}
	cc.ActiveSessionID = sessionID
	return nil
}

// Delete removes one of the client's sessions. When it was the active one a
// replacement is created and bound, and replaced is true.
func (m *Manager) Delete(ctx context.Context, cc *ClientContext, sessionID int64) (replaced bool, err error) {
	if _, err := m.owned(ctx, *cc, sessionID); err != nil {
		return false, err
	}
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	m.logger.Info().Int64("user_id", cc.UserID).Int64("session_id", sessionID).Msg("session deleted")

	if cc.ActiveSessionID != sessionID {
		return false, nil
	}
	if err := m.Rebind(ctx, cc); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) Rename(ctx context.Context, cc ClientContext, sessionID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Validation("Name is required")
	}
	if _, err := m.owned(ctx, cc, sessionID); err != nil {
		return err
	}
	if err := m.store.UpdateSessionName(ctx, sessionID, name); err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	return nil
}

// Clear forgets the client's identity. Stored data is kept.
func (m *Manager) Clear(cc *ClientContext) {
	*cc = ClientContext{}
}

type Stats struct {
	storage.Stats
	UserSessions int64
	UserMessages int64
}

func (m *Manager) Stats(ctx context.Context, cc ClientContext) (Stats, error) {
	global, err := m.store.GetDatabaseStats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("database stats: %w", err)
	}
	out := Stats{Stats: global}
	if !cc.HasUser() {
		return out, nil
	}
	sessions, err := m.store.GetUserSessions(ctx, cc.UserID)
	if err != nil {
		return Stats{}, fmt.Errorf("user sessions: %w", err)
	}
	out.UserSessions = int64(len(sessions))
	for _, s := range sessions {
		out.UserMessages += s.MessageCount
	}
	return out, nil
}
