package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/oklog/ulid/v2"

	"simplechat/internal/apperr"
)

var ErrNotFound = apperr.ErrNotFound

// fallbackUserID is returned by CreateUser when neither the insert nor the
// lookup by username resolves a row.
const fallbackUserID int64 = 1

// AnonymousUsername returns a unique placeholder username.
func AnonymousUsername() string {
	return "anon-" + strings.ToLower(ulid.Make().String())
}

// CreateUser inserts a user. A username that already exists resolves to the
// existing user's id instead of failing.
func (s *Store) CreateUser(ctx context.Context, username, email string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		username = AnonymousUsername()
	}
	now := time.Now().UTC()

	q := s.sql.Insert("users").
		Columns("username", "email", "created_at", "last_active").
		Values(username, nullString(email), now, now).
		Suffix("ON CONFLICT(username) DO NOTHING RETURNING id")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build create user query: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("create user: %w", err)
	}

	id, err = s.userIDByName(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return fallbackUserID, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) userIDByName(ctx context.Context, username string) (int64, error) {
	q := s.sql.Select("id").From("users").Where(sq.Eq{"username": username})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build user by name query: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("get user by name: %w", err)
	}
	return id, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (User, error) {
	q := s.sql.Select("id", "username", "email", "created_at", "last_active").
		From("users").
		Where(sq.Eq{"id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build get user query: %w", err)
	}

	var u User
	var username, email sql.NullString
	var created, lastActive dbTime
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&u.ID, &username, &email, &created, &lastActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	u.Username = stringPtr(username)
	u.Email = stringPtr(email)
	u.CreatedAt = created.Time
	u.LastActive = lastActive.Time
	return u, nil
}

// DeleteUser removes the user together with its settings, sessions and messages.
func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmts := []sq.Sqlizer{
			s.sql.Delete("messages").Where(sq.Expr("session_id IN (SELECT id FROM chat_sessions WHERE user_id = ?)", userID)),
			s.sql.Delete("chat_sessions").Where(sq.Eq{"user_id": userID}),
			s.sql.Delete("user_settings").Where(sq.Eq{"user_id": userID}),
		}
		for _, stmt := range stmts {
			if err := execTx(ctx, tx, stmt); err != nil {
				return fmt.Errorf("delete user: %w", err)
			}
		}

		sqlStr, args, err := s.sql.Delete("users").Where(sq.Eq{"id": userID}).ToSql()
		if err != nil {
			return fmt.Errorf("build delete user query: %w", err)
		}
		res, err := tx.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CreateChatSession fails with apperr.ErrReferential when userID is unknown.
func (s *Store) CreateChatSession(ctx context.Context, userID int64, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultSessionName
	}
	now := time.Now().UTC()

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := s.userExists(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("create chat session for user %d: %w", userID, apperr.ErrReferential)
		}

		q := s.sql.Insert("chat_sessions").
			Columns("user_id", "session_name", "created_at", "updated_at").
			Values(userID, name, now, now).
			Suffix("RETURNING id")
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build create chat session query: %w", err)
		}
		if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
			return fmt.Errorf("create chat session: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) userExists(ctx context.Context, tx *sql.Tx, userID int64) (bool, error) {
	sqlStr, args, err := s.sql.Select("1").From("users").Where(sq.Eq{"id": userID}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build user exists query: %w", err)
	}
	var one int
	if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return true, nil
}

// SaveMessage inserts a message and bumps the parent session's updated_at
// with the same timestamp in one transaction.
func (s *Store) SaveMessage(ctx context.Context, sessionID int64, msgType, content string, metadata json.RawMessage) (int64, error) {
	if msgType != MessageTypeUser && msgType != MessageTypeAI {
		return 0, apperr.Validation(fmt.Sprintf("invalid message type %q", msgType))
	}
	now := time.Now().UTC()

	var meta any
	if len(metadata) > 0 {
		meta = string(metadata)
	}

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sqlStr, args, err := s.sql.Update("chat_sessions").
			Set("updated_at", now).
			Where(sq.Eq{"id": sessionID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build touch session query: %w", err)
		}
		res, err := tx.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
		}

		sqlStr, args, err = s.sql.Insert("messages").
			Columns("session_id", "message_type", "content", `"timestamp"`, "metadata").
			Values(sessionID, msgType, content, now, meta).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return fmt.Errorf("build save message query: %w", err)
		}
		if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
			return fmt.Errorf("save message: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetChatHistory returns up to limit messages of a session, oldest first.
// Unknown sessions yield an empty slice.
func (s *Store) GetChatHistory(ctx context.Context, sessionID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	q := s.sql.Select("id", "session_id", "message_type", "content", `"timestamp"`, "metadata").
		From("messages").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy(`"timestamp" ASC`, "id ASC").
		Limit(uint64(limit))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build chat history query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("get chat history: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		var ts dbTime
		var meta sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Type, &m.Content, &ts, &meta); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = ts.Time
		if meta.Valid && meta.String != "" {
			m.Metadata = json.RawMessage(meta.String)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// GetUserSessions lists a user's sessions, most recently active first, with
// message counts aggregated from the messages table.
func (s *Store) GetUserSessions(ctx context.Context, userID int64) ([]SessionSummary, error) {
	q := s.sql.Select(
		"s.id",
		"s.session_name",
		"s.created_at",
		"s.updated_at",
		"COALESCE(m.message_count, 0)",
		"m.last_message_time",
	).
		From("chat_sessions s").
		LeftJoin(`(SELECT session_id, COUNT(*) AS message_count, MAX("timestamp") AS last_message_time FROM messages GROUP BY session_id) m ON m.session_id = s.id`).
		Where(sq.Eq{"s.user_id": userID}).
		OrderBy("s.updated_at DESC", "s.id DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user sessions query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("get user sessions: %w", err)
	}
	defer rows.Close()

	out := make([]SessionSummary, 0)
	for rows.Next() {
		var ss SessionSummary
		var created, updated, last dbTime
		if err := rows.Scan(&ss.ID, &ss.Name, &created, &updated, &ss.MessageCount, &last); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		ss.CreatedAt = created.Time
		ss.UpdatedAt = updated.Time
		ss.LastMessageTime = last.ptr()
		out = append(out, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user sessions: %w", err)
	}
	return out, nil
}

func (s *Store) GetChatSession(ctx context.Context, sessionID int64) (ChatSession, error) {
	q := s.sql.Select("id", "user_id", "session_name", "created_at", "updated_at").
		From("chat_sessions").
		Where(sq.Eq{"id": sessionID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return ChatSession{}, fmt.Errorf("build get chat session query: %w", err)
	}

	var cs ChatSession
	var created, updated dbTime
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&cs.ID, &cs.UserID, &cs.Name, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChatSession{}, ErrNotFound
		}
		return ChatSession{}, fmt.Errorf("get chat session: %w", err)
	}
	cs.CreatedAt = created.Time
	cs.UpdatedAt = updated.Time
	return cs, nil
}

func (s *Store) UpdateSessionName(ctx context.Context, sessionID int64, name string) error {
	sqlStr, args, err := s.sql.Update("chat_sessions").
		Set("session_name", name).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": sessionID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build rename session query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(ctx context.Context, sessionID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := execTx(ctx, tx, s.sql.Delete("messages").Where(sq.Eq{"session_id": sessionID})); err != nil {
			return fmt.Errorf("delete session messages: %w", err)
		}

		sqlStr, args, err := s.sql.Delete("chat_sessions").Where(sq.Eq{"id": sessionID}).ToSql()
		if err != nil {
			return fmt.Errorf("build delete session query: %w", err)
		}
		res, err := tx.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) SaveUserSetting(ctx context.Context, userID int64, key, value string) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := s.userExists(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("save setting for user %d: %w", userID, apperr.ErrReferential)
		}

		q := s.sql.Insert("user_settings").
			Columns("user_id", "setting_key", "setting_value", "updated_at").
			Values(userID, key, value, now).
			Suffix("ON CONFLICT(user_id, setting_key) DO UPDATE SET setting_value=excluded.setting_value, updated_at=excluded.updated_at")
		if err := execTx(ctx, tx, q); err != nil {
			return fmt.Errorf("save user setting: %w", err)
		}
		return nil
	})
}

// GetUserSetting returns def when the key has never been written.
func (s *Store) GetUserSetting(ctx context.Context, userID int64, key, def string) (string, error) {
	q := s.sql.Select("setting_value").
		From("user_settings").
		Where(sq.Eq{"user_id": userID, "setting_key": key})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build get user setting query: %w", err)
	}
	var value string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return def, nil
		}
		return "", fmt.Errorf("get user setting: %w", err)
	}
	return value, nil
}

func (s *Store) GetDatabaseStats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		table string
		dst   *int64
	}{
		{"users", &st.Users},
		{"chat_sessions", &st.Sessions},
		{"messages", &st.Messages},
	}
	for _, c := range counts {
		sqlStr, args, err := s.sql.Select("COUNT(*)").From(c.table).ToSql()
		if err != nil {
			return Stats{}, fmt.Errorf("build count %s query: %w", c.table, err)
		}
		if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return st, nil
}

func execTx(ctx context.Context, tx *sql.Tx, q sq.Sqlizer) error {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = tx.ExecContext(ctx, sqlStr, args...)
	return err
}

func nullString(v string) any {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
