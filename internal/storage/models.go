package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	MessageTypeUser = "user"
	MessageTypeAI   = "ai"

	DefaultSessionName  = "New Chat"
	DefaultHistoryLimit = 50
)

type User struct {
	ID         int64
	Username   *string
	Email      *string
	CreatedAt  time.Time
	LastActive time.Time
}

type ChatSession struct {
	ID        int64
	UserID    int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one chat turn. Metadata is stored as opaque JSON.
type Message struct {
	ID        int64
	SessionID int64
	Type      string
	Content   string
	Timestamp time.Time
	Metadata  json.RawMessage
}

type SessionSummary struct {
	ID              int64
	Name            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	MessageCount    int64
	LastMessageTime *time.Time
}

type Stats struct {
	Users    int64
	Sessions int64
	Messages int64
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// dbTime scans timestamps from either driver. sqlite hands aggregate
// results back as text, so strings are parsed as well.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("parse time %q", s)
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
