package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"simplechat/internal/apperr"
	"simplechat/internal/storage"
)

var emptyMetadata = json.RawMessage(`{}`)

type chatRequest struct {
	Message          string `json:"message"`
	PreferredService string `json:"preferred_service"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type settingRequest struct {
	Value string `json:"value"`
}

type messageView struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Content   string          `json:"content"`
	Timestamp string          `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata"`
}

type sessionView struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	MessageCount    int64   `json:"message_count"`
	LastMessageTime *string `json:"last_message_time"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (h *handler) health(c *gin.Context) {
	if h.db != nil {
		if err := h.db.Ping(c.Request.Context()); err != nil {
			h.logger.Error().Err(err).Msg("health check: database unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "message": "Database unavailable"})
			return
		}
	}
	h.ok(c, gin.H{"status": "healthy", "message": "Simple AI Chatbot is running!"})
}

func (h *handler) sendMessage(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Validation("No message provided"))
		return
	}

	before := h.loadClient(c)
	cc := before
	reply, err := h.chat.Send(c.Request.Context(), &cc, req.Message, req.PreferredService)
	if !h.storeClient(c, before, cc) {
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"response": reply.Response, "service": reply.Service})
}

func (h *handler) history(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}

	msgs, err := h.sessions.History(c.Request.Context(), h.loadClient(c), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		meta := m.Metadata
		if len(meta) == 0 {
			meta = emptyMetadata
		}
		out = append(out, messageView{
			ID:        m.ID,
			Type:      m.Type,
			Content:   m.Content,
			Timestamp: formatTime(m.Timestamp),
			Metadata:  meta,
		})
	}
	h.ok(c, gin.H{"history": out})
}

func (h *handler) listSessions(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context(), h.loadClient(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		v := sessionView{
			ID:           s.ID,
			Name:         s.Name,
			CreatedAt:    formatTime(s.CreatedAt),
			UpdatedAt:    formatTime(s.UpdatedAt),
			MessageCount: s.MessageCount,
		}
		if s.LastMessageTime != nil {
			ts := formatTime(*s.LastMessageTime)
			v.LastMessageTime = &ts
		}
		out = append(out, v)
	}
	h.ok(c, gin.H{"sessions": out})
}

func (h *handler) createSession(c *gin.Context) {
	var req nameRequest
	// the body is optional
	_ = c.ShouldBindJSON(&req)

	before := h.loadClient(c)
	cc := before
	sid, err := h.sessions.Create(c.Request.Context(), &cc, req.Name)
	if !h.storeClient(c, before, cc) {
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"session_id": sid, "message": "New session created"})
}

// sessionID treats malformed ids like ids the client does not own.
func sessionID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.ErrNotFound
	}
	return id, nil
}

func (h *handler) switchSession(c *gin.Context) {
	id, err := sessionID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	before := h.loadClient(c)
	cc := before
	if err := h.sessions.Switch(c.Request.Context(), &cc, id); err != nil {
		h.fail(c, err)
		return
	}
	if !h.storeClient(c, before, cc) {
		return
	}
	h.ok(c, gin.H{"message": "Session switched successfully"})
}

func (h *handler) deleteSession(c *gin.Context) {
	id, err := sessionID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	before := h.loadClient(c)
	cc := before
	_, err = h.sessions.Delete(c.Request.Context(), &cc, id)
	if !h.storeClient(c, before, cc) {
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"message": "Session deleted successfully"})
}

func (h *handler) renameSession(c *gin.Context) {
	var req nameRequest
	_ = c.ShouldBindJSON(&req)
	if strings.TrimSpace(req.Name) == "" {
		h.fail(c, apperr.Validation("Name is required"))
		return
	}
	id, err := sessionID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.sessions.Rename(c.Request.Context(), h.loadClient(c), id, req.Name); err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"message": "Session renamed successfully"})
}

func (h *handler) stats(c *gin.Context) {
	st, err := h.sessions.Stats(c.Request.Context(), h.loadClient(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{
		"users":         st.Users,
		"sessions":      st.Sessions,
		"messages":      st.Messages,
		"user_sessions": st.UserSessions,
		"user_messages": st.UserMessages,
	})
}

func (h *handler) clearSession(c *gin.Context) {
	cc := h.loadClient(c)
	h.sessions.Clear(&cc)
	if err := h.state.Clear(c.Writer, c.Request); err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"message": "Session cleared successfully"})
}

func (h *handler) currentSession(c *gin.Context) {
	cc := h.loadClient(c)
	if !cc.HasSession() {
		h.ok(c, gin.H{"session_id": nil, "user_id": nil})
		return
	}
	h.ok(c, gin.H{"session_id": cc.ActiveSessionID, "user_id": cc.UserID})
}

func (h *handler) getSetting(c *gin.Context) {
	key := c.Param("key")
	cc := h.loadClient(c)
	if !cc.HasUser() {
		h.ok(c, gin.H{"key": key, "value": nil})
		return
	}
	v, err := h.settings.GetUserSetting(c.Request.Context(), cc.UserID, key, "")
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"key": key, "value": v})
}

func (h *handler) putSetting(c *gin.Context) {
	var req settingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Validation("Value is required"))
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		h.fail(c, apperr.Validation("Key is required"))
		return
	}

	before := h.loadClient(c)
	cc := before
	if err := h.sessions.EnsureUser(c.Request.Context(), &cc); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.settings.SaveUserSetting(c.Request.Context(), cc.UserID, key, req.Value); err != nil {
		h.fail(c, err)
		return
	}
	if !h.storeClient(c, before, cc) {
		return
	}
	h.ok(c, gin.H{"message": "Setting saved successfully"})
}
