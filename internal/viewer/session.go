package viewer

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"telegram-archive/internal/apperrors"
	"telegram-archive/internal/chatid"
	"telegram-archive/internal/config"
)

const (
	sessionCookieName = "archive_session"
	sessionTTL        = 7 * 24 * time.Hour
)

type sessionRecord struct {
	expiresAt       time.Time
	displayChatIDs  chatid.Set // nil means unrestricted
}

// SessionManager issues and validates the cookie the viewer's auth
// collaborator contract describes: a valid session token, or auth globally
// disabled when no username/password is configured.
type SessionManager struct {
	cfg config.ViewerConfig

	mu       sync.Mutex
	sessions map[string]sessionRecord
}

func NewSessionManager(cfg config.ViewerConfig) *SessionManager {
	return &SessionManager{cfg: cfg, sessions: make(map[string]sessionRecord)}
}

// Enabled reports whether the viewer requires a session at all.
func (m *SessionManager) Enabled() bool {
	return m.cfg.Username != "" || m.cfg.Password != ""
}

// Login validates credentials and, on success, issues a token and sets the
// session cookie. display_chat_ids comes from the configured whitelist; an
// empty list means the session sees every chat.
func (m *SessionManager) Login(c *gin.Context, username, password string, displayChatIDs chatid.Set) error {
	if username != m.cfg.Username || password != m.cfg.Password {
		return apperrors.Wrap(apperrors.ErrUnauthorized, "invalid credentials", nil)
	}

	token := uuid.NewString()
	m.mu.Lock()
	m.sessions[token] = sessionRecord{expiresAt: time.Now().Add(sessionTTL), displayChatIDs: displayChatIDs}
	m.mu.Unlock()

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, token, int(sessionTTL.Seconds()), "/", "", false, true)
	return nil
}

// Logout invalidates the session named by the request's cookie, if any.
func (m *SessionManager) Logout(c *gin.Context) {
	token, err := c.Cookie(sessionCookieName)
	if err == nil {
		m.mu.Lock()
		delete(m.sessions, token)
		m.mu.Unlock()
	}
	c.SetCookie(sessionCookieName, "", -1, "/", "", false, true)
}

// Check reports whether the request carries a live session, and if so its
// display_chat_ids restriction.
func (m *SessionManager) Check(c *gin.Context) (sessionRecord, bool) {
	if !m.Enabled() {
		return sessionRecord{}, true
	}
	token, err := c.Cookie(sessionCookieName)
	if err != nil {
		return sessionRecord{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[token]
	if !ok || time.Now().After(rec.expiresAt) {
		delete(m.sessions, token)
		return sessionRecord{}, false
	}
	return rec, true
}

const displayChatIDsContextKey = "display_chat_ids"

// RequireAuth rejects requests without a live session when auth is enabled,
// and stashes the session's display_chat_ids restriction for handlers.
func (m *SessionManager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := m.Check(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.NewResponse(apperrors.ErrUnauthorized))
			return
		}
		c.Set(displayChatIDsContextKey, rec.displayChatIDs)
		c.Next()
	}
}

// allowedChat reports whether c's session may see chatID, consulting the
// per-session display_chat_ids whitelist stashed by RequireAuth. A nil or
// empty whitelist means every chat is visible.
func allowedChat(c *gin.Context, chatID int64) bool {
	raw, ok := c.Get(displayChatIDsContextKey)
	if !ok {
		return true
	}
	set, ok := raw.(chatid.Set)
	if !ok || len(set) == 0 {
		return true
	}
	return set.Contains(chatID)
}
