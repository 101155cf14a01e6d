package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-archive/internal/chatid"
	"telegram-archive/internal/config"
	"telegram-archive/internal/domain"
	"telegram-archive/internal/notify"
	"telegram-archive/internal/store/sqlite"
)

func newTestHandler(t *testing.T, viewerCfg config.ViewerConfig, displayIDs chatid.Set) (*Handler, *sqlite.Store) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sessions := NewSessionManager(viewerCfg)
	h := NewHandler(st, nil, nil, sessions, &notify.Fabric{Hub: notify.NewHub()}, viewerCfg, config.PushConfig{Mode: "off"}, displayIDs)
	return h, st
}

func doRequest(router *gin.Engine, method, path string, body any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthCheckReportsDisabledWhenNoCredentialsConfigured(t *testing.T) {
	h, _ := newTestHandler(t, config.ViewerConfig{}, nil)
	router := NewRouter(h, h.Cfg, true)

	rec := doRequest(router, http.MethodGet, "/api/auth/check", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["auth_required"])
	assert.Equal(t, true, resp["authenticated"])
}

func TestLoginRejectsBadCredentialsAndAcceptsGood(t *testing.T) {
	cfg := config.ViewerConfig{Username: "admin", Password: "secret"}
	h, _ := newTestHandler(t, cfg, nil)
	router := NewRouter(h, h.Cfg, true)

	bad := doRequest(router, http.MethodPost, "/api/login", loginRequest{Username: "admin", Password: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)

	good := doRequest(router, http.MethodPost, "/api/login", loginRequest{Username: "admin", Password: "secret"}, nil)
	require.Equal(t, http.StatusOK, good.Code)
	require.NotEmpty(t, good.Result().Cookies())

	chatsRec := doRequest(router, http.MethodGet, "/api/chats", nil, good.Result().Cookies())
	assert.Equal(t, http.StatusOK, chatsRec.Code)
}

func TestChatsRouteRejectsUnauthenticatedWhenAuthEnabled(t *testing.T) {
	cfg := config.ViewerConfig{Username: "admin", Password: "secret"}
	h, _ := newTestHandler(t, cfg, nil)
	router := NewRouter(h, h.Cfg, true)

	rec := doRequest(router, http.MethodGet, "/api/chats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListChatsFiltersByDisplayChatIDsWhitelist(t *testing.T) {
	cfg := config.ViewerConfig{Username: "admin", Password: "secret"}
	allowed := chatid.MarkChannel(111)
	excluded := chatid.MarkChannel(222)
	h, st := newTestHandler(t, cfg, chatid.NewSet([]int64{allowed}))
	router := NewRouter(h, h.Cfg, true)

	ctx := context.Background()
	require.NoError(t, st.UpsertChat(ctx, domain.Chat{ID: allowed, Type: domain.ChatTypeChannel, Title: "Allowed"}))
	require.NoError(t, st.UpsertChat(ctx, domain.Chat{ID: excluded, Type: domain.ChatTypeChannel, Title: "Excluded"}))

	login := doRequest(router, http.MethodPost, "/api/login", loginRequest{Username: "admin", Password: "secret"}, nil)
	require.Equal(t, http.StatusOK, login.Code)
	cookies := login.Result().Cookies()

	rec := doRequest(router, http.MethodGet, "/api/chats", nil, cookies)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Chats []domain.Chat `json:"chats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Chats, 1)
	assert.Equal(t, allowed, resp.Chats[0].ID)
}

func TestChatMessagesForbiddenOutsideWhitelist(t *testing.T) {
	cfg := config.ViewerConfig{Username: "admin", Password: "secret"}
	allowed := chatid.MarkChannel(111)
	other := chatid.MarkChannel(333)
	h, st := newTestHandler(t, cfg, chatid.NewSet([]int64{allowed}))
	router := NewRouter(h, h.Cfg, true)

	ctx := context.Background()
	require.NoError(t, st.UpsertChat(ctx, domain.Chat{ID: other, Type: domain.ChatTypeChannel}))

	login := doRequest(router, http.MethodPost, "/api/login", loginRequest{Username: "admin", Password: "secret"}, nil)
	cookies := login.Result().Cookies()

	rec := doRequest(router, http.MethodGet, "/api/chats/"+strconv.FormatInt(other, 10)+"/messages", nil, cookies)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInternalPushRejectsBadSignatureAndAcceptsGood(t *testing.T) {
	cfg := config.ViewerConfig{InternalPushSecret: "topsecret"}
	h, _ := newTestHandler(t, cfg, nil)
	router := NewInternalRouter(h)

	event := notify.Event{Type: notify.EventNewMessage, ChatID: 42}
	body, _ := json.Marshal(event)

	req := httptest.NewRequest(http.MethodPost, "/internal/push", bytes.NewReader(body))
	req.Header.Set(notify.SignatureHeader, "bogus")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/internal/push", bytes.NewReader(body))
	req2.Header.Set(notify.SignatureHeader, notify.Sign("topsecret", body))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}
