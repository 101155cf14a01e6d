package viewer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"telegram-archive/internal/apperrors"
	"telegram-archive/internal/chatid"
	"telegram-archive/internal/config"
	"telegram-archive/internal/domain"
	"telegram-archive/internal/media"
	"telegram-archive/internal/notify"
	"telegram-archive/internal/store"
)

// Handler serves the read-only viewer API: chats, messages, stats, export,
// push subscriptions, and the realtime websocket, following the
// teacher's NewXHandler(service)/RegisterRoutes(router) shape.
type Handler struct {
	Store    store.Store
	Media    *media.Store
	Avatars  *AvatarCache
	Sessions *SessionManager
	Fabric   *notify.Fabric
	Cfg      config.ViewerConfig
	Push     config.PushConfig

	// DisplayChatIDs is the startup-normalized whitelist (internal/viewer's
	// NormalizeDisplayChatIDs) every successful login is scoped to. An
	// empty set means unrestricted.
	DisplayChatIDs chatid.Set

	upgrader websocket.Upgrader
}

// NewHandler builds the viewer's HTTP/WebSocket surface over its collaborators.
func NewHandler(st store.Store, mediaStore *media.Store, avatars *AvatarCache, sessions *SessionManager, fabric *notify.Fabric, cfg config.ViewerConfig, push config.PushConfig, displayChatIDs chatid.Set) *Handler {
	return &Handler{
		Store:          st,
		Media:          mediaStore,
		Avatars:        avatars,
		Sessions:       sessions,
		Fabric:         fabric,
		Cfg:            cfg,
		Push:           push,
		DisplayChatIDs: displayChatIDs,
		upgrader:       websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// RegisterRoutes wires every public-facing /api and /ws route onto router.
// /internal/push is deliberately not here: it is served from its own
// listener socket by RegisterInternalRoutes, bound to INTERNAL_PUSH_ADDR,
// so a deployment can keep it off the public network entirely rather than
// relying solely on the shared-secret check.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/auth/check", h.authCheck)
	router.POST("/api/login", h.login)
	router.POST("/api/logout", h.logout)

	api := router.Group("/api")
	api.Use(h.Sessions.RequireAuth())
	{
		api.GET("/chats", h.listChats)
		api.GET("/chats/:id/messages", h.chatMessages)
		api.GET("/chats/:id/messages/by-date", h.chatMessagesByDate)
		api.GET("/chats/:id/stats", h.chatStats)
		api.GET("/chats/:id/export", h.chatExport)
		api.GET("/stats", h.globalStats)
		api.POST("/stats/refresh", h.refreshStats)
		api.GET("/push/config", h.pushConfig)
		api.POST("/push/subscribe", h.pushSubscribe)
		api.POST("/push/unsubscribe", h.pushUnsubscribe)
	}

	router.GET("/ws/updates", h.wsUpdates)
}

// RegisterInternalRoutes wires the intra-process push webhook onto its own
// router, meant to be served from a separate listener bound to
// INTERNAL_PUSH_ADDR.
func (h *Handler) RegisterInternalRoutes(router *gin.Engine) {
	router.POST("/internal/push", h.internalPush)
}

func fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperrors.HTTPStatus(err), apperrors.NewResponse(err))
}

// --- auth ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) authCheck(c *gin.Context) {
	_, ok := h.Sessions.Check(c)
	c.JSON(http.StatusOK, gin.H{"authenticated": ok, "auth_required": h.Sessions.Enabled()})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed login body", err))
		return
	}

	if err := h.Sessions.Login(c, req.Username, req.Password, h.DisplayChatIDs); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) logout(c *gin.Context) {
	h.Sessions.Logout(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// --- chats ---

func (h *Handler) listChats(c *gin.Context) {
	ctx := c.Request.Context()
	q := store.ChatQuery{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
		Search: c.Query("search"),
	}

	page, err := h.Store.GetAllChats(ctx, q)
	if err != nil {
		fail(c, err)
		return
	}

	chats := make([]domain.Chat, 0, len(page.Chats))
	for _, chat := range page.Chats {
		if !allowedChat(c, chat.ID) {
			continue
		}
		chat.AvatarURL = h.avatarURL(ctx, chat)
		chats = append(chats, chat)
	}

	c.JSON(http.StatusOK, gin.H{
		"chats":    chats,
		"total":    page.Total,
		"limit":    q.Limit,
		"offset":   q.Offset,
		"has_more": q.Offset+len(page.Chats) < page.Total,
	})
}

func (h *Handler) avatarURL(ctx context.Context, chat domain.Chat) string {
	if h.Avatars == nil {
		return ""
	}
	entityID := chat.ID
	if unmarked := chatid.UnmarkChannel(chat.ID); unmarked != 0 {
		entityID = unmarked
	}
	return h.Avatars.URLFor(ctx, media.AvatarChat, entityID)
}

func (h *Handler) chatMessages(c *gin.Context) {
	chatID, err := chatIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	if !allowedChat(c, chatID) {
		fail(c, apperrors.ErrForbidden)
		return
	}

	q := store.MessageQuery{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
		Search: c.Query("search"),
	}
	if raw := c.Query("before_date"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			q.BeforeDate = &t
		}
	}
	if raw := c.Query("before_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			q.BeforeID = &id
		}
	}

	page, err := h.Store.GetMessagesPaginated(c.Request.Context(), chatID, q)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page.Messages)
}

func (h *Handler) chatMessagesByDate(c *gin.Context) {
	chatID, err := chatIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	if !allowedChat(c, chatID) {
		fail(c, apperrors.ErrForbidden)
		return
	}

	dateRaw := c.Query("date")
	tzName := c.DefaultQuery("timezone", h.Cfg.Timezone)
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", dateRaw, loc)
	if err != nil {
		fail(c, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed date, expected YYYY-MM-DD", err))
		return
	}

	msg, err := h.Store.FindMessageByDateWithJoins(c.Request.Context(), chatID, day)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) chatStats(c *gin.Context) {
	chatID, err := chatIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	if !allowedChat(c, chatID) {
		fail(c, apperrors.ErrForbidden)
		return
	}
	stats, err := h.Store.GetChatStats(c.Request.Context(), chatID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// chatExport streams the chat's full message history as NDJSON-within-array
// so the client can render a download without the server buffering the
// whole export in memory.
func (h *Handler) chatExport(c *gin.Context) {
	chatID, err := chatIDParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	if !allowedChat(c, chatID) {
		fail(c, apperrors.ErrForbidden)
		return
	}

	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=chat_%d_export.json", chatID))
	c.Status(http.StatusOK)

	w := bufio.NewWriter(c.Writer)
	defer w.Flush()

	w.WriteByte('[')
	first := true
	for msg, err := range h.Store.GetMessagesForExport(c.Request.Context(), chatID) {
		if err != nil {
			break
		}
		if !first {
			w.WriteByte(',')
		}
		first = false
		if err := writeMessageJSON(w, msg); err != nil {
			break
		}
	}
	w.WriteByte(']')
}

// --- global stats ---

func (h *Handler) globalStats(c *gin.Context) {
	stats, ok, err := h.Store.GetCachedStats(c.Request.Context(), 5*time.Minute)
	if err != nil {
		fail(c, err)
		return
	}
	if !ok {
		fail(c, apperrors.Wrap(apperrors.ErrNotFound, "stats not yet calculated, call /api/stats/refresh", nil))
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) refreshStats(c *gin.Context) {
	ctx := c.Request.Context()
	chats, err := h.Store.GetAllChats(ctx, store.ChatQuery{Limit: 1})
	if err != nil {
		fail(c, err)
		return
	}

	stats := store.Stats{ChatCount: int64(chats.Total), CalculatedAt: time.Now().UTC()}
	if err := h.Store.SetCachedStats(ctx, stats); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// --- push subscriptions ---

func (h *Handler) pushConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"mode":        h.Push.Mode,
		"vapid_public": h.Push.VAPIDPublic,
		"enabled":     h.Push.Mode != "off",
	})
}

type pushSubscribeRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dh    string `json:"p256dh"`
	Auth      string `json:"auth"`
	ChatID    *int64 `json:"chat_id"`
	UserAgent string `json:"user_agent"`
}

func (h *Handler) pushSubscribe(c *gin.Context) {
	var req pushSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed push subscription", err))
		return
	}
	sub := domain.PushSubscription{
		Endpoint:   req.Endpoint,
		P256dh:     req.P256dh,
		Auth:       req.Auth,
		ChatID:     req.ChatID,
		UserAgent:  req.UserAgent,
		CreatedAt:  time.Now().UTC(),
		LastUsedAt: time.Now().UTC(),
	}
	if err := h.Store.UpsertPushSubscription(c.Request.Context(), sub); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) pushUnsubscribe(c *gin.Context) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed unsubscribe body", err))
		return
	}
	if err := h.Store.DeletePushSubscription(c.Request.Context(), req.Endpoint); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// --- websocket ---

func (h *Handler) wsUpdates(c *gin.Context) {
	if h.Fabric == nil || h.Fabric.Hub == nil {
		fail(c, apperrors.Wrap(apperrors.ErrConfiguration, "realtime hub not configured", nil))
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	h.Fabric.Hub.Serve(c.Request.Context(), conn)
}

// --- internal push ---

// internalPush receives the webhook the embedded-store dialect's archive
// process POSTs to, relaying the event to the hub. Ignores callers outside
// the loopback interface when no internal secret is configured, so an
// operator who forgets to set one at least doesn't open this to the public
// internet by default in anything but a dev deployment.
func (h *Handler) internalPush(c *gin.Context) {
	if !isLoopback(c.ClientIP()) && h.Cfg.InternalPushSecret == "" {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, apperrors.Wrap(apperrors.ErrInvalidInput, "unreadable push body", err))
		return
	}

	if h.Cfg.InternalPushSecret != "" {
		sig := c.GetHeader(notify.SignatureHeader)
		if !notify.VerifySignature(h.Cfg.InternalPushSecret, body, sig) {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
	}

	var event notify.Event
	if err := json.Unmarshal(body, &event); err != nil {
		fail(c, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed event payload", err))
		return
	}
	if h.Fabric != nil && h.Fabric.Hub != nil {
		_ = h.Fabric.Hub.Publish(c.Request.Context(), event)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func isLoopback(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1" || ip == "localhost"
}

// --- helpers ---

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func chatIDParam(c *gin.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed chat id", err)
	}
	return id, nil
}

func writeMessageJSON(w *bufio.Writer, msg domain.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

