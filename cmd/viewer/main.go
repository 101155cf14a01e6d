package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"telegram-archive/internal/chatid"
	"telegram-archive/internal/config"
	"telegram-archive/internal/logging"
	"telegram-archive/internal/media"
	"telegram-archive/internal/notify"
	"telegram-archive/internal/store"
	"telegram-archive/internal/storeopen"
	"telegram-archive/internal/viewer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.Init("viewer", false)
		logging.Fatal().Err(err).Msg("config load")
	}
	logging.Init("viewer", cfg.Debug)

	st, err := storeopen.Open(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("store open")
	}
	defer st.Close()

	mediaStore, err := media.New(cfg.Media.MediaRoot(), cfg.Media.DeduplicateMedia, cfg.Media.MaxMediaSizeBytes())
	if err != nil {
		logging.Fatal().Err(err).Msg("media store init")
	}

	hub := notify.NewHub()
	go hub.Run(ctx)

	fabric := &notify.Fabric{Hub: hub}
	if cfg.Push.Mode != "off" {
		fabric.Push = notify.NewPushBridge(st, cfg.Push.VAPIDPublic, cfg.Push.VAPIDPrivate, cfg.Push.VAPIDContact)
	}

	if pubsub, ok := st.(store.PubSubCapable); ok {
		startPostgresBridge(ctx, pubsub, hub)
	}

	rawDisplayIDs := chatid.ParseList(cfg.Admission.DisplayChatIDsRaw)
	normalized := viewer.NormalizeDisplayChatIDs(ctx, st, rawDisplayIDs)

	sessions := viewer.NewSessionManager(cfg.Viewer)
	avatars := viewer.NewAvatarCache(cfg.Redis, mediaStore)
	handler := viewer.NewHandler(st, mediaStore, avatars, sessions, fabric, cfg.Viewer, cfg.Push, chatid.NewSet(normalized))

	publicSrv := &http.Server{Addr: cfg.Viewer.Addr, Handler: viewer.NewRouter(handler, cfg.Viewer, cfg.Debug)}
	internalSrv := &http.Server{Addr: cfg.Viewer.InternalPushAddr, Handler: viewer.NewInternalRouter(handler)}

	go func() {
		logging.Info().Str("addr", cfg.Viewer.Addr).Msg("viewer: public API listening")
		if err := publicSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("viewer: public server failed")
		}
	}()
	go func() {
		logging.Info().Str("addr", cfg.Viewer.InternalPushAddr).Msg("viewer: internal push listening")
		if err := internalSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("viewer: internal server failed")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("viewer: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := publicSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("viewer: public server shutdown error")
	}
	if err := internalSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("viewer: internal server shutdown error")
	}
	logging.Info().Msg("viewer: exited")
}

// startPostgresBridge relays events from the client/server store's native
// LISTEN/NOTIFY channel to the websocket hub, for deployments that run
// archivebot and viewer as separate processes sharing a postgres store.
func startPostgresBridge(ctx context.Context, pubsub store.PubSubCapable, hub *notify.Hub) {
	events, stop, err := notify.Subscribe(ctx, pubsub)
	if err != nil {
		logging.Warn().Err(err).Msg("viewer: postgres LISTEN subscribe failed, realtime updates degraded")
		return
	}
	go func() {
		<-ctx.Done()
		_ = stop()
	}()
	go func() {
		for event := range events {
			_ = hub.Publish(ctx, event)
		}
	}()
}
