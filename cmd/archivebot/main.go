package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/robfig/cron/v3"

	"telegram-archive/internal/backup"
	"telegram-archive/internal/chatid"
	"telegram-archive/internal/config"
	"telegram-archive/internal/listener"
	"telegram-archive/internal/logging"
	"telegram-archive/internal/media"
	"telegram-archive/internal/notify"
	"telegram-archive/internal/store"
	"telegram-archive/internal/storeopen"
	"telegram-archive/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.Init("archivebot", false)
		logging.Fatal().Err(err).Msg("config load")
	}
	logging.Init("archivebot", cfg.Debug)

	st, err := storeopen.Open(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("store open")
	}
	defer st.Close()

	mediaStore, err := media.New(cfg.Media.MediaRoot(), cfg.Media.DeduplicateMedia, cfg.Media.MaxMediaSizeBytes())
	if err != nil {
		logging.Fatal().Err(err).Msg("media store init")
	}

	fabric := buildFabric(cfg, st)

	admission := backup.NewAdmission(cfg.Admission)
	client := telegram.NewGotdClient(cfg.Telegram)

	var listenerClient telegram.Client = client
	var backupClient telegram.Client = client
	if cfg.Listener.Enabled {
		listenerClient = telegram.NewSharedClient(client, false)
		backupClient = telegram.NewSharedClient(client, true)
	}

	engine := &backup.Engine{
		Client:    backupClient,
		Store:     st,
		Media:     mediaStore,
		Fabric:    fabric,
		Admission: admission,
		Cfg:       cfg.Backup,
	}

	includes := admission.AllIncludes()
	displayIDs := chatid.ParseList(cfg.Admission.DisplayChatIDsRaw)
	for _, id := range displayIDs {
		includes[id] = struct{}{}
	}

	burst := listener.NewBurstProtector(cfg.Burst.Threshold, cfg.Burst.Window())
	lst := listener.New(listenerClient, st, mediaStore, fabric, burst, cfg.Listener, includes)

	// SkipIfStillRunning enforces the single-instance policy: a run that
	// overruns its scheduled period causes the next tick to be skipped
	// rather than overlapping with it. running also guards the startup run
	// below, which fires outside cron's own tick and so isn't covered by
	// the chain by itself.
	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	var running atomic.Bool
	guardedRun := func() {
		if !running.CompareAndSwap(false, true) {
			logging.Warn().Msg("backup: run already in progress, skipping")
			return
		}
		defer running.Store(false)
		runBackup(ctx, engine)
	}
	if _, err := sched.AddFunc(cfg.Backup.Schedule, guardedRun); err != nil {
		logging.Fatal().Err(err).Str("schedule", cfg.Backup.Schedule).Msg("invalid SCHEDULE cron expression")
	}

	ready := func(ctx context.Context) error {
		if cfg.Listener.Enabled {
			if err := lst.Start(ctx); err != nil {
				return err
			}
			logging.Info().Msg("archivebot: listener started")
		}

		sched.Start()
		go func() {
			<-ctx.Done()
			sched.Stop()
		}()

		go guardedRun()
		return nil
	}

	if err := client.Run(ctx, ready); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("telegram session terminated")
	}
	logging.Info().Msg("archivebot: shut down")
}

func runBackup(ctx context.Context, engine *backup.Engine) {
	logging.Info().Msg("backup: run starting")
	if err := engine.Run(ctx); err != nil {
		logging.Error().Err(err).Msg("backup: run failed")
		return
	}
	logging.Info().Msg("backup: run complete")
}

// buildFabric wires the notification fabric's transport to the store's
// pub/sub capability: database LISTEN/NOTIFY for postgres, an HTTP webhook
// to the viewer process for the embedded sqlite store.
func buildFabric(cfg *config.Config, st store.Store) *notify.Fabric {
	var publisher notify.Publisher
	if pubsub, ok := st.(store.PubSubCapable); ok {
		publisher = notify.NewPostgresPublisher(pubsub)
	} else {
		publisher = notify.NewWebhookPublisher("http://localhost"+cfg.Viewer.InternalPushAddr+"/internal/push", cfg.Viewer.InternalPushSecret)
	}

	fabric := &notify.Fabric{Publisher: publisher}
	if cfg.Push.Mode != "off" {
		fabric.Push = notify.NewPushBridge(st, cfg.Push.VAPIDPublic, cfg.Push.VAPIDPrivate, cfg.Push.VAPIDContact)
	}
	return fabric
}
