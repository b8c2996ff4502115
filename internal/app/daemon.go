package app

import (
	"context"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"towncrier/internal/engine"
	"towncrier/internal/eventbus"
	"towncrier/internal/platform"
	"towncrier/pkg/logx"
)

// RunDaemon watches the config file and periodically retries failed
// publications until the context is cancelled. Under systemd it reports
// readiness and shutdown.
func (a *App) RunDaemon(ctx context.Context) error {
	log := a.Log.With(logx.String("component", "daemon"))

	// Surface the engine's lifecycle events in the daemon log.
	events, unsubscribe := a.Bus.Subscribe(64)
	defer unsubscribe()
	go func() {
		for e := range events {
			pe, _ := e.Data.(eventbus.PublishEvent)
			switch e.Type {
			case eventbus.TypePublishSucceeded:
				log.Info("publication succeeded",
					logx.String("tool", pe.ToolID),
					logx.String("platform", pe.Platform),
					logx.String("post_id", pe.PostID))
			case eventbus.TypePublishFailed:
				log.Warn("publication failed",
					logx.String("tool", pe.ToolID),
					logx.String("platform", pe.Platform),
					logx.String("error", pe.Err))
			case eventbus.TypePublishSkipped:
				log.Debug("publication skipped",
					logx.String("tool", pe.ToolID),
					logx.String("platform", pe.Platform))
			case eventbus.TypeRetryScheduled:
				log.Info("retry scheduled",
					logx.String("tool", pe.ToolID),
					logx.String("platform", pe.Platform),
					logx.Int("attempt", pe.Attempts))
			}
		}
	}()

	// Config hot reload: swap logging sinks and rebuild the adapter set.
	sub := a.Manager.Subscribe(1)
	defer a.Manager.Unsubscribe(sub)
	go func() {
		for cfg := range sub {
			if cfg == nil {
				continue
			}
			a.LogSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
			})
			reg, err := buildRegistry(cfg, platform.Deps{
				Log:            a.Log,
				Bus:            a.Bus,
				DefaultRetries: cfg.DefaultRetries,
			})
			if err != nil {
				log.Error("reload rejected, keeping previous adapters", logx.Err(err))
				continue
			}
			var ads []platform.Adapter
			for _, name := range reg.Names() {
				if ad, ok := reg.Get(name); ok {
					ads = append(ads, ad)
				}
			}
			a.Registry.Replace(ads...)
			a.Engine.Reconfigure(cfg.DefaultRetries, cfg.Concurrency)
			a.Bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded})
			log.Info("adapters rebuilt from new config")
		}
	}()

	watchErr := make(chan error, 1)
	go func() { watchErr <- a.Manager.Watch(ctx) }()

	var sweeper *cron.Cron
	if cfg := a.Manager.Get(); cfg != nil && cfg.Daemon != nil && cfg.Daemon.RetrySchedule != "" {
		sweeper = cron.New()
		if _, err := sweeper.AddFunc(cfg.Daemon.RetrySchedule, func() { a.retrySweep(ctx) }); err != nil {
			return err
		}
		sweeper.Start()
		defer sweeper.Stop()
		log.Info("retry sweep scheduled", logx.String("schedule", cfg.Daemon.RetrySchedule))
	}

	_, _ = sd.SdNotify(false, sd.SdNotifyReady)
	log.Info("daemon running")

	select {
	case <-ctx.Done():
	case err := <-watchErr:
		if err != nil {
			_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
			return err
		}
	}
	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
	log.Info("daemon stopping")
	return nil
}

// retrySweep walks the ledger and re-dispatches failed publications that
// still have retry budget, grouped by tool.
func (a *App) retrySweep(ctx context.Context) {
	log := a.Log.With(logx.String("component", "daemon"))

	tools := map[string]bool{}
	for _, p := range a.Ledger.Failed() {
		if a.Ledger.ShouldRetry(p.ID) {
			tools[p.ToolID] = true
		}
	}
	if len(tools) == 0 {
		return
	}

	for toolID := range tools {
		res, err := a.Engine.RetryFailed(ctx, toolID, engine.Options{})
		if err != nil {
			log.Warn("retry sweep failed for tool", logx.String("tool", toolID), logx.Err(err))
			continue
		}
		log.Info("retry sweep finished",
			logx.String("tool", toolID),
			logx.Int("successful", res.Summary.Successful),
			logx.Int("failed", res.Summary.Failed))
	}
}
