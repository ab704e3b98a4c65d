package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/config"
	"github.com/l1jgo/sched/internal/core/ecs"
	"github.com/l1jgo/sched/internal/core/event"
	coresys "github.com/l1jgo/sched/internal/core/system"
	"github.com/l1jgo/sched/internal/data"
	"github.com/l1jgo/sched/internal/metrics"
	"github.com/l1jgo/sched/internal/persist"
	"github.com/l1jgo/sched/internal/scripting"
	"github.com/l1jgo/sched/internal/system"
)

// app is everything a configured scheduler needs, wired in dependency order.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	sched     *coresys.Scheduler
	bus       *event.Bus
	lua       *scripting.Engine
	metrics   *metrics.Reporter
	runtime   *system.Runtime
	installed *data.Installed
	db        *persist.DB // nil unless database.enabled and useDB
	schema    int64       // migration version, 0 without a database
	restored  int
}

func build(ctx context.Context, cfg *config.Config, log *zap.Logger, useDB bool) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, bus: event.NewBus()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.metrics, err = metrics.New(cfg.Metrics, log); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	a.sched = coresys.NewScheduler(ecs.NewWorld(),
		coresys.WithLogger(log),
		coresys.WithObserver(coresys.Observers{system.NewFrameEmitter(a.bus), a.metrics}),
		coresys.WithTimeScale(cfg.Scheduler.TimeScale),
	)

	opts := system.Options{
		StatsInterval: cfg.Scheduler.StatsInterval,
		StatsRate:     cfg.Scheduler.StatsRate,
		FlushInterval: cfg.Database.FlushInterval,
		MaxPending:    4096,
	}
	var states *persist.StateRepo
	if cfg.Database.Enabled && useDB {
		if a.db, err = persist.Open(ctx, cfg.Database, log); err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		if a.schema, err = a.db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		states = persist.NewStateRepo(a.db, cfg.Server.ID)
		opts.Frames = persist.NewFrameRepo(a.db, cfg.Server.ID)
		opts.States = states
	}

	if a.runtime, err = system.Install(a.sched, a.bus, opts, log); err != nil {
		return nil, fmt.Errorf("runtime systems: %w", err)
	}

	if a.lua, err = scripting.NewEngine(cfg.Scheduler.ScriptsDir, log); err != nil {
		return nil, fmt.Errorf("scripting: %w", err)
	}
	m, err := data.LoadManifest(cfg.Scheduler.Manifest)
	if err != nil {
		return nil, err
	}
	if a.installed, err = data.Install(a.sched, m, a.lua); err != nil {
		return nil, fmt.Errorf("install manifest: %w", err)
	}

	if states != nil {
		saved, err := states.Load(ctx)
		if err != nil {
			return nil, err
		}
		a.restored = a.sched.Restore(saved)
	}
	return a, nil
}

func (a *app) Close() {
	if a.lua != nil {
		a.lua.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.metrics != nil {
		if err := a.metrics.Close(); err != nil {
			a.log.Warn("close metrics", zap.Error(err))
		}
	}
}
