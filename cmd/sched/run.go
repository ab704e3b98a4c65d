package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/handler"
	gonet "github.com/l1jgo/sched/internal/net"
)

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler loop until SIGINT/SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoop(*cfgPath)
		},
	}
}

func runLoop(cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	out := os.Stdout
	printBanner(out, cfg.Server.Name, cfg.Server.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a, err := build(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer a.Close()

	printSection(out, "schedule")
	printStat(out, "phases", a.sched.Phases().Len())
	printStat(out, "systems", a.sched.Len())
	printStat(out, "tick sources", len(a.installed.Sources)+1)
	if a.db != nil {
		printOK(out, fmt.Sprintf("PostgreSQL connected, schema version %d", a.schema))
		printStat(out, "restored systems", a.restored)
	}
	fmt.Fprintln(out)

	// Control plane: commands are applied between frames.
	var (
		ctrl *gonet.Server
		pump *handler.Pump
	)
	if cfg.Control.Enabled {
		if ctrl, err = gonet.NewServer(cfg.Control, log); err != nil {
			return fmt.Errorf("control server: %w", err)
		}
		reg := handler.NewRegistry(log)
		handler.RegisterAll(reg, &handler.Deps{
			Sched:     a.sched,
			Bus:       a.bus,
			TokenHash: []byte(cfg.Control.TokenHash),
			Metrics:   a.metrics,
			Log:       log,
		})
		pump = handler.NewPump(ctrl, reg, gonet.NewSessionStore(), cfg.Control.MaxPerFrame, log)
		ctrl.Start()
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdownCh)

	ticker := time.NewTicker(cfg.Scheduler.TickRate)
	defer ticker.Stop()

	printSection(out, "ready")
	if ctrl != nil {
		printReady(out, fmt.Sprintf("control listening on %s", ctrl.Addr()))
	}
	printReady(out, fmt.Sprintf("loop started (tick: %s, time scale: %g)", cfg.Scheduler.TickRate, cfg.Scheduler.TimeScale))
	fmt.Fprintln(out)

	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			if pump != nil {
				pump.Drain()
			}
			dt := now.Sub(last)
			last = now
			res := a.sched.Progress(dt)
			if res.Failed() {
				logFrameErrors(log, res.Frame, res.Err(), cfg.Scheduler.MaxFrameErrorsLogged)
			}
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			if ctrl != nil {
				ctrl.Shutdown()
				pump.Close()
			}
			if p := a.runtime.Persistence; p != nil {
				flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := p.Flush(flushCtx); err != nil {
					log.Error("final flush failed", zap.Error(err))
				}
				cancel()
			}
			log.Info("scheduler stopped", zap.Uint64("frames", a.sched.FramesRun()))
			return nil
		}
	}
}

// logFrameErrors writes one summary line per failing frame, capped at max
// errors so a broken system cannot flood the log.
func logFrameErrors(log *zap.Logger, frame uint64, err error, max int) {
	errs := multierr.Errors(err)
	total := len(errs)
	if max > 0 && len(errs) > max {
		errs = errs[:max]
	}
	log.Warn("frame finished with failures",
		zap.Uint64("frame", frame),
		zap.Int("failures", total),
		zap.Errors("errors", errs),
	)
}
