package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	coresys "github.com/l1jgo/sched/internal/core/system"
	"github.com/l1jgo/sched/internal/handler"
)

func newCheckCmd(cfgPath *string) *cobra.Command {
	var (
		frames int
		dt     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load config, scripts and manifest, then print the schedule",
		Long: "check builds the full schedule without touching the database or opening the\n" +
			"control port. With --frames it also runs that many frames of dt each and\n" +
			"reports how often every system ran.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			a, err := build(context.Background(), cfg, zap.NewNop(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			for i := 0; i < frames; i++ {
				a.sched.Progress(dt)
			}
			printSchedule(out, a.sched)
			return nil
		},
	}
	cmd.Flags().IntVar(&frames, "frames", 0, "frames to simulate")
	cmd.Flags().DurationVar(&dt, "dt", 50*time.Millisecond, "frame delta for --frames")
	return cmd
}

func printSchedule(w io.Writer, s *coresys.Scheduler) {
	printSection(w, "schedule")
	printStat(w, "phases", s.Phases().Len())
	printStat(w, "systems", s.Len())
	printStat(w, "frames run", int(s.FramesRun()))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tSYSTEM\tGATING\tDETAIL\tENABLED\tRUNS")
	for _, sys := range s.Systems() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\n",
			s.Phases().Name(sys.Phase()),
			sys.Name(),
			sys.Gating(),
			gatingDetail(s, sys),
			sys.Enabled(),
			sys.Runs(),
		)
	}
	tw.Flush()
}

func gatingDetail(s *coresys.Scheduler, sys *coresys.System) string {
	switch sys.Gating() {
	case coresys.Interval:
		return sys.Interval().String()
	case coresys.Rate:
		src := "frame"
		if id := sys.TickSource(); !id.IsZero() {
			src = s.World().Name(id)
		}
		return fmt.Sprintf("every %d of %s", sys.Rate(), src)
	default:
		return "-"
	}
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash to use as control.token_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := handler.HashToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
}
