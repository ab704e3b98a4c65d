package system

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/core/event"
	coresys "github.com/l1jgo/sched/internal/core/system"
	"github.com/l1jgo/sched/internal/persist"
)

// FrameWriter stores frame summaries and system errors (persist.FrameRepo).
type FrameWriter interface {
	WriteBatch(ctx context.Context, frames []persist.FrameRecord, errs []persist.ErrorRecord) error
}

// StateSaver stores scheduler snapshots (persist.StateRepo).
type StateSaver interface {
	Save(ctx context.Context, states []coresys.SystemState) error
}

// PersistenceSystem buffers frame events and flushes them to the database
// when it runs. It is interval gated (database.flush_interval) in OnStore.
type PersistenceSystem struct {
	frames   FrameWriter
	states   StateSaver
	snapshot func() []coresys.SystemState
	log      *zap.Logger

	pendingFrames []persist.FrameRecord
	pendingErrors []persist.ErrorRecord
	maxPending    int
	dropped       int
	droppedErrors int
	timeout       time.Duration
}

func NewPersistenceSystem(bus *event.Bus, frames FrameWriter, states StateSaver, snapshot func() []coresys.SystemState, maxPending int, log *zap.Logger) *PersistenceSystem {
	s := &PersistenceSystem{
		frames:     frames,
		states:     states,
		snapshot:   snapshot,
		log:        log,
		maxPending: maxPending,
		timeout:    5 * time.Second,
	}
	event.Subscribe(bus, s.onFrame)
	event.Subscribe(bus, s.onFailure)
	return s
}

func (s *PersistenceSystem) onFrame(ev event.FrameCompleted) {
	s.pendingFrames = append(s.pendingFrames, persist.FrameRecord{
		Frame:      ev.Frame,
		WorldTime:  ev.WorldTime,
		DeltaTime:  ev.DeltaTime,
		SystemsRun: ev.SystemsRun,
		Failures:   ev.Failures,
		Took:       ev.Took,
	})
	// Database down: keep the newest frames only, and only the errors of
	// frames still kept.
	if over := len(s.pendingFrames) - s.maxPending; s.maxPending > 0 && over > 0 {
		s.pendingFrames = append(s.pendingFrames[:0], s.pendingFrames[over:]...)
		s.dropped += over
		oldest := s.pendingFrames[0].Frame
		n := len(s.pendingErrors)
		s.pendingErrors = slices.DeleteFunc(s.pendingErrors, func(e persist.ErrorRecord) bool {
			return e.Frame < oldest
		})
		s.droppedErrors += n - len(s.pendingErrors)
	}
}

func (s *PersistenceSystem) onFailure(ev event.SystemFailed) {
	s.pendingErrors = append(s.pendingErrors, persist.ErrorRecord{
		Frame:   ev.Frame,
		System:  ev.Name,
		Message: ev.Message,
	})
	if over := len(s.pendingErrors) - s.maxPending; s.maxPending > 0 && over > 0 {
		s.pendingErrors = append(s.pendingErrors[:0], s.pendingErrors[over:]...)
		s.droppedErrors += over
	}
}

func (s *PersistenceSystem) Update(_ *coresys.Iter) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.Flush(ctx)
}

// Flush writes everything buffered plus a fresh snapshot. Called by Update
// and once more on graceful shutdown. Buffers are kept when the write fails.
func (s *PersistenceSystem) Flush(ctx context.Context) error {
	if s.dropped > 0 || s.droppedErrors > 0 {
		s.log.Warn("frame log overflow, oldest records dropped",
			zap.Int("frames", s.dropped),
			zap.Int("errors", s.droppedErrors),
		)
		s.dropped, s.droppedErrors = 0, 0
	}
	if err := s.frames.WriteBatch(ctx, s.pendingFrames, s.pendingErrors); err != nil {
		return err
	}
	n := len(s.pendingFrames)
	s.pendingFrames = s.pendingFrames[:0]
	s.pendingErrors = s.pendingErrors[:0]

	if err := s.states.Save(ctx, s.snapshot()); err != nil {
		return err
	}
	s.log.Debug("persisted frames", zap.Int("frames", n))
	return nil
}

// Pending returns the number of buffered frame records.
func (s *PersistenceSystem) Pending() int { return len(s.pendingFrames) }

// PendingErrors returns the number of buffered system error records.
func (s *PersistenceSystem) PendingErrors() int { return len(s.pendingErrors) }
