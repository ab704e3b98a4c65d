package system

import (
	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/core/ecs"
	coresys "github.com/l1jgo/sched/internal/core/system"
)

// CleanupSystem flushes the deferred entity destruction queue at frame end.
// Registered last in OnStore.
type CleanupSystem struct {
	world *ecs.World
	log   *zap.Logger
}

func NewCleanupSystem(world *ecs.World, log *zap.Logger) *CleanupSystem {
	return &CleanupSystem{world: world, log: log}
}

func (s *CleanupSystem) Update(_ *coresys.Iter) error {
	if n := s.world.FlushDestroyQueue(); n > 0 {
		s.log.Debug("destroyed entities", zap.Int("count", n))
	}
	return nil
}
