package handler

import (
	"errors"

	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/net"
	"github.com/l1jgo/sched/internal/net/packet"
)

// SessionSource hands newly accepted sessions to the game loop (*net.Server).
type SessionSource interface {
	NewSessions() <-chan *net.Session
}

// Pump drains control sessions and dispatches their commands. The game loop
// calls Drain between frames, which is what makes it legal for handlers to
// reconfigure the scheduler.
type Pump struct {
	source      SessionSource
	registry    *Registry
	store       *net.SessionStore
	maxPerFrame int
	log         *zap.Logger
}

func NewPump(source SessionSource, registry *Registry, store *net.SessionStore, maxPerFrame int, log *zap.Logger) *Pump {
	return &Pump{
		source:      source,
		registry:    registry,
		store:       store,
		maxPerFrame: maxPerFrame,
		log:         log,
	}
}

// Drain accepts new sessions, dispatches up to maxPerFrame packets per
// session, flushes replies and forgets closed sessions. Returns the number
// of packets dispatched.
func (p *Pump) Drain() int {
accept:
	for {
		select {
		case sess := <-p.source.NewSessions():
			p.store.Add(sess)
		default:
			break accept
		}
	}

	n := 0
	p.store.ForEach(func(sess *net.Session) {
		if sess.IsClosed() {
			p.store.Remove(sess.ID)
			return
		}
	drain:
		for i := 0; i < p.maxPerFrame && !sess.IsClosed(); i++ {
			select {
			case data := <-sess.InQueue:
				n++
				p.dispatch(sess, data)
			default:
				break drain
			}
		}
		sess.FlushOutput()
	})
	return n
}

func (p *Pump) dispatch(sess *net.Session, data []byte) {
	err := p.registry.Dispatch(sess, sess.State(), data)
	switch {
	case err == nil:
	case errors.Is(err, packet.ErrStateForbidden):
		sendError(sess, "not authenticated")
	default:
		p.log.Debug("control command failed",
			zap.Uint64("session", sess.ID),
			zap.Error(err),
		)
		sendError(sess, err.Error())
	}
	if sess.State() == packet.StateDisconnecting {
		sess.FlushOutput()
		sess.Close()
	}
}

// Close disconnects every session and waits for their I/O goroutines.
func (p *Pump) Close() {
	p.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
		sess.Close()
		sess.Wait()
		p.store.Remove(sess.ID)
	})
}
