package net

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/config"
)

// Server accepts TCP connections and creates Sessions.
// New sessions are handed to the game loop via a channel.
type Server struct {
	listener net.Listener
	nextID   atomic.Uint64
	newConns chan *Session
	opts     SessionOptions
	log      *zap.Logger
	closeCh  chan struct{}
	wg       sync.WaitGroup
}

func NewServer(cfg config.ControlConfig, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.BindAddress)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener: ln,
		newConns: make(chan *Session, 16),
		opts: SessionOptions{
			InQueueSize:       cfg.InQueueSize,
			OutQueueSize:      cfg.OutQueueSize,
			CommandsPerSecond: cfg.CommandsPerSecond,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		log:     log,
		closeCh: make(chan struct{}),
	}
	return s, nil
}

// Start runs the accept loop in its own goroutine.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
}

// Accept failures (e.g. EMFILE) back off from acceptBackoffMin, doubling up
// to acceptBackoffMax, until an accept succeeds.
const (
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// acceptLoop accepts connections, creates sessions and pushes them onto the
// newConns channel.
func (s *Server) acceptLoop() {
	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return // server shutting down
			default:
			}
			backoff = min(max(2*backoff, acceptBackoffMin), acceptBackoffMax)
			s.log.Error("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-s.closeCh:
				return
			}
			continue
		}
		backoff = 0

		id := s.nextID.Add(1)
		sess := NewSession(conn, id, s.opts, s.log)
		sess.Start()

		s.log.Info("control client connected", zap.Uint64("session", id), zap.String("ip", sess.IP))

		select {
		case s.newConns <- sess:
		default:
			s.log.Warn("session queue full, rejecting connection")
			sess.Close()
		}
	}
}

// NewSessions returns the channel of newly connected sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// Shutdown stops accepting new connections and waits for the accept loop.
// Sessions already handed out are closed by their owner.
func (s *Server) Shutdown() {
	close(s.closeCh)
	s.listener.Close()
	s.wg.Wait()
	for {
		select {
		case sess := <-s.newConns:
			sess.Close()
			sess.Wait()
		default:
			return
		}
	}
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
