package net

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/net/packet"
)

// Session represents a single control connection. Network I/O runs in
// dedicated goroutines; scheduler state is touched only from the game loop.
type Session struct {
	ID   uint64
	conn net.Conn

	state atomic.Int32 // packet.SessionState stored as int32

	InQueue  chan []byte // game loop reads packets from here
	OutQueue chan []byte // writer goroutine reads from here

	IP string

	AuthFailures int // game loop only

	outBuf [][]byte // buffered packets, flushed by the pump (game loop only)

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	done      sync.WaitGroup

	readTimeout  time.Duration
	writeTimeout time.Duration

	limit commandWindow // readLoop only

	log *zap.Logger
}

// SessionOptions bounds a session's queues, rate and deadlines.
type SessionOptions struct {
	InQueueSize       int
	OutQueueSize      int
	CommandsPerSecond int // 0 means unlimited
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

func NewSession(conn net.Conn, id uint64, opts SessionOptions, log *zap.Logger) *Session {
	s := &Session{
		ID:           id,
		conn:         conn,
		InQueue:      make(chan []byte, opts.InQueueSize),
		OutQueue:     make(chan []byte, opts.OutQueueSize),
		IP:           conn.RemoteAddr().String(),
		closeCh:      make(chan struct{}),
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		limit:        commandWindow{max: opts.CommandsPerSecond},
		log:          log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(packet.StateHandshake))
	return s
}

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

func (s *Session) SetState(st packet.SessionState) {
	s.state.Store(int32(st))
}

func (s *Session) Log() *zap.Logger { return s.log }

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	s.done.Add(2)
	go s.readLoop()
	go s.writeLoop()
}

// Send buffers a packet for sending. The packet is not written to TCP until
// FlushOutput is called. Game loop only, no lock needed on outBuf.
func (s *Session) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	s.outBuf = append(s.outBuf, data)
}

// FlushOutput drains the output buffer to OutQueue for the writeLoop goroutine.
// Non-blocking: if OutQueue is full, the session is disconnected (backpressure).
func (s *Session) FlushOutput() {
	for _, data := range s.outBuf {
		select {
		case s.OutQueue <- data:
		default:
			s.log.Warn("output queue full, dropping slow connection")
			s.Close()
			s.outBuf = s.outBuf[:0]
			return
		}
	}
	s.outBuf = s.outBuf[:0]
}

// Close shuts down the session. Packets already in OutQueue are still
// written by writeLoop before it exits.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(packet.StateDisconnecting)
		close(s.closeCh) // writeLoop drains, then closes conn and unblocks readLoop
	})
}

// Wait blocks until both I/O goroutines have exited.
func (s *Session) Wait() {
	s.done.Wait()
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop runs in its own goroutine. It reads frames from the TCP connection
// and pushes them onto InQueue for the game loop to consume.
func (s *Session) readLoop() {
	defer s.done.Done()
	defer s.Close()

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		if s.readTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		payload, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}

		if n, ok := s.limit.allow(time.Now()); !ok {
			s.log.Warn("command rate exceeded, disconnecting", zap.Int("per_second", n))
			return
		}

		// Block until InQueue has space or session closes; commands are
		// never dropped.
		select {
		case s.InQueue <- payload:
		case <-s.closeCh:
			return
		}
	}
}

// writeLoop runs in its own goroutine. It reads packets from OutQueue and
// writes them as framed data to the TCP connection.
func (s *Session) writeLoop() {
	defer s.done.Done()
	defer s.conn.Close()

	for {
		select {
		case data := <-s.OutQueue:
			if !s.writeOnePacket(data) {
				s.Close()
				return
			}
		case <-s.closeCh:
			// Drain what the game loop already queued, e.g. a final error reply.
			for {
				select {
				case data := <-s.OutQueue:
					if !s.writeOnePacket(data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// writeOnePacket writes a single packet to the socket. Returns true on success.
func (s *Session) writeOnePacket(data []byte) bool {
	if len(data) > 0 {
		s.log.Debug("TX",
			zap.String("op", fmt.Sprintf("0x%02X(%d)", data[0], data[0])),
			zap.Int("len", len(data)),
		)
	}

	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := WriteFrame(s.conn, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("write error", zap.Error(err))
		}
		return false
	}
	return true
}

// commandWindow counts commands per wall-clock second.
type commandWindow struct {
	max   int
	count int
	sec   int64
}

// allow records one command at now and reports the count in the current
// second and whether it is within max.
func (w *commandWindow) allow(now time.Time) (int, bool) {
	if w.max <= 0 {
		return 0, true
	}
	if sec := now.Unix(); sec != w.sec {
		w.sec, w.count = sec, 0
	}
	w.count++
	return w.count, w.count <= w.max
}
