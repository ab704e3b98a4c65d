package handler

import (
	"bytes"
	stdnet "net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/l1jgo/sched/internal/config"
	"github.com/l1jgo/sched/internal/core/ecs"
	"github.com/l1jgo/sched/internal/core/event"
	coresys "github.com/l1jgo/sched/internal/core/system"
	"github.com/l1jgo/sched/internal/net"
	"github.com/l1jgo/sched/internal/net/packet"
)

const testToken = "let-me-in"

type recordingCounter struct{ ops map[string]int64 }

func (c *recordingCounter) Count(_ string, v int64, tags ...string) {
	for _, t := range tags {
		c.ops[t] += v
	}
}

type fixture struct {
	sched   *coresys.Scheduler
	bus     *event.Bus
	pump    *Pump
	metrics *recordingCounter
	conn    stdnet.Conn
	frames  chan []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)

	hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	require.NoError(t, err)

	s := coresys.NewScheduler(ecs.NewWorld(), coresys.WithLogger(log))
	noop := func(*coresys.Iter) error { return nil }
	_, err = s.AddTimerSource("second", time.Second)
	require.NoError(t, err)
	_, err = s.Register(coresys.Desc{Name: "move", Callback: noop})
	require.NoError(t, err)
	_, err = s.Register(coresys.Desc{Name: "report", Interval: time.Second, Callback: noop})
	require.NoError(t, err)

	srv, err := net.NewServer(config.ControlConfig{
		BindAddress:  "127.0.0.1:0",
		InQueueSize:  8,
		OutQueueSize: 32,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}, log)
	require.NoError(t, err)
	srv.Start()

	f := &fixture{
		sched:   s,
		bus:     event.NewBus(),
		metrics: &recordingCounter{ops: make(map[string]int64)},
		frames:  make(chan []byte, 64),
	}
	reg := NewRegistry(log)
	RegisterAll(reg, &Deps{Sched: s, Bus: f.bus, TokenHash: hash, Metrics: f.metrics, Log: log})
	f.pump = NewPump(srv, reg, net.NewSessionStore(), 8, log)

	f.conn, err = stdnet.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(f.frames)
		for {
			p, err := net.ReadFrame(f.conn)
			if err != nil {
				return
			}
			f.frames <- p
		}
	}()

	t.Cleanup(func() {
		srv.Shutdown()
		f.pump.Close()
		f.conn.Close()
		<-done
	})
	return f
}

func (f *fixture) send(t *testing.T, op byte, fields ...any) {
	t.Helper()
	w := packet.NewWriterWithOpcode(op)
	for _, v := range fields {
		switch x := v.(type) {
		case string:
			w.WriteS(x)
		case int32:
			w.WriteD(x)
		default:
			t.Fatalf("unsupported field %T", v)
		}
	}
	require.NoError(t, net.WriteFrame(f.conn, w.Bytes()))
}

// next pumps the control plane until a reply frame arrives. It returns nil
// once the server has closed the connection.
func (f *fixture) next(t *testing.T) []byte {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		f.pump.Drain()
		select {
		case p, ok := <-f.frames:
			if !ok {
				return nil
			}
			return p
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatal("no reply from control server")
		}
	}
}

func (f *fixture) expect(t *testing.T, op byte, contains string) {
	t.Helper()
	p := f.next(t)
	require.NotNil(t, p, "connection closed")
	r := packet.NewReader(p)
	require.Equal(t, op, r.Opcode(), "reply %q", p)
	if contains != "" {
		assert.Contains(t, r.ReadS(), contains)
	}
}

func TestControlSession(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) }) // runs after the fixture cleanup
	f := newFixture(t)

	f.send(t, packet.C_OPCODE_LIST)
	f.expect(t, packet.S_OPCODE_ERROR, "not authenticated")

	f.send(t, packet.C_OPCODE_AUTH, "wrong")
	f.expect(t, packet.S_OPCODE_ERROR, "authentication failed")

	f.send(t, packet.C_OPCODE_AUTH, testToken)
	f.expect(t, packet.S_OPCODE_OK, "authenticated")

	f.send(t, packet.C_OPCODE_DISABLE, "Move")
	f.expect(t, packet.S_OPCODE_OK, "disabled move")
	move, _ := f.sched.Lookup("move")
	assert.False(t, move.Enabled())
	assert.Equal(t, 1, f.bus.Pending())

	f.send(t, packet.C_OPCODE_ENABLE, "nosuch")
	f.expect(t, packet.S_OPCODE_ERROR, "unknown system")

	f.send(t, packet.C_OPCODE_SET_INTERVAL, "report", int32(250))
	f.expect(t, packet.S_OPCODE_OK, "250ms")
	report, _ := f.sched.Lookup("report")
	assert.Equal(t, 250*time.Millisecond, report.Interval())

	f.send(t, packet.C_OPCODE_SET_RATE, "move", "second", int32(2))
	f.expect(t, packet.S_OPCODE_OK, "rate 2")
	assert.Equal(t, coresys.Rate, move.Gating())
	assert.Equal(t, 2, move.Rate())

	f.send(t, packet.C_OPCODE_SET_RATE, "move", "ghost", int32(2))
	f.expect(t, packet.S_OPCODE_ERROR, "unknown tick source")

	f.send(t, packet.C_OPCODE_SET_RATE, "move", "", int32(0))
	f.expect(t, packet.S_OPCODE_ERROR, "")

	f.send(t, packet.C_OPCODE_SET_INTERVAL, "report")
	f.expect(t, packet.S_OPCODE_ERROR, "malformed command")

	f.send(t, packet.C_OPCODE_RESET_TIMER, "report")
	f.expect(t, packet.S_OPCODE_OK, "timer reset")

	f.send(t, 77)
	f.expect(t, packet.S_OPCODE_ERROR, "unknown opcode")

	f.sched.Progress(100 * time.Millisecond)

	f.send(t, packet.C_OPCODE_LIST)
	var names []string
	for {
		p := f.next(t)
		require.NotNil(t, p)
		r := packet.NewReader(p)
		if r.Opcode() == packet.S_OPCODE_LIST_END {
			assert.Equal(t, int32(2), r.ReadD())
			break
		}
		require.Equal(t, packet.S_OPCODE_SYSTEM, r.Opcode())
		names = append(names, r.ReadS())
		assert.Equal(t, "on_update", r.ReadS())
	}
	assert.Equal(t, []string{"move", "report"}, names)

	f.send(t, packet.C_OPCODE_STATS)
	p := f.next(t)
	require.NotNil(t, p)
	r := packet.NewReader(p)
	require.Equal(t, packet.S_OPCODE_STATS, r.Opcode())
	assert.Equal(t, uint64(1), r.ReadQ(), "frames run")
	assert.Equal(t, uint64(100*time.Millisecond), r.ReadQ())
	assert.Equal(t, int32(2), r.ReadD())
	assert.Equal(t, int32(1), r.ReadD(), "move is disabled")

	f.send(t, packet.C_OPCODE_QUIT)
	f.expect(t, packet.S_OPCODE_OK, "bye")
	assert.Nil(t, f.next(t), "server closes after QUIT")

	assert.Equal(t, int64(2), f.metrics.ops["op:auth"])
	assert.Equal(t, int64(3), f.metrics.ops["op:set_rate"])
}

func TestAuthLockout(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) }) // runs after the fixture cleanup
	f := newFixture(t)

	for i := 0; i < MaxAuthFailures; i++ {
		f.send(t, packet.C_OPCODE_AUTH, "nope")
		f.expect(t, packet.S_OPCODE_ERROR, "authentication failed")
	}
	assert.Nil(t, f.next(t))
}

func TestHashToken(t *testing.T) {
	h, err := HashToken("secret")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix([]byte(h), []byte("$2")))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("secret")))
}
