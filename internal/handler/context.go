package handler

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/core/event"
	coresys "github.com/l1jgo/sched/internal/core/system"
	"github.com/l1jgo/sched/internal/net"
	"github.com/l1jgo/sched/internal/net/packet"
)

// Registry routes control packets to handlers taking a *net.Session.
type Registry = packet.Registry[*net.Session]

// NewRegistry returns an empty control registry.
func NewRegistry(log *zap.Logger) *Registry {
	return packet.NewRegistry[*net.Session](log)
}

// Counter receives command counts (metrics.Reporter).
type Counter interface {
	Count(name string, value int64, tags ...string)
}

// Deps holds shared dependencies injected into all control handlers.
// Handlers run on the game loop between frames, so they may mutate the
// scheduler directly.
type Deps struct {
	Sched     *coresys.Scheduler
	Bus       *event.Bus
	TokenHash []byte // bcrypt
	Metrics   Counter
	Log       *zap.Logger
}

func (d *Deps) count(op string) {
	if d.Metrics != nil {
		d.Metrics.Count("control.command", 1, "op:"+op)
	}
}

// handlerFunc is the shape of every control handler in this package.
type handlerFunc func(sess *net.Session, r *packet.Reader, deps *Deps) error

// RegisterAll registers all control handlers into the registry.
func RegisterAll(reg *Registry, deps *Deps) {
	bind := func(op byte, fn handlerFunc, states ...packet.SessionState) {
		reg.Register(op, func(sess *net.Session, r *packet.Reader) error {
			return fn(sess, r, deps)
		}, states...)
	}

	bind(packet.C_OPCODE_AUTH, HandleAuth, packet.StateHandshake)

	for op, fn := range map[byte]handlerFunc{
		packet.C_OPCODE_LIST:         HandleList,
		packet.C_OPCODE_ENABLE:       HandleEnable,
		packet.C_OPCODE_DISABLE:      HandleDisable,
		packet.C_OPCODE_SET_INTERVAL: HandleSetInterval,
		packet.C_OPCODE_SET_RATE:     HandleSetRate,
		packet.C_OPCODE_RESET_TIMER:  HandleResetTimer,
		packet.C_OPCODE_STATS:        HandleStats,
	} {
		bind(op, fn, packet.StateAuthenticated)
	}

	bind(packet.C_OPCODE_QUIT, HandleQuit, packet.StateHandshake, packet.StateAuthenticated)
}

var ErrMalformed = errors.New("malformed command")

// malformed reports a short read of the command's fields.
func malformed(r *packet.Reader) error {
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

func sendOK(sess *net.Session, msg string) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_OK)
	w.WriteS(msg)
	sess.Send(w.Bytes())
}

func sendError(sess *net.Session, msg string) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_ERROR)
	w.WriteS(msg)
	sess.Send(w.Bytes())
}
