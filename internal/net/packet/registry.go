package packet

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// SessionState gates which opcodes a control session may send.
type SessionState int

const (
	StateHandshake     SessionState = iota // connected, awaiting AUTH
	StateAuthenticated                     // token accepted
	StateDisconnecting                     // closed after the pending replies flush
)

func (s SessionState) String() string {
	switch s {
	case StateHandshake:
		return "Handshake"
	case StateAuthenticated:
		return "Authenticated"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

var (
	ErrEmptyPacket    = errors.New("empty packet")
	ErrUnknownOpcode  = errors.New("unknown opcode")
	ErrStateForbidden = errors.New("opcode not allowed in this state")
)

// HandlerFunc handles one command. A returned error is reported back to the
// client by the caller of Dispatch.
type HandlerFunc[S any] func(sess S, r *Reader) error

type route[S any] struct {
	fn     HandlerFunc[S]
	states []SessionState
}

func (rt route[S]) allows(state SessionState) bool {
	for _, s := range rt.states {
		if s == state {
			return true
		}
	}
	return false
}

// Registry maps opcodes to handlers for sessions of type S.
type Registry[S any] struct {
	routes map[byte]route[S]
	log    *zap.Logger
}

func NewRegistry[S any](log *zap.Logger) *Registry[S] {
	return &Registry[S]{routes: make(map[byte]route[S]), log: log}
}

// Register maps an opcode to a handler accepted in the given states.
// Registering an opcode twice replaces the earlier handler.
func (reg *Registry[S]) Register(opcode byte, fn HandlerFunc[S], states ...SessionState) {
	reg.routes[opcode] = route[S]{fn: fn, states: states}
}

// Dispatch routes data (opcode in data[0]) to its handler after checking the
// session state. Handler panics are recovered and returned as errors.
func (reg *Registry[S]) Dispatch(sess S, state SessionState, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyPacket
	}
	opcode := data[0]
	reg.log.Debug("command received",
		zap.Uint8("opcode", opcode),
		zap.Int("size", len(data)),
		zap.Stringer("state", state),
	)

	rt, ok := reg.routes[opcode]
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownOpcode, opcode)
	}
	if !rt.allows(state) {
		return fmt.Errorf("opcode %d in state %s: %w", opcode, state, ErrStateForbidden)
	}
	return reg.call(rt.fn, sess, opcode, NewReader(data))
}

func (reg *Registry[S]) call(fn HandlerFunc[S], sess S, opcode byte, r *Reader) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.Uint8("opcode", opcode),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for opcode %d: %v", opcode, rec)
		}
	}()
	return fn(sess, r)
}
