package handler

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/core/ecs"
	"github.com/l1jgo/sched/internal/core/event"
	coresys "github.com/l1jgo/sched/internal/core/system"
	"github.com/l1jgo/sched/internal/net"
	"github.com/l1jgo/sched/internal/net/packet"
)

var (
	ErrUnknownSystem = errors.New("unknown system")
	ErrUnknownSource = errors.New("unknown tick source")
)

// HandleList replies with one S_SYSTEM row per system in execution order,
// then S_LIST_END with the row count.
//
// Row: [name\0][phase\0][C gating][C enabled][D interval ms][D rate][source\0][Q runs][Q failures]
func HandleList(sess *net.Session, _ *packet.Reader, deps *Deps) error {
	deps.count("list")
	s := deps.Sched
	systems := s.Systems()
	for _, sys := range systems {
		w := packet.NewWriterWithOpcode(packet.S_OPCODE_SYSTEM)
		w.WriteS(sys.Name())
		w.WriteS(s.Phases().Name(sys.Phase()))
		w.WriteC(byte(sys.Gating()))
		w.WriteBool(sys.Enabled())
		w.WriteMillis(sys.Interval())
		w.WriteD(int32(sys.Rate()))
		w.WriteS(sourceName(s, sys.TickSource()))
		w.WriteQ(sys.Runs())
		w.WriteQ(sys.Failures())
		sess.Send(w.Bytes())
	}
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_LIST_END)
	w.WriteD(int32(len(systems)))
	sess.Send(w.Bytes())
	return nil
}

// HandleEnable processes ENABLE. Format: [opcode][name\0]
func HandleEnable(sess *net.Session, r *packet.Reader, deps *Deps) error {
	return setEnabled(sess, r, true, deps)
}

// HandleDisable processes DISABLE. Format: [opcode][name\0]
func HandleDisable(sess *net.Session, r *packet.Reader, deps *Deps) error {
	return setEnabled(sess, r, false, deps)
}

func setEnabled(sess *net.Session, r *packet.Reader, enable bool, deps *Deps) error {
	op := "disable"
	if enable {
		op = "enable"
	}
	deps.count(op)
	sys, err := lookup(r, deps)
	if err != nil {
		return err
	}
	if enable {
		err = deps.Sched.Enable(sys.ID())
	} else {
		err = deps.Sched.Disable(sys.ID())
	}
	if err != nil {
		return err
	}
	event.Emit(deps.Bus, event.SystemToggled{Name: sys.Name(), Enabled: enable, By: sess.ID})
	audit(sess, op, sys.Name())
	sendOK(sess, fmt.Sprintf("%sd %s", op, sys.Name()))
	return nil
}

// HandleSetInterval processes SET_INTERVAL. Format: [opcode][name\0][D ms]
// An interval of 0 makes the system run every frame.
func HandleSetInterval(sess *net.Session, r *packet.Reader, deps *Deps) error {
	deps.count("set_interval")
	name := r.ReadS()
	d := r.ReadMillis()
	if err := malformed(r); err != nil {
		return err
	}
	sys, err := find(name, deps)
	if err != nil {
		return err
	}
	if err := deps.Sched.SetInterval(sys.ID(), d); err != nil {
		return err
	}
	audit(sess, "set_interval", sys.Name(), zap.Duration("interval", d))
	sendOK(sess, fmt.Sprintf("%s interval %s", sys.Name(), d))
	return nil
}

// HandleSetRate processes SET_RATE. Format: [opcode][name\0][source\0][D rate]
// An empty source means the frame clock.
func HandleSetRate(sess *net.Session, r *packet.Reader, deps *Deps) error {
	deps.count("set_rate")
	name := r.ReadS()
	srcName := r.ReadS()
	rate := int(r.ReadD())
	if err := malformed(r); err != nil {
		return err
	}
	sys, err := find(name, deps)
	if err != nil {
		return err
	}
	var src ecs.EntityID
	if srcName != "" {
		var ok bool
		if src, ok = deps.Sched.Source(srcName); !ok {
			return fmt.Errorf("%w %q", ErrUnknownSource, srcName)
		}
	}
	if err := deps.Sched.SetRate(sys.ID(), src, rate); err != nil {
		return err
	}
	audit(sess, "set_rate", sys.Name(), zap.String("source", srcName), zap.Int("rate", rate))
	sendOK(sess, fmt.Sprintf("%s rate %d", sys.Name(), rate))
	return nil
}

// HandleResetTimer processes RESET_TIMER. Format: [opcode][name\0]
func HandleResetTimer(sess *net.Session, r *packet.Reader, deps *Deps) error {
	deps.count("reset_timer")
	sys, err := lookup(r, deps)
	if err != nil {
		return err
	}
	if err := deps.Sched.ResetTimer(sys.ID()); err != nil {
		return err
	}
	audit(sess, "reset_timer", sys.Name())
	sendOK(sess, fmt.Sprintf("%s timer reset", sys.Name()))
	return nil
}

// HandleStats replies with S_STATS:
// [Q frames run][Q world time ns][D systems][D enabled][Q runs][Q failures][D time scale ‰]
func HandleStats(sess *net.Session, _ *packet.Reader, deps *Deps) error {
	deps.count("stats")
	s := deps.Sched
	var enabled int
	var runs, failures uint64
	for _, sys := range s.Systems() {
		if sys.Enabled() {
			enabled++
		}
		runs += sys.Runs()
		failures += sys.Failures()
	}
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_STATS)
	w.WriteQ(s.FramesRun())
	w.WriteQ(uint64(s.WorldTime()))
	w.WriteD(int32(s.Len()))
	w.WriteD(int32(enabled))
	w.WriteQ(runs)
	w.WriteQ(failures)
	w.WriteD(int32(s.TimeScale() * 1000))
	sess.Send(w.Bytes())
	return nil
}

// HandleQuit says goodbye; the pump closes the session once it is flushed.
func HandleQuit(sess *net.Session, _ *packet.Reader, deps *Deps) error {
	deps.count("quit")
	sendOK(sess, "bye")
	sess.SetState(packet.StateDisconnecting)
	return nil
}

// lookup reads a system name field and resolves it.
func lookup(r *packet.Reader, deps *Deps) (*coresys.System, error) {
	name := r.ReadS()
	if err := malformed(r); err != nil {
		return nil, err
	}
	return find(name, deps)
}

func find(name string, deps *Deps) (*coresys.System, error) {
	sys, ok := deps.Sched.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSystem, name)
	}
	return sys, nil
}

func sourceName(s *coresys.Scheduler, id ecs.EntityID) string {
	if id.IsZero() {
		return ""
	}
	return s.World().Name(id)
}

func audit(sess *net.Session, op, system string, fields ...zap.Field) {
	sess.Log().Info("control command applied",
		append([]zap.Field{zap.String("op", op), zap.String("system", system)}, fields...)...,
	)
}
