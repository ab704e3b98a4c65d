package scripting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l1jgo/sched/internal/core/ecs"
	"github.com/l1jgo/sched/internal/core/system"
)

// APIVersion is exposed to scripts as the API_VERSION global.
const APIVersion = 1

var ErrNotFunction = errors.New("lua global is not a function")

// Engine wraps a single gopher-lua VM whose global functions can be bound as
// system callbacks. Single-goroutine access only (game loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// New creates an engine with no scripts loaded.
func New(log *zap.Logger) *Engine {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(APIVersion))
	e := &Engine{vm: vm, log: log}
	e.registerAPI()
	return e
}

// NewEngine creates an engine and loads every .lua file under scriptsDir.
// A missing directory is not an error.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	e := New(log)
	if err := e.loadDir(scriptsDir); err != nil {
		e.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory, then its subdirectories, in
// name order.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	var subdirs []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			subdirs = append(subdirs, path)
			continue
		}
		if filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	for _, sub := range subdirs {
		if err := e.loadDir(sub); err != nil {
			return err
		}
	}
	return nil
}

// Load runs a chunk of Lua source, typically to define functions.
func (e *Engine) Load(name, src string) error {
	fn, err := e.vm.LoadString(src)
	if err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}
	e.vm.Push(fn)
	if err := e.vm.PCall(0, lua.MultRet, nil); err != nil {
		return fmt.Errorf("run %s: %w", name, err)
	}
	return nil
}

// Has reports whether fnName names a global Lua function.
func (e *Engine) Has(fnName string) bool {
	_, ok := e.vm.GetGlobal(fnName).(*lua.LFunction)
	return ok
}

// Callback binds the global Lua function fnName as a system callback.
//
// The function receives one table: name, system, frame, dt,
// delta_system_time, world_time (seconds), self, ctx and matches (an array of
// entity strings). Returning a string or false fails the run; returning
// nothing or true succeeds.
func (e *Engine) Callback(fnName string) (system.Callback, error) {
	fn, ok := e.vm.GetGlobal(fnName).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%s: %w", fnName, ErrNotFunction)
	}
	return func(it *system.Iter) error {
		return e.call(fnName, fn, it)
	}, nil
}

func (e *Engine) call(fnName string, fn *lua.LFunction, it *system.Iter) error {
	top := e.vm.GetTop()
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, e.iterTable(it)); err != nil {
		e.vm.SetTop(top)
		return fmt.Errorf("lua %s: %w", fnName, err)
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)

	switch v := result.(type) {
	case lua.LString:
		return fmt.Errorf("lua %s: %s", fnName, string(v))
	case lua.LBool:
		if !bool(v) {
			return fmt.Errorf("lua %s: returned false", fnName)
		}
	}
	return nil
}

func (e *Engine) iterTable(it *system.Iter) *lua.LTable {
	t := e.vm.NewTable()
	t.RawSetString("name", lua.LString(it.Name))
	t.RawSetString("system", lua.LString(it.System.String()))
	t.RawSetString("frame", lua.LNumber(it.Frame))
	t.RawSetString("dt", lua.LNumber(it.DeltaTime.Seconds()))
	t.RawSetString("delta_system_time", lua.LNumber(it.DeltaSystemTime.Seconds()))
	t.RawSetString("world_time", lua.LNumber(it.WorldTime.Seconds()))
	if !it.Self.IsZero() {
		t.RawSetString("self", lua.LString(it.Self.String()))
	}
	if it.Ctx != nil {
		t.RawSetString("ctx", e.toLua(it.Ctx))
	}

	matches := e.vm.NewTable()
	it.Matches.Each(func(id ecs.EntityID) bool {
		matches.Append(lua.LString(id.String()))
		return true
	})
	t.RawSetString("matches", matches)
	return t
}

// toLua converts manifest-style values (yaml decoded) into Lua values.
func (e *Engine) toLua(v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case string:
		return lua.LString(x)
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case uint64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case []any:
		t := e.vm.NewTable()
		for _, item := range x {
			t.Append(e.toLua(item))
		}
		return t
	case map[string]any:
		t := e.vm.NewTable()
		for k, item := range x {
			t.RawSetString(k, e.toLua(item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// registerAPI exposes a small "sched" table to scripts.
func (e *Engine) registerAPI() {
	api := e.vm.NewTable()
	e.vm.SetFuncs(api, map[string]lua.LGFunction{
		"debug": e.logFn(zap.DebugLevel),
		"info":  e.logFn(zap.InfoLevel),
		"warn":  e.logFn(zap.WarnLevel),
	})
	e.vm.SetGlobal("sched", api)
}

func (e *Engine) logFn(level zapcore.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		if ce := e.log.Check(level, msg); ce != nil {
			ce.Write(zap.String("source", "lua"))
		}
		return 0
	}
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
