package luabind

import (
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// Pseudo-indices accepted by every operation that takes a stack index.
const (
	RegistryIndex = lua.RegistryIndex
	GlobalsIndex  = lua.GlobalsIndex
	EnvironIndex  = lua.EnvironIndex
)

// MultRet asks [State.Call] to keep every result the function returns.
const MultRet = lua.MultRet

// registry key under which the core is reachable from fixed entry points
const coreKey = "luabind.core"

// State wraps one Lua interpreter.
//
// Create a state with [New] and always call [State.Close] when done.
// A State is not safe for concurrent use: callers on different goroutines
// must bracket their sequences with [State.Lock] and [State.Unlock].
//
//	s := luabind.New()
//	defer s.Close()
//	if err := s.LoadString("return 2 + 2"); err != nil {
//	    log.Fatal(err)
//	}
//	if err := s.Call(0, 1, 0); err != nil {
//	    log.Fatal(err)
//	}
//	n := s.ToInteger(-1) // 4
//
// Operations come in three tiers:
//
//   - Tier A never fails. These are direct queries and mutations of the
//     value stack (GetTop, Type, PushNil, ToNumber, ...).
//   - Tier B fails only when memory is exhausted, in which case the outcome
//     is unspecified (CreateTable, PushString, Ref, ...).
//   - Tier C may fail on any script-level error, including errors raised by
//     metamethods. These run behind a protected call and report failures as
//     Go errors from the taxonomy in errors.go (Call, GetField, LoadString, ...).
//
// Tier C operations pop their operands and push their results only on
// success. On failure the operands are gone and nothing is pushed.
type State struct {
	l    *lua.LState
	core *core
}

// core is shared between a state and the views handed to functions running
// on coroutine threads.
type core struct {
	mu     sync.Mutex
	main   *lua.LState
	closed atomic.Bool
	logger *slog.Logger
	limit  int

	reaper *reaper
	blocks map[any]*block

	destructors map[*lua.LFunction]func(any) error
	entries     map[reflect.Type]*lua.LFunction
	helpers     map[string]*lua.LFunction
}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

type options struct {
	logger        *slog.Logger
	skipStdlib    bool
	registryLimit int
}

// Option configures a [State] created by [New].
type Option func(*options)

// WithLogger sets the logger used for diagnostics that cannot be returned to
// a caller, such as failures inside userdata destructors.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithoutStdlib creates the state without opening the standard libraries.
func WithoutStdlib() Option {
	return func(o *options) {
		o.skipStdlib = true
	}
}

// WithRegistryLimit lets the value stack grow up to n slots.
// [State.CheckStack] reports [ErrStackOverflow] past this limit.
func WithRegistryLimit(n int) Option {
	return func(o *options) {
		o.registryLimit = n
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// New creates a Lua state with the standard libraries opened.
func New(opts ...Option) *State {
	o := options{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}

	lopts := lua.Options{
		SkipOpenLibs:    o.skipStdlib,
		RegistryMaxSize: o.registryLimit,
	}
	L := lua.NewState(lopts)

	limit := lua.RegistrySize
	if o.registryLimit > limit {
		limit = o.registryLimit
	}

	c := &core{
		main:        L,
		logger:      o.logger,
		limit:       limit,
		reaper:      &reaper{},
		blocks:      make(map[any]*block),
		destructors: make(map[*lua.LFunction]func(any) error),
		entries:     make(map[reflect.Type]*lua.LFunction),
		helpers:     make(map[string]*lua.LFunction),
	}

	ud := L.NewUserData()
	ud.Value = c
	registryOf(L).RawSetString(coreKey, ud)

	return &State{l: L, core: c}
}

// Close runs the destructor of every live userdata and releases the
// interpreter. Errors created by this state stay usable as Go errors but can
// no longer be pushed. Calling Close more than once is a no-op.
func (s *State) Close() {
	c := s.core
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.reaper.take()
	for _, b := range c.blocks {
		c.finalize(b, nil)
	}
	c.blocks = nil
	c.main.Close()
	c.logger.Debug("lua state closed")
}

// Closed reports whether [State.Close] has been called.
func (s *State) Closed() bool {
	return s.core.closed.Load()
}

// Lock acquires the state for a multi-step sequence.
func (s *State) Lock() { s.core.mu.Lock() }

// Unlock releases the state.
func (s *State) Unlock() { s.core.mu.Unlock() }

// TryLock tries to acquire the state without blocking.
func (s *State) TryLock() bool { return s.core.mu.TryLock() }

// stateFor returns a State for the thread a Go function was invoked on.
func (c *core) stateFor(L *lua.LState) *State {
	return &State{l: L, core: c}
}

// coreOf finds the core from a bare interpreter thread.
func coreOf(L *lua.LState) *core {
	ud, ok := registryOf(L).RawGetString(coreKey).(*lua.LUserData)
	if !ok {
		return nil
	}
	c, _ := ud.Value.(*core)
	return c
}

func registryOf(L *lua.LState) *lua.LTable {
	return L.Get(lua.RegistryIndex).(*lua.LTable)
}

// helper returns a compiled Lua chunk used to run an operator in protected
// mode, so that metamethods see exactly the semantics of the language.
func (c *core) helper(name, src string) *lua.LFunction {
	if fn, ok := c.helpers[name]; ok {
		return fn
	}
	fn, err := c.main.Load(strings.NewReader(src), "=luabind."+name)
	if err != nil {
		panic("luabind: compiling helper " + name + ": " + err.Error())
	}
	c.helpers[name] = fn
	return fn
}

// -----------------------------------------------------------------------------
// Deferred collection
// -----------------------------------------------------------------------------

// reaper collects work discovered by runtime cleanups, which run on their own
// goroutine. The work is done later by the goroutine driving the state.
type reaper struct {
	mu     sync.Mutex
	refs   []int
	blocks []*block
}

func (r *reaper) unref(key int) {
	r.mu.Lock()
	r.refs = append(r.refs, key)
	r.mu.Unlock()
}

func (r *reaper) collect(b *block) {
	r.mu.Lock()
	r.blocks = append(r.blocks, b)
	r.mu.Unlock()
}

func (r *reaper) take() (refs []int, blocks []*block) {
	r.mu.Lock()
	refs, blocks = r.refs, r.blocks
	r.refs, r.blocks = nil, nil
	r.mu.Unlock()
	return refs, blocks
}

// collect performs one collection step: registry slots of dropped errors are
// released and unreachable userdata are finalized.
func (c *core) collect() int {
	if c.closed.Load() {
		return 0
	}
	refs, blocks := c.reaper.take()
	reg := registryOf(c.main)
	for _, key := range refs {
		unref(reg, key)
	}
	for _, b := range blocks {
		c.finalize(b, nil)
	}
	return len(refs) + len(blocks)
}
