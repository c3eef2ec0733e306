package luabind

import (
	"fmt"
	"reflect"
	"runtime"

	lua "github.com/yuin/gopher-lua"
)

// Destroyer is implemented by userdata types that hold resources.
// Destroy is called at most once per value, when the userdata is collected or
// the state is closed. Its error and any panic are logged and discarded.
type Destroyer interface {
	Destroy() error
}

// block tracks one managed userdata value until it is finalized.
type block struct {
	value any
	mt    *lua.LTable
	done  bool
}

// cell keeps value pointers distinct for zero-size types.
type cell[T any] struct {
	v T
	_ byte
}

// NewUserdata allocates a T owned by the interpreter, initializes it with
// init and pushes it as a userdata. It returns the pointer that scripts and
// [State.ToUserdata] see.
//
// If init returns an error or panics, the stack is left as it was and the
// value is never finalized. Give the userdata a metatable whose __gc field is
// pushed by [PushDestructor] to have Destroy called:
//
//	p, err := luabind.NewUserdata(s, func(f *File) error {
//	    return f.open(path)
//	})
//	if err != nil {
//	    return err
//	}
//	s.NewMetatable("File")
//	luabind.PushDestructor[File](s)
//	s.RawSetField(-2, "__gc")
//	s.SetMetatable(-2)
func NewUserdata[T any](s *State, init func(*T) error) (*T, error) {
	sentry := s.Sentry(0)
	defer sentry.Restore()

	p := &new(cell[T]).v
	ud := s.l.NewUserData()
	ud.Value = p
	s.l.Push(ud)

	if init != nil {
		if err := init(p); err != nil {
			return nil, err
		}
	}

	b := &block{value: p}
	s.core.blocks[p] = b
	runtime.AddCleanup(ud, s.core.reaper.collect, b)
	sentry.Inc()
	return p, nil
}

// CheckUserdata returns argument arg as a *T if it is a userdata with the
// metatable registered under tname.
func CheckUserdata[T any](s *State, arg int, tname string) (*T, error) {
	v, err := s.CheckUdata(arg, tname)
	if err != nil {
		return nil, err
	}
	p, ok := v.(*T)
	if !ok {
		return nil, argError(arg, "%s expected, got %T", tname, v)
	}
	return p, nil
}

// PushDestructor pushes the finalizer for userdata of type T. Store it as the
// __gc field of the metatable of such userdata. It is a plain function, not a
// closure, and the same function value is pushed for every call with the same
// T.
func PushDestructor[T any, PT interface {
	*T
	Destroyer
}](s *State) {
	c := s.core
	key := reflect.TypeFor[T]()
	fn, ok := c.entries[key]
	if !ok {
		fn = s.l.NewFunction(destroyEntry[T, PT])
		c.entries[key] = fn
		c.destructors[fn] = destroyFunc[T, PT]
	}
	s.l.Push(fn)
}

func destroyFunc[T any, PT interface {
	*T
	Destroyer
}](v any) error {
	p, ok := v.(*T)
	if !ok {
		return fmt.Errorf("destructor for %s called on %T", reflect.TypeFor[T](), v)
	}
	return PT(p).Destroy()
}

// destroyEntry lets scripts call a finalizer directly. It runs the destructor
// unless the value was already finalized.
func destroyEntry[T any, PT interface {
	*T
	Destroyer
}](L *lua.LState) int {
	c := coreOf(L)
	ud, ok := L.Get(1).(*lua.LUserData)
	if c == nil || !ok {
		return 0
	}
	key, ok := blockKey(ud.Value)
	if !ok {
		return 0
	}
	if b, ok := c.blocks[key]; ok {
		c.finalize(b, destroyFunc[T, PT])
	}
	return 0
}

// bind records the metatable of a managed userdata.
func (c *core) bind(ud *lua.LUserData, mt lua.LValue) {
	key, ok := blockKey(ud.Value)
	if !ok {
		return
	}
	b, ok := c.blocks[key]
	if !ok {
		return
	}
	b.mt, _ = mt.(*lua.LTable)
}

// finalize runs the destructor of b once. destroy overrides the one selected
// by the block's metatable.
func (c *core) finalize(b *block, destroy func(any) error) {
	if b.done {
		return
	}
	b.done = true
	delete(c.blocks, b.value)

	if destroy == nil && b.mt != nil {
		if fn, ok := b.mt.RawGetString("__gc").(*lua.LFunction); ok {
			destroy = c.destructors[fn]
		}
	}
	if destroy == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Debug("userdata destructor panicked",
				"type", fmt.Sprintf("%T", b.value), "panic", r)
		}
	}()
	if err := destroy(b.value); err != nil {
		c.logger.Debug("userdata destructor failed",
			"type", fmt.Sprintf("%T", b.value), "error", err)
	}
}

func blockKey(v any) (any, bool) {
	if v == nil || reflect.TypeOf(v).Kind() != reflect.Pointer {
		return nil, false
	}
	return v, true
}
