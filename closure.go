package luabind

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Function is a Go function callable from Lua.
//
// It reads its arguments from s (index 1 is the first argument), pushes its
// results and returns how many there are. A non-nil error is raised in the
// calling script with the error's message; a panic is treated the same way.
// Returning an [*Error] produced by the same state raises the original error
// value instead.
//
// s is only valid for the duration of the call. When the function runs on a
// coroutine, s operates on the coroutine's stack.
type Function func(s *State) (int, error)

// UpvalueIndex returns the pseudo-index of the n-th upvalue (starting at 1)
// of the running closure pushed with [State.PushClosure].
func UpvalueIndex(n int) int {
	return lua.UpvalueIndex(n + 1)
}

// closureRecord is kept in the first, hidden upvalue of every function pushed
// by PushClosure.
type closureRecord struct {
	fn   Function
	core *core
}

// PushClosure pops n values and pushes a function that calls fn with those
// values as its upvalues.
func (s *State) PushClosure(fn Function, n int) {
	rec := s.l.NewUserData()
	rec.Value = &closureRecord{fn: fn, core: s.core}

	upvalues := make([]lua.LValue, n+1)
	upvalues[0] = rec
	for i := 1; i <= n; i++ {
		upvalues[i] = s.l.Get(i - n - 1)
	}
	s.l.Pop(n)
	s.l.Push(s.l.NewClosure(trampoline, upvalues...))
}

// PushFunction pushes a function that calls fn.
func (s *State) PushFunction(fn Function) {
	s.PushClosure(fn, 0)
}

func trampoline(L *lua.LState) int {
	ud, _ := L.Get(lua.UpvalueIndex(1)).(*lua.LUserData)
	if ud == nil {
		L.RaiseError("luabind: closure record missing")
	}
	rec := ud.Value.(*closureRecord)
	s := rec.core.stateFor(L)

	n, err := invoke(rec.fn, s)
	if err != nil {
		raise(s, err)
	}
	return n
}

// invoke calls fn and turns a host panic into an error. Panics raised by the
// engine itself keep unwinding.
func invoke(fn Function, s *State) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			if apiErr, ok := r.(*lua.ApiError); ok {
				panic(apiErr)
			}
			n, err = 0, panicError(r)
		}
	}()

	n, err = fn(s)
	if err == nil && (n < 0 || n > s.GetTop()) {
		err = fmt.Errorf("function returned %d results but only %d values are on the stack", n, s.GetTop())
	}
	return n, err
}

// raise raises err as a script error. It does not return.
func raise(s *State, err error) {
	var le *Error
	if errors.As(err, &le) && le.belongsTo(s) {
		le.PushError(s)
		v := s.l.Get(-1)
		s.l.Pop(1)
		s.l.Error(v, 0)
	}
	s.l.Error(lua.LString(err.Error()), 0)
}
