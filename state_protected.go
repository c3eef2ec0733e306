package luabind

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// -----------------------------------------------------------------------------
// Protected-call boundary
// -----------------------------------------------------------------------------

// pcall calls the function below the top nargs values. On success the
// function and its arguments are replaced by its results; on failure they are
// removed and the error value is moved into a taxonomy error.
func (s *State) pcall(nargs, nresults, errfunc int) error {
	s.core.collect()

	var (
		handler *lua.LFunction
		fault   bool
	)
	if errfunc != 0 {
		user := s.l.Get(errfunc)
		handler = s.l.NewFunction(func(L *lua.LState) int {
			L.Push(user)
			L.Push(L.Get(1))
			if err := L.PCall(1, 1, nil); err != nil {
				fault = true
				L.Push(faultObject(err))
			}
			return 1
		})
	}

	sentry := s.Sentry(-(nargs + 1))
	defer sentry.Restore()
	base := sentry.Target()

	if err := s.l.PCall(nargs, nresults, handler); err != nil {
		s.SetTop(base)
		return s.wrapAPIError(err, fault)
	}
	sentry.Add(s.GetTop() - base)
	return nil
}

func faultObject(err error) lua.LValue {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		return errorObject(apiErr)
	}
	return lua.LString(err.Error())
}

// protect runs fn in protected mode with the top nargs values as arguments.
// fn sees them as 1..nargs and must return nresults values.
func (s *State) protect(nargs, nresults int, fn lua.LGFunction) error {
	f := s.l.NewFunction(fn)
	if nargs == 0 {
		s.l.Push(f)
	} else {
		s.l.Insert(f, s.GetTop()-nargs+1)
	}
	return s.pcall(nargs, nresults, 0)
}

// -----------------------------------------------------------------------------
// Tier C: calls and loading
// -----------------------------------------------------------------------------

// Call calls a function in protected mode. The function and nargs arguments
// are popped; on success nresults results are pushed (all of them with
// [MultRet]). errfunc is the stack index of a message handler, or 0.
// The handler receives the error value and its result becomes the error; if
// the handler fails itself, Call returns a [*HandlerError].
func (s *State) Call(nargs, nresults, errfunc int) error {
	if errfunc != 0 {
		errfunc = s.AbsIndex(errfunc)
	}
	return s.pcall(nargs, nresults, errfunc)
}

// LoadString compiles a chunk and pushes it as a function.
func (s *State) LoadString(src string) error {
	return s.LoadBuffer(src, "<string>")
}

// LoadBuffer compiles a chunk under the given name, used in error messages,
// and pushes it as a function. A compile error is a [*SyntaxError].
func (s *State) LoadBuffer(src, chunkname string) error {
	return s.load(s.l.Load(strings.NewReader(src), chunkname))
}

// LoadFile compiles the chunk in a file and pushes it as a function. A
// missing or unreadable file is a [*FileError].
func (s *State) LoadFile(path string) error {
	return s.load(s.l.LoadFile(path))
}

func (s *State) load(fn *lua.LFunction, err error) error {
	if err != nil {
		return s.wrapAPIError(err, false)
	}
	s.l.Push(fn)
	return nil
}

// -----------------------------------------------------------------------------
// Tier C: table access
// -----------------------------------------------------------------------------

// GetField pushes t[k] for the value at idx.
func (s *State) GetField(idx int, k string) error {
	t := s.l.Get(idx)
	return s.protect(0, 1, func(L *lua.LState) int {
		L.Push(L.GetField(t, k))
		return 1
	})
}

// SetField pops a value and does t[k] = v for the value at idx.
func (s *State) SetField(idx int, k string) error {
	t := s.l.Get(idx)
	return s.protect(1, 0, func(L *lua.LState) int {
		L.SetField(t, k, L.Get(1))
		return 0
	})
}

// GetTable pops a key and pushes t[key] for the value at idx.
func (s *State) GetTable(idx int) error {
	t := s.l.Get(idx)
	return s.protect(1, 1, func(L *lua.LState) int {
		L.Push(L.GetTable(t, L.Get(1)))
		return 1
	})
}

// SetTable does t[k] = v for the value at idx, where v is the value on top of
// the stack and k the value just below. Both are popped.
func (s *State) SetTable(idx int) error {
	t := s.l.Get(idx)
	return s.protect(2, 0, func(L *lua.LState) int {
		L.SetTable(t, L.Get(1), L.Get(2))
		return 0
	})
}

// GetGlobal pushes the global name.
func (s *State) GetGlobal(name string) error {
	return s.GetField(GlobalsIndex, name)
}

// SetGlobal pops a value and stores it as the global name.
func (s *State) SetGlobal(name string) error {
	return s.SetField(GlobalsIndex, name)
}

// Register sets the global name to a function calling fn.
func (s *State) Register(name string, fn Function) error {
	s.PushFunction(fn)
	return s.SetGlobal(name)
}

// Next pops a key and pushes the next key and value of the table at idx. At
// the end of the table it pushes nothing and returns false. Start a traversal
// with a nil key:
//
//	s.PushNil()
//	for {
//	    more, err := s.Next(t)
//	    if err != nil || !more {
//	        break
//	    }
//	    // key at -2, value at -1
//	    s.Pop(1)
//	}
func (s *State) Next(idx int) (bool, error) {
	t := s.l.Get(idx)
	before := s.GetTop() - 1
	err := s.protect(1, MultRet, func(L *lua.LState) int {
		tb, ok := t.(*lua.LTable)
		if !ok {
			L.RaiseError("table expected, got %s", t.Type().String())
		}
		k, v := tb.Next(L.Get(1))
		if k == lua.LNil {
			return 0
		}
		L.Push(k)
		L.Push(v)
		return 2
	})
	if err != nil {
		return false, err
	}
	return s.GetTop() > before, nil
}

// -----------------------------------------------------------------------------
// Tier C: operators
// -----------------------------------------------------------------------------

// Equal compares two values with the == operator, metamethods included.
// An invalid index compares unequal.
func (s *State) Equal(idx1, idx2 int) (bool, error) {
	if s.IsNone(idx1) || s.IsNone(idx2) {
		return false, nil
	}
	a, b := s.l.Get(idx1), s.l.Get(idx2)
	return s.compare(func(L *lua.LState) bool { return L.Equal(a, b) })
}

// LessThan compares two values with the < operator, metamethods included.
// An invalid index compares false.
func (s *State) LessThan(idx1, idx2 int) (bool, error) {
	if s.IsNone(idx1) || s.IsNone(idx2) {
		return false, nil
	}
	a, b := s.l.Get(idx1), s.l.Get(idx2)
	return s.compare(func(L *lua.LState) bool { return L.LessThan(a, b) })
}

func (s *State) compare(op func(L *lua.LState) bool) (bool, error) {
	err := s.protect(0, 1, func(L *lua.LState) int {
		L.Push(lua.LBool(op(L)))
		return 1
	})
	if err != nil {
		return false, err
	}
	r := s.ToBoolean(-1)
	s.Pop(1)
	return r, nil
}

const concatHelper = `local n = ...
local t = {...}
local r = t[n + 1]
for i = n, 2, -1 do
	r = t[i] .. r
end
return r`

// Concat pops n values, concatenates them with the .. operator and pushes the
// result. With n == 0 it pushes the empty string; with n == 1 the value is
// left alone.
func (s *State) Concat(n int) error {
	switch {
	case n == 0:
		s.PushString("")
		return nil
	case n == 1:
		return nil
	}
	fn := s.core.helper("concat", concatHelper)
	return s.protect(n, 1, func(L *lua.LState) int {
		L.Push(fn)
		L.Push(lua.LNumber(n))
		for i := 1; i <= n; i++ {
			L.Push(L.Get(i))
		}
		L.Call(n+1, 1)
		return 1
	})
}

// -----------------------------------------------------------------------------
// Tier C: collection
// -----------------------------------------------------------------------------

// GCOption selects the action of [State.GC].
type GCOption int

const (
	// GCCollect runs a full Go collection and finalizes what it found.
	GCCollect GCOption = iota
	// GCCount returns the heap in use, in kilobytes.
	GCCount
	// GCCountB returns the remainder of GCCount in bytes.
	GCCountB
	// GCStep finalizes what earlier collections found, without collecting.
	// It returns 1 if anything was finalized.
	GCStep
)

// GC controls garbage collection. Lua memory is Go memory, so the collector
// is the Go runtime's; userdata found unreachable by it are finalized on the
// goroutine calling GC or the next protected operation.
func (s *State) GC(what GCOption, data int) (int, error) {
	switch what {
	case GCCollect:
		runtime.GC()
		s.core.collect()
		return 0, nil
	case GCCount, GCCountB:
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		if what == GCCount {
			return int(ms.HeapAlloc / 1024), nil
		}
		return int(ms.HeapAlloc % 1024), nil
	case GCStep:
		if s.core.collect() > 0 {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unsupported gc option %d", what)
}

// -----------------------------------------------------------------------------
// Tier C: conversions and argument checks
// -----------------------------------------------------------------------------

// ToString returns the string or number at idx as text, or [ErrNotString].
func (s *State) ToString(idx int) (string, error) {
	str, ok := s.ToCString(idx)
	if !ok {
		return "", ErrNotString
	}
	return str, nil
}

// CheckArgNo checks that a function received exactly n arguments.
func (s *State) CheckArgNo(n int) error {
	if got := s.GetTop(); got != n {
		return &CheckError{
			Msg: fmt.Sprintf("wrong number of arguments: expected %d, got %d", n, got),
		}
	}
	return nil
}

// CheckString returns argument arg as a string.
func (s *State) CheckString(arg int) (string, error) {
	str, ok := s.ToCString(arg)
	if !ok {
		return "", argError(arg, "string expected, got %s", s.typeNameAt(arg))
	}
	return str, nil
}

// CheckNumber returns argument arg as a number. Strings convertible to a
// number are accepted.
func (s *State) CheckNumber(arg int) (float64, error) {
	if !s.IsNumber(arg) {
		return 0, argError(arg, "number expected, got %s", s.typeNameAt(arg))
	}
	return s.ToNumber(arg), nil
}

// CheckUdata returns the value held by argument arg if it is a userdata whose
// metatable is the one registered under tname with [State.NewMetatable].
func (s *State) CheckUdata(arg int, tname string) (any, error) {
	ud, ok := s.l.Get(arg).(*lua.LUserData)
	if !ok || s.IsNone(arg) {
		return nil, argError(arg, "%s expected, got %s", tname, s.typeNameAt(arg))
	}
	mt := registryOf(s.l).RawGetString(tname)
	if mt == lua.LNil || ud.Metatable != mt {
		return nil, argError(arg, "%s expected, got %s", tname, s.typeNameAt(arg))
	}
	return ud.Value, nil
}

func (s *State) typeNameAt(idx int) string {
	if s.IsNone(idx) {
		return "no value"
	}
	v := s.l.Get(idx)
	if mt, ok := s.l.GetMetaField(v, "__name").(lua.LString); ok {
		return string(mt)
	}
	return s.TypeName(s.Type(idx))
}
