package luabind

import (
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Special results of [State.Ref].
const (
	// RefNil is returned when the referenced value is nil. It is never stored.
	RefNil = -1
	// NoRef is a reference value that is never returned by Ref.
	NoRef = -2
)

// -----------------------------------------------------------------------------
// Tier B: allocation
// -----------------------------------------------------------------------------

// CheckStack ensures that at least n more values fit on the stack.
func (s *State) CheckStack(n int) error {
	if n < 0 || s.GetTop()+n > s.core.limit {
		return ErrStackOverflow
	}
	return nil
}

// CreateTable pushes a new table with preallocated space for narr array
// elements and nrec hash elements.
func (s *State) CreateTable(narr, nrec int) {
	s.l.Push(s.l.CreateTable(narr, nrec))
}

// NewTable pushes a new empty table.
func (s *State) NewTable() { s.l.Push(s.l.NewTable()) }

// NewMetatable pushes the registry entry for tname, creating it as a new
// table when missing. It reports whether the table was created.
func (s *State) NewMetatable(tname string) bool {
	reg := registryOf(s.l)
	if mt := reg.RawGetString(tname); mt != lua.LNil {
		s.l.Push(mt)
		return false
	}
	mt := s.l.NewTable()
	mt.RawSetString("__name", lua.LString(tname))
	reg.RawSetString(tname, mt)
	s.l.Push(mt)
	return true
}

// PushString pushes a string.
func (s *State) PushString(str string) { s.l.Push(lua.LString(str)) }

// ToCString returns the string or number at idx as text. The second result is
// false for any other type.
func (s *State) ToCString(idx int) (string, bool) {
	switch v := s.l.Get(idx).(type) {
	case lua.LString:
		return string(v), true
	case lua.LNumber:
		return v.String(), true
	}
	return "", false
}

// GSub pushes a copy of str with every occurrence of pattern replaced by
// repl, and returns it. The pattern is matched literally.
func (s *State) GSub(str, pattern, repl string) string {
	r := str
	if pattern != "" {
		r = strings.ReplaceAll(str, pattern, repl)
	}
	s.PushString(r)
	return r
}

// -----------------------------------------------------------------------------
// Tier B: raw table writes
// -----------------------------------------------------------------------------

// RawGetField pushes t[k] for the table at idx without invoking metamethods.
func (s *State) RawGetField(idx int, k string) {
	if tb, ok := s.l.Get(idx).(*lua.LTable); ok {
		s.l.Push(tb.RawGetString(k))
		return
	}
	s.l.Push(lua.LNil)
}

// RawSet does t[k] = v for the table at idx, where v is the value on top of
// the stack and k the value just below. Both are popped.
func (s *State) RawSet(idx int) {
	t := s.l.Get(s.AbsIndex(idx))
	k, v := s.l.Get(-2), s.l.Get(-1)
	s.l.Pop(2)
	if tb, ok := t.(*lua.LTable); ok && k != lua.LNil {
		tb.RawSet(k, v)
	}
}

// RawSetField pops a value and stores it as t[k] for the table at idx.
func (s *State) RawSetField(idx int, k string) {
	t := s.l.Get(s.AbsIndex(idx))
	v := s.l.Get(-1)
	s.l.Pop(1)
	if tb, ok := t.(*lua.LTable); ok {
		tb.RawSetString(k, v)
	}
}

// RawSetI pops a value and stores it as t[n] for the table at idx.
func (s *State) RawSetI(idx int, n int) {
	t := s.l.Get(s.AbsIndex(idx))
	v := s.l.Get(-1)
	s.l.Pop(1)
	if tb, ok := t.(*lua.LTable); ok {
		tb.RawSetInt(n, v)
	}
}

// Ref pops the value on top of the stack, stores it in the table at idx under
// a fresh integer key and returns the key. Nil is not stored; Ref returns
// [RefNil] for it. Release the key with [State.Unref].
func (s *State) Ref(idx int) int {
	t := s.l.Get(s.AbsIndex(idx))
	v := s.l.Get(-1)
	s.l.Pop(1)
	tb, ok := t.(*lua.LTable)
	if !ok {
		panic("luabind: Ref on a value that is not a table: " + strconv.Itoa(idx))
	}
	if v == lua.LNil {
		return RefNil
	}
	return ref(tb, v)
}

// ref stores v under a free integer key. Key 0 heads a list of released
// keys, each released slot holding the next one. Key 0 lives in the hash part
// of the table, so it is read and written with RawGetH and RawSetH.
func ref(tb *lua.LTable, v lua.LValue) int {
	key := 0
	if free, ok := tb.RawGetH(freeListKey).(lua.LNumber); ok {
		key = int(free)
	}
	if key != 0 {
		tb.RawSetH(freeListKey, tb.RawGetInt(key))
	} else {
		key = tb.Len() + 1
	}
	tb.RawSetInt(key, v)
	return key
}

var freeListKey = lua.LNumber(0)

func unref(tb *lua.LTable, key int) {
	if key <= 0 {
		return
	}
	free := tb.RawGetH(freeListKey)
	if free == lua.LNil {
		free = lua.LNumber(0)
	}
	tb.RawSetInt(key, free)
	tb.RawSetH(freeListKey, lua.LNumber(key))
}
