package luabind

import (
	"math"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Type is the type of a value on the stack.
type Type int

// Value types. TNone is the type of an index with no value.
const (
	TNone Type = iota - 1
	TNil
	TBoolean
	TNumber
	TString
	TTable
	TFunction
	TUserdata
	TThread
	TChannel // gopher-lua channel
)

var typeNames = map[Type]string{
	TNone:     "no value",
	TNil:      "nil",
	TBoolean:  "boolean",
	TNumber:   "number",
	TString:   "string",
	TTable:    "table",
	TFunction: "function",
	TUserdata: "userdata",
	TThread:   "thread",
	TChannel:  "channel",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

func typeOf(v lua.LValue) Type {
	switch v.Type() {
	case lua.LTNil:
		return TNil
	case lua.LTBool:
		return TBoolean
	case lua.LTNumber:
		return TNumber
	case lua.LTString:
		return TString
	case lua.LTTable:
		return TTable
	case lua.LTFunction:
		return TFunction
	case lua.LTUserData:
		return TUserdata
	case lua.LTThread:
		return TThread
	case lua.LTChannel:
		return TChannel
	}
	return TNone
}

// -----------------------------------------------------------------------------
// Tier A: stack manipulation
// -----------------------------------------------------------------------------

// AbsIndex converts a relative index into an absolute one. Pseudo-indices and
// positive indices are returned unchanged.
func (s *State) AbsIndex(idx int) int {
	if idx < 0 && -idx <= s.GetTop() {
		return s.GetTop() + 1 + idx
	}
	return idx
}

// GetTop returns the number of values on the stack.
func (s *State) GetTop() int { return s.l.GetTop() }

// SetTop sets the stack depth, filling with nils or dropping values.
func (s *State) SetTop(idx int) { s.l.SetTop(idx) }

// Pop removes n values from the top of the stack.
func (s *State) Pop(n int) { s.l.Pop(n) }

// Insert moves the top value into position idx, shifting values up.
func (s *State) Insert(idx int) {
	idx = s.AbsIndex(idx)
	if idx >= s.GetTop() {
		return
	}
	v := s.l.Get(-1)
	s.l.Pop(1)
	s.l.Insert(v, idx)
}

// Replace pops the top value and stores it at idx.
func (s *State) Replace(idx int) {
	idx = s.AbsIndex(idx)
	v := s.l.Get(-1)
	s.l.Pop(1)
	if idx > s.GetTop() {
		return
	}
	s.l.Replace(idx, v)
}

// Remove removes the value at idx, shifting values down.
func (s *State) Remove(idx int) { s.l.Remove(idx) }

// PushValue pushes a copy of the value at idx.
func (s *State) PushValue(idx int) { s.l.Push(s.l.Get(idx)) }

// PushNil pushes nil.
func (s *State) PushNil() { s.l.Push(lua.LNil) }

// PushBoolean pushes a boolean.
func (s *State) PushBoolean(b bool) { s.l.Push(lua.LBool(b)) }

// PushInteger pushes an integer. Lua numbers are doubles; integers beyond
// 2^53 lose precision.
func (s *State) PushInteger(n int64) { s.l.Push(lua.LNumber(n)) }

// PushNumber pushes a number.
func (s *State) PushNumber(n float64) { s.l.Push(lua.LNumber(n)) }

// -----------------------------------------------------------------------------
// Tier A: type checks and conversions
// -----------------------------------------------------------------------------

// IsNone reports whether idx refers to no value at all.
func (s *State) IsNone(idx int) bool {
	if idx > s.GetTop() || idx == 0 {
		return true
	}
	return idx < 0 && idx > RegistryIndex && -idx > s.GetTop()
}

// Type returns the type of the value at idx, or TNone for an invalid index.
func (s *State) Type(idx int) Type {
	if s.IsNone(idx) {
		return TNone
	}
	return typeOf(s.l.Get(idx))
}

// TypeName returns the name of a type.
func (s *State) TypeName(t Type) string { return t.String() }

// IsNil reports whether the value at idx is nil. It is false for an index
// with no value.
func (s *State) IsNil(idx int) bool { return s.Type(idx) == TNil }

// IsBoolean reports whether the value at idx is a boolean.
func (s *State) IsBoolean(idx int) bool { return s.Type(idx) == TBoolean }

// IsFunction reports whether the value at idx is a function.
func (s *State) IsFunction(idx int) bool { return s.Type(idx) == TFunction }

// IsTable reports whether the value at idx is a table.
func (s *State) IsTable(idx int) bool { return s.Type(idx) == TTable }

// IsUserdata reports whether the value at idx is a userdata.
func (s *State) IsUserdata(idx int) bool { return s.Type(idx) == TUserdata }

// IsNumber reports whether the value is a number or a string convertible to
// one.
func (s *State) IsNumber(idx int) bool {
	_, ok := toNumber(s.l.Get(idx))
	return ok && !s.IsNone(idx)
}

// IsString reports whether the value is a string or a number.
func (s *State) IsString(idx int) bool {
	t := s.Type(idx)
	return t == TString || t == TNumber
}

// ToBoolean returns false for nil and false, true for anything else.
func (s *State) ToBoolean(idx int) bool {
	return !s.IsNone(idx) && lua.LVAsBool(s.l.Get(idx))
}

// ToNumber returns the value as a number, or 0 if it is not convertible.
func (s *State) ToNumber(idx int) float64 {
	n, _ := toNumber(s.l.Get(idx))
	return n
}

// ToInteger returns the value as an integer truncated towards zero, or 0 if
// it is not convertible.
func (s *State) ToInteger(idx int) int64 {
	n, ok := toNumber(s.l.Get(idx))
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return int64(n)
}

// ToUserdata returns the Go value held by a userdata, or nil.
func (s *State) ToUserdata(idx int) any {
	if ud, ok := s.l.Get(idx).(*lua.LUserData); ok {
		return ud.Value
	}
	return nil
}

func toNumber(v lua.LValue) (float64, bool) {
	switch v := v.(type) {
	case lua.LNumber:
		return float64(v), true
	case lua.LString:
		str := strings.TrimSpace(string(v))
		// ParseFloat knows "inf" and "nan", Lua does not
		if strings.ContainsAny(str, "iInN") {
			return 0, false
		}
		if n, err := strconv.ParseFloat(str, 64); err == nil {
			return n, true
		}
		if hex, ok := strings.CutPrefix(strings.ToLower(str), "0x"); ok {
			if n, err := strconv.ParseUint(hex, 16, 64); err == nil {
				return float64(n), true
			}
		}
	}
	return 0, false
}

// -----------------------------------------------------------------------------
// Tier A: raw table access and metatables
// -----------------------------------------------------------------------------

// RawGet replaces the key on top of the stack with t[key] for the table at
// idx, without invoking metamethods. A non-table yields nil.
func (s *State) RawGet(idx int) {
	t := s.l.Get(s.AbsIndex(idx))
	key := s.l.Get(-1)
	s.l.Pop(1)
	s.l.Push(rawGet(t, key))
}

// RawGetI pushes t[n] for the table at idx without invoking metamethods.
func (s *State) RawGetI(idx int, n int) {
	if tb, ok := s.l.Get(idx).(*lua.LTable); ok {
		s.l.Push(tb.RawGetInt(n))
		return
	}
	s.l.Push(lua.LNil)
}

// RawEqual reports whether two values are primitively equal.
func (s *State) RawEqual(idx1, idx2 int) bool {
	if s.IsNone(idx1) || s.IsNone(idx2) {
		return false
	}
	return s.l.Get(idx1) == s.l.Get(idx2)
}

// GetMetatable pushes the metatable of the value at idx and returns true, or
// pushes nothing and returns false.
func (s *State) GetMetatable(idx int) bool {
	var mt lua.LValue
	switch v := s.l.Get(idx).(type) {
	case *lua.LTable:
		mt = v.Metatable
	case *lua.LUserData:
		mt = v.Metatable
	default:
		mt = s.l.GetMetatable(v)
	}
	if mt == nil || mt == lua.LNil {
		return false
	}
	s.l.Push(mt)
	return true
}

// SetMetatable pops a table (or nil) and sets it as the metatable of the
// value at idx. For userdata created by [NewUserdata] the metatable's __gc
// field selects the destructor run when the userdata is collected.
func (s *State) SetMetatable(idx int) {
	obj := s.l.Get(s.AbsIndex(idx))
	mt := s.l.Get(-1)
	s.l.Pop(1)
	s.l.SetMetatable(obj, mt)
	if ud, ok := obj.(*lua.LUserData); ok {
		s.core.bind(ud, mt)
	}
}

// Unref releases reference ref from the table at idx.
func (s *State) Unref(idx int, ref int) {
	if tb, ok := s.l.Get(idx).(*lua.LTable); ok {
		unref(tb, ref)
	}
}

func rawGet(t, key lua.LValue) lua.LValue {
	tb, ok := t.(*lua.LTable)
	if !ok || key == lua.LNil {
		return lua.LNil
	}
	return tb.RawGet(key)
}
