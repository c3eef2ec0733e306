package luabind

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"weak"

	lua "github.com/yuin/gopher-lua"
)

// ErrNotString is returned by [State.ToString] for values that are neither
// strings nor numbers.
var ErrNotString = errors.New("cannot convert value to a string")

// ErrStackOverflow is returned by [State.CheckStack] when the value stack
// cannot grow by the requested amount.
var ErrStackOverflow = errors.New("lua stack overflow")

const unknownErrorMessage = "unknown lua error"

// Error is a Lua error caught at the protected-call boundary.
//
// The original error value is stashed in the registry of the state that
// produced it, so that it can be raised again unchanged with
// [Error.PushError]. The stash holds no strong reference to the state: once
// the state is closed or collected, the error keeps only its message.
//
// A plain *Error is a runtime error. Load failures and failures of the error
// handler come wrapped in [SyntaxError], [FileError] and [HandlerError]; all
// of them unwrap to *Error.
type Error struct {
	msg string
	ref *errorRef
}

// errorRef is the part of an Error shared with its runtime cleanup.
type errorRef struct {
	owner    weak.Pointer[core]
	key      int
	released atomic.Bool
}

// newError pops the value on top of the stack and wraps it.
func newError(s *State) *Error {
	msg, err := s.ToString(-1)
	if err != nil {
		msg = unknownErrorMessage
	}
	ref := &errorRef{
		owner: weak.Make(s.core),
		key:   s.Ref(RegistryIndex),
	}
	e := &Error{msg: msg, ref: ref}
	runtime.AddCleanup(e, releaseDropped, ref)
	return e
}

// releaseDropped runs on the cleanup goroutine for errors nobody released.
func releaseDropped(ref *errorRef) {
	if !ref.released.CompareAndSwap(false, true) {
		return
	}
	if c := ref.owner.Value(); c != nil && !c.closed.Load() {
		c.reaper.unref(ref.key)
	}
}

func (e *Error) Error() string {
	return e.msg
}

// PushError pushes the original error value onto the stack of s and releases
// its registry slot. s must be the state that produced the error (or a view
// of one of its threads); anything else is a programming error and panics.
// Once the slot has been released, PushError pushes the message instead.
func (e *Error) PushError(s *State) {
	if e.ref.owner.Value() != s.core {
		panic("luabind: error pushed into a state that did not produce it")
	}
	if s.core.closed.Load() {
		panic("luabind: error pushed into a closed state")
	}
	if !e.ref.released.CompareAndSwap(false, true) {
		s.PushString(e.msg)
		return
	}
	s.RawGetI(RegistryIndex, e.ref.key)
	s.Unref(RegistryIndex, e.ref.key)
}

// Release frees the registry slot holding the error value. It must be called
// by the goroutine driving the state. Release is idempotent and does nothing
// once the state is gone.
func (e *Error) Release() {
	if !e.ref.released.CompareAndSwap(false, true) {
		return
	}
	if c := e.ref.owner.Value(); c != nil && !c.closed.Load() {
		unref(registryOf(c.main), e.ref.key)
	}
}

func (e *Error) belongsTo(s *State) bool {
	return e.ref.owner.Value() == s.core
}

// SyntaxError reports a chunk that failed to compile.
type SyntaxError struct {
	err *Error
}

func (e *SyntaxError) Error() string { return e.err.Error() }
func (e *SyntaxError) Unwrap() error { return e.err }

// FileError reports a chunk file that could not be opened or read.
type FileError struct {
	err *Error
}

func (e *FileError) Error() string { return e.err.Error() }
func (e *FileError) Unwrap() error { return e.err }

// HandlerError reports a failure of the message handler passed to
// [State.Call] while it was processing another error.
type HandlerError struct {
	err *Error
}

func (e *HandlerError) Error() string { return e.err.Error() }
func (e *HandlerError) Unwrap() error { return e.err }

// CheckError is returned by argument validators such as [State.CheckString].
// It never carries a Lua value. Arg is 0 when the number of arguments is
// wrong.
type CheckError struct {
	Arg int
	Msg string
}

func (e *CheckError) Error() string {
	return e.Msg
}

func argError(arg int, format string, args ...any) *CheckError {
	return &CheckError{
		Arg: arg,
		Msg: fmt.Sprintf("bad argument #%d (%s)", arg, fmt.Sprintf(format, args...)),
	}
}

// wrapAPIError turns a failure reported by the engine into a taxonomy member.
// The stack must already be free of the failed call's operands.
func (s *State) wrapAPIError(err error, fault bool) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return err
	}
	s.l.Push(errorObject(apiErr))
	e := newError(s)
	switch {
	case fault:
		return &HandlerError{err: e}
	case apiErr.Type == lua.ApiErrorSyntax:
		return &SyntaxError{err: e}
	case apiErr.Type == lua.ApiErrorFile:
		return &FileError{err: e}
	}
	return e
}

func errorObject(apiErr *lua.ApiError) lua.LValue {
	if apiErr.Object == nil {
		return lua.LString(unknownErrorMessage)
	}
	return apiErr.Object
}

// panicError converts a recovered host panic to an error.
func panicError(v any) error {
	switch v := v.(type) {
	case error:
		return v
	case string:
		return errors.New(v)
	default:
		return fmt.Errorf("%v", v)
	}
}
