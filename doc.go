// Package luabind provides an exception-safe binding to an embedded Lua
// interpreter for Go applications.
//
// # Overview
//
// luabind wraps a gopher-lua interpreter behind a stack API in the style of
// the Lua C API, with three guarantees the raw interpreter does not give:
//
//   - Script errors never unwind through host code. Every operation that can
//     fail runs behind a protected call and reports a Go error.
//   - The value stack stays balanced. A failed operation leaves the stack as
//     it was, minus the operands it consumed.
//   - Go values owned by scripts are destroyed exactly once.
//
// # Quick Start
//
//	import "github.com/feather-lang/luabind"
//
//	func main() {
//	    s := luabind.New()
//	    defer s.Close()
//
//	    // Register Go functions
//	    s.Register("double", func(s *luabind.State) (int, error) {
//	        if err := s.CheckArgNo(1); err != nil {
//	            return 0, err
//	        }
//	        s.PushNumber(s.ToNumber(1) * 2)
//	        return 1, nil
//	    })
//
//	    // Run a chunk
//	    if err := s.LoadString("return double(21)"); err != nil {
//	        log.Fatal(err)
//	    }
//	    if err := s.Call(0, 1, 0); err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(s.ToInteger(-1)) // 42
//	    s.Pop(1)
//	}
//
// # Errors
//
// Failures reported by the interpreter are one of:
//
//   - [*SyntaxError] when a chunk does not compile
//   - [*FileError] when a chunk file cannot be read
//   - [*HandlerError] when the message handler given to [State.Call] fails
//   - [*Error] for every other script error
//
// All of them unwrap to [*Error], which keeps the original Lua error value:
//
//	err := s.Call(0, 0, 0)
//	var le *luabind.Error
//	if errors.As(err, &le) {
//	    le.PushError(s) // the value passed to error() in the script
//	}
//
// Validation failures from [State.CheckString], [State.CheckUdata] and
// [State.CheckArgNo] are [*CheckError] values. [State.ToString] returns
// [ErrNotString] for values that have no text form.
//
// # Go Functions
//
// A [Function] returning an error raises it in the calling script with the
// same message. Panics are recovered and raised the same way. Upvalues given
// to [State.PushClosure] are read with [UpvalueIndex].
//
// # Userdata
//
// [NewUserdata] allocates Go values owned by the interpreter. Types
// implementing [Destroyer] are destroyed when the userdata is collected or
// when the state is closed, whichever comes first:
//
//	type Counter struct{ n int }
//
//	func (c *Counter) Destroy() error { return nil }
//
//	c, _ := luabind.NewUserdata(s, func(c *Counter) error { return nil })
//	s.NewMetatable("Counter")
//	luabind.PushDestructor[Counter](s)
//	s.RawSetField(-2, "__gc")
//	s.SetMetatable(-2)
//
// # Thread Safety
//
// A State is not safe for concurrent use. Use [State.Lock] and
// [State.Unlock] around each sequence of operations when several goroutines
// share one State.
package luabind
