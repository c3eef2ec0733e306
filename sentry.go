package luabind

import "fmt"

// StackSentry restores the stack depth when a scope exits.
//
// A sentry records GetTop()+n when created; Restore truncates the stack to
// that depth. Code that deliberately leaves results behind moves the target
// with Inc, Dec, Add and Sub. Always defer Restore so that it also runs when
// the scope is left early or by a panic:
//
//	sentry := s.Sentry(0)
//	defer sentry.Restore()
//	s.PushString("temporary")
//	...
//	s.PushInteger(42)
//	sentry.Inc() // the integer is the result
//
// Together with [State] this gives the stack discipline used throughout the
// package: a function pops its arguments, leaves its results on success and
// leaves nothing on failure.
type StackSentry struct {
	s *State
	n int
}

// Sentry creates a sentry whose target is the current depth plus n.
func (s *State) Sentry(n int) *StackSentry {
	target := s.GetTop() + n
	if target < 0 {
		panic(fmt.Sprintf("luabind: sentry target %d below stack bottom", target))
	}
	return &StackSentry{s: s, n: target}
}

// Inc leaves one more value on the stack.
func (ss *StackSentry) Inc() { ss.n++ }

// Dec leaves one value less on the stack.
func (ss *StackSentry) Dec() { ss.Sub(1) }

// Add leaves n more values on the stack.
func (ss *StackSentry) Add(n int) { ss.n += n }

// Sub leaves n values less on the stack.
func (ss *StackSentry) Sub(n int) {
	ss.n -= n
	if ss.n < 0 {
		panic(fmt.Sprintf("luabind: sentry target %d below stack bottom", ss.n))
	}
}

// Target returns the depth Restore truncates to.
func (ss *StackSentry) Target() int { return ss.n }

// Restore truncates the stack to the target depth. A stack shallower than
// the target means values were popped that the scope did not own, which is a
// programming error.
func (ss *StackSentry) Restore() {
	top := ss.s.GetTop()
	if top < ss.n {
		panic(fmt.Sprintf("luabind: stack depth %d below sentry target %d", top, ss.n))
	}
	ss.s.SetTop(ss.n)
}
