package luabind_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/feather-lang/luabind"
)

func run(t *testing.T, s *luabind.State, src string, nresults int) error {
	t.Helper()
	if err := s.LoadString(src); err != nil {
		t.Fatalf("LoadString(%q) failed: %v", src, err)
	}
	return s.Call(0, nresults, 0)
}

func TestRegister(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	err := s.Register("add", func(s *luabind.State) (int, error) {
		if err := s.CheckArgNo(2); err != nil {
			return 0, err
		}
		s.PushNumber(s.ToNumber(1) + s.ToNumber(2))
		return 1, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := run(t, s, "return add(20, 22)", 1); err != nil {
		t.Fatal(err)
	}
	if s.ToInteger(-1) != 42 {
		t.Errorf("add(20, 22) = %d", s.ToInteger(-1))
	}
}

func TestCheckErrorInClosure(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	s.Register("f", func(s *luabind.State) (int, error) {
		if err := s.CheckArgNo(1); err != nil {
			return 0, err
		}
		return 0, nil
	})

	s.PushString("caller")
	err := run(t, s, "f()", 0)
	if err == nil {
		t.Fatal("expected an error")
	}
	var le *luabind.Error
	if !errors.As(err, &le) {
		t.Fatalf("expected a generic *Error, got %T", err)
	}
	var ce *luabind.CheckError
	if errors.As(err, &ce) {
		t.Errorf("the check failure should reach the caller as a script error")
	}
	if !strings.Contains(err.Error(), "wrong number of arguments: expected 1, got 0") {
		t.Errorf("message lost: %q", err.Error())
	}
	if s.GetTop() != 1 {
		t.Errorf("depth %d, want 1", s.GetTop())
	}
}

func TestClosureErrorCatchableInScript(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	s.Register("fail", func(s *luabind.State) (int, error) {
		return 0, errors.New("host says no")
	})
	if err := run(t, s, "local ok, msg = pcall(fail); return ok, msg", 2); err != nil {
		t.Fatal(err)
	}
	if s.ToBoolean(1) {
		t.Errorf("pcall should report failure")
	}
	if msg, _ := s.ToString(2); msg != "host says no" {
		t.Errorf("message = %q", msg)
	}
}

func TestClosurePanicBecomesError(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	s.Register("explode", func(s *luabind.State) (int, error) {
		s.PushString("garbage")
		panic("kaboom")
	})
	err := run(t, s, "explode()", 0)
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("expected the panic message, got %v", err)
	}
	if s.GetTop() != 0 {
		t.Errorf("depth %d, want 0", s.GetTop())
	}
}

func TestClosureReraisesOriginalError(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	s.Register("relay", func(s *luabind.State) (int, error) {
		// value 1 is the function to call
		s.PushValue(1)
		if err := s.Call(0, 0, 0); err != nil {
			return 0, err
		}
		return 0, nil
	})
	src := `
		local e = {}
		local ok, got = pcall(relay, function() error(e) end)
		return got == e
	`
	if err := run(t, s, src, 1); err != nil {
		t.Fatal(err)
	}
	if !s.ToBoolean(-1) {
		t.Errorf("relayed error is not the original value")
	}
}

func TestClosureUpvalues(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	s.PushInteger(10)
	s.PushString("x")
	s.PushClosure(func(s *luabind.State) (int, error) {
		s.PushValue(luabind.UpvalueIndex(1))
		s.PushValue(luabind.UpvalueIndex(2))
		return 2, nil
	}, 2)
	if s.GetTop() != 1 {
		t.Fatalf("PushClosure should pop its upvalues, depth %d", s.GetTop())
	}
	if err := s.SetGlobal("ups"); err != nil {
		t.Fatal(err)
	}
	if err := run(t, s, "return ups()", 2); err != nil {
		t.Fatal(err)
	}
	if s.ToInteger(1) != 10 {
		t.Errorf("upvalue 1 = %d, want 10", s.ToInteger(1))
	}
	if str, _ := s.ToString(2); str != "x" {
		t.Errorf("upvalue 2 = %q, want x", str)
	}
}

func TestClosureCapturesGoState(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	calls := 0
	s.Register("tick", func(s *luabind.State) (int, error) {
		calls++
		s.PushInteger(int64(calls))
		return 1, nil
	})
	if err := run(t, s, "tick(); tick(); return tick()", 1); err != nil {
		t.Fatal(err)
	}
	if calls != 3 || s.ToInteger(-1) != 3 {
		t.Errorf("calls = %d, result = %d", calls, s.ToInteger(-1))
	}
}

func TestClosureBadResultCount(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	s.Register("liar", func(s *luabind.State) (int, error) {
		return 3, nil
	})
	if err := run(t, s, "liar()", 0); err == nil {
		t.Errorf("returning more results than pushed should fail")
	}
}

func TestClosureOnCoroutine(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	s.Register("double", func(s *luabind.State) (int, error) {
		n := s.ToNumber(1)
		s.PushNumber(n * 2)
		return 1, nil
	})
	src := `
		local co = coroutine.create(function(x) return double(x) end)
		local ok, v = coroutine.resume(co, 21)
		return v
	`
	if err := run(t, s, src, 1); err != nil {
		t.Fatal(err)
	}
	if s.ToInteger(-1) != 42 {
		t.Errorf("double on a coroutine = %d", s.ToInteger(-1))
	}
}

func TestNestedCallFromClosure(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	s.Register("apply", func(s *luabind.State) (int, error) {
		s.PushValue(1)
		s.PushValue(2)
		if err := s.Call(1, 1, 0); err != nil {
			return 0, err
		}
		return 1, nil
	})
	if err := run(t, s, "return apply(function(x) return x + 1 end, 41)", 1); err != nil {
		t.Fatal(err)
	}
	if s.ToInteger(-1) != 42 {
		t.Errorf("apply = %d", s.ToInteger(-1))
	}
}
