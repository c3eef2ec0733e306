package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/feather-lang/luabind"
)

func newTestRunner() *Runner {
	return NewRunner("/bin/sh", 5*time.Second, slog.New(slog.DiscardHandler))
}

// =============================================================================
// Commands
// =============================================================================

func TestRemoveDeleted(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"dog\b\b\bcat", "cat"},
		{"\b\bx", "x"},
		{"ab\bc", "ac"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := RemoveDeleted(tt.in); got != tt.want {
			t.Errorf("RemoveDeleted(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBarNum(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"42", 42, false},
		{"  7.5 percent", 7.5, false},
		{"75%", 75, false},
		{"42.5MB used", 42.5, false},
		{"  12abc", 12, false},
		{"\t.5\n", 0.5, false},
		{"1e1x", 10, false},
		{"+3", 3, false},
		{"0", 0, false},
		{"100", 100, false},
		{"101", 0, true},
		{"-1", 0, true},
		{"n/a", 0, true},
		{"% 50", 0, true},
		{"1e3", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := BarNum(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("BarNum(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestExec(t *testing.T) {
	r := newTestRunner()

	out, err := r.Exec(context.Background(), "printf 'a\\nb\\n\\n'")
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if out != "a\nb\n" {
		t.Errorf("only one trailing newline should go, got %q", out)
	}

	out, err = r.Exec(context.Background(), "echo partial; exit 3")
	if err != nil {
		t.Fatalf("a failing command is not an error: %v", err)
	}
	if out != "partial" {
		t.Errorf("out = %q", out)
	}
}

func TestExecTimeout(t *testing.T) {
	r := NewRunner("/bin/sh", 50*time.Millisecond, slog.New(slog.DiscardHandler))
	if _, err := r.Exec(context.Background(), "sleep 5"); err == nil {
		t.Errorf("expected the timeout to fail the command")
	}
}

func TestExecICaches(t *testing.T) {
	r := newTestRunner()
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	ctx := context.Background()
	first, err := r.ExecI(ctx, time.Minute, "date +%N")
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(30 * time.Second)
	second, err := r.ExecI(ctx, time.Minute, "date +%N")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("output not cached: %q then %q", first, second)
	}

	now = now.Add(time.Minute)
	r.cache["date +%N"] = cachedOutput{out: "stale", at: time.Unix(0, 0)}
	third, err := r.ExecI(ctx, time.Minute, "date +%N")
	if err != nil {
		t.Fatal(err)
	}
	if third != "stale" {
		t.Errorf("expired output should be returned while the command reruns, got %q", third)
	}
	r.Wait()
	fourth, err := r.ExecI(ctx, time.Minute, "date +%N")
	if err != nil {
		t.Fatal(err)
	}
	if fourth == "stale" {
		t.Errorf("expired output not replaced after the rerun")
	}
}

func TestExecIKeepsOutputWhenRerunFails(t *testing.T) {
	r := NewRunner("/nonexistent/shell", 0, slog.New(slog.DiscardHandler))
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	ctx := context.Background()
	if _, err := r.ExecI(ctx, time.Minute, "echo hi"); err == nil {
		t.Fatalf("expected the first run to fail")
	}

	r.cache["echo hi"] = cachedOutput{out: "old", at: time.Unix(0, 0)}
	for i := 0; i < 2; i++ {
		out, err := r.ExecI(ctx, time.Minute, "echo hi")
		if err != nil {
			t.Fatal(err)
		}
		if out != "old" {
			t.Errorf("run %d: out = %q, want old", i, out)
		}
		r.Wait()
	}
	if r.cache["echo hi"].refreshing {
		t.Errorf("failed rerun left the entry marked as running")
	}
}

// =============================================================================
// Ring
// =============================================================================

func TestRing(t *testing.T) {
	r, err := NewRing(3)
	if err != nil {
		t.Fatal(err)
	}
	if r.Avg() != 0 || r.Max() != 0 || r.Len() != 0 {
		t.Errorf("empty ring should report zeros")
	}
	for _, v := range []float64{1, 5, 3, 7} {
		if err := r.Push(v); err != nil {
			t.Fatal(err)
		}
	}
	if r.Len() != 3 {
		t.Errorf("len = %d, want 3", r.Len())
	}
	if r.Avg() != 5 {
		t.Errorf("avg = %v, want 5", r.Avg())
	}
	if r.Max() != 7 {
		t.Errorf("max = %v, want 7", r.Max())
	}
	if _, err := NewRing(0); err == nil {
		t.Errorf("expected an error for size 0")
	}
	if _, err := NewRing(MaxRingSize + 1); err == nil {
		t.Errorf("expected an error for size %d", MaxRingSize+1)
	}

	r.Destroy()
	if !r.Destroyed() {
		t.Errorf("Destroyed() = false after Destroy")
	}
	if err := r.Push(1); err == nil {
		t.Errorf("push into a destroyed ring should fail")
	}
}

// =============================================================================
// Script natives
// =============================================================================

func newTestState(t *testing.T) *luabind.State {
	t.Helper()
	s := luabind.New()
	if err := Register(context.Background(), s, newTestRunner()); err != nil {
		s.Close()
		t.Fatalf("Register failed: %v", err)
	}
	return s
}

func eval(t *testing.T, s *luabind.State, src string) error {
	t.Helper()
	if err := s.LoadString(src); err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	return s.Call(0, 1, 0)
}

func TestNatives(t *testing.T) {
	s := newTestState(t)
	defer s.Close()

	tests := []struct {
		src  string
		want string
	}{
		{`return exec("echo hi")`, "hi"},
		{`return execi(10, "echo cached")`, "cached"},
		{`return execbar("echo 55")`, "55"},
		{`return execbar("echo 155")`, "0"},
		{`local r = ring(2); r:push(1); r:push(2); r:push(4); return r:avg()`, "3"},
		{`local r = ring(4); r:push(9); r:push(2); return r:max() .. "/" .. r:len()`, "9/2"},
	}
	for _, tt := range tests {
		if err := eval(t, s, tt.src); err != nil {
			t.Errorf("%s: %v", tt.src, err)
			continue
		}
		got, err := s.ToString(-1)
		if err != nil || got != tt.want {
			t.Errorf("%s = %q, want %q", tt.src, got, tt.want)
		}
		s.Pop(1)
	}
}

func TestNativeErrors(t *testing.T) {
	s := newTestState(t)
	defer s.Close()

	tests := []struct {
		src     string
		wantErr string
	}{
		{`return exec()`, "wrong number of arguments"},
		{`return exec({})`, "string expected"},
		{`return execi("soon", "echo")`, "number expected"},
		{`return log("loud", "x")`, "unknown level"},
		{`return ring(0)`, "ring size must be between 1 and"},
		{`return ring(1e10)`, "ring size must be between 1 and"},
		{`return ring("big")`, "number expected"},
		{`local r = ring(2); r:push("x")`, "number expected"},
		{`local r = ring(2); getmetatable(r).__gc(r); r:push(1)`, "ring already destroyed"},
		{`local r = ring(2); getmetatable(r).__gc(r); return r:avg()`, "ring already destroyed"},
		{`return ring.push({}, 1)`, ""},
		{`local r = ring(1); return r.push({}, 1)`, "luamon.Ring expected"},
	}
	for _, tt := range tests {
		err := eval(t, s, tt.src)
		if err == nil {
			t.Errorf("%s: expected an error", tt.src)
			continue
		}
		var le *luabind.Error
		if !errors.As(err, &le) {
			t.Errorf("%s: expected *Error, got %T", tt.src, err)
		}
		if !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("%s: error %q does not mention %q", tt.src, err.Error(), tt.wantErr)
		}
		if s.GetTop() != 0 {
			t.Errorf("%s: stack depth %d", tt.src, s.GetTop())
		}
	}
}

func TestNativesReportCheckErrors(t *testing.T) {
	r := newTestRunner()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   luabind.Function
		args func(s *luabind.State)
		arg  int
	}{
		{"execi", r.luaExecI(ctx), func(s *luabind.State) {
			s.PushString("soon")
			s.PushString("echo")
		}, 1},
		{"log", r.luaLog(ctx), func(s *luabind.State) {
			s.PushString("loud")
			s.PushString("x")
		}, 1},
		{"ring", luaRing, func(s *luabind.State) {
			s.PushNumber(1e10)
		}, 1},
		{"push", ringPush, func(s *luabind.State) {
			s.PushInteger(2)
			luaRing(s)
			s.Remove(1)
			s.NewTable()
		}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t)
			defer s.Close()

			tt.args(s)
			_, err := tt.fn(s)
			var ce *luabind.CheckError
			if !errors.As(err, &ce) {
				t.Fatalf("expected a CheckError, got %T: %v", err, err)
			}
			if ce.Arg != tt.arg {
				t.Errorf("Arg = %d, want %d", ce.Arg, tt.arg)
			}
		})
	}
}

func TestLogNative(t *testing.T) {
	var records []string
	logger := slog.New(slog.NewTextHandler(writerFunc(func(p []byte) (int, error) {
		records = append(records, string(p))
		return len(p), nil
	}), &slog.HandlerOptions{Level: slog.LevelDebug}))

	s := luabind.New()
	defer s.Close()
	if err := Register(context.Background(), s, NewRunner("/bin/sh", 0, logger)); err != nil {
		t.Fatal(err)
	}
	if err := eval(t, s, `log("warn", "disk almost full")`); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || !strings.Contains(records[0], "level=WARN") ||
		!strings.Contains(records[0], `msg="disk almost full"`) {
		t.Errorf("unexpected records %q", records)
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
