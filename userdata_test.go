package luabind_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/feather-lang/luabind"
)

// =============================================================================
// Test types
// =============================================================================

type tracked struct {
	id        int
	destroyed *map[int]int
}

func (t *tracked) Destroy() error {
	(*t.destroyed)[t.id]++
	return nil
}

type faulty struct {
	panics bool
	count  *int
}

func (f *faulty) Destroy() error {
	*f.count++
	if f.panics {
		panic("destructor panic")
	}
	return errors.New("destructor error")
}

func newTracked(t *testing.T, s *luabind.State, id int, destroyed *map[int]int) *tracked {
	t.Helper()
	p, err := luabind.NewUserdata(s, func(p *tracked) error {
		p.id = id
		p.destroyed = destroyed
		return nil
	})
	if err != nil {
		t.Fatalf("NewUserdata failed: %v", err)
	}
	s.NewMetatable("tracked")
	luabind.PushDestructor[tracked](s)
	s.RawSetField(-2, "__gc")
	s.SetMetatable(-2)
	return p
}

// =============================================================================
// Tests
// =============================================================================

func TestNewUserdata(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	destroyed := map[int]int{}
	p := newTracked(t, s, 1, &destroyed)
	if s.GetTop() != 1 || !s.IsUserdata(1) {
		t.Fatalf("expected one userdata on the stack")
	}
	if s.ToUserdata(1) != p {
		t.Errorf("ToUserdata does not return the allocated value")
	}
	got, err := luabind.CheckUserdata[tracked](s, 1, "tracked")
	if err != nil || got != p {
		t.Errorf("CheckUserdata = %p, %v", got, err)
	}
	if _, err := luabind.CheckUserdata[tracked](s, 1, "other"); err == nil {
		t.Errorf("CheckUserdata with the wrong type name should fail")
	}
}

func TestNewUserdataInitError(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	s.PushString("caller")
	p, err := luabind.NewUserdata(s, func(p *tracked) error {
		return errors.New("cannot build")
	})
	if err == nil || p != nil {
		t.Fatalf("expected the init error, got %v, %v", p, err)
	}
	if s.GetTop() != 1 {
		t.Errorf("depth %d, want 1", s.GetTop())
	}
}

func TestNewUserdataInitPanic(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	destroyed := map[int]int{}
	s.PushString("caller")
	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("expected the init panic")
			}
		}()
		luabind.NewUserdata(s, func(p *tracked) error {
			p.id = 1
			p.destroyed = &destroyed
			panic("half built")
		})
	}()
	if s.GetTop() != 1 {
		t.Errorf("depth %d, want 1", s.GetTop())
	}

	s.Close()
	if len(destroyed) != 0 {
		t.Errorf("partially built value was finalized: %v", destroyed)
	}
}

func TestDestroyedOnceAtClose(t *testing.T) {
	s := luabind.New()

	destroyed := map[int]int{}
	newTracked(t, s, 1, &destroyed)
	newTracked(t, s, 2, &destroyed)
	s.SetTop(0)

	s.Close()
	s.Close()
	for _, id := range []int{1, 2} {
		if destroyed[id] != 1 {
			t.Errorf("userdata %d destroyed %d times, want 1", id, destroyed[id])
		}
	}
}

func TestDestroyedOnceWhenCollected(t *testing.T) {
	s := luabind.New()

	destroyed := map[int]int{}
	newTracked(t, s, 1, &destroyed)
	newTracked(t, s, 2, &destroyed)
	s.SetTop(0)

	for i := 0; i < 50 && len(destroyed) < 2; i++ {
		runtime.GC()
		if _, err := s.GC(luabind.GCCollect, 0); err != nil {
			t.Fatal(err)
		}
	}
	for _, id := range []int{1, 2} {
		if destroyed[id] != 1 {
			t.Errorf("userdata %d destroyed %d times after collection, want 1", id, destroyed[id])
		}
	}

	for i := 0; i < 3; i++ {
		runtime.GC()
		s.GC(luabind.GCCollect, 0)
	}
	s.Close()
	for _, id := range []int{1, 2} {
		if destroyed[id] != 1 {
			t.Errorf("userdata %d destroyed %d times after Close, want 1", id, destroyed[id])
		}
	}
}

func TestDestroyedOnceWhenCalledFromScript(t *testing.T) {
	s := luabind.New()

	destroyed := map[int]int{}
	newTracked(t, s, 1, &destroyed)
	if err := s.SetGlobal("u"); err != nil {
		t.Fatal(err)
	}
	if err := run(t, s, "local gc = getmetatable(u).__gc; gc(u); gc(u)", 0); err != nil {
		t.Fatal(err)
	}
	if destroyed[1] != 1 {
		t.Errorf("destroyed %d times before Close, want 1", destroyed[1])
	}
	s.Close()
	if destroyed[1] != 1 {
		t.Errorf("destroyed %d times after Close, want 1", destroyed[1])
	}
}

func TestDestructorFailuresSwallowed(t *testing.T) {
	s := luabind.New()

	count := 0
	for _, panics := range []bool{false, true} {
		_, err := luabind.NewUserdata(s, func(f *faulty) error {
			f.panics = panics
			f.count = &count
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		s.NewMetatable("faulty")
		luabind.PushDestructor[faulty](s)
		s.RawSetField(-2, "__gc")
		s.SetMetatable(-2)
	}

	s.Close()
	if count != 2 {
		t.Errorf("ran %d destructors, want 2", count)
	}
}

func TestUserdataWithoutDestructor(t *testing.T) {
	s := luabind.New()

	destroyed := map[int]int{}
	_, err := luabind.NewUserdata(s, func(p *tracked) error {
		p.id = 1
		p.destroyed = &destroyed
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	if destroyed[1] != 0 {
		t.Errorf("userdata without __gc was destroyed")
	}
}

func TestPushDestructorIsShared(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	luabind.PushDestructor[tracked](s)
	luabind.PushDestructor[tracked](s)
	if !s.RawEqual(-1, -2) {
		t.Errorf("expected the same function for the same type")
	}
	luabind.PushDestructor[faulty](s)
	if s.RawEqual(-1, -2) {
		t.Errorf("expected different functions for different types")
	}
}

type empty struct{}

func TestZeroSizeUserdataDistinct(t *testing.T) {
	s := luabind.New()
	defer s.Close()

	a, err := luabind.NewUserdata[empty](s, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := luabind.NewUserdata[empty](s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("two userdata share one value")
	}
}
