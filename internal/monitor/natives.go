package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/feather-lang/luabind"
)

const ringType = "luamon.Ring"

// Register installs the host functions into s:
//
//	exec(cmd)             output of cmd
//	execi(interval, cmd)  output of cmd, rerun at most every interval seconds
//	execbar(cmd)          number between 0 and 100 read from the output of cmd
//	log(level, msg)       log msg at "debug", "info", "warn" or "error"
//	ring(size)            new Ring with push, avg, max and len methods
//
// Commands run with ctx.
func Register(ctx context.Context, s *luabind.State, r *Runner) error {
	natives := []struct {
		name string
		fn   luabind.Function
	}{
		{"exec", r.luaExec(ctx)},
		{"execi", r.luaExecI(ctx)},
		{"execbar", r.luaExecBar(ctx)},
		{"log", r.luaLog(ctx)},
		{"ring", luaRing},
	}
	for _, n := range natives {
		if err := s.Register(n.name, n.fn); err != nil {
			return fmt.Errorf("register %s: %w", n.name, err)
		}
	}
	registerRingType(s)
	return nil
}

func (r *Runner) luaExec(ctx context.Context) luabind.Function {
	return func(s *luabind.State) (int, error) {
		if err := s.CheckArgNo(1); err != nil {
			return 0, err
		}
		cmd, err := s.CheckString(1)
		if err != nil {
			return 0, err
		}
		out, err := r.Exec(ctx, cmd)
		if err != nil {
			return 0, err
		}
		s.PushString(out)
		return 1, nil
	}
}

func (r *Runner) luaExecI(ctx context.Context) luabind.Function {
	return func(s *luabind.State) (int, error) {
		if err := s.CheckArgNo(2); err != nil {
			return 0, err
		}
		secs, err := s.CheckNumber(1)
		if err != nil {
			return 0, err
		}
		interval := time.Duration(secs * float64(time.Second))
		cmd, err := s.CheckString(2)
		if err != nil {
			return 0, err
		}
		out, err := r.ExecI(ctx, interval, cmd)
		if err != nil {
			return 0, err
		}
		s.PushString(out)
		return 1, nil
	}
}

func (r *Runner) luaExecBar(ctx context.Context) luabind.Function {
	return func(s *luabind.State) (int, error) {
		if err := s.CheckArgNo(1); err != nil {
			return 0, err
		}
		cmd, err := s.CheckString(1)
		if err != nil {
			return 0, err
		}
		out, err := r.Exec(ctx, cmd)
		if err != nil {
			return 0, err
		}
		n, err := BarNum(out)
		if err != nil {
			r.logger.Warn("ignoring bar value", "cmd", cmd, "error", err)
		}
		s.PushNumber(n)
		return 1, nil
	}
}

func (r *Runner) luaLog(ctx context.Context) luabind.Function {
	return func(s *luabind.State) (int, error) {
		if err := s.CheckArgNo(2); err != nil {
			return 0, err
		}
		name, err := s.CheckString(1)
		if err != nil {
			return 0, err
		}
		msg, err := s.CheckString(2)
		if err != nil {
			return 0, err
		}
		var level slog.Level
		if err := level.UnmarshalText([]byte(name)); err != nil {
			return 0, &luabind.CheckError{
				Arg: 1,
				Msg: fmt.Sprintf("bad argument #1 (unknown level %s)", luabind.Quote(name)),
			}
		}
		r.logger.Log(ctx, level, msg, "source", "lua")
		return 0, nil
	}
}

// -----------------------------------------------------------------------------
// Ring userdata
// -----------------------------------------------------------------------------

func registerRingType(s *luabind.State) {
	s.NewMetatable(ringType)
	s.PushValue(-1)
	s.RawSetField(-2, "__index")
	luabind.PushDestructor[Ring](s)
	s.RawSetField(-2, "__gc")

	methods := []struct {
		name string
		fn   luabind.Function
	}{
		{"push", ringPush},
		{"avg", ringStat((*Ring).Avg)},
		{"max", ringStat((*Ring).Max)},
		{"len", ringLen},
	}
	for _, m := range methods {
		s.PushFunction(m.fn)
		s.RawSetField(-2, m.name)
	}
	s.Pop(1)
}

func luaRing(s *luabind.State) (int, error) {
	if err := s.CheckArgNo(1); err != nil {
		return 0, err
	}
	n, err := s.CheckNumber(1)
	if err != nil {
		return 0, err
	}
	if !(n >= 1 && n <= MaxRingSize) {
		return 0, &luabind.CheckError{
			Arg: 1,
			Msg: fmt.Sprintf("bad argument #1 (ring size must be between 1 and %d)", MaxRingSize),
		}
	}
	if _, err := luabind.NewUserdata(s, func(r *Ring) error {
		return r.init(int(n))
	}); err != nil {
		return 0, err
	}
	s.NewMetatable(ringType)
	s.SetMetatable(-2)
	return 1, nil
}

// checkRing returns argument 1 as a live ring.
func checkRing(s *luabind.State) (*Ring, error) {
	r, err := luabind.CheckUserdata[Ring](s, 1, ringType)
	if err != nil {
		return nil, err
	}
	if r.Destroyed() {
		return nil, errRingDestroyed
	}
	return r, nil
}

func ringPush(s *luabind.State) (int, error) {
	r, err := checkRing(s)
	if err != nil {
		return 0, err
	}
	v, err := s.CheckNumber(2)
	if err != nil {
		return 0, err
	}
	return 0, r.Push(v)
}

func ringStat(stat func(*Ring) float64) luabind.Function {
	return func(s *luabind.State) (int, error) {
		r, err := checkRing(s)
		if err != nil {
			return 0, err
		}
		s.PushNumber(stat(r))
		return 1, nil
	}
}

func ringLen(s *luabind.State) (int, error) {
	r, err := checkRing(s)
	if err != nil {
		return 0, err
	}
	s.PushInteger(int64(r.Len()))
	return 1, nil
}
