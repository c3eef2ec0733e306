package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/feather-lang/luabind"
	"github.com/feather-lang/luabind/internal/config"
	"github.com/feather-lang/luabind/internal/monitor"
	"github.com/fsnotify/fsnotify"
)

// host owns the Lua state running the monitor script.
type host struct {
	ctx    context.Context
	cfg    config.Config
	logger *slog.Logger
	out    io.Writer
	runner *monitor.Runner

	s *luabind.State
}

func newHost(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) *host {
	return &host{
		ctx:    ctx,
		cfg:    cfg,
		logger: logger,
		out:    out,
		runner: monitor.NewRunner(cfg.Exec.Shell, cfg.Exec.Timeout, logger),
	}
}

// load runs the script in a fresh state. The running state is replaced only
// when the script loads and defines update().
func (h *host) load() error {
	opts := []luabind.Option{luabind.WithLogger(h.logger)}
	if !h.cfg.Stdlib {
		opts = append(opts, luabind.WithoutStdlib())
	}
	s := luabind.New(opts...)

	if err := h.setup(s); err != nil {
		s.Close()
		return err
	}

	if h.s != nil {
		h.s.Close()
	}
	h.s = s
	h.logger.Info("script loaded", "script", h.cfg.Script)
	return nil
}

func (h *host) setup(s *luabind.State) error {
	if err := monitor.Register(h.ctx, s, h.runner); err != nil {
		return err
	}
	if err := s.LoadFile(h.cfg.Script); err != nil {
		return err
	}
	if err := s.Call(0, 0, 0); err != nil {
		return err
	}

	sentry := s.Sentry(0)
	defer sentry.Restore()
	if err := s.GetGlobal("update"); err != nil {
		return err
	}
	if !s.IsFunction(-1) {
		return fmt.Errorf("%s does not define update()", h.cfg.Script)
	}
	return nil
}

// update calls update() and prints what it returns. A nil result prints
// nothing.
func (h *host) update() error {
	s := h.s
	sentry := s.Sentry(0)
	defer sentry.Restore()

	if err := s.GetGlobal("update"); err != nil {
		return err
	}
	if err := s.Call(0, 1, 0); err != nil {
		return err
	}
	if s.IsNil(-1) {
		return nil
	}
	line, err := s.ToString(-1)
	if err != nil {
		return fmt.Errorf("update() returned a %s: %w", s.TypeName(s.Type(-1)), err)
	}
	_, err = fmt.Fprintln(h.out, line)
	return err
}

func (h *host) close() {
	if h.s != nil {
		h.s.Close()
	}
	h.runner.Wait()
}

// run calls update() every interval until the context is done, reloading the
// script when it changes.
func (h *host) run() error {
	var changes <-chan struct{}
	if h.cfg.Watch {
		c, err := h.watch()
		if err != nil {
			return err
		}
		changes = c
	}

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.tick()
	for {
		select {
		case <-h.ctx.Done():
			return nil
		case <-changes:
			if err := h.load(); err != nil {
				h.logger.Error("reloading script failed, keeping the old one", "error", err)
			}
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *host) tick() {
	err := h.update()
	if err == nil {
		return
	}
	var le *luabind.Error
	if errors.As(err, &le) {
		h.logger.Warn("update() failed", "error", err)
		le.Release()
		return
	}
	h.logger.Error("update failed", "error", err)
}

// watch reports changes of the script file. Editors often replace files, so
// the directory is watched and events are debounced.
func (h *host) watch() (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	script, err := filepath.Abs(h.cfg.Script)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(script)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch script directory: %w", err)
	}

	changes := make(chan struct{}, 1)
	go func() {
		defer func() { _ = watcher.Close() }()

		var debounce *time.Timer
		const debounceDelay = 200 * time.Millisecond

		for {
			select {
			case <-h.ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != script {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					select {
					case changes <- struct{}{}:
					default:
					}
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Warn("file watcher error", "error", err)
			}
		}
	}()
	return changes, nil
}
