// Package logs builds the slog logger shared by the host commands.
package logs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Level is the minimum level of every logger built by New.
var Level = new(slog.LevelVar)

// ParseLevel sets Level from a name such as "debug" or "warn".
func ParseLevel(name string) error {
	return Level.UnmarshalText([]byte(name))
}

// New returns a logger writing text to w, and to the systemd journal when it
// is reachable. Under a systemd service the text output is dropped, since
// the journal already captures it.
func New(w io.Writer) *slog.Logger {
	var handlers []slog.Handler

	var terminal slog.Handler
	if !isSystemdService() {
		terminal = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: Level,
		})
		handlers = append(handlers, terminal)
	}

	journal, err := slogjournal.NewHandler(&slogjournal.Options{
		ReplaceGroup: func(key string) string {
			return toJournalKey(key)
		},
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			a.Key = toJournalKey(a.Key)
			return a
		},
	})
	if err == nil {
		handlers = append(handlers, &leveled{Handler: journal})
	}

	logger := slog.New(slogmulti.Fanout(handlers...))
	if err != nil && terminal != nil {
		logger.Debug("systemd journal unavailable", "error", err)
	}
	return logger
}

// leveled applies Level to a handler that has no level option.
type leveled struct {
	slog.Handler
}

func (h *leveled) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= Level.Level() && h.Handler.Enabled(ctx, level)
}

func (h *leveled) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &leveled{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *leveled) WithGroup(name string) slog.Handler {
	return &leveled{Handler: h.Handler.WithGroup(name)}
}

func toJournalKey(str string) string {
	str = strings.ToUpper(str)
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' ||
			r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, str)
}

func isSystemdService() bool {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	parts := strings.Split(strings.TrimSpace(string(content)), ":")
	if len(parts) < 3 {
		return false
	}
	return strings.HasSuffix(path.Dir(parts[2]), ".service")
}
