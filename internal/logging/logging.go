// Package logging builds the launcher's logger: console output plus an
// append-only log file, or the systemd journal when running as a service.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// LauncherLogName is the launcher's own log file inside the logs directory.
const LauncherLogName = "localis_launcher.log"

// Options configures New.
type Options struct {
	// LogsDir receives LauncherLogName. Empty disables the file handler.
	LogsDir string
	// Console receives human-readable records. Defaults to os.Stdout.
	Console io.Writer
	Level   slog.Level
	// RunID is attached to every record.
	RunID string
	// Journal enables the systemd journal handler. Nil means detect.
	Journal *bool
}

// Logger is a logger plus the file it writes to.
type Logger struct {
	*slog.Logger
	file *os.File
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// New creates the logger. It is called once per run, after the install root
// is known, and the result is handed to each component.
func New(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	useJournal := isSystemdService()
	if opts.Journal != nil {
		useJournal = *opts.Journal
	}

	var handlers []slog.Handler
	var warnings []string

	// Under systemd the journal already captures stdout; avoid duplicates
	if !useJournal {
		handlers = append(handlers, slog.NewTextHandler(console, handlerOpts))
	} else {
		journal, err := slogjournal.NewHandler(&slogjournal.Options{
			Level: opts.Level,
			ReplaceGroup: func(key string) string {
				return toJournalKey(key)
			},
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("systemd journal unavailable: %v", err))
			handlers = append(handlers, slog.NewTextHandler(console, handlerOpts))
		} else {
			handlers = append(handlers, journal)
		}
	}

	var file *os.File
	if opts.LogsDir != "" {
		if err := os.MkdirAll(opts.LogsDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create logs directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(opts.LogsDir, LauncherLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open launcher log: %w", err)
		}
		file = f
		handlers = append(handlers, slog.NewJSONHandler(f, handlerOpts))
	}

	logger := slog.New(slogmulti.Fanout(handlers...))
	if opts.RunID != "" {
		logger = logger.With("run_id", opts.RunID)
	}
	for _, w := range warnings {
		logger.Warn(w)
	}
	return &Logger{Logger: logger, file: file}, nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// Discard returns a logger that drops everything, for tests and read-only commands.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func toJournalKey(str string) string {
	str = strings.ToUpper(str)
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
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
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		unit := path.Base(path.Dir(parts[2]))
		// user@UID.service hosts interactive session scopes
		if strings.HasSuffix(unit, ".service") && !strings.HasPrefix(unit, "user@") {
			return true
		}
	}
	return false
}
