package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ivan-cavero/Ignis/pkg/logger"
)

// Stream is the broadcast channel name audit entries are published on.
const Stream = "audit"

// Broadcaster receives every entry as a JSON payload.
type Broadcaster interface {
	Broadcast(stream string, payload []byte)
}

// Options configures a Logger. An empty Dir disables the daily file.
type Options struct {
	Dir         string
	Prefix      string
	Console     io.Writer
	Fallback    io.Writer
	Color       bool
	Now         func() time.Time
	Broadcaster Broadcaster
}

// Logger writes audit entries to the console and to one append-only file per
// calendar day. File problems are reported on the fallback writer and never
// surface to callers.
type Logger struct {
	mu     sync.Mutex
	opts   Options
	file   *os.File
	day    string
	logger *slog.Logger
}

// New constructs a Logger. The log directory is created on first write.
func New(opts Options, log *slog.Logger) *Logger {
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.Fallback == nil {
		opts.Fallback = os.Stderr
	}
	if opts.Prefix == "" {
		opts.Prefix = "webhook"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Logger{opts: opts, logger: log}
}

// Discard returns a Logger that writes nowhere.
func Discard() *Logger {
	return New(Options{Console: io.Discard, Fallback: io.Discard}, nil)
}

func (l *Logger) Info(msg string, kv ...any)    { l.Log(LevelInfo, msg, kv...) }
func (l *Logger) Success(msg string, kv ...any) { l.Log(LevelSuccess, msg, kv...) }
func (l *Logger) Warning(msg string, kv ...any) { l.Log(LevelWarning, msg, kv...) }
func (l *Logger) Error(msg string, kv ...any)   { l.Log(LevelError, msg, kv...) }

// Log records one entry. kv is a flat list of alternating keys and values.
func (l *Logger) Log(level Level, msg string, kv ...any) {
	entry := Entry{
		Time:    l.opts.Now(),
		Level:   level,
		Message: msg,
		Fields:  fields(kv),
	}

	l.mu.Lock()
	line := entry.Line()
	if _, err := io.WriteString(l.opts.Console, entry.render(l.opts.Color)+"\n"); err != nil {
		l.logger.Warn("audit console write failed", "error", err)
	}
	if l.opts.Dir != "" {
		if err := l.appendFile(entry.Time, line); err != nil {
			fmt.Fprintf(l.opts.Fallback, "audit log unavailable: %v\n%s\n", err, line)
		}
	}
	broadcaster := l.opts.Broadcaster
	l.mu.Unlock()

	if broadcaster != nil {
		data, err := json.Marshal(entry.payload())
		if err != nil {
			l.logger.Warn("failed to marshal audit payload", "error", err)
			return
		}
		broadcaster.Broadcast(Stream, data)
	}
}

// FilePath returns the daily file an entry written at t lands in.
func (l *Logger) FilePath(t time.Time) string {
	return filepath.Join(l.opts.Dir, fmt.Sprintf("%s-%s.log", l.opts.Prefix, t.Format("2006-01-02")))
}

func (l *Logger) appendFile(t time.Time, line string) error {
	day := t.Format("2006-01-02")
	if l.file == nil || l.day != day {
		if l.file != nil {
			_ = l.file.Close()
			l.file = nil
		}
		if err := os.MkdirAll(l.opts.Dir, 0o750); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(l.FilePath(t), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		l.day = day
	}
	if _, err := l.file.WriteString(line + "\n"); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("write log file: %w", err)
	}
	return nil
}

// Close releases the current daily file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
