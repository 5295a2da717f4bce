package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	streams  []string
	payloads [][]byte
}

func (r *recordingBroadcaster) Broadcast(stream string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams = append(r.streams, stream)
	r.payloads = append(r.payloads, payload)
}

func fixedClock(ts ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := ts[i]
		if i < len(ts)-1 {
			i++
		}
		return t
	}
}

func TestLineFormat(t *testing.T) {
	entry := Entry{
		Time:    time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC),
		Level:   LevelSuccess,
		Message: "component deployed",
		Fields:  fields([]any{"component", "backend", "output", "two words", "empty", ""}),
	}
	want := `[2024-03-09 14:05:07] [SUCCESS] component deployed component=backend output="two words" empty=""`
	if got := entry.Line(); got != want {
		t.Fatalf("line mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestLoggerWritesConsoleAndDailyFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	var console bytes.Buffer
	day1 := time.Date(2024, 1, 31, 23, 59, 59, 0, time.Local)
	day2 := day1.Add(2 * time.Second)
	logger := New(Options{Dir: dir, Prefix: "webhook", Console: &console, Now: fixedClock(day1, day1, day2)}, nil)
	defer logger.Close()

	logger.Info("first")
	logger.Warning("second", "branch", "main")
	logger.Error("third")

	first, err := os.ReadFile(filepath.Join(dir, "webhook-2024-01-31.log"))
	if err != nil {
		t.Fatalf("read first day: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(first)), "\n"); len(lines) != 2 {
		t.Fatalf("expected two lines on day one, got %q", first)
	}
	if !strings.Contains(string(first), "[WARNING] second branch=main") {
		t.Fatalf("missing warning line: %q", first)
	}
	second, err := os.ReadFile(filepath.Join(dir, "webhook-2024-02-01.log"))
	if err != nil {
		t.Fatalf("read second day: %v", err)
	}
	if !strings.Contains(string(second), "[ERROR] third") {
		t.Fatalf("missing error line: %q", second)
	}
	if strings.Count(console.String(), "\n") != 3 {
		t.Fatalf("expected three console lines, got %q", console.String())
	}
	if strings.Contains(console.String(), "\x1b[") {
		t.Fatalf("console output should not be coloured")
	}
}

func TestLoggerAppendsToExistingFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.Local)
	path := filepath.Join(dir, "webhook-2024-05-01.log")
	if err := os.WriteFile(path, []byte("previous\n"), 0o640); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	logger := New(Options{Dir: dir, Console: &bytes.Buffer{}, Now: fixedClock(now)}, nil)
	logger.Info("next")
	_ = logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(data), "previous\n") || !strings.Contains(string(data), "[INFO] next") {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestLoggerFallsBackWhenFileUnavailable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("seed blocker: %v", err)
	}
	var console, fallback bytes.Buffer
	logger := New(Options{Dir: filepath.Join(blocker, "logs"), Console: &console, Fallback: &fallback}, nil)

	logger.Error("disk trouble", "component", "proxy")

	if !strings.Contains(console.String(), "[ERROR] disk trouble component=proxy") {
		t.Fatalf("console line missing: %q", console.String())
	}
	if !strings.Contains(fallback.String(), "audit log unavailable") || !strings.Contains(fallback.String(), "disk trouble") {
		t.Fatalf("fallback missing details: %q", fallback.String())
	}
}

func TestLoggerColoursConsoleOnly(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.Local)
	logger := New(Options{Dir: dir, Console: &console, Color: true, Now: fixedClock(now)}, nil)
	logger.Success("done")
	_ = logger.Close()

	if !strings.Contains(console.String(), ansiGreen+"SUCCESS"+ansiReset) {
		t.Fatalf("expected coloured level, got %q", console.String())
	}
	data, _ := os.ReadFile(logger.FilePath(now))
	if strings.Contains(string(data), "\x1b[") {
		t.Fatalf("file must not contain escape codes: %q", data)
	}
}

func TestLoggerBroadcastsJSON(t *testing.T) {
	sink := &recordingBroadcaster{}
	logger := New(Options{Console: &bytes.Buffer{}, Broadcaster: sink}, nil)
	logger.Warning("branch ignored", "branch", "feature/x")

	if len(sink.payloads) != 1 || sink.streams[0] != Stream {
		t.Fatalf("expected one audit payload, got %d", len(sink.payloads))
	}
	var got struct {
		Time    string            `json:"time"`
		Level   Level             `json:"level"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(sink.payloads[0], &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Level != LevelWarning || got.Message != "branch ignored" || got.Fields["branch"] != "feature/x" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if _, err := time.Parse(time.RFC3339, got.Time); err != nil {
		t.Fatalf("time not RFC3339: %v", err)
	}
}

func TestLevelText(t *testing.T) {
	var l Level
	if err := l.UnmarshalText([]byte("warn")); err != nil || l != LevelWarning {
		t.Fatalf("expected warning, got %v (%v)", l, err)
	}
	if err := l.UnmarshalText([]byte("loud")); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
