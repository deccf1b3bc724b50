// Package transcript persists per-session NDJSON logs of the frames
// exchanged with clients, so agent runs can be inspected offline.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const defaultQueueSize = 1000

// Config controls transcript logging. Disabled loggers are no-ops.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one logged frame. Content is a cleaned copy of ContentRaw
// with terminal escape noise removed; the logger fills it when empty.
type Event struct {
	Timestamp  string         `json:"timestamp"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Direction  string         `json:"direction"` // inbound | outbound
	Frame      string         `json:"frame"`     // event type or command name
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger records session frames. Log never blocks the caller.
type Logger interface {
	Log(ev Event)
	Close() error
}

// Noop returns a logger that records nothing.
func Noop() Logger {
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Log(Event) {}

func (noopLogger) Close() error { return nil }

// New creates a transcript logger. When cfg.Enabled is false the
// returned logger is a no-op.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return noopLogger{}, nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("transcript dir cannot be empty when enabled")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	l := &fileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
		logger: logger,
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

type fileLogger struct {
	dir       string
	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	files     map[string]*os.File // owned by the run goroutine
	dropped   atomic.Int64
	logger    *slog.Logger
}

// Log enqueues one frame. Under backpressure the oldest queued frame is
// dropped so live sessions never stall on disk I/O.
func (l *fileLogger) Log(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if ev.Content == "" && ev.ContentRaw != "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}

	select {
	case l.queue <- ev:
		return
	default:
	}

	select {
	case <-l.queue:
		l.dropped.Add(1)
	default:
	}
	select {
	case l.queue <- ev:
	default:
		l.dropped.Add(1)
	}
}

// Close flushes queued frames and closes the open files. Safe to call
// more than once.
func (l *fileLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		l.logger.Warn("Transcript logger close timed out")
	}

	if n := l.dropped.Load(); n > 0 {
		l.logger.Warn("Transcript frames dropped under backpressure", "dropped", n)
	}
	return nil
}

func (l *fileLogger) run() {
	defer l.wg.Done()
	defer func() {
		for _, f := range l.files {
			_ = f.Close()
		}
	}()

	for {
		select {
		case ev := <-l.queue:
			l.write(ev)
		case <-l.done:
			for {
				select {
				case ev := <-l.queue:
					l.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (l *fileLogger) write(ev Event) {
	f, err := l.sessionFile(ev.UserID, ev.SessionID)
	if err != nil {
		l.logger.Warn("Transcript file unavailable", "user_id", ev.UserID, "session_id", ev.SessionID, "error", err)
		return
	}

	line, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("Transcript frame not serializable", "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("Transcript write failed", "error", err)
	}
}

func (l *fileLogger) sessionFile(userID, sessionID string) (*os.File, error) {
	key := userID + "/" + sessionID
	if f, ok := l.files[key]; ok {
		return f, nil
	}

	userDir := filepath.Join(l.dir, sanitizeComponent(userID))
	if err := os.MkdirAll(userDir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(userDir, sanitizeComponent(sessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	l.files[key] = f
	return f, nil
}

// sanitizeComponent keeps IDs filesystem-safe.
func sanitizeComponent(s string) string {
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if strings.Trim(out, ".") == "" {
		return "unknown"
	}
	return out
}

var (
	ansiCSI  = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	ansiOSC  = regexp.MustCompile(`\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)
	ctrlRuns = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]+`)
)

// cleanForReadability strips terminal escape sequences and control
// bytes so shell output reads cleanly in the transcript.
func cleanForReadability(raw string) string {
	s := ansiOSC.ReplaceAllString(raw, "")
	s = ansiCSI.ReplaceAllString(s, "")
	s = ctrlRuns.ReplaceAllString(s, "")
	return s
}
