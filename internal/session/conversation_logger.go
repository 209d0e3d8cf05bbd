package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one line in a conversation log file.
type ConversationLogEvent struct {
	Timestamp      string         `json:"ts"`
	VisitorID      string         `json:"visitor_id"`
	SessionID      string         `json:"session_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Channel        string         `json:"channel"`
	Direction      string         `json:"direction"`
	EventType      string         `json:"event_type"`
	Content        string         `json:"content"`
	ContentRaw     string         `json:"content_raw"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// EventConversationClosed is the last event logged for a conversation. The
// file logger releases that conversation's file once it is written.
const EventConversationClosed = "conversation_closed"

// ConversationLogger records conversation events without blocking the caller.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

type fileConversationLogger struct {
	cfg   ConversationLogConfig
	log   *slog.Logger
	queue chan ConversationLogEvent
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	filesMu sync.Mutex
	files   map[string]*os.File
}

// NewConversationLogger returns a logger that appends events to
// <dir>/<visitor>/<session>.ndjson, and to GlobalPath when GlobalEnabled.
// A disabled config yields a logger that discards everything.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l := &fileConversationLogger{
		cfg:   cfg,
		log:   logger,
		queue: make(chan ConversationLogEvent, cfg.QueueSize),
		done:  make(chan struct{}),
		files: make(map[string]*os.File),
	}
	go l.run()
	return l, nil
}

// Log enqueues an event. A full queue drops the event, except for
// EventConversationClosed which waits for room.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}
	if event.EventType == EventConversationClosed {
		// Never dropped, or the conversation's file would stay open.
		l.queue <- event
		return
	}
	select {
	case l.queue <- event:
	default:
		l.log.Warn("Conversation log queue full, dropping event",
			"visitor_id", event.VisitorID,
			"session_id", event.SessionID,
			"event_type", event.EventType)
	}
}

// Close flushes queued events and closes open files.
func (l *fileConversationLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done

	l.filesMu.Lock()
	defer l.filesMu.Unlock()
	var firstErr error
	for path, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", path, err)
		}
		delete(l.files, path)
	}
	return firstErr
}

func (l *fileConversationLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.log.Warn("Failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		path := filepath.Join(l.cfg.Dir, safePathPart(event.VisitorID), safePathPart(event.SessionID)+".ndjson")
		l.write(path, line)
		if l.cfg.GlobalEnabled {
			l.write(l.cfg.GlobalPath, line)
		}
		if event.EventType == EventConversationClosed && path != l.cfg.GlobalPath {
			l.release(path)
		}
	}
}

func (l *fileConversationLogger) write(path string, line []byte) {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()

	f, ok := l.files[path]
	if !ok {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			l.log.Warn("Failed to create conversation log dir", "path", path, "error", err)
			return
		}
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			l.log.Warn("Failed to open conversation log", "path", path, "error", err)
			return
		}
		l.files[path] = f
	}
	if _, err := f.Write(line); err != nil {
		l.log.Warn("Failed to write conversation log", "path", path, "error", err)
	}
}

// release closes and forgets the file for path. A later event for the same
// path reopens it in append mode.
func (l *fileConversationLogger) release(path string) {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()

	f, ok := l.files[path]
	if !ok {
		return
	}
	delete(l.files, path)
	if err := f.Close(); err != nil {
		l.log.Warn("Failed to close conversation log", "path", path, "error", err)
	}
}

func (l *fileConversationLogger) openFiles() int {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()
	return len(l.files)
}

var (
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscPattern      = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
	unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// cleanForReadability strips terminal escape sequences and control
// characters other than newlines and tabs.
func cleanForReadability(raw string) string {
	s := oscPattern.ReplaceAllString(raw, "")
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func safePathPart(s string) string {
	s = unsafePathChars.ReplaceAllString(s, "_")
	s = strings.TrimLeft(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}
