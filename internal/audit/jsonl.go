package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// maxLineBytes bounds one JSONL event when reading the log back.
const maxLineBytes = 4 << 20

// FileSink writes audit events as append-only JSONL.
// Each event is a single JSON line followed by a newline.
// Thread-safe: multiple goroutines can record concurrently.
type FileSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger *slog.Logger
}

// NewFileSink opens (or creates) the audit file in append-only mode.
// File permissions are 0600 (owner read/write only).
func NewFileSink(path string, logger *slog.Logger) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("audit path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &FileSink{path: path, file: f, logger: logger}, nil
}

// Record serializes the event as JSON and appends it to the file.
// Marshal happens outside the lock; only the file write is serialized.
func (s *FileSink) Record(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	_, writeErr := s.file.Write(data)
	s.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("writing audit event: %w", writeErr)
	}

	s.logger.DebugContext(ctx, "audit event recorded",
		slog.String("tool", event.Tool),
		slog.String("kind", event.Kind),
		slog.String("correlation_id", event.CorrelationID),
	)
	return nil
}

// Query scans the file and returns matching events, newest first.
func (s *FileSink) Query(ctx context.Context, correlationID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", s.path, err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for line := 1; sc.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s:%d: decoding audit event: %w", s.path, line, err)
		}
		if correlationID == "" || e.CorrelationID == correlationID {
			events = append(events, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading audit log %s: %w", s.path, err)
	}

	slices.Reverse(events)
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
