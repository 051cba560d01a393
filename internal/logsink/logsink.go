// Package logsink implements the client-facing LOG wire verb: a
// plain append-only text file, with optional stdout replication.
// This is distinct from the operator-facing zap diagnostic logger —
// it is the hub's own external interface, not an internal concern.
package logsink

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Sink appends LOG entries to a file, best-effort and never blocking
// a client on a write failure.
type Sink struct {
	mu              sync.Mutex
	file            *os.File
	replicateStdout bool
}

// Open opens (creating if necessary) the log file at path. An empty
// path yields a Sink that only ever replicates to stdout (or, with
// replicateStdout also false, discards everything — used in tests).
func Open(path string, replicateStdout bool) (*Sink, error) {
	s := &Sink{replicateStdout: replicateStdout}
	if path == "" {
		return s, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log sink file: %w", err)
	}
	s.file = f
	return s, nil
}

// Append writes one LOG entry: `app-name`, a numeric level, and the
// message text, as sent by the client over the LOG verb.
func (s *Sink) Append(app string, level int, text string) {
	line := fmt.Sprintf("%s [%s] level=%d %s\n", time.Now().UTC().Format(time.RFC3339), app, level, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		_, _ = s.file.WriteString(line)
	}
	if s.replicateStdout {
		_, _ = os.Stdout.WriteString(line)
	}
}

// Close closes the underlying file, if any.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
