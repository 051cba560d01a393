package store

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// LoadSchema parses the variable-definitions file: one
// `<name> = <default> , <persistent{0,1}> , <readonly{0,1}>` per
// line, `#` comments and blank lines ignored. It populates s.vars
// and must run before LoadPersistent.
func (s *Store) LoadSchema(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open schema file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, rest, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("malformed schema line: %q", line)
		}
		name = strings.TrimSpace(name)

		parts := strings.Split(rest, ",")
		if len(parts) != 3 {
			return fmt.Errorf("malformed schema line for %q: expected default,persistent,readonly", name)
		}
		def, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return fmt.Errorf("invalid default for %q: %w", name, err)
		}
		persistent, err := parseBoolFlag(parts[1])
		if err != nil {
			return fmt.Errorf("invalid persistent flag for %q: %w", name, err)
		}
		readOnly, err := parseBoolFlag(parts[2])
		if err != nil {
			return fmt.Errorf("invalid readonly flag for %q: %w", name, err)
		}

		s.vars[name] = &Variable{
			name:        name,
			value:       def,
			defaultVal:  def,
			persistent:  persistent,
			readOnly:    readOnly,
			subscribers: make(map[string]Subscriber),
		}
	}
	return scanner.Err()
}

func parseBoolFlag(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("expected 0 or 1, got %q", s)
	}
}

// LoadPersistent seeds the current values of persistent variables
// from the on-disk DB file. If the file does not exist it is created
// empty. A name not present in the schema is a fatal error; a value
// given for a name that exists but is not persistent is a warning,
// and the value is ignored.
func (s *Store) LoadPersistent(path string) error {
	s.dbPath = path

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		empty, createErr := os.Create(path)
		if createErr != nil {
			return fmt.Errorf("create persistent DB file: %w", createErr)
		}
		return empty.Close()
	} else if err != nil {
		return fmt.Errorf("open persistent DB file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, rawVal, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("malformed DB line: %q", line)
		}
		name = strings.TrimSpace(name)
		val, err := strconv.ParseFloat(strings.TrimSpace(rawVal), 64)
		if err != nil {
			return fmt.Errorf("invalid value for %q: %w", name, err)
		}

		v, ok := s.vars[name]
		if !ok {
			return fmt.Errorf("persistent DB references unknown variable %q", name)
		}
		if !v.persistent {
			s.logger.Warn("ignoring DB value for non-persistent variable", zap.String("name", name))
			continue
		}
		v.mu.Lock()
		v.value = val
		v.mu.Unlock()
	}
	return scanner.Err()
}

// flusher owns the on-disk file: it coalesces concurrent flush
// requests into at most one pending write, and performs every write
// via temp-file-then-atomic-rename so a crash mid-flush leaves the
// previous, consistent file in place.
type flusher struct {
	store   *Store
	path    string
	signal  chan struct{} // buffered(1): at-most-one pending flush
	stop    chan struct{}
	done    chan struct{}
	logger  *zap.Logger
	mu      sync.Mutex // serializes the write itself, not the signal
}

// StartFlusher launches the background flush goroutine if the table
// has at least one persistent variable. Safe to call once, after
// LoadSchema/LoadPersistent.
func (s *Store) StartFlusher() {
	hasPersistent := false
	for _, v := range s.vars {
		if v.persistent {
			hasPersistent = true
			break
		}
	}
	if !hasPersistent {
		return
	}

	fl := &flusher{
		store:  s,
		path:   s.dbPath,
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	s.flusher = fl
	go fl.run()
}

func (f *flusher) requestFlush() {
	select {
	case f.signal <- struct{}{}:
	default:
		// a flush is already pending; this write rides along with it
	}
}

func (f *flusher) run() {
	defer close(f.done)
	for {
		select {
		case <-f.signal:
			if err := f.flushOnce(); err != nil {
				f.logger.Error("flush failed, previous file left untouched", zap.Error(err))
			}
		case <-f.stop:
			return
		}
	}
}

func (f *flusher) flushOnce() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmpPath := f.path + ".0"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp DB file: %w", err)
	}

	w := bufio.NewWriter(tmp)
	for name, v := range f.store.vars {
		if !v.persistent {
			continue
		}
		v.mu.RLock()
		val := v.value
		v.mu.RUnlock()
		if _, err := fmt.Fprintf(w, "%s = %.4f\n", name, val); err != nil {
			tmp.Close()
			return fmt.Errorf("write temp DB file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush temp DB file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp DB file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("rename temp DB file: %w", err)
	}
	return nil
}

// Stop shuts down the flusher, forcing one final synchronous flush so
// no pending write is lost on shutdown. A Store with no persistent
// variables (flusher == nil) is a no-op.
func (s *Store) Stop() {
	if s.flusher == nil {
		return
	}
	close(s.flusher.stop)
	<-s.flusher.done
	if err := s.flusher.flushOnce(); err != nil {
		s.logger.Error("final flush failed", zap.Error(err))
	}
}
