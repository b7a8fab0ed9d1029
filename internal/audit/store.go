package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists audit events. Append is the hot path; Load hydrates at
// startup; Replace rewrites the whole ledger and exists only for recovery.
type Store interface {
	// Append durably writes one event.
	Append(e Event) error

	// Load reads every persisted event in order.
	Load() ([]Event, error)

	// Replace atomically rewrites the ledger with the given events.
	Replace(events []Event) error
}

// FileStore persists events as line-delimited JSON, one record per event in
// chain order. The format is append-friendly: a crash mid-write leaves at
// most one torn trailing line, which Load truncates away.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore at path, creating parent directories.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the ledger file path.
func (s *FileStore) Path() string { return s.path }

// Append writes one event as a JSON line and syncs it to disk. Audit
// persistence is not best-effort: any failure is returned to the caller.
func (s *FileStore) Append(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

// Load reads the ledger. A torn or undecodable trailing region (a crash
// mid-write) is truncated back to the last fully decodable record; anything
// after the first bad line is discarded with it.
func (s *FileStore) Load() ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var (
		events    []Event
		validSize int64
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		consumed := int64(len(line)) + 1
		if len(line) == 0 {
			validSize += consumed
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			break
		}
		events = append(events, e)
		validSize += consumed
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat ledger: %w", err)
	}
	if validSize < info.Size() {
		if err := os.Truncate(s.path, validSize); err != nil {
			return nil, fmt.Errorf("truncate torn ledger tail: %w", err)
		}
	}

	return events, nil
}

// Replace rewrites the ledger via a temp file and rename.
func (s *FileStore) Replace(events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open temp ledger: %w", err)
	}

	w := bufio.NewWriter(f)
	for i := range events {
		line, err := json.Marshal(events[i])
		if err != nil {
			f.Close()
			return fmt.Errorf("encode event: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("write temp ledger: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush temp ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// MemStore keeps events in memory; used in tests and embedded hosts that
// manage durability themselves.
type MemStore struct {
	mu     sync.Mutex
	events []Event

	// FailAppend forces Append to error, for exercising persistence
	// failure paths in tests.
	FailAppend bool
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore { return &MemStore{} }

// Append records the event in memory.
func (s *MemStore) Append(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend {
		return fmt.Errorf("append disabled")
	}
	s.events = append(s.events, e)
	return nil
}

// Load returns a copy of the recorded events.
func (s *MemStore) Load() ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out, nil
}

// Replace swaps the recorded events.
func (s *MemStore) Replace(events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make([]Event, len(events))
	copy(s.events, events)
	return nil
}

// Compile-time checks.
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemStore)(nil)
)
