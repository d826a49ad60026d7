package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Ledger tracks which episode IDs have finished and been written. It is
// backed by an append-only file with one ID per line, read into memory on
// open. A crash mid-write can leave a partial last line, which only loses
// that entry.
type Ledger struct {
	mu   sync.RWMutex
	path string
	file *os.File
	done map[string]struct{}
}

func OpenLedger(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	done := make(map[string]struct{})

	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			id := strings.TrimSpace(scanner.Text())
			if id == "" {
				continue
			}
			done[id] = struct{}{}
		}
		_ = f.Close()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &Ledger{path: path, file: file, done: done}, nil
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Ledger) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.done[id]
	return ok
}

func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.done)
}

// Add appends id and syncs. Known IDs are ignored.
func (l *Ledger) Add(id string) error {
	if id == "" {
		return fmt.Errorf("episode id is empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.done[id]; ok {
		return nil
	}
	if l.file == nil {
		return fmt.Errorf("ledger is closed")
	}
	if _, err := l.file.WriteString(id + "\n"); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	l.done[id] = struct{}{}
	return nil
}
