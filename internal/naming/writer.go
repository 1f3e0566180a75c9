package naming

import (
	"fmt"
	"os"
	"sync"
)

// Writer appends rendered bodies to artifact files. Files are opened in
// append mode and never truncated, so multiple commands sharing one path
// accumulate in issue order. Appends to a given path are serialized with a
// per-path lock; hosts collecting concurrently into one file (collision
// templates) never interleave mid-record.
type Writer struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWriter creates an artifact Writer.
func NewWriter() *Writer {
	return &Writer{locks: make(map[string]*sync.Mutex)}
}

// Append writes data to the end of the file at path, creating it if absent.
func (w *Writer) Append(path string, data []byte) error {
	lk := w.pathLock(path)
	lk.Lock()
	defer lk.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("write %s: %w", path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("close %s: %w", path, cerr)
	}
	return nil
}

func (w *Writer) pathLock(path string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lk, ok := w.locks[path]
	if !ok {
		lk = &sync.Mutex{}
		w.locks[path] = lk
	}
	return lk
}
