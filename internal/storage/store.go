package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
)

const (
	// DebounceInterval is how long a file's write is held open for coalescing.
	DebounceInterval = 250 * time.Millisecond

	writeRetries = 3
)

// Store persists JSON blobs under the user-data directory.
//
// Writes are atomic (tmp + rename) and keep a .bak last-known-good copy.
// WriteJSON debounces per file; WriteJSONSync bypasses the debounce for
// bootstrap writes that must be visible immediately.
type Store struct {
	dir    string
	logger *logging.Logger

	mu      sync.Mutex
	pending map[string]*pendingWrite
}

type pendingWrite struct {
	timer *time.Timer
	value []byte
}

// New creates a store rooted at dir, creating it if needed.
func New(dir string, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{
		dir:     dir,
		logger:  logger,
		pending: make(map[string]*pendingWrite),
	}, nil
}

// Dir returns the user-data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute path for a store file.
func (s *Store) Path(file string) string {
	return filepath.Join(s.dir, file)
}

// ReadJSON reads a store file into out. On a corrupt or missing primary it
// falls back to the .bak copy and, when that succeeds, restores the primary.
func (s *Store) ReadJSON(file string, out interface{}) error {
	p := s.Path(file)
	data, err := os.ReadFile(p)
	if err == nil {
		if uerr := sonic.Unmarshal(data, out); uerr == nil {
			return nil
		}
	}

	bak, bakErr := os.ReadFile(p + ".bak")
	if bakErr != nil {
		if err != nil {
			return err
		}
		return fmt.Errorf("parse %s: corrupt and no backup", file)
	}
	if uerr := sonic.Unmarshal(bak, out); uerr != nil {
		return fmt.Errorf("parse %s backup: %w", file, uerr)
	}
	// Best-effort restore of the primary from the backup.
	if werr := writeAtomic(p, bak); werr != nil {
		s.logger.Warn("failed to restore primary from backup",
			zap.String("file", file), zap.Error(werr))
	}
	return nil
}

// WriteJSONSync writes a store file immediately, replacing any pending
// debounced write for the same file.
func (s *Store) WriteJSONSync(file string, v interface{}) error {
	data, err := sonic.ConfigDefault.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", file, err)
	}

	s.mu.Lock()
	if pw, ok := s.pending[file]; ok {
		pw.timer.Stop()
		delete(s.pending, file)
	}
	s.mu.Unlock()

	return s.commit(file, data)
}

// WriteJSON schedules a debounced write. The last value scheduled within the
// debounce window wins.
func (s *Store) WriteJSON(file string, v interface{}) {
	data, err := sonic.ConfigDefault.MarshalIndent(v, "", "  ")
	if err != nil {
		s.logger.Error("encode for debounced write failed",
			zap.String("file", file), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pw, ok := s.pending[file]; ok {
		pw.value = data
		pw.timer.Reset(DebounceInterval)
		return
	}
	pw := &pendingWrite{value: data}
	pw.timer = time.AfterFunc(DebounceInterval, func() {
		s.flush(file)
	})
	s.pending[file] = pw
}

// FlushAll writes out every pending debounced value. Called on shutdown.
func (s *Store) FlushAll() {
	s.mu.Lock()
	files := make([]string, 0, len(s.pending))
	for file, pw := range s.pending {
		pw.timer.Stop()
		files = append(files, file)
	}
	s.mu.Unlock()

	for _, file := range files {
		s.flush(file)
	}
}

func (s *Store) flush(file string) {
	s.mu.Lock()
	pw, ok := s.pending[file]
	if ok {
		delete(s.pending, file)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.commit(file, pw.value); err != nil {
		s.logger.Error("debounced write failed",
			zap.String("file", file), zap.Error(err))
	}
}

func (s *Store) commit(file string, data []byte) error {
	p := s.Path(file)
	var err error
	for i := 0; i < writeRetries; i++ {
		if err = writeAtomic(p, data); err == nil {
			break
		}
		time.Sleep(time.Duration(i+1) * 20 * time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	// Refresh the last-known-good copy; failure here is non-fatal.
	if berr := os.WriteFile(p+".bak", data, 0o644); berr != nil {
		s.logger.Warn("failed to refresh backup",
			zap.String("file", file), zap.Error(berr))
	}
	return nil
}

// writeAtomic writes via a temp file in the same directory and renames over
// the target so readers never observe a partial file.
func writeAtomic(p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err = os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
