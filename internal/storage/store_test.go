package storage

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), logging.NewNop())
	require.NoError(t, err)
	return s
}

func TestWriteSyncAndRead(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteJSONSync("config.json", payload{Name: "a", Count: 3}))

	var got payload
	require.NoError(t, s.ReadJSON("config.json", &got))
	assert.Equal(t, payload{Name: "a", Count: 3}, got)
}

func TestReadMissingFile(t *testing.T) {
	s := newTestStore(t)

	var got payload
	err := s.ReadJSON("nope.json", &got)
	assert.Error(t, err)
}

func TestBackupRestore(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteJSONSync("config.json", payload{Name: "good", Count: 1}))

	// Corrupt the primary; the .bak written by the sync write should win.
	require.NoError(t, os.WriteFile(s.Path("config.json"), []byte("{not json"), 0o644))

	var got payload
	require.NoError(t, s.ReadJSON("config.json", &got))
	assert.Equal(t, "good", got.Name)

	// The primary is restored from the backup.
	var again payload
	require.NoError(t, s.ReadJSON("config.json", &again))
	assert.Equal(t, "good", again.Name)
}

func TestDebouncedWriteCoalesces(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 10; i++ {
		s.WriteJSON("counter.json", payload{Name: "n", Count: i})
	}

	// Before the debounce fires nothing is on disk.
	_, err := os.Stat(s.Path("counter.json"))
	assert.True(t, os.IsNotExist(err))

	require.Eventually(t, func() bool {
		var got payload
		return s.ReadJSON("counter.json", &got) == nil && got.Count == 9
	}, 2*time.Second, 20*time.Millisecond)
}

func TestFlushAll(t *testing.T) {
	s := newTestStore(t)

	s.WriteJSON("a.json", payload{Name: "a"})
	s.WriteJSON("b.json", payload{Name: "b"})
	s.FlushAll()

	var a, b payload
	require.NoError(t, s.ReadJSON("a.json", &a))
	require.NoError(t, s.ReadJSON("b.json", &b))
	assert.Equal(t, "a", a.Name)
	assert.Equal(t, "b", b.Name)
}

func TestSyncWriteCancelsPending(t *testing.T) {
	s := newTestStore(t)

	s.WriteJSON("c.json", payload{Count: 1})
	require.NoError(t, s.WriteJSONSync("c.json", payload{Count: 2}))

	// Give the (cancelled) debounce a chance to fire anyway.
	time.Sleep(2 * DebounceInterval)

	var got payload
	require.NoError(t, s.ReadJSON("c.json", &got))
	assert.Equal(t, 2, got.Count)
}
