package iats

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/config"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/resilience"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/torrent"
)

func newTestSubsystem(t *testing.T) *Subsystem {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.ResourcesDir = t.TempDir()
	cfg.Adblock.RefreshInterval = 0

	s, err := New(cfg, logging.NewNop(), nil)
	require.NoError(t, err)
	return s
}

func TestStartDegradesWithoutBinaries(t *testing.T) {
	s := newTestSubsystem(t)

	s.Start(context.Background())
	defer s.Stop()

	// No bundled daemons: both supervisors fail softly.
	assert.False(t, s.QBit.IsRunning())
	assert.False(t, s.Prowlarr.IsRunning())
	assert.Nil(t, s.QBitClient())
	assert.Nil(t, s.ProwlarrClient())

	// The facade is up regardless.
	assert.NotZero(t, s.Solverr.Port())

	// Adblock seeded its fallback set synchronously during New.
	assert.True(t, s.Adblock.HostMatchesBlocked("doubleclick.net"))

	// No bundled proxy binary: the controller stays inactive.
	assert.False(t, s.Tor.Status().Active)
}

func TestSearchWithoutIndexer(t *testing.T) {
	s := newTestSubsystem(t)
	s.Start(context.Background())
	defer s.Stop()

	_, status, err := s.Search(context.Background(), "anything", 10)
	assert.ErrorIs(t, err, ErrComponentDown)
	assert.Equal(t, torrent.SearchError, status)
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	s := newTestSubsystem(t)

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestSearchBreakerOpensOnRepeatedFailures(t *testing.T) {
	s := newTestSubsystem(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s.mu.Lock()
	s.prowlarrClient = torrent.NewProwlarrClient(srv.URL, "key")
	s.mu.Unlock()

	for i := 0; i < 5; i++ {
		_, _, err := s.Search(context.Background(), "show", 5)
		require.Error(t, err)
		require.NotErrorIs(t, err, resilience.ErrOpen)
	}

	// The sixth call fails fast without reaching the aggregator.
	_, status, err := s.Search(context.Background(), "show", 5)
	assert.ErrorIs(t, err, resilience.ErrOpen)
	assert.Equal(t, torrent.SearchError, status)
}
