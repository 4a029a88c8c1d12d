package adblock

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/events"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/config"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, *storage.Store, *events.Bus) {
	t.Helper()
	store, err := storage.New(t.TempDir(), logging.NewNop())
	require.NoError(t, err)
	bus := events.NewBus()
	opts := config.AdblockConfig{FetchTimeout: 5 * time.Second}
	return New(store, opts, logging.NewNop(), bus, nil), store, bus
}

func preload(e *Engine, domains []string, allowlist []string) {
	e.mu.Lock()
	e.lists = Lists{Domains: domains, UpdatedAt: time.Now().UnixMilli()}
	e.cfg.SiteAllowlist = allowlist
	e.publishSet(domains)
	e.mu.Unlock()
}

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Example.COM", "example.com"},
		{".example.com.", "example.com"},
		{"  ads.test  ", "ads.test"},
		{"bad_host", ""},
		{"héllo.com", ""},
		{"...", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeHost(tt.in), "NormalizeHost(%q)", tt.in)
	}
}

func TestParseDomains(t *testing.T) {
	text := "||tracker.example.com^$third-party\n##banner\n! comment\n||ads.test.com/path"
	got := ParseDomains(text)
	assert.Equal(t, map[string]struct{}{
		"tracker.example.com": {},
		"ads.test.com":        {},
	}, got)

	// Parsing is stable.
	assert.Equal(t, got, ParseDomains(text))
}

func TestParseDomainsSkipsNonNetworkRules(t *testing.T) {
	text := "[Adblock Plus 2.0]\n||a.com^\nplain.rule.com\n||b.com$script\nexample.com#@#ad\n||*.wild.com\n||c.com"
	got := ParseDomains(text)
	assert.Equal(t, map[string]struct{}{
		"a.com": {},
		"b.com": {},
		"c.com": {},
	}, got)
}

func TestHierarchicalMatch(t *testing.T) {
	e, _, _ := newTestEngine(t)
	preload(e, []string{"example.com"}, nil)

	assert.True(t, e.HostMatchesBlocked("a.b.example.com"))
	assert.True(t, e.HostMatchesBlocked("example.com"))
	assert.False(t, e.HostMatchesBlocked("myexample.com"), "suffix match is dot-aware, not substring")
	assert.False(t, e.HostMatchesBlocked("example.org"))
}

func TestShouldBlockDecision(t *testing.T) {
	e, _, _ := newTestEngine(t)
	preload(e, []string{"doubleclick.net", "ads.yahoo.com"}, []string{"example.com"})

	assert.True(t, e.ShouldBlock("https://sub.doubleclick.net/ad", "https://news.site/"))
	assert.False(t, e.ShouldBlock("https://pixel.ads.yahoo.com/p", "https://foo.example.com/"),
		"allowlisted first party bypasses the blocker")

	// Non-HTTP schemes are never blocked.
	assert.False(t, e.ShouldBlock("ftp://doubleclick.net/x", "https://news.site/"))

	// Disabled engine allows everything.
	e.SetEnabled(false)
	assert.False(t, e.ShouldBlock("https://doubleclick.net/", "https://news.site/"))
}

func TestFallbackSeedIsSynchronous(t *testing.T) {
	store, err := storage.New(t.TempDir(), logging.NewNop())
	require.NoError(t, err)
	e := New(store, config.AdblockConfig{}, logging.NewNop(), nil, nil)

	// The seed write happened before New returned.
	var lists Lists
	require.NoError(t, store.ReadJSON("web_adblock_lists.json", &lists))
	assert.NotEmpty(t, lists.Domains)
	assert.True(t, e.HostMatchesBlocked("doubleclick.net"))
}

func TestBlockedCountPersistsEvery25(t *testing.T) {
	e, store, _ := newTestEngine(t)
	preload(e, []string{"blocked.test"}, nil)

	for i := 0; i < 24; i++ {
		require.True(t, e.ShouldBlock("https://blocked.test/x", "https://site/"))
	}
	var cfg Config
	if err := store.ReadJSON("web_adblock.json", &cfg); err == nil {
		assert.Zero(t, cfg.BlockedCount, "no persist before the threshold")
	}

	require.True(t, e.ShouldBlock("https://blocked.test/x", "https://site/"))
	store.FlushAll()
	require.NoError(t, store.ReadJSON("web_adblock.json", &cfg))
	assert.EqualValues(t, 25, cfg.BlockedCount)
}

func TestUpdateLists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("! EasyList\n||fetched.example^\n||other.example/x\n"))
	}))
	defer srv.Close()

	e, store, bus := newTestEngine(t)
	ch, cancel := bus.Subscribe()
	defer cancel()

	e.mu.Lock()
	e.cfg.ListURLs = []string{srv.URL, "not-a-url"}
	before := e.lists.UpdatedAt
	e.mu.Unlock()

	res, err := e.UpdateLists(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Domains)
	assert.Equal(t, 1, res.Sources, "non-HTTP URLs are skipped")
	assert.Greater(t, res.UpdatedAt, before)

	assert.True(t, e.HostMatchesBlocked("fetched.example"))
	assert.False(t, e.HostMatchesBlocked("doubleclick.net"), "old set fully replaced")

	select {
	case ev := <-ch:
		assert.Equal(t, events.TypeAdblockUpdated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no adblockUpdated event")
	}

	store.FlushAll()
	var lists Lists
	require.NoError(t, store.ReadJSON("web_adblock_lists.json", &lists))
	assert.Len(t, lists.Domains, 2)
	assert.Equal(t, 1, lists.SourceCount)
}

func TestUpdateListsGzipResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		zw.Write([]byte("||gzipped.example^\n"))
		zw.Close()
	}))
	defer srv.Close()

	e, _, _ := newTestEngine(t)
	e.mu.Lock()
	e.cfg.ListURLs = []string{srv.URL}
	e.mu.Unlock()

	res, err := e.UpdateLists(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Domains)
	assert.True(t, e.HostMatchesBlocked("gzipped.example"))
}

func TestUpdateListsEmptyUnionKeepsSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("! nothing but comments\n"))
	}))
	defer srv.Close()

	e, _, _ := newTestEngine(t)
	e.mu.Lock()
	e.cfg.ListURLs = []string{srv.URL}
	e.mu.Unlock()

	_, err := e.UpdateLists(context.Background())
	require.Error(t, err)
	assert.True(t, e.HostMatchesBlocked("doubleclick.net"), "existing set survives an empty refresh")
}

func TestToggleSiteAllow(t *testing.T) {
	e, _, _ := newTestEngine(t)

	on, err := e.ToggleSiteAllow("Example.COM")
	require.NoError(t, err)
	assert.True(t, on)
	assert.Contains(t, e.Stats().SiteAllowlist, "example.com")

	off, err := e.ToggleSiteAllow("example.com")
	require.NoError(t, err)
	assert.False(t, off)
	assert.Empty(t, e.Stats().SiteAllowlist)

	_, err = e.ToggleSiteAllow("bad_host")
	assert.Error(t, err)
}
