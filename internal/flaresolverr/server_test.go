package flaresolverr

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/browser"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/config"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/solver"
)

type stuckNav struct {
	mu    sync.Mutex
	title string
}

func (n *stuckNav) Load(ctx context.Context, rawURL string) error { return nil }
func (n *stuckNav) URL() string                                   { return "" }
func (n *stuckNav) Close() error                                  { return nil }

func (n *stuckNav) RunScript(ctx context.Context, src string) (interface{}, error) {
	return nil, nil
}

func (n *stuckNav) Title() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.title
}

func startTestServer(t *testing.T) (*Server, *browser.Profile) {
	t.Helper()
	profile := browser.NewProfile("test")
	factory := func(p *browser.Profile) browser.Navigator {
		return &stuckNav{title: "Just a moment..."}
	}
	slv := solver.New(config.SolverConfig{}, profile, factory, logging.NewNop(), nil)
	srv := New(config.SolverrConfig{}, profile, slv, logging.NewNop(), nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv, profile
}

func postV1(t *testing.T, srv *Server, body string) envelope {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.BaseURL()+"/v1", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	// Servers in this file share a fixed port; Close prevents a pooled
	// keep-alive connection to a stopped server from being reused.
	req.Close = true
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, sonic.Unmarshal(raw, &env))
	return env
}

func TestLiveness(t *testing.T) {
	srv, _ := startTestServer(t)

	resp, err := http.Get(srv.BaseURL() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, sonic.Unmarshal(raw, &body))
	assert.Equal(t, "FlareSolverr is ready!", body["msg"])
	assert.Equal(t, Version, body["version"])
	assert.NotEmpty(t, body["userAgent"])
}

func TestPortInScanRange(t *testing.T) {
	srv, _ := startTestServer(t)
	assert.GreaterOrEqual(t, srv.Port(), PortLow)
	assert.LessOrEqual(t, srv.Port(), PortHigh)
}

func TestUnknownCommand(t *testing.T) {
	srv, _ := startTestServer(t)

	env := postV1(t, srv, `{"cmd":"noop","url":"x"}`)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "Unknown command: noop", env.Message)
}

func TestNoURL(t *testing.T) {
	srv, _ := startTestServer(t)

	env := postV1(t, srv, `{"cmd":"request.get","maxTimeout":1000}`)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "No URL provided", env.Message)
}

func TestSolveHarvestsClearanceCookie(t *testing.T) {
	srv, profile := startTestServer(t)

	// The clearance cookie lands in the shared jar mid-solve.
	go func() {
		time.Sleep(300 * time.Millisecond)
		profile.Jar.Set(browser.Cookie{
			Name:   "cf_clearance",
			Value:  "abc",
			Domain: ".cfsite.example",
			Secure: true,
		})
	}()

	env := postV1(t, srv, `{"cmd":"request.get","url":"https://cfsite.example/","maxTimeout":30000}`)
	require.Equal(t, "ok", env.Status)
	assert.GreaterOrEqual(t, env.EndTimestamp, env.StartTimestamp)
	assert.Equal(t, Version, env.Version)

	raw, err := sonic.Marshal(env.Solution)
	require.NoError(t, err)
	var sol solution
	require.NoError(t, sonic.Unmarshal(raw, &sol))

	assert.Equal(t, "https://cfsite.example/", sol.URL)
	assert.Equal(t, 200, sol.Status)
	require.Len(t, sol.Cookies, 1)
	c := sol.Cookies[0]
	assert.Equal(t, "cf_clearance", c.Name)
	assert.Equal(t, "abc", c.Value)
	assert.Equal(t, ".cfsite.example", c.Domain)
	assert.Equal(t, "None", c.SameSite)
	assert.EqualValues(t, -1, c.Expiry)
}

func TestSolveTimeout(t *testing.T) {
	srv, _ := startTestServer(t)

	env := postV1(t, srv, `{"cmd":"request.get","url":"https://cfsite.example/","maxTimeout":700}`)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "Challenge solving failed: timeout", env.Message)
}

func TestNewSolvePreemptsPrevious(t *testing.T) {
	srv, profile := startTestServer(t)

	firstDone := make(chan envelope, 1)
	go func() {
		firstDone <- postV1(t, srv, `{"cmd":"request.get","url":"https://one.example/","maxTimeout":30000}`)
	}()
	time.Sleep(300 * time.Millisecond)

	go func() {
		time.Sleep(300 * time.Millisecond)
		profile.Jar.Set(browser.Cookie{Name: "cf_clearance", Value: "v", Domain: "two.example"})
	}()
	second := postV1(t, srv, `{"cmd":"request.get","url":"https://two.example/","maxTimeout":30000}`)
	assert.Equal(t, "ok", second.Status)

	select {
	case first := <-firstDone:
		assert.Equal(t, "error", first.Status)
		assert.Equal(t, "Challenge solving failed: cancelled", first.Message)
	case <-time.After(3 * time.Second):
		t.Fatal("preempted request never completed")
	}
}

func TestConfiguredPortRangeIsUsed(t *testing.T) {
	profile := browser.NewProfile("test")
	factory := func(p *browser.Profile) browser.Navigator {
		return &stuckNav{title: "Just a moment..."}
	}
	slv := solver.New(config.SolverConfig{}, profile, factory, logging.NewNop(), nil)
	srv := New(config.SolverrConfig{PortLow: 11500, PortHigh: 11509},
		profile, slv, logging.NewNop(), nil)
	require.NoError(t, srv.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}()

	assert.GreaterOrEqual(t, srv.Port(), 11500)
	assert.LessOrEqual(t, srv.Port(), 11509)
}
