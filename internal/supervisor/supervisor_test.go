package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
)

func TestFindFreePortReturnsFirstFree(t *testing.T) {
	// Occupy the first port of the range; the scan must land on the next.
	low := 42750
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", low))
	require.NoError(t, err)
	defer l.Close()

	port, err := FindFreePort(low, low+10)
	require.NoError(t, err)
	assert.Equal(t, low+1, port)
}

func TestFindFreePortExhausted(t *testing.T) {
	low := 42770
	var listeners []net.Listener
	for p := low; p < low+3; p++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		require.NoError(t, err)
		listeners = append(listeners, l)
	}
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	_, err := FindFreePort(low, low+3)
	assert.Error(t, err)
}

func TestStartMissingExecutable(t *testing.T) {
	s := New(Spec{
		Name:    "ghost",
		ExePath: "/nonexistent/binary",
		PortLow: 42800, PortHigh: 42810,
	}, logging.NewNop(), nil)

	assert.False(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())
	assert.Equal(t, 0, s.Port())
}

func TestStartAndStopProcess(t *testing.T) {
	sleepPath, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	s := New(Spec{
		Name:    "sleeper",
		ExePath: sleepPath,
		PortLow: 42820, PortHigh: 42830,
		Args: func(port int) []string { return []string{"30"} },
		// No health URL: Start returns once the process is spawned.
	}, logging.NewNop(), nil)

	require.True(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.NotZero(t, s.Port())
	assert.Contains(t, s.BaseURL(), "http://127.0.0.1:")

	s.Stop()
	assert.False(t, s.IsRunning())
	assert.Equal(t, 0, s.Port())
}

func TestStartHealthProbe(t *testing.T) {
	sleepPath, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	var probes int
	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes++
		if probes < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer health.Close()

	s := New(Spec{
		Name:    "probed",
		ExePath: sleepPath,
		PortLow: 42830, PortHigh: 42840,
		Args:          func(port int) []string { return []string{"30"} },
		HealthURL:     func(port int) string { return health.URL },
		HealthTimeout: 10 * time.Second,
		ProbeInterval: 20 * time.Millisecond,
	}, logging.NewNop(), nil)

	require.True(t, s.Start(context.Background()))
	assert.GreaterOrEqual(t, probes, 3)
	s.Stop()
}

func TestStartFailsOnImmediateExit(t *testing.T) {
	falsePath, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}

	s := New(Spec{
		Name:    "crasher",
		ExePath: falsePath,
		PortLow: 42840, PortHigh: 42850,
		HealthURL:     func(port int) string { return fmt.Sprintf("http://127.0.0.1:%d/", port) },
		HealthTimeout: 5 * time.Second,
		ProbeInterval: 20 * time.Millisecond,
	}, logging.NewNop(), nil)

	start := time.Now()
	assert.False(t, s.Start(context.Background()))
	// Exit must be detected well before the health timeout.
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, s.IsRunning())
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(Spec{Name: "idle", ExePath: "/nonexistent"}, logging.NewNop(), nil)
	s.Stop()
	s.Stop()
}
