package torproxy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/events"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/config"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
)

func TestParseBootstrap(t *testing.T) {
	tests := []struct {
		line     string
		progress int
		ok       bool
	}{
		{"May 01 12:00:00.000 [notice] Bootstrapped 10% (conn_done)", 10, true},
		{"Bootstrapped 50%: Loading relay descriptors", 50, true},
		{"... Bootstrapped 100% (done): Done", 100, true},
		{"[notice] Opening Socks listener on 127.0.0.1:9150", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		progress, ok := ParseBootstrap(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.progress, progress, tt.line)
	}
}

// writeFakeDaemon installs a shell script standing in for the tor binary at
// the bundled-resources location and returns the resources dir.
func writeFakeDaemon(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake daemon script requires a POSIX shell")
	}
	resources := t.TempDir()
	binDir := filepath.Join(resources, "tor", platformDir)
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	path := filepath.Join(binDir, "tor")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return resources
}

func newTestController(t *testing.T, resources string) (*Controller, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	cfg := config.TorConfig{
		PortLow:          9150,
		PortHigh:         9153,
		BootstrapTimeout: 5 * time.Second,
		StopGrace:        time.Second,
	}
	c := New(cfg, resources, t.TempDir(), logging.NewNop(), bus, nil)
	return c, bus
}

func TestBootstrapProgressSequence(t *testing.T) {
	resources := writeFakeDaemon(t, `
echo "notice Bootstrapped 10% (conn_done)"
echo "notice Bootstrapped 50% (loading)"
echo "notice Bootstrapped 100% (done)"
sleep 30
`)
	c, bus := newTestController(t, resources)
	ch, cancel := bus.Subscribe()
	defer cancel()

	c.StartAsync(context.Background())
	defer c.ForceKill()

	var progress []int
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			st := ev.Payload.(Status)
			if st.BootstrapProgress > 0 &&
				(len(progress) == 0 || progress[len(progress)-1] != st.BootstrapProgress) {
				progress = append(progress, st.BootstrapProgress)
			}
			if st.Active {
				assert.Equal(t, []int{10, 50, 100}, progress)
				assert.Equal(t, 9150, st.Port)
				assert.Equal(t, "Connected (port 9150)", st.Message)
				assert.Equal(t, "socks5://127.0.0.1:9150", c.SocksURL())
				return
			}
		case <-deadline:
			t.Fatalf("never became active; progress seen: %v", progress)
		}
	}
}

func TestPortConflictMovesToNextPort(t *testing.T) {
	// The fake daemon refuses the first port of the range.
	resources := writeFakeDaemon(t, `
if [ "$2" = "9150" ]; then
  echo "warn Address already in use"
  sleep 30
fi
echo "notice Bootstrapped 100% (done)"
sleep 30
`)
	c, _ := newTestController(t, resources)

	c.StartAsync(context.Background())
	defer c.ForceKill()

	require.Eventually(t, func() bool {
		return c.Status().Active
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 9151, c.Status().Port)
}

func TestAllPortsInUse(t *testing.T) {
	resources := writeFakeDaemon(t, `
echo "warn Could not bind to 127.0.0.1"
sleep 30
`)
	c, _ := newTestController(t, resources)

	c.StartAsync(context.Background())

	require.Eventually(t, func() bool {
		st := c.Status()
		return !st.Connecting && st.Message == "All ports in use"
	}, 10*time.Second, 20*time.Millisecond)
	assert.False(t, c.Status().Active)
}

func TestBinaryNotFound(t *testing.T) {
	if _, err := exec.LookPath("tor"); err == nil {
		t.Skip("system tor present; discovery would find it")
	}
	c, _ := newTestController(t, t.TempDir())

	c.StartAsync(context.Background())

	require.Eventually(t, func() bool {
		st := c.Status()
		return !st.Connecting && st.Message == "binary not found"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopClearsState(t *testing.T) {
	resources := writeFakeDaemon(t, `
echo "notice Bootstrapped 100% (done)"
sleep 30
`)
	c, _ := newTestController(t, resources)

	c.StartAsync(context.Background())
	require.Eventually(t, func() bool {
		return c.Status().Active
	}, 5*time.Second, 20*time.Millisecond)

	c.Stop()
	st := c.Status()
	assert.False(t, st.Active)
	assert.False(t, st.Connecting)
	assert.Equal(t, 0, st.Port)
	assert.Equal(t, "", c.SocksURL())
}

func TestUnexpectedExitPublishesDisconnected(t *testing.T) {
	// Daemon exits shortly after bootstrap completes.
	resources := writeFakeDaemon(t, `
echo "notice Bootstrapped 100% (done)"
sleep 0.2
`)
	c, _ := newTestController(t, resources)

	c.StartAsync(context.Background())
	require.Eventually(t, func() bool {
		return c.Status().Active
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		st := c.Status()
		return !st.Active && st.Message == "disconnected"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCancelledStartupReportsTerminalStatus(t *testing.T) {
	resources := writeFakeDaemon(t, "sleep 30\n")
	c, _ := newTestController(t, resources)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.StartAsync(ctx)

	require.Eventually(t, func() bool {
		st := c.Status()
		return !st.Connecting && !st.Active
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "cancelled", c.Status().Message)
}

func TestStdoutDrainedAfterBootstrap(t *testing.T) {
	// The fake daemon floods stdout past the pipe buffer after
	// bootstrapping; it only reaches the sentinel if the reads go on.
	sentinel := filepath.Join(t.TempDir(), "flushed")
	resources := writeFakeDaemon(t, fmt.Sprintf(`
echo "notice Bootstrapped 100%% (done)"
i=0
while [ $i -lt 4000 ]; do
  echo "notice circuit status event padding padding padding padding padding"
  i=$((i+1))
done
touch %s
sleep 30
`, sentinel))
	c, _ := newTestController(t, resources)

	c.StartAsync(context.Background())
	defer c.ForceKill()

	require.Eventually(t, func() bool {
		return c.Status().Active
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return fileExists(sentinel)
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, c.Status().Active)
}
