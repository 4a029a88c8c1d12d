package torproxy

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/events"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/config"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/monitoring"
)

var bootstrapRe = regexp.MustCompile(`Bootstrapped\s+(\d+)%`)

// Status is the published proxy state.
type Status struct {
	Active            bool   `json:"active"`
	Connecting        bool   `json:"connecting"`
	BootstrapProgress int    `json:"bootstrapProgress"`
	Message           string `json:"message"`
	Port              int    `json:"port"`
}

// Controller manages the local anonymizing SOCKS proxy daemon.
type Controller struct {
	cfg          config.TorConfig
	resourcesDir string
	dataRoot     string
	logger       *logging.Logger
	bus          *events.Bus
	metrics      *monitoring.Metrics

	mu         sync.Mutex
	cmd        *exec.Cmd
	exited     chan struct{}
	port       int
	active     bool
	connecting bool
	bootstrap  int
	message    string
	scratchDir string
}

// New creates a controller. bus and metrics may be nil.
func New(cfg config.TorConfig, resourcesDir, dataRoot string, logger *logging.Logger, bus *events.Bus, metrics *monitoring.Metrics) *Controller {
	return &Controller{
		cfg:          cfg,
		resourcesDir: resourcesDir,
		dataRoot:     dataRoot,
		logger:       logger.Named("tor"),
		bus:          bus,
		metrics:      metrics,
	}
}

// Status returns a snapshot of the proxy state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	return Status{
		Active:            c.active,
		Connecting:        c.connecting,
		BootstrapProgress: c.bootstrap,
		Message:           c.message,
		Port:              c.port,
	}
}

// SocksURL returns the SOCKS endpoint, or "" while inactive.
func (c *Controller) SocksURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ""
	}
	return fmt.Sprintf("socks5://127.0.0.1:%d", c.port)
}

// StartAsync starts the daemon in the background, publishing status events
// as bootstrap progresses. No-op while already active or connecting.
func (c *Controller) StartAsync(ctx context.Context) {
	c.mu.Lock()
	if c.active || c.connecting {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.bootstrap = 0
	c.message = "Starting Tor..."
	c.emitLocked()
	c.mu.Unlock()

	go c.start(ctx)
}

func (c *Controller) start(ctx context.Context) {
	exe := c.findExecutable()
	if exe == "" {
		c.mu.Lock()
		c.connecting = false
		c.message = "binary not found"
		c.emitLocked()
		c.mu.Unlock()
		c.logger.Warn("binary not found, proxy disabled")
		return
	}
	geoipDir := c.findGeoIPDir()
	c.logger.Info("launching", zap.String("binary", exe))

	scratch := filepath.Join(c.dataRoot, fmt.Sprintf("tor-data-%d", os.Getpid()))
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		c.mu.Lock()
		c.connecting = false
		c.message = "cannot create data directory"
		c.emitLocked()
		c.mu.Unlock()
		c.logger.Error("scratch dir creation failed", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.scratchDir = scratch
	c.mu.Unlock()

	for port := c.cfg.PortLow; port < c.cfg.PortHigh; port++ {
		if ctx.Err() != nil {
			c.mu.Lock()
			c.connecting = false
			c.bootstrap = 0
			c.message = "cancelled"
			c.emitLocked()
			c.mu.Unlock()
			return
		}
		if c.tryPort(ctx, exe, port, geoipDir, scratch) {
			return
		}
		c.logger.Info("port failed, trying next", zap.Int("port", port))
	}

	c.mu.Lock()
	c.connecting = false
	c.message = "All ports in use"
	c.emitLocked()
	c.mu.Unlock()
	c.logger.Error("failed to start on any port")
}

// tryPort launches the daemon on one port and scrapes its stdout until the
// bootstrap completes, the port turns out to be taken, or the deadline hits.
func (c *Controller) tryPort(ctx context.Context, exe string, port int, geoipDir, scratch string) bool {
	args := []string{
		"--SocksPort", strconv.Itoa(port),
		"--DataDirectory", scratch,
		"--Log", "notice stdout",
	}
	if geoipDir != "" {
		if p := filepath.Join(geoipDir, "geoip"); fileExists(p) {
			args = append(args, "--GeoIPFile", p)
		}
		if p := filepath.Join(geoipDir, "geoip6"); fileExists(p) {
			args = append(args, "--GeoIPv6File", p)
		}
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdin = nil
	setSysProcAttr(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.logger.Error("stdout pipe failed", zap.Error(err))
		return false
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		c.logger.Error("spawn failed", zap.Int("port", port), zap.Error(err))
		return false
	}

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	deadline := time.NewTimer(c.cfg.BootstrapTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			cmd.Wait()
			return false

		case <-deadline.C:
			c.logger.Warn("bootstrap timeout", zap.Int("port", port))
			_ = cmd.Process.Kill()
			cmd.Wait()
			return false

		case line, ok := <-lines:
			if !ok {
				// Stdout closed: the process exited before bootstrapping.
				err := cmd.Wait()
				c.logger.Warn("process exited during bootstrap",
					zap.Int("port", port), zap.Error(err))
				return false
			}

			if progress, ok := ParseBootstrap(line); ok {
				c.setBootstrap(progress)
				if progress >= 100 {
					c.commit(cmd, port)
					// Keep draining stdout after handoff; a full pipe
					// would eventually block the daemon's log writes.
					go func() {
						for range lines {
						}
					}()
					return true
				}
				continue
			}

			if strings.Contains(line, "Address already in use") ||
				strings.Contains(line, "Could not bind") {
				_ = cmd.Process.Kill()
				cmd.Wait()
				return false
			}
		}
	}
}

// ParseBootstrap extracts the bootstrap percentage from a daemon log line.
func ParseBootstrap(line string) (int, bool) {
	m := bootstrapRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c *Controller) setBootstrap(progress int) {
	c.mu.Lock()
	c.bootstrap = progress
	c.message = fmt.Sprintf("Bootstrapping... %d%%", progress)
	c.emitLocked()
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.TorBootstrap.Set(float64(progress))
	}
}

func (c *Controller) commit(cmd *exec.Cmd, port int) {
	exited := make(chan struct{})
	c.mu.Lock()
	c.cmd = cmd
	c.exited = exited
	c.port = port
	c.active = true
	c.connecting = false
	c.message = fmt.Sprintf("Connected (port %d)", port)
	c.emitLocked()
	c.mu.Unlock()
	c.logger.Info("bootstrapped", zap.Int("port", port))

	go c.watch(cmd, exited)
}

// watch blocks on process exit and flips the status to inactive when the
// daemon dies while it was supposed to be active.
func (c *Controller) watch(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	close(exited)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != cmd || !c.active {
		return
	}
	c.logger.Warn("process died unexpectedly", zap.Error(err))
	c.active = false
	c.connecting = false
	c.bootstrap = 0
	c.port = 0
	c.message = "disconnected"
	c.cmd = nil
	c.emitLocked()
}

// Stop terminates the daemon and removes the scratch directory.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.active && !c.connecting {
		c.mu.Unlock()
		return
	}
	cmd := c.cmd
	exited := c.exited
	scratch := c.scratchDir
	c.cmd = nil
	c.active = false
	c.connecting = false
	c.bootstrap = 0
	c.port = 0
	c.message = ""
	c.scratchDir = ""
	c.emitLocked()
	c.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = terminateProcess(cmd.Process)
		select {
		case <-exited:
		case <-time.After(c.cfg.StopGrace):
			_ = cmd.Process.Kill()
			<-exited
		}
	}

	if scratch != "" {
		// Best-effort cleanup; the directory is per-pid and harmless if left.
		_ = os.RemoveAll(scratch)
	}
	c.logger.Info("stopped")
}

// ForceKill kills the daemon synchronously for host shutdown.
func (c *Controller) ForceKill() {
	c.mu.Lock()
	cmd := c.cmd
	c.cmd = nil
	c.active = false
	c.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Subscribe-free status delivery: events go through the bus.
func (c *Controller) emitLocked() {
	if c.bus != nil {
		c.bus.Publish(events.TypeTorStatus, c.statusLocked())
	}
}

// findExecutable looks for the bundled daemon first, then the system PATH.
func (c *Controller) findExecutable() string {
	for _, candidate := range []string{
		filepath.Join(c.resourcesDir, "tor", platformDir, "tor"+exeSuffix),
	} {
		if fileExists(candidate) {
			return candidate
		}
	}
	if found, err := exec.LookPath("tor"); err == nil {
		return found
	}
	return ""
}

// findGeoIPDir locates the directory holding geoip/geoip6 from the bundle.
func (c *Controller) findGeoIPDir() string {
	for _, dir := range []string{
		filepath.Join(c.resourcesDir, "tor", platformDir),
		filepath.Join(c.resourcesDir, "tor", "data"),
	} {
		if fileExists(filepath.Join(dir, "geoip")) {
			return dir
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
