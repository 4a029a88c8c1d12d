package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/fetch"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/monitoring"
)

const (
	defaultHealthTimeout = 30 * time.Second
	defaultProbeInterval = 500 * time.Millisecond

	stopGrace = 5 * time.Second
	killGrace = 3 * time.Second
)

// Spec describes a managed external process.
type Spec struct {
	// Name identifies the process in logs and metrics.
	Name string
	// ExePath is the resolved executable path; empty means the component is
	// disabled and Start returns false without error.
	ExePath string
	// PortLow..PortHigh (half-open) is the port range reserved for this
	// process class.
	PortLow  int
	PortHigh int
	// Args produces launch arguments for the chosen port. It may seed a
	// configuration file as a side effect.
	Args func(port int) []string
	// HealthURL returns the readiness probe URL for the chosen port.
	// 2xx/3xx means healthy.
	HealthURL func(port int) string

	HealthTimeout time.Duration
	ProbeInterval time.Duration
}

// Supervisor owns at most one live instance of a managed process.
type Supervisor struct {
	spec    Spec
	logger  *logging.Logger
	client  *fetch.Client
	metrics *monitoring.Metrics

	mu      sync.Mutex
	cmd     *exec.Cmd
	port    int
	exitCh  chan int
	running bool

	missingLogged bool
}

// New creates a supervisor for the given spec. metrics may be nil.
func New(spec Spec, logger *logging.Logger, metrics *monitoring.Metrics) *Supervisor {
	if spec.HealthTimeout == 0 {
		spec.HealthTimeout = defaultHealthTimeout
	}
	if spec.ProbeInterval == 0 {
		spec.ProbeInterval = defaultProbeInterval
	}
	client := fetch.NewLocalClient()
	client.SetTimeout(2 * time.Second)
	return &Supervisor{
		spec:    spec,
		logger:  logger.Named(spec.Name),
		client:  client,
		metrics: metrics,
	}
}

// Port returns the bound port, or 0 when not running.
func (s *Supervisor) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// BaseURL returns the local service URL, or "" when not running.
func (s *Supervisor) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == 0 {
		return ""
	}
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

// IsRunning reports whether the process is alive.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches the process and waits for it to become healthy.
//
// All failures are soft: missing executable, port exhaustion, spawn failure,
// and health timeout return false. The supervisor never retries on its own.
func (s *Supervisor) Start(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return true
	}

	if s.spec.ExePath == "" || !fileExists(s.spec.ExePath) {
		if !s.missingLogged {
			s.logger.Warn("executable not found, component disabled",
				zap.String("path", s.spec.ExePath))
			s.missingLogged = true
		}
		s.mu.Unlock()
		s.recordStart("missing")
		return false
	}

	port, err := FindFreePort(s.spec.PortLow, s.spec.PortHigh)
	if err != nil {
		s.logger.Error("no free port in range",
			zap.Int("low", s.spec.PortLow), zap.Int("high", s.spec.PortHigh))
		s.mu.Unlock()
		s.recordStart("port_exhausted")
		return false
	}

	var args []string
	if s.spec.Args != nil {
		args = s.spec.Args(port)
	}

	cmd := exec.Command(s.spec.ExePath, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		s.logger.Error("failed to spawn", zap.Error(err))
		s.mu.Unlock()
		s.recordStart("spawn_failed")
		return false
	}

	exitCh := make(chan int, 1)
	s.cmd = cmd
	s.port = port
	s.exitCh = exitCh
	s.running = true
	s.mu.Unlock()

	go func() {
		code := 0
		if err := cmd.Wait(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.ProcessAlive.WithLabelValues(s.spec.Name).Set(0)
		}
		exitCh <- code
	}()

	s.logger.Info("started", zap.Int("port", port), zap.Int("pid", cmd.Process.Pid))
	if s.metrics != nil {
		s.metrics.ProcessAlive.WithLabelValues(s.spec.Name).Set(1)
	}

	if s.spec.HealthURL == nil {
		s.recordStart("ok")
		return true
	}

	if s.probeHealth(ctx, port, exitCh) {
		s.logger.Info("healthy", zap.Int("port", port))
		s.recordStart("ok")
		return true
	}

	s.Stop()
	return false
}

// probeHealth polls the readiness URL until it answers, the process exits,
// or the timeout budget runs out.
func (s *Supervisor) probeHealth(ctx context.Context, port int, exitCh chan int) bool {
	healthURL := s.spec.HealthURL(port)
	deadline := time.Now().Add(s.spec.HealthTimeout)

	for time.Now().Before(deadline) {
		select {
		case code := <-exitCh:
			// A clean exit during startup means another instance owns the
			// port; either way the caller decides what happens next.
			s.logger.Warn("process exited during startup", zap.Int("code", code))
			if code != 0 {
				s.recordStart("crashed")
			} else {
				s.recordStart("clean_exit")
			}
			return false
		case <-ctx.Done():
			s.recordStart("cancelled")
			return false
		default:
		}

		req, err := s.client.Request(ctx)
		if err == nil {
			resp, rerr := req.Get(healthURL)
			if rerr == nil {
				status := resp.StatusCode()
				if status >= 200 && status < 400 {
					return true
				}
			}
		}

		select {
		case <-ctx.Done():
			s.recordStart("cancelled")
			return false
		case <-time.After(s.spec.ProbeInterval):
		}
	}

	s.logger.Warn("health check timed out",
		zap.Duration("timeout", s.spec.HealthTimeout))
	s.recordStart("health_timeout")
	return false
}

// Stop terminates the process: graceful signal, 5 s grace, then force-kill
// with a further 3 s wait. Concurrent Stop calls short-circuit because the
// handle slot is cleared before any blocking wait.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	exitCh := s.exitCh
	running := s.running
	s.cmd = nil
	s.port = 0
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil || !running {
		return
	}

	s.logger.Info("stopping", zap.Int("pid", cmd.Process.Pid))
	_ = terminateProcess(cmd.Process)

	select {
	case <-exitCh:
		s.logger.Info("terminated cleanly")
		return
	case <-time.After(stopGrace):
	}

	s.logger.Warn("force-killing")
	_ = cmd.Process.Kill()
	select {
	case <-exitCh:
	case <-time.After(killGrace):
		s.logger.Error("process did not exit after kill")
	}
}

func (s *Supervisor) recordStart(result string) {
	if s.metrics != nil {
		s.metrics.ProcessStarts.WithLabelValues(s.spec.Name, result).Inc()
	}
}

// FindFreePort scans [low, high) ascending and returns the first port that
// accepts an exclusive localhost bind. The ascending scan keeps assignment
// reproducible.
func FindFreePort(low, high int) (int, error) {
	for port := low; port < high; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", low, high)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
