package flaresolverr

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/browser"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/config"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/monitoring"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/solver"
)

// Version is the emulated FlareSolverr release reported to clients.
const Version = "3.3.21"

const (
	// PortLow and PortHigh bound the endpoint scan.
	PortLow  = 11000
	PortHigh = 11099

	readyMessage    = "FlareSolverr is ready!"
	defaultTimeout  = 60 * time.Second
	lateCookieDelay = 500 * time.Millisecond
	waiterSlack     = 5 * time.Second
)

type solveCommand struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	MaxTimeout int    `json:"maxTimeout"`
}

type solution struct {
	URL       string            `json:"url"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Response  string            `json:"response"`
	Cookies   []browser.Cookie  `json:"cookies"`
	UserAgent string            `json:"userAgent"`
}

type envelope struct {
	Status         string      `json:"status"`
	Message        string      `json:"message"`
	StartTimestamp int64       `json:"startTimestamp"`
	EndTimestamp   int64       `json:"endTimestamp"`
	Version        string      `json:"version"`
	Solution       interface{} `json:"solution"`
}

type solveResult struct {
	cookies []browser.Cookie
	err     error
}

type solveRequest struct {
	url     string
	timeout time.Duration
	done    chan solveResult
}

// Server implements the FlareSolverr v1 wire protocol on a localhost
// port. HTTP workers accept concurrently; a single dispatcher goroutine
// owns the challenge solver, so solves are strictly serialized and a
// new request cancels the one in flight.
type Server struct {
	profile *browser.Profile
	slv     *solver.Solver
	logger  *logging.Logger
	metrics *monitoring.Metrics

	portLow  int
	portHigh int

	requests chan *solveRequest
	quit     chan struct{}
	srv      *http.Server
	listener net.Listener
	port     int
}

// New creates a stopped server. A zero cfg falls back to the package
// port range; metrics may be nil.
func New(cfg config.SolverrConfig, profile *browser.Profile, slv *solver.Solver, logger *logging.Logger, metrics *monitoring.Metrics) *Server {
	if cfg.PortLow <= 0 || cfg.PortHigh < cfg.PortLow {
		cfg.PortLow, cfg.PortHigh = PortLow, PortHigh
	}
	return &Server{
		profile:  profile,
		slv:      slv,
		logger:   logger.Named("flaresolverr"),
		metrics:  metrics,
		portLow:  cfg.PortLow,
		portHigh: cfg.PortHigh,
		requests: make(chan *solveRequest),
		quit:     make(chan struct{}),
	}
}

// Start binds the first free port in the scan range, falling back to an
// OS-assigned one, and begins serving.
func (s *Server) Start() error {
	ln, port, err := listenScan(s.portLow, s.portHigh)
	if err != nil {
		return fmt.Errorf("flaresolverr listen: %w", err)
	}
	s.listener = ln
	s.port = port

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if s.metrics != nil {
		router.Use(monitoring.Middleware(s.metrics))
	}
	router.GET("/", s.handleLiveness)
	router.POST("/v1", s.handleSolve)

	s.srv = &http.Server{Handler: router}

	go s.dispatch()
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("serve failed", zap.Error(err))
		}
	}()

	s.logger.Info("listening", zap.Int("port", port))
	return nil
}

// Stop shuts the server down and cancels any in-flight solve.
func (s *Server) Stop(ctx context.Context) error {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	s.slv.Cancel()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Port returns the bound port, 0 before Start.
func (s *Server) Port() int { return s.port }

// BaseURL returns the endpoint handed to indexer clients.
func (s *Server) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"msg":       readyMessage,
		"version":   Version,
		"userAgent": browser.SolverUserAgent,
	})
}

func (s *Server) handleSolve(c *gin.Context) {
	start := time.Now()

	var cmd solveCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		s.writeError(c, start, "Invalid request body")
		return
	}
	if cmd.Cmd != "request.get" && cmd.Cmd != "request.post" {
		s.writeError(c, start, fmt.Sprintf("Unknown command: %s", cmd.Cmd))
		return
	}
	if cmd.URL == "" {
		s.writeError(c, start, "No URL provided")
		return
	}

	timeout := defaultTimeout
	if cmd.MaxTimeout > 0 {
		timeout = time.Duration(cmd.MaxTimeout) * time.Millisecond
	}

	req := &solveRequest{
		url:     cmd.URL,
		timeout: timeout,
		done:    make(chan solveResult, 1),
	}

	select {
	case s.requests <- req:
	case <-s.quit:
		s.writeError(c, start, "Challenge solving failed: shutdown")
		return
	}

	budget := timeout + waiterSlack
	select {
	case res := <-req.done:
		if res.err != nil {
			s.writeError(c, start, res.err.Error())
			return
		}
		s.writeSolved(c, start, cmd.URL, res.cookies)
	case <-time.After(budget):
		s.writeError(c, start, "Challenge solving failed: timeout")
	case <-s.quit:
		s.writeError(c, start, "Challenge solving failed: shutdown")
	}
}

// dispatch is the sole owner of the challenge solver. It serializes
// solves and fails the previous request when a new one preempts it.
func (s *Server) dispatch() {
	var (
		current *solveRequest
		outcome <-chan solver.Outcome
	)
	for {
		select {
		case <-s.quit:
			return
		case req := <-s.requests:
			prev, prevOutcome := current, outcome
			outcome = s.slv.Solve(req.url, req.timeout)
			current = req
			if prev != nil {
				go func() {
					o := <-prevOutcome
					prev.done <- solveResult{err: fmt.Errorf("Challenge solving failed: %s", o.Reason)}
				}()
			}
		case o := <-outcome:
			req := current
			current, outcome = nil, nil
			if !o.Solved {
				req.done <- solveResult{err: fmt.Errorf("Challenge solving failed: %s", o.Reason)}
				continue
			}
			// Challenge scripts can keep writing cookies just after the
			// page settles; give them a beat before harvesting.
			time.Sleep(lateCookieDelay)
			req.done <- solveResult{cookies: s.harvest(o.URL)}
		}
	}
}

// harvest collects every jar cookie whose domain refers to the solved
// URL's site, normalized to the wire shape clients expect.
func (s *Server) harvest(rawURL string) []browser.Cookie {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}

	cookies := make([]browser.Cookie, 0)
	for _, c := range s.profile.Jar.All() {
		if host != "" && !browser.DomainsRelated(c.Domain, host) {
			continue
		}
		c.SameSite = "None"
		c.Expiry = -1
		cookies = append(cookies, c)
	}
	return cookies
}

func (s *Server) writeSolved(c *gin.Context, start time.Time, rawURL string, cookies []browser.Cookie) {
	c.JSON(http.StatusOK, envelope{
		Status:         "ok",
		Message:        "",
		StartTimestamp: start.UnixMilli(),
		EndTimestamp:   time.Now().UnixMilli(),
		Version:        Version,
		Solution: solution{
			URL:       rawURL,
			Status:    http.StatusOK,
			Headers:   map[string]string{},
			Response:  "",
			Cookies:   cookies,
			UserAgent: browser.SolverUserAgent,
		},
	})
}

func (s *Server) writeError(c *gin.Context, start time.Time, message string) {
	c.JSON(http.StatusOK, envelope{
		Status:         "error",
		Message:        message,
		StartTimestamp: start.UnixMilli(),
		EndTimestamp:   time.Now().UnixMilli(),
		Version:        Version,
		Solution:       struct{}{},
	})
}

// listenScan binds the first free port in [low, high], then falls back
// to an OS-assigned port.
func listenScan(low, high int) (net.Listener, int, error) {
	for port := low; port <= high; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return ln, port, nil
		}
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, err
	}
	return ln, ln.Addr().(*net.TCPAddr).Port, nil
}
