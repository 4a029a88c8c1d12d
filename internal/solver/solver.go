package solver

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/browser"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/config"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/monitoring"
)

// ClearanceCookieName is the cookie anti-bot layers set once a challenge
// has been passed.
const ClearanceCookieName = "cf_clearance"

const (
	// DefaultTimeout bounds a solve attempt when neither the caller nor
	// the configuration gives one.
	DefaultTimeout = 35 * time.Second

	defaultPollInterval = 500 * time.Millisecond
	defaultSettleDelay  = 1500 * time.Millisecond
)

// challengeTitles are lowercase substrings of page titles shown while a
// challenge is still in progress.
var challengeTitles = []string{
	"just a moment",
	"attention required",
	"checking your browser",
}

// IsChallengeTitle reports whether a page title indicates an unfinished
// anti-bot challenge.
func IsChallengeTitle(title string) bool {
	t := strings.ToLower(title)
	for _, marker := range challengeTitles {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

// Outcome is the single terminal event of a solve attempt.
type Outcome struct {
	URL    string
	Solved bool
	Reason string
}

// Solver drives a hidden navigator at a challenge URL until a clearance
// cookie lands in the shared profile jar or the page title leaves its
// challenge state. One attempt at a time; a new Solve cancels the prior.
type Solver struct {
	profile *browser.Profile
	factory browser.Factory
	logger  *logging.Logger
	metrics *monitoring.Metrics

	timeout     time.Duration
	poll        time.Duration
	settleDelay time.Duration

	mu      sync.Mutex
	current *attempt
}

// New creates a solver bound to a browsing profile. Zero cfg fields fall
// back to the package defaults; metrics may be nil.
func New(cfg config.SolverConfig, profile *browser.Profile, factory browser.Factory, logger *logging.Logger, metrics *monitoring.Metrics) *Solver {
	if factory == nil {
		factory = browser.NewPage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	return &Solver{
		profile:     profile,
		factory:     factory,
		logger:      logger.Named("solver"),
		metrics:     metrics,
		timeout:     cfg.Timeout,
		poll:        cfg.PollInterval,
		settleDelay: cfg.SettleDelay,
	}
}

// Solve starts an attempt against rawURL. It returns immediately; the
// channel receives exactly one Outcome. Any in-flight attempt is
// cancelled first and its channel receives a failed outcome.
func (s *Solver) Solve(rawURL string, timeout time.Duration) <-chan Outcome {
	out := make(chan Outcome, 1)
	if timeout <= 0 {
		timeout = s.timeout
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		out <- Outcome{URL: rawURL, Reason: "invalid url"}
		return out
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		url:          rawURL,
		targetDomain: strings.ToLower(u.Hostname()),
		out:          out,
		cancel:       cancel,
		solver:       s,
		started:      time.Now(),
	}
	// The navigator exists before the attempt is visible to any other
	// goroutine, so every terminal path can close it.
	a.nav = s.factory(s.profile)

	s.mu.Lock()
	prev := s.current
	s.current = a
	s.mu.Unlock()
	if prev != nil {
		prev.finish(false, "cancelled")
	}

	s.logger.Info("solve started",
		zap.String("url", rawURL),
		zap.String("domain", a.targetDomain),
		zap.Duration("timeout", timeout))

	a.unsubscribe = s.profile.Jar.SubscribeAdded(func(c browser.Cookie) {
		if c.Name == ClearanceCookieName && browser.DomainSuffixMatch(c.Domain, a.targetDomain) {
			a.finish(true, "")
		}
	})
	if a.done.Load() {
		// Finished before the subscription handle was recorded.
		a.unsubscribe()
	}

	go a.run(ctx, timeout)
	return out
}

// Cancel aborts the in-flight attempt, if any. Idempotent.
func (s *Solver) Cancel() {
	s.mu.Lock()
	a := s.current
	s.mu.Unlock()
	if a != nil {
		a.finish(false, "cancelled")
	}
}

// Active reports whether an attempt is in flight.
func (s *Solver) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *Solver) clearCurrent(a *attempt) {
	s.mu.Lock()
	if s.current == a {
		s.current = nil
	}
	s.mu.Unlock()
}

// attempt holds the per-solve state. All terminal paths funnel through
// finish, guarded by once, so cleanup runs exactly once and the outcome
// channel receives exactly one value.
type attempt struct {
	url          string
	targetDomain string
	out          chan Outcome
	cancel       context.CancelFunc
	unsubscribe  func()
	nav          browser.Navigator
	solver       *Solver
	started      time.Time

	once sync.Once
	done atomic.Bool
}

func (a *attempt) run(ctx context.Context, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	loadDone := make(chan error, 1)
	go func() { loadDone <- a.nav.Load(ctx, a.url) }()

	ticker := time.NewTicker(a.solver.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			a.finish(false, "timeout")
			return
		case err := <-loadDone:
			if err != nil && ctx.Err() == nil {
				// Challenge origins often refuse the first fetch;
				// the title poll and cookie watch keep running.
				a.solver.logger.Warn("challenge page load failed",
					zap.String("url", a.url), zap.Error(err))
			}
			loadDone = nil
		case <-ticker.C:
			title := a.nav.Title()
			if title == "" || IsChallengeTitle(title) {
				continue
			}
			// The page left its challenge state. Give late cookie
			// writes a moment to land before declaring success.
			select {
			case <-ctx.Done():
			case <-deadline.C:
				a.finish(false, "timeout")
			case <-time.After(a.solver.settleDelay):
				a.finish(true, "")
			}
			return
		}
	}
}

func (a *attempt) finish(solved bool, reason string) {
	a.once.Do(func() {
		a.done.Store(true)
		a.cancel()
		if a.unsubscribe != nil {
			a.unsubscribe()
		}
		if a.nav != nil {
			a.nav.Close()
		}
		a.solver.clearCurrent(a)

		elapsed := time.Since(a.started)
		if solved {
			a.solver.logger.Info("solve succeeded",
				zap.String("url", a.url), zap.Duration("elapsed", elapsed))
		} else {
			a.solver.logger.Warn("solve failed",
				zap.String("url", a.url), zap.String("reason", reason),
				zap.Duration("elapsed", elapsed))
		}
		if a.solver.metrics != nil {
			outcome := "solved"
			if !solved {
				outcome = reason
			}
			a.solver.metrics.RecordSolve(outcome, elapsed)
		}

		a.out <- Outcome{URL: a.url, Solved: solved, Reason: reason}
	})
}
