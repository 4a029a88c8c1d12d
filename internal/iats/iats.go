// Package iats coordinates the anonymity and torrent subsystem: the
// anonymizing proxy, the challenge-solving facade, the adblock engine,
// permission rules, and the two managed torrent daemons. Components
// degrade independently; a missing binary disables its feature and the
// rest keep running.
package iats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/adblock"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/browser"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/events"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/flaresolverr"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/config"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/monitoring"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/resilience"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/permissions"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/solver"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/storage"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/supervisor"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/torproxy"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/torrent"
)

// Subsystem owns every component and their shared collaborators.
type Subsystem struct {
	Config      *config.Config
	Store       *storage.Store
	Bus         *events.Bus
	Metrics     *monitoring.Metrics
	Profile     *browser.Profile
	Tor         *torproxy.Controller
	Solver      *solver.Solver
	Solverr     *flaresolverr.Server
	Adblock     *adblock.Engine
	Permissions *permissions.Registry
	QBit        *supervisor.Supervisor
	Prowlarr    *supervisor.Supervisor

	logger        *logging.Logger
	prowlarrKey   string
	searchBreaker *resilience.Breaker

	mu             sync.Mutex
	qbitClient     *torrent.QBitClient
	prowlarrClient *torrent.ProwlarrClient
	started        bool
}

// New wires the subsystem together without starting anything.
func New(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) (*Subsystem, error) {
	store, err := storage.New(cfg.Paths.DataDir, logger)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	profile := browser.NewProfile("solver")
	slv := solver.New(cfg.Solver, profile, browser.NewPage, logger, metrics)

	s := &Subsystem{
		Config:      cfg,
		Store:       store,
		Bus:         bus,
		Metrics:     metrics,
		Profile:     profile,
		Tor:         torproxy.New(cfg.Tor, cfg.Paths.ResourcesDir, cfg.Paths.DataDir, logger, bus, metrics),
		Solver:      slv,
		Solverr:     flaresolverr.New(cfg.Solverr, profile, slv, logger, metrics),
		Adblock:     adblock.New(store, cfg.Adblock, logger, bus, metrics),
		Permissions: permissions.New(store, logger, bus),
		QBit:        torrent.NewQBitSupervisor(cfg, logger, metrics),
		logger:      logger.Named("iats"),

		searchBreaker: resilience.NewBreaker("prowlarr-search", 5, 30*time.Second),
	}
	s.Prowlarr, s.prowlarrKey = torrent.NewProwlarrSupervisor(cfg, store, logger, metrics)
	return s, nil
}

// Start brings the subsystem up: the challenge facade first, then the
// proxy and both torrent daemons in parallel, then the indexer's facade
// wiring and the
// blocklist refresh loop. Failures disable their component only.
func (s *Subsystem) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	if err := s.Solverr.Start(); err != nil {
		s.logger.Error("challenge facade unavailable", zap.Error(err))
	}

	s.Tor.StartAsync(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if s.QBit.Start(ctx) {
			client := torrent.NewQBitClient(s.QBit.BaseURL())
			if err := client.Login(ctx, "admin", ""); err != nil {
				s.logger.Warn("torrent daemon login failed", zap.Error(err))
			}
			s.mu.Lock()
			s.qbitClient = client
			s.mu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		if s.Prowlarr.Start(ctx) {
			client := torrent.NewProwlarrClient(s.Prowlarr.BaseURL(), s.prowlarrKey)
			s.mu.Lock()
			s.prowlarrClient = client
			s.mu.Unlock()
			if err := client.ConfigureFlareSolverr(ctx, s.Solverr.BaseURL()); err != nil {
				s.logger.Warn("indexer proxy wiring failed", zap.Error(err))
			}
		}
	}()
	wg.Wait()

	s.Adblock.StartRefreshLoop(ctx)
	s.logger.Info("subsystem started",
		zap.Bool("qbittorrent", s.QBit.IsRunning()),
		zap.Bool("prowlarr", s.Prowlarr.IsRunning()),
		zap.Int("solverrPort", s.Solverr.Port()))
}

// Stop tears everything down in reverse order and flushes pending
// store writes.
func (s *Subsystem) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.Adblock.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Solverr.Stop(ctx); err != nil {
		s.logger.Warn("facade shutdown failed", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.Prowlarr.Stop() }()
	go func() { defer wg.Done(); s.QBit.Stop() }()
	wg.Wait()

	s.Tor.Stop()
	s.Store.FlushAll()
	s.logger.Info("subsystem stopped")
}

// QBitClient returns the torrent daemon client, nil while the daemon is
// down.
func (s *Subsystem) QBitClient() *torrent.QBitClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qbitClient
}

// ProwlarrClient returns the indexer client, nil while the daemon is
// down.
func (s *Subsystem) ProwlarrClient() *torrent.ProwlarrClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prowlarrClient
}

// Search queries the indexer aggregator. A cf_blocked status propagates
// to the caller so the shell can surface the challenge state.
// Repeated failures open a circuit breaker so a dead aggregator fails
// fast instead of stacking request timeouts.
func (s *Subsystem) Search(ctx context.Context, query string, limit int) ([]torrent.SearchResult, string, error) {
	client := s.ProwlarrClient()
	if client == nil {
		return nil, torrent.SearchError, ErrComponentDown
	}
	if err := s.searchBreaker.Allow(); err != nil {
		return nil, torrent.SearchError, err
	}
	results, status, err := client.Search(ctx, query, nil, nil, limit)
	s.searchBreaker.Record(err)
	return results, status, err
}
