package adblock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/events"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/fetch"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/config"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/monitoring"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/storage"
)

const (
	configFile = "web_adblock.json"
	listsFile  = "web_adblock_lists.json"

	// persistEvery amortizes blocked-counter writes.
	persistEvery = 25
)

// fallbackDomains keep the blocker useful offline before the first list
// refresh completes.
var fallbackDomains = []string{
	"doubleclick.net",
	"googlesyndication.com",
	"adservice.google.com",
	"ads.yahoo.com",
	"taboola.com",
	"outbrain.com",
}

var hostPattern = regexp.MustCompile(`^[a-z0-9.-]+$`)

// Config is the persisted blocker configuration.
type Config struct {
	Enabled          bool     `json:"enabled"`
	SiteAllowlist    []string `json:"siteAllowlist"`
	UpdatedAt        int64    `json:"updatedAt"`
	BlockedCount     int64    `json:"blockedCount"`
	LastListUpdateAt int64    `json:"lastListUpdateAt"`
	ListURLs         []string `json:"listUrls"`
}

// Lists is the persisted blocklist snapshot.
type Lists struct {
	Domains     []string `json:"domains"`
	UpdatedAt   int64    `json:"updatedAt"`
	SourceCount int      `json:"sourceCount"`
}

// Stats is the observable summary emitted with every update event.
type Stats struct {
	Enabled            bool     `json:"enabled"`
	BlockedCount       int64    `json:"blockedCount"`
	SiteAllowlist      []string `json:"siteAllowlist"`
	ListUpdatedAt      int64    `json:"listUpdatedAt"`
	DomainCount        int      `json:"domainCount"`
	SourceCount        int      `json:"sourceCount"`
	SiteAllowlistCount int      `json:"siteAllowlistCount"`
}

// RefreshResult reports one updateLists run.
type RefreshResult struct {
	UpdatedAt int64 `json:"updatedAt"`
	Domains   int   `json:"domains"`
	Sources   int   `json:"sources"`
}

// Engine decides synchronously whether outgoing requests should be
// blocked. The decision path reads an immutable domain-set snapshot
// published atomically, so ShouldBlock never contends with refreshes.
type Engine struct {
	store   *storage.Store
	client  *fetch.Client
	logger  *logging.Logger
	bus     *events.Bus
	metrics *monitoring.Metrics
	opts    config.AdblockConfig

	mu     sync.Mutex
	cfg    Config
	lists  Lists
	set    atomic.Value // map[string]struct{}
	refMu  sync.Mutex   // serializes UpdateLists runs
	cancel context.CancelFunc
}

// New loads state from the store, seeding the fallback domains with a
// synchronous write when no blocklist exists yet.
func New(store *storage.Store, opts config.AdblockConfig, logger *logging.Logger, bus *events.Bus, metrics *monitoring.Metrics) *Engine {
	e := &Engine{
		store:   store,
		client:  fetch.NewClient(),
		logger:  logger.Named("adblock"),
		bus:     bus,
		metrics: metrics,
		opts:    opts,
	}
	e.client.SetTimeout(opts.FetchTimeout)

	e.cfg = Config{Enabled: true, UpdatedAt: time.Now().UnixMilli()}
	if err := store.ReadJSON(configFile, &e.cfg); err != nil {
		e.cfg = Config{Enabled: true, UpdatedAt: time.Now().UnixMilli()}
	}
	if len(e.cfg.ListURLs) == 0 {
		e.cfg.ListURLs = append([]string(nil), opts.ListURLs...)
	}

	if err := store.ReadJSON(listsFile, &e.lists); err != nil {
		e.lists = Lists{}
	}
	if len(e.lists.Domains) == 0 {
		e.lists = Lists{
			Domains:   append([]string(nil), fallbackDomains...),
			UpdatedAt: time.Now().UnixMilli(),
		}
		if err := store.WriteJSONSync(listsFile, &e.lists); err != nil {
			e.logger.Warn("fallback blocklist write failed", zap.Error(err))
		}
	}
	e.publishSet(e.lists.Domains)
	return e
}

// NormalizeHost lowercases, strips surrounding dots, and rejects hosts
// with characters outside [a-z0-9.-]. Rejected hosts map to "".
func NormalizeHost(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	host = strings.Trim(host, ".")
	if host == "" || !hostPattern.MatchString(host) {
		return ""
	}
	return host
}

// ParseDomains extracts blockable hosts from EasyList-style filter text.
// Only network domain rules (||host...) survive; cosmetic and comment
// lines are dropped.
func ParseDomains(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || line[0] == '!' || line[0] == '[' {
			continue
		}
		if strings.Contains(line, "##") || strings.Contains(line, "#@#") {
			continue
		}
		if !strings.HasPrefix(line, "||") {
			continue
		}
		rule := line[2:]
		if stop := strings.IndexAny(rule, "^/$*"); stop >= 0 {
			rule = rule[:stop]
		}
		if host := NormalizeHost(rule); host != "" {
			out[host] = struct{}{}
		}
	}
	return out
}

// HostMatchesBlocked checks the host and each dotted suffix against the
// active domain set.
func (e *Engine) HostMatchesBlocked(hostname string) bool {
	host := NormalizeHost(hostname)
	if host == "" {
		return false
	}
	set, _ := e.set.Load().(map[string]struct{})
	probe := host
	for probe != "" {
		if _, ok := set[probe]; ok {
			return true
		}
		dot := strings.IndexByte(probe, '.')
		if dot < 0 {
			break
		}
		probe = probe[dot+1:]
	}
	return false
}

// ShouldBlock decides one outgoing request. firstPartyURL is the
// top-level origin; allowlisted first parties bypass the blocker.
func (e *Engine) ShouldBlock(rawURL, firstPartyURL string) bool {
	e.mu.Lock()
	enabled := e.cfg.Enabled
	allow := e.isAllowlistedLocked(firstPartyURL)
	e.mu.Unlock()
	if !enabled || allow {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if !e.HostMatchesBlocked(u.Hostname()) {
		return false
	}

	e.mu.Lock()
	e.cfg.BlockedCount++
	e.cfg.UpdatedAt = time.Now().UnixMilli()
	if e.cfg.BlockedCount%persistEvery == 0 {
		e.store.WriteJSON(configFile, &e.cfg)
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.BlockedTotal.Inc()
	}
	return true
}

// isAllowlistedLocked reports whether the first party host equals or is
// a subdomain of an allowlist entry. Caller holds e.mu.
func (e *Engine) isAllowlistedLocked(firstPartyURL string) bool {
	u, err := url.Parse(firstPartyURL)
	if err != nil {
		return false
	}
	top := NormalizeHost(u.Hostname())
	if top == "" {
		return false
	}
	for _, entry := range e.cfg.SiteAllowlist {
		a := NormalizeHost(entry)
		if a == "" {
			continue
		}
		if top == a || strings.HasSuffix(top, "."+a) {
			return true
		}
	}
	return false
}

// UpdateLists fetches every configured list URL, unions the parsed
// domains, and swaps the active set atomically. An empty union keeps
// the existing set and returns an error.
func (e *Engine) UpdateLists(ctx context.Context) (*RefreshResult, error) {
	e.refMu.Lock()
	defer e.refMu.Unlock()

	e.mu.Lock()
	urls := append([]string(nil), e.cfg.ListURLs...)
	prevUpdatedAt := e.lists.UpdatedAt
	e.mu.Unlock()

	combined := make(map[string]struct{})
	sources := 0
	for _, target := range urls {
		target = strings.TrimSpace(target)
		if !strings.HasPrefix(strings.ToLower(target), "http://") &&
			!strings.HasPrefix(strings.ToLower(target), "https://") {
			continue
		}
		text, err := e.fetchList(ctx, target)
		if err != nil {
			e.logger.Warn("list fetch failed", zap.String("url", target), zap.Error(err))
			continue
		}
		for d := range ParseDomains(text) {
			combined[d] = struct{}{}
		}
		sources++
	}

	if len(combined) == 0 {
		if e.metrics != nil {
			e.metrics.ListRefreshes.WithLabelValues("empty").Inc()
		}
		return nil, fmt.Errorf("no lists loaded")
	}

	domains := make([]string, 0, len(combined))
	for d := range combined {
		domains = append(domains, d)
	}
	now := time.Now().UnixMilli()
	if now <= prevUpdatedAt {
		now = prevUpdatedAt + 1
	}

	e.mu.Lock()
	e.lists = Lists{Domains: domains, UpdatedAt: now, SourceCount: sources}
	e.cfg.LastListUpdateAt = now
	e.cfg.UpdatedAt = time.Now().UnixMilli()
	e.publishSet(domains)
	e.store.WriteJSON(listsFile, &e.lists)
	e.store.WriteJSON(configFile, &e.cfg)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ListRefreshes.WithLabelValues("ok").Inc()
	}
	e.emitUpdated()
	e.logger.Info("blocklist refreshed", zap.Int("domains", len(domains)), zap.Int("sources", sources))
	return &RefreshResult{UpdatedAt: now, Domains: len(domains), Sources: sources}, nil
}

func (e *Engine) fetchList(ctx context.Context, target string) (string, error) {
	req, err := e.client.Request(ctx)
	if err != nil {
		return "", err
	}
	// Asking for gzip explicitly opts out of transport auto-decompression,
	// so the body is inflated here.
	resp, err := req.SetHeader("Accept-Encoding", "gzip").Get(target)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() >= 400 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode())
	}

	body := resp.Body()
	if strings.EqualFold(resp.Header().Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("gunzip list: %w", err)
		}
		defer zr.Close()
		inflated, err := io.ReadAll(zr)
		if err != nil {
			return "", fmt.Errorf("gunzip list: %w", err)
		}
		return string(inflated), nil
	}
	return string(body), nil
}

// SetEnabled toggles the blocker and persists immediately.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.cfg.Enabled = enabled
	e.cfg.UpdatedAt = time.Now().UnixMilli()
	e.store.WriteJSON(configFile, &e.cfg)
	e.mu.Unlock()
	e.emitUpdated()
}

// ToggleSiteAllow adds or removes a first-party host from the
// allowlist. Returns whether the host is allowlisted afterwards.
func (e *Engine) ToggleSiteAllow(rawHost string) (bool, error) {
	host := NormalizeHost(rawHost)
	if host == "" {
		return false, fmt.Errorf("invalid host")
	}

	e.mu.Lock()
	next := make([]string, 0, len(e.cfg.SiteAllowlist)+1)
	exists := false
	for _, entry := range e.cfg.SiteAllowlist {
		h := NormalizeHost(entry)
		if h == "" {
			continue
		}
		if h == host {
			exists = true
			continue
		}
		next = append(next, h)
	}
	if !exists {
		next = append(next, host)
	}
	e.cfg.SiteAllowlist = next
	e.cfg.UpdatedAt = time.Now().UnixMilli()
	e.store.WriteJSON(configFile, &e.cfg)
	e.mu.Unlock()

	e.emitUpdated()
	return !exists, nil
}

// Stats returns the current observable summary.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statsLocked()
}

func (e *Engine) statsLocked() Stats {
	return Stats{
		Enabled:            e.cfg.Enabled,
		BlockedCount:       e.cfg.BlockedCount,
		SiteAllowlist:      append([]string(nil), e.cfg.SiteAllowlist...),
		ListUpdatedAt:      e.lists.UpdatedAt,
		DomainCount:        len(e.lists.Domains),
		SourceCount:        e.lists.SourceCount,
		SiteAllowlistCount: len(e.cfg.SiteAllowlist),
	}
}

// StartRefreshLoop refreshes the blocklist on the configured interval
// until Stop is called or the context ends.
func (e *Engine) StartRefreshLoop(ctx context.Context) {
	if e.opts.RefreshInterval <= 0 {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(e.opts.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if _, err := e.UpdateLists(loopCtx); err != nil {
					e.logger.Warn("scheduled refresh failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop ends the refresh loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) publishSet(domains []string) {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[d] = struct{}{}
	}
	e.set.Store(set)
	if e.metrics != nil {
		e.metrics.ListDomains.Set(float64(len(set)))
	}
}

func (e *Engine) emitUpdated() {
	if e.bus == nil {
		return
	}
	e.mu.Lock()
	stats := e.statsLocked()
	e.mu.Unlock()
	e.bus.Publish(events.TypeAdblockUpdated, stats)
}
