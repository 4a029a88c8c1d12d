// Package permissions stores per-origin web permission overrides.
// Rules are keyed by normalized origin and permission name; unknown
// pairs resolve to "ask", which callers treat as not-allowed.
package permissions

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/events"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/storage"
)

const permissionsFile = "web_permissions.json"

// Decisions.
const (
	Allow = "allow"
	Deny  = "deny"
	Ask   = "ask"
)

// Rule is one (origin, permission) override.
type Rule struct {
	Origin     string `json:"origin"`
	Permission string `json:"permission"`
	Decision   string `json:"decision"`
	UpdatedAt  int64  `json:"updatedAt"`
}

type state struct {
	Rules     []Rule `json:"rules"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Registry answers permission queries for browser views and persists
// overrides through the debounced store.
type Registry struct {
	store  *storage.Store
	logger *logging.Logger
	bus    *events.Bus

	mu sync.Mutex
	st state
}

// New loads persisted rules; a missing or malformed file yields an
// empty rule set.
func New(store *storage.Store, logger *logging.Logger, bus *events.Bus) *Registry {
	r := &Registry{
		store:  store,
		logger: logger.Named("permissions"),
		bus:    bus,
	}
	if err := store.ReadJSON(permissionsFile, &r.st); err != nil {
		r.st = state{UpdatedAt: time.Now().UnixMilli()}
	}
	if r.st.Rules == nil {
		r.st.Rules = []Rule{}
	}
	return r
}

// NormalizeOrigin reduces a URL to its lowercase scheme://host[:port]
// origin. Non-HTTP(S) URLs normalize to "".
func NormalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	host := strings.ToLower(u.Host)
	if host == "" {
		return ""
	}
	return scheme + "://" + host
}

// NormalizeDecision maps any value outside {allow, deny, ask} to ask.
func NormalizeDecision(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case Allow:
		return Allow
	case Deny:
		return Deny
	default:
		return Ask
	}
}

// List returns a snapshot of all rules and the last update time.
func (r *Registry) List() ([]Rule, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Rule(nil), r.st.Rules...), r.st.UpdatedAt
}

// Set adds or updates one override.
func (r *Registry) Set(origin, permission, decision string) (Rule, error) {
	o := NormalizeOrigin(origin)
	if o == "" {
		return Rule{}, fmt.Errorf("invalid origin")
	}
	p := strings.TrimSpace(permission)
	if p == "" {
		return Rule{}, fmt.Errorf("missing permission")
	}
	d := NormalizeDecision(decision)
	now := time.Now().UnixMilli()

	r.mu.Lock()
	var rule Rule
	found := false
	for i := range r.st.Rules {
		if r.st.Rules[i].Origin == o && r.st.Rules[i].Permission == p {
			r.st.Rules[i].Decision = d
			r.st.Rules[i].UpdatedAt = now
			rule = r.st.Rules[i]
			found = true
			break
		}
	}
	if !found {
		rule = Rule{Origin: o, Permission: p, Decision: d, UpdatedAt: now}
		r.st.Rules = append(r.st.Rules, rule)
	}
	r.st.UpdatedAt = now
	r.store.WriteJSON(permissionsFile, &r.st)
	r.mu.Unlock()

	r.emitUpdated()
	return rule, nil
}

// Reset removes rules matching the given origin and/or permission.
// Empty origin matches every origin, empty permission every
// permission; both empty clears the whole set.
func (r *Registry) Reset(origin, permission string) {
	o := NormalizeOrigin(origin)
	p := strings.TrimSpace(permission)
	now := time.Now().UnixMilli()

	r.mu.Lock()
	if o == "" && p == "" {
		r.st.Rules = []Rule{}
	} else {
		kept := r.st.Rules[:0]
		for _, rule := range r.st.Rules {
			if o != "" && rule.Origin != o {
				kept = append(kept, rule)
				continue
			}
			if p != "" && rule.Permission != p {
				kept = append(kept, rule)
				continue
			}
		}
		r.st.Rules = append([]Rule(nil), kept...)
	}
	r.st.UpdatedAt = now
	r.store.WriteJSON(permissionsFile, &r.st)
	r.mu.Unlock()

	r.emitUpdated()
}

// Decision resolves one query; unknown pairs return Ask.
func (r *Registry) Decision(origin, permission string) string {
	o := NormalizeOrigin(origin)
	p := strings.TrimSpace(permission)
	if o == "" || p == "" {
		return Ask
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range r.st.Rules {
		if rule.Origin == o && rule.Permission == p {
			return NormalizeDecision(rule.Decision)
		}
	}
	return Ask
}

// ShouldAllow reports whether a request may proceed without prompting.
// Ask is treated as deny; the interactive prompt lives in the shell.
func (r *Registry) ShouldAllow(origin, permission string) bool {
	return r.Decision(origin, permission) == Allow
}

func (r *Registry) emitUpdated() {
	if r.bus == nil {
		return
	}
	rules, updatedAt := r.List()
	r.bus.Publish(events.TypePermissionsUpdated, map[string]interface{}{
		"rules":     rules,
		"updatedAt": updatedAt,
	})
}
