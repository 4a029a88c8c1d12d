package browser

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Cookie is the wire representation shared with the renderer and the
// FlareSolverr facade.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"httpOnly"`
	SameSite string `json:"sameSite"`
	Expiry   int64  `json:"expiry"`
}

// CookieJar is the profile-wide cookie store. It implements net/http's
// CookieJar so any client bound to the profile reads and writes the same
// cookies, which is what lets clearance cookies obtained by the headless
// navigator flow to every other holder of the profile.
type CookieJar struct {
	mu      sync.RWMutex
	cookies map[string]map[string]Cookie // domain -> name -> cookie
	subs    map[int]func(Cookie)
	nextSub int
}

// NewCookieJar creates an empty jar.
func NewCookieJar() *CookieJar {
	return &CookieJar{
		cookies: make(map[string]map[string]Cookie),
		subs:    make(map[int]func(Cookie)),
	}
}

// SetCookies stores response cookies for the request URL (http.CookieJar).
func (j *CookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = u.Hostname()
		}
		expiry := int64(-1)
		if !c.Expires.IsZero() {
			expiry = c.Expires.Unix()
		}
		j.Set(Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     defaultPath(c.Path),
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
			SameSite: "None",
			Expiry:   expiry,
		})
	}
}

// Cookies returns cookies applicable to the request URL (http.CookieJar).
func (j *CookieJar) Cookies(u *url.URL) []*http.Cookie {
	host := strings.ToLower(u.Hostname())

	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []*http.Cookie
	for domain, byName := range j.cookies {
		if !DomainSuffixMatch(domain, host) {
			continue
		}
		for _, c := range byName {
			if c.Secure && u.Scheme != "https" {
				continue
			}
			out = append(out, &http.Cookie{Name: c.Name, Value: c.Value, Path: c.Path})
		}
	}
	return out
}

// Set adds or replaces one cookie and notifies subscribers.
func (j *CookieJar) Set(c Cookie) {
	domain := strings.ToLower(strings.TrimSpace(c.Domain))
	if domain == "" {
		return
	}
	c.Domain = domain
	if c.Path == "" {
		c.Path = "/"
	}

	j.mu.Lock()
	byName, ok := j.cookies[domain]
	if !ok {
		byName = make(map[string]Cookie)
		j.cookies[domain] = byName
	}
	byName[c.Name] = c
	subs := make([]func(Cookie), 0, len(j.subs))
	for _, fn := range j.subs {
		subs = append(subs, fn)
	}
	j.mu.Unlock()

	for _, fn := range subs {
		fn(c)
	}
}

// All returns a snapshot of every cookie in the jar.
func (j *CookieJar) All() []Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Cookie
	for _, byName := range j.cookies {
		for _, c := range byName {
			out = append(out, c)
		}
	}
	return out
}

// SubscribeAdded registers a callback invoked for every cookie written to
// the jar. The returned cancel func detaches the subscription; it is safe
// to call more than once.
func (j *CookieJar) SubscribeAdded(fn func(Cookie)) func() {
	j.mu.Lock()
	id := j.nextSub
	j.nextSub++
	j.subs[id] = fn
	j.mu.Unlock()

	return func() {
		j.mu.Lock()
		delete(j.subs, id)
		j.mu.Unlock()
	}
}

// DomainSuffixMatch reports whether host falls under cookieDomain after
// leading-dot stripping: equal hosts match, as does any subdomain of the
// cookie domain.
func DomainSuffixMatch(cookieDomain, host string) bool {
	cd := strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	h := strings.TrimPrefix(strings.ToLower(host), ".")
	if cd == "" || h == "" {
		return false
	}
	return h == cd || strings.HasSuffix(h, "."+cd)
}

// DomainsRelated reports whether two cookie domains refer to the same site:
// either one is a dotless suffix of the other. Used for cookie harvesting,
// where both "a.example.com" vs "example.com" and the reverse should match.
func DomainsRelated(a, b string) bool {
	return DomainSuffixMatch(a, b) || DomainSuffixMatch(b, a)
}

func defaultPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
