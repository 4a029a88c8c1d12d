package browser

import "github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/fetch"

// SolverUserAgent is the desktop user agent presented by headless
// navigations so challenge pages see a mainstream browser.
const SolverUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Profile bundles the state shared by every page opened under one browsing
// identity: the cookie jar and the user agent. Navigators created from the
// same profile observe each other's cookies immediately.
type Profile struct {
	Name      string
	UserAgent string
	Jar       *CookieJar
}

// NewProfile creates a profile with an empty jar.
func NewProfile(name string) *Profile {
	return &Profile{
		Name:      name,
		UserAgent: SolverUserAgent,
		Jar:       NewCookieJar(),
	}
}

// Client builds an HTTP client bound to the profile's jar and user agent.
func (p *Profile) Client() *fetch.Client {
	c := fetch.NewLocalClient()
	c.SetCookieJar(p.Jar)
	c.Resty.SetHeader("User-Agent", p.UserAgent)
	return c
}
