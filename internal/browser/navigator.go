package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/fetch"
)

// Navigator is a headless page: something that can load a URL under a
// profile, report the document title, and run scripts in page context.
// Challenge solving drives navigators; the renderer-backed implementation
// lives in the shell, this package ships the HTTP one.
type Navigator interface {
	Load(ctx context.Context, rawURL string) error
	Title() string
	URL() string
	RunScript(ctx context.Context, src string) (interface{}, error)
	Close() error
}

// Factory builds a navigator bound to a profile.
type Factory func(p *Profile) Navigator

const scriptTimeout = 5 * time.Second

// Page is the default Navigator: it fetches documents over HTTP through
// the profile's cookie jar, parses them with goquery, and evaluates page
// scripts in a goja VM with a minimal document shim.
type Page struct {
	profile *Profile
	client  *fetch.Client

	mu      sync.Mutex
	vm      *goja.Runtime
	doc     *goquery.Document
	title   string
	current *url.URL
	closed  bool
}

// NewPage creates a page bound to the profile. It satisfies Factory.
func NewPage(p *Profile) Navigator {
	return &Page{
		profile: p,
		client:  p.Client(),
	}
}

// Load fetches the URL and rebuilds the script runtime against the new
// document. Response cookies land in the profile jar via the client.
func (pg *Page) Load(ctx context.Context, rawURL string) error {
	pg.mu.Lock()
	closed := pg.closed
	pg.mu.Unlock()
	if closed {
		return fmt.Errorf("navigator closed")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	// The fetch runs unlocked: response cookies flow into the shared jar,
	// whose subscribers may call back into this page.
	req, err := pg.client.Request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.Get(rawURL)
	if err != nil {
		return fmt.Errorf("load %s: %w", rawURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(resp.Body())))
	if err != nil {
		return fmt.Errorf("parse %s: %w", rawURL, err)
	}

	pg.mu.Lock()
	defer pg.mu.Unlock()
	if pg.closed {
		return fmt.Errorf("navigator closed")
	}
	pg.doc = doc
	pg.title = strings.TrimSpace(doc.Find("title").First().Text())
	pg.current = u
	return pg.resetRuntime()
}

// Title returns the current document title, empty before the first Load.
func (pg *Page) Title() string {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return pg.title
}

// URL returns the current document URL.
func (pg *Page) URL() string {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if pg.current == nil {
		return ""
	}
	return pg.current.String()
}

// RunScript evaluates src in page context and returns the exported value.
func (pg *Page) RunScript(ctx context.Context, src string) (interface{}, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if pg.closed {
		return nil, fmt.Errorf("navigator closed")
	}
	if pg.vm == nil {
		if err := pg.resetRuntime(); err != nil {
			return nil, err
		}
	}

	timer := time.NewTimer(scriptTimeout)
	defer timer.Stop()
	done := make(chan struct{})
	go func() {
		select {
		case <-timer.C:
			pg.vm.Interrupt("script timeout exceeded")
		case <-ctx.Done():
			pg.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	val, err := pg.vm.RunString(src)
	close(done)
	if err != nil {
		return nil, err
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

// Close releases the runtime. Safe to call more than once.
func (pg *Page) Close() error {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.closed = true
	pg.vm = nil
	pg.doc = nil
	return nil
}

// resetRuntime rebuilds the VM globals for the current document.
// Caller holds pg.mu.
func (pg *Page) resetRuntime() error {
	vm := goja.New()

	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())

	document := vm.NewObject()
	document.Set("title", pg.title)
	document.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		if pg.doc == nil || len(call.Arguments) == 0 {
			return goja.Null()
		}
		sel := pg.doc.Find(call.Arguments[0].String()).First()
		if sel.Length() == 0 {
			return goja.Null()
		}
		return vm.ToValue(map[string]interface{}{
			"textContent": sel.Text(),
			"getAttribute": func(name string) string {
				v, _ := sel.Attr(name)
				return v
			},
		})
	})
	document.Set("setCookie", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			pg.writeDocumentCookie(call.Arguments[0].String())
		}
		return goja.Undefined()
	})
	vm.Set("document", document)

	location := vm.NewObject()
	if pg.current != nil {
		location.Set("href", pg.current.String())
		location.Set("hostname", pg.current.Hostname())
	}
	vm.Set("location", location)

	navigator := vm.NewObject()
	navigator.Set("userAgent", pg.profile.UserAgent)
	vm.Set("navigator", navigator)

	pg.vm = vm
	return nil
}

// writeDocumentCookie parses a document.cookie style assignment and writes
// it into the profile jar. Caller holds pg.mu.
func (pg *Page) writeDocumentCookie(raw string) {
	parts := strings.Split(raw, ";")
	if len(parts) == 0 {
		return
	}
	name, value, ok := strings.Cut(strings.TrimSpace(parts[0]), "=")
	if !ok || name == "" {
		return
	}

	domain := ""
	path := "/"
	if pg.current != nil {
		domain = pg.current.Hostname()
	}
	for _, attr := range parts[1:] {
		k, v, _ := strings.Cut(strings.TrimSpace(attr), "=")
		switch strings.ToLower(k) {
		case "domain":
			domain = v
		case "path":
			path = v
		}
	}

	pg.profile.Jar.Set(Cookie{
		Name:   name,
		Value:  value,
		Domain: domain,
		Path:   path,
		Expiry: -1,
	})
}
