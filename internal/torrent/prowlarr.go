package torrent

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/fetch"
)

// Search statuses. cf_blocked tells the caller a solve through the
// challenge facade may unblock the indexer.
const (
	SearchOK        = "ok"
	SearchCFBlocked = "cf_blocked"
	SearchError     = "error"
)

// SearchResult is a normalized indexer hit.
type SearchResult struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	SizeBytes   int64    `json:"sizeBytes"`
	Seeders     int      `json:"seeders"`
	Leechers    int      `json:"leechers"`
	MagnetURI   string   `json:"magnetUri"`
	DownloadURL string   `json:"downloadUrl"`
	SourceName  string   `json:"sourceName"`
	Categories  []string `json:"categories"`
}

// Indexer is one configured indexer.
type Indexer struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"baseUrl"`
}

// ProwlarrClient talks to the local indexer aggregator (v1 API).
type ProwlarrClient struct {
	base   string
	apiKey string
	client *fetch.Client
}

// NewProwlarrClient creates a client for the given base URL and API key.
func NewProwlarrClient(baseURL, apiKey string) *ProwlarrClient {
	c := fetch.NewLocalClient()
	c.SetTimeout(30 * time.Second)
	return &ProwlarrClient{
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		client: c,
	}
}

func (c *ProwlarrClient) request(ctx context.Context) (*resty.Request, error) {
	req, err := c.client.Request(ctx)
	if err != nil {
		return nil, err
	}
	return req.SetHeader("X-Api-Key", c.apiKey), nil
}

// Health reports whether the aggregator answers its authenticated
// health endpoint.
func (c *ProwlarrClient) Health(ctx context.Context) bool {
	req, err := c.request(ctx)
	if err != nil {
		return false
	}
	resp, err := req.Get(c.base + "/api/v1/health")
	if err != nil {
		return false
	}
	return resp.StatusCode() >= 200 && resp.StatusCode() < 400
}

// Search queries all (or the given) indexers. The status return is one
// of SearchOK, SearchCFBlocked, SearchError; results are only valid for
// SearchOK.
func (c *ProwlarrClient) Search(ctx context.Context, query string, indexerIDs, categories []int, limit int) ([]SearchResult, string, error) {
	if limit <= 0 {
		limit = 40
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("type", "search")
	if len(indexerIDs) > 0 {
		params.Set("indexerIds", joinInts(indexerIDs))
	}
	if len(categories) > 0 {
		params.Set("categories", joinInts(categories))
	}

	req, err := c.request(ctx)
	if err != nil {
		return nil, SearchError, err
	}
	resp, err := req.Get(c.base + "/api/v1/search?" + params.Encode())
	if err != nil {
		return nil, SearchError, err
	}

	body := string(resp.Body())
	bodyLower := strings.ToLower(body)
	status := resp.StatusCode()

	if status == 403 || (status == 200 && strings.Contains(bodyLower, "cf_clearance")) {
		return nil, SearchCFBlocked, nil
	}
	if status != 200 {
		if strings.Contains(bodyLower, "cloudflare") || strings.Contains(bodyLower, "cf-ray") {
			return nil, SearchCFBlocked, nil
		}
		return nil, SearchError, fmt.Errorf("search: HTTP %d", status)
	}

	var raw []struct {
		GUID        string `json:"guid"`
		Title       string `json:"title"`
		Size        int64  `json:"size"`
		Seeders     int    `json:"seeders"`
		Leechers    int    `json:"leechers"`
		DownloadURL string `json:"downloadUrl"`
		MagnetURL   string `json:"magnetUrl"`
		Indexer     string `json:"indexer"`
		Categories  []struct {
			Name string `json:"name"`
		} `json:"categories"`
	}
	if err := sonic.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, SearchError, fmt.Errorf("decode search results: %w", err)
	}

	results := make([]SearchResult, 0, len(raw))
	for _, item := range raw {
		r := SearchResult{
			ID:          item.GUID,
			Title:       item.Title,
			SizeBytes:   item.Size,
			Seeders:     item.Seeders,
			Leechers:    item.Leechers,
			MagnetURI:   item.MagnetURL,
			DownloadURL: item.DownloadURL,
			SourceName:  item.Indexer,
		}
		for _, cat := range item.Categories {
			r.Categories = append(r.Categories, cat.Name)
		}
		if r.MagnetURI == "" && strings.HasPrefix(r.DownloadURL, "magnet:") {
			r.MagnetURI = r.DownloadURL
		}
		results = append(results, r)
	}
	return results, SearchOK, nil
}

// ListIndexers returns the configured indexers with their base URLs.
func (c *ProwlarrClient) ListIndexers(ctx context.Context) ([]Indexer, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := req.Get(c.base + "/api/v1/indexer")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("list indexers: HTTP %d", resp.StatusCode())
	}

	var raw []struct {
		ID     int    `json:"id"`
		Name   string `json:"name"`
		Enable bool   `json:"enable"`
		Fields []struct {
			Name  string      `json:"name"`
			Value interface{} `json:"value"`
		} `json:"fields"`
	}
	if err := sonic.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("decode indexers: %w", err)
	}

	out := make([]Indexer, 0, len(raw))
	for _, ix := range raw {
		entry := Indexer{ID: ix.ID, Name: ix.Name, Enabled: ix.Enable}
		for _, field := range ix.Fields {
			if field.Name == "baseUrl" {
				if s, ok := field.Value.(string); ok {
					entry.BaseURL = s
				}
				break
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// TestIndexer asks the aggregator to verify one indexer.
func (c *ProwlarrClient) TestIndexer(ctx context.Context, id int) bool {
	req, err := c.request(ctx)
	if err != nil {
		return false
	}
	resp, err := req.
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]int{"id": id}).
		Post(c.base + "/api/v1/indexer/test")
	if err != nil {
		return false
	}
	return resp.StatusCode() == 200
}

// ConfigureFlareSolverr registers the challenge facade as an indexer
// proxy so protected indexers route through it. Idempotent: an existing
// registration with the same name is updated in place.
func (c *ProwlarrClient) ConfigureFlareSolverr(ctx context.Context, endpoint string) error {
	const proxyName = "Tankoban FlareSolverr"

	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.Get(c.base + "/api/v1/indexerProxy")
	if err != nil {
		return err
	}

	existingID := 0
	if resp.StatusCode() == 200 {
		var proxies []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		}
		if sonic.Unmarshal(resp.Body(), &proxies) == nil {
			for _, p := range proxies {
				if p.Name == proxyName {
					existingID = p.ID
					break
				}
			}
		}
	}

	payload := map[string]interface{}{
		"name":           proxyName,
		"implementation": "FlareSolverr",
		"configContract": "FlareSolverrSettings",
		"fields": []map[string]interface{}{
			{"name": "host", "value": endpoint},
			{"name": "requestTimeout", "value": 60},
		},
		"tags": []int{},
	}

	req, err = c.request(ctx)
	if err != nil {
		return err
	}
	req.SetHeader("Content-Type", "application/json").SetBody(payload)

	if existingID > 0 {
		payload["id"] = existingID
		resp, err = req.Put(fmt.Sprintf("%s/api/v1/indexerProxy/%d", c.base, existingID))
	} else {
		resp, err = req.Post(c.base + "/api/v1/indexerProxy")
	}
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("configure indexer proxy: HTTP %d", resp.StatusCode())
	}
	return nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
