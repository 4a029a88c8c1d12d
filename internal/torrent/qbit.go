package torrent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/fetch"
)

// Torrent is one entry from the daemon's torrent list.
type Torrent struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
	DlSpeed  int64   `json:"dlspeed"`
	UpSpeed  int64   `json:"upspeed"`
	ETA      int64   `json:"eta"`
	State    string  `json:"state"`
	SavePath string  `json:"save_path"`
}

// TransferInfo is the daemon's global transfer snapshot.
type TransferInfo struct {
	DlSpeed          int64  `json:"dl_info_speed"`
	UpSpeed          int64  `json:"up_info_speed"`
	DlTotal          int64  `json:"dl_info_data"`
	UpTotal          int64  `json:"up_info_data"`
	ConnectionStatus string `json:"connection_status"`
}

// QBitClient talks to the local qBittorrent WebUI (v2 API). The seeded
// configuration disables localhost auth, but Login still harvests a
// session cookie when the daemon demands one.
type QBitClient struct {
	base   string
	client *fetch.Client

	mu  sync.Mutex
	sid string
}

// NewQBitClient creates a client for the given base URL.
func NewQBitClient(baseURL string) *QBitClient {
	return &QBitClient{
		base:   strings.TrimRight(baseURL, "/"),
		client: fetch.NewLocalClient(),
	}
}

func (c *QBitClient) url(path string) string { return c.base + path }

func (c *QBitClient) sidCookie() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sid == "" {
		return ""
	}
	return "SID=" + c.sid
}

// Login authenticates against the WebUI. Auth-disabled daemons pass
// trivially; otherwise the SID cookie is stored for later calls.
func (c *QBitClient) Login(ctx context.Context, username, password string) error {
	req, err := c.client.Request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.
		SetFormData(map[string]string{"username": username, "password": password}).
		Post(c.url("/api/v2/auth/login"))
	if err == nil && resp.StatusCode() == 200 && strings.Contains(string(resp.Body()), "Ok") {
		for _, cookie := range resp.Cookies() {
			if cookie.Name == "SID" {
				c.mu.Lock()
				c.sid = cookie.Value
				c.mu.Unlock()
				return nil
			}
		}
		return nil
	}

	// Auth may simply be off for localhost.
	if _, verr := c.Version(ctx); verr == nil {
		return nil
	}
	return fmt.Errorf("qbittorrent login failed")
}

// Version returns the daemon's application version.
func (c *QBitClient) Version(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/api/v2/app/version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// List returns torrents matching a daemon-side filter
// (all, downloading, seeding, completed, paused, ...).
func (c *QBitClient) List(ctx context.Context, filter string) ([]Torrent, error) {
	if filter == "" {
		filter = "all"
	}
	body, err := c.get(ctx, "/api/v2/torrents/info?filter="+filter)
	if err != nil {
		return nil, err
	}
	var out []Torrent
	if err := sonic.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode torrent list: %w", err)
	}
	return out, nil
}

// AddMagnet submits a magnet URI, optionally with a save path.
func (c *QBitClient) AddMagnet(ctx context.Context, uri, savePath string) error {
	form := map[string]string{"urls": uri}
	if savePath != "" {
		form["savepath"] = savePath
	}
	return c.postForm(ctx, "/api/v2/torrents/add", form)
}

// AddTorrentFile uploads a .torrent file.
func (c *QBitClient) AddTorrentFile(ctx context.Context, filePath, savePath string) error {
	req, err := c.client.Request(ctx)
	if err != nil {
		return err
	}
	if cookie := c.sidCookie(); cookie != "" {
		req.SetHeader("Cookie", cookie)
	}
	if savePath != "" {
		req.SetFormData(map[string]string{"savepath": savePath})
	}
	resp, err := req.
		SetFile("torrents", filePath).
		Post(c.url("/api/v2/torrents/add"))
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("add torrent: HTTP %d", resp.StatusCode())
	}
	return nil
}

// Pause pauses the given torrents ("all" or hashes).
func (c *QBitClient) Pause(ctx context.Context, hashes ...string) error {
	return c.postForm(ctx, "/api/v2/torrents/pause",
		map[string]string{"hashes": joinHashes(hashes)})
}

// Resume resumes the given torrents.
func (c *QBitClient) Resume(ctx context.Context, hashes ...string) error {
	return c.postForm(ctx, "/api/v2/torrents/resume",
		map[string]string{"hashes": joinHashes(hashes)})
}

// Delete removes torrents, optionally deleting downloaded data.
func (c *QBitClient) Delete(ctx context.Context, deleteFiles bool, hashes ...string) error {
	return c.postForm(ctx, "/api/v2/torrents/delete", map[string]string{
		"hashes":      joinHashes(hashes),
		"deleteFiles": strconv.FormatBool(deleteFiles),
	})
}

// Transfer returns the global transfer snapshot.
func (c *QBitClient) Transfer(ctx context.Context) (*TransferInfo, error) {
	body, err := c.get(ctx, "/api/v2/transfer/info")
	if err != nil {
		return nil, err
	}
	var info TransferInfo
	if err := sonic.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode transfer info: %w", err)
	}
	return &info, nil
}

// Properties returns detailed state for one torrent.
func (c *QBitClient) Properties(ctx context.Context, hash string) (map[string]interface{}, error) {
	body, err := c.get(ctx, "/api/v2/torrents/properties?hash="+hash)
	if err != nil {
		return nil, err
	}
	var props map[string]interface{}
	if err := sonic.Unmarshal(body, &props); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return props, nil
}

func (c *QBitClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := c.client.Request(ctx)
	if err != nil {
		return nil, err
	}
	if cookie := c.sidCookie(); cookie != "" {
		req.SetHeader("Cookie", cookie)
	}
	resp, err := req.Get(c.url(path))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode())
	}
	return resp.Body(), nil
}

func (c *QBitClient) postForm(ctx context.Context, path string, form map[string]string) error {
	req, err := c.client.Request(ctx)
	if err != nil {
		return err
	}
	if cookie := c.sidCookie(); cookie != "" {
		req.SetHeader("Cookie", cookie)
	}
	resp, err := req.SetFormData(form).Post(c.url(path))
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("POST %s: HTTP %d", path, resp.StatusCode())
	}
	return nil
}

func joinHashes(hashes []string) string {
	if len(hashes) == 0 {
		return "all"
	}
	return strings.Join(hashes, "|")
}
