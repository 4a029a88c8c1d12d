package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/iats"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/monitoring"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/torrent"
)

// Handler exposes the subsystem to the renderer over localhost HTTP.
type Handler struct {
	sub    *iats.Subsystem
	logger *logging.Logger
}

// NewRouter builds the bridge router. registry may be nil to skip the
// metrics endpoint.
func NewRouter(sub *iats.Subsystem, logger *logging.Logger, registry *prometheus.Registry) *gin.Engine {
	h := &Handler{sub: sub, logger: logger.Named("api")}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())
	if sub.Metrics != nil {
		router.Use(monitoring.Middleware(sub.Metrics))
	}

	router.GET("/", h.liveness)
	router.GET("/health", h.liveness)

	router.GET("/tor/status", h.torStatus)
	router.POST("/tor/start", h.torStart)
	router.POST("/tor/stop", h.torStop)

	router.GET("/adblock", h.adblockStats)
	router.GET("/adblock/stats", h.adblockStats)
	router.POST("/adblock/enabled", h.adblockSetEnabled)
	router.POST("/adblock/update-lists", h.adblockUpdateLists)
	router.POST("/adblock/site-allow", h.adblockSiteAllow)
	router.POST("/adblock/should-block", h.adblockShouldBlock)

	router.GET("/permissions", h.permissionsList)
	router.POST("/permissions", h.permissionsSet)
	router.POST("/permissions/reset", h.permissionsReset)

	router.POST("/search", h.search)
	router.POST("/solve", h.solve)

	router.GET("/torrents", h.torrentsList)
	router.GET("/torrents/transfer", h.torrentsTransfer)
	router.POST("/torrents/magnet", h.torrentsAddMagnet)
	router.POST("/torrents/:hash/pause", h.torrentsPause)
	router.POST("/torrents/:hash/resume", h.torrentsResume)
	router.DELETE("/torrents/:hash", h.torrentsDelete)

	router.GET("/stream", h.stream)
	if registry != nil {
		router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
	return router
}

func ok(c *gin.Context, fields gin.H) {
	body := gin.H{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"ok": false, "error": msg})
}

func (h *Handler) liveness(c *gin.Context) {
	ok(c, gin.H{"service": "tankoban-iats"})
}

func (h *Handler) torStatus(c *gin.Context) {
	ok(c, gin.H{"status": h.sub.Tor.Status()})
}

func (h *Handler) torStart(c *gin.Context) {
	h.sub.Tor.StartAsync(c.Request.Context())
	ok(c, gin.H{"status": h.sub.Tor.Status()})
}

func (h *Handler) torStop(c *gin.Context) {
	h.sub.Tor.Stop()
	ok(c, gin.H{"status": h.sub.Tor.Status()})
}

func (h *Handler) adblockStats(c *gin.Context) {
	ok(c, gin.H{"stats": h.sub.Adblock.Stats()})
}

func (h *Handler) adblockSetEnabled(c *gin.Context) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	h.sub.Adblock.SetEnabled(body.Enabled)
	ok(c, gin.H{"enabled": body.Enabled})
}

func (h *Handler) adblockUpdateLists(c *gin.Context) {
	res, err := h.sub.Adblock.UpdateLists(c.Request.Context())
	if err != nil {
		fail(c, http.StatusBadGateway, err.Error())
		return
	}
	ok(c, gin.H{"updatedAt": res.UpdatedAt, "domains": res.Domains, "sources": res.Sources})
}

func (h *Handler) adblockSiteAllow(c *gin.Context) {
	var body struct {
		Host string `json:"host"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	allowed, err := h.sub.Adblock.ToggleSiteAllow(body.Host)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c, gin.H{"allowlisted": allowed, "host": body.Host})
}

func (h *Handler) adblockShouldBlock(c *gin.Context) {
	var body struct {
		URL        string `json:"url"`
		FirstParty string `json:"firstPartyUrl"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	ok(c, gin.H{"block": h.sub.Adblock.ShouldBlock(body.URL, body.FirstParty)})
}

func (h *Handler) permissionsList(c *gin.Context) {
	rules, updatedAt := h.sub.Permissions.List()
	ok(c, gin.H{"rules": rules, "updatedAt": updatedAt})
}

func (h *Handler) permissionsSet(c *gin.Context) {
	var body struct {
		Origin     string `json:"origin"`
		Permission string `json:"permission"`
		Decision   string `json:"decision"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	rule, err := h.sub.Permissions.Set(body.Origin, body.Permission, body.Decision)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c, gin.H{"rule": rule})
}

func (h *Handler) permissionsReset(c *gin.Context) {
	var body struct {
		Origin     string `json:"origin"`
		Permission string `json:"permission"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	h.sub.Permissions.Reset(body.Origin, body.Permission)
	ok(c, nil)
}

func (h *Handler) search(c *gin.Context) {
	var body struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	results, status, err := h.sub.Search(c.Request.Context(), body.Query, body.Limit)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	ok(c, gin.H{"status": status, "results": results})
}

func (h *Handler) solve(c *gin.Context) {
	var body struct {
		URL       string `json:"url"`
		TimeoutMs int    `json:"timeoutMs"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.URL == "" {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	var timeout time.Duration
	if body.TimeoutMs > 0 {
		timeout = msDuration(body.TimeoutMs)
	}
	outcome := <-h.sub.Solver.Solve(body.URL, timeout)
	if !outcome.Solved {
		fail(c, http.StatusBadGateway, "Challenge solving failed: "+outcome.Reason)
		return
	}
	ok(c, gin.H{"url": outcome.URL})
}

func (h *Handler) torrentsList(c *gin.Context) {
	client := h.sub.QBitClient()
	if client == nil {
		fail(c, http.StatusServiceUnavailable, iats.ErrComponentDown.Error())
		return
	}
	torrents, err := client.List(c.Request.Context(), c.Query("filter"))
	if err != nil {
		fail(c, http.StatusBadGateway, err.Error())
		return
	}
	ok(c, gin.H{"torrents": torrents})
}

func (h *Handler) torrentsTransfer(c *gin.Context) {
	client := h.sub.QBitClient()
	if client == nil {
		fail(c, http.StatusServiceUnavailable, iats.ErrComponentDown.Error())
		return
	}
	info, err := client.Transfer(c.Request.Context())
	if err != nil {
		fail(c, http.StatusBadGateway, err.Error())
		return
	}
	ok(c, gin.H{"transfer": info})
}

func (h *Handler) torrentsAddMagnet(c *gin.Context) {
	client := h.sub.QBitClient()
	if client == nil {
		fail(c, http.StatusServiceUnavailable, iats.ErrComponentDown.Error())
		return
	}
	var body struct {
		URI      string `json:"uri"`
		SavePath string `json:"savePath"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.URI == "" {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	if err := client.AddMagnet(c.Request.Context(), body.URI, body.SavePath); err != nil {
		fail(c, http.StatusBadGateway, err.Error())
		return
	}
	ok(c, nil)
}

func (h *Handler) torrentsPause(c *gin.Context) {
	h.torrentAction(c, func(client *torrent.QBitClient, hash string) error {
		return client.Pause(c.Request.Context(), hash)
	})
}

func (h *Handler) torrentsResume(c *gin.Context) {
	h.torrentAction(c, func(client *torrent.QBitClient, hash string) error {
		return client.Resume(c.Request.Context(), hash)
	})
}

func (h *Handler) torrentsDelete(c *gin.Context) {
	deleteFiles, _ := strconv.ParseBool(c.Query("deleteFiles"))
	h.torrentAction(c, func(client *torrent.QBitClient, hash string) error {
		return client.Delete(c.Request.Context(), deleteFiles, hash)
	})
}

func (h *Handler) torrentAction(c *gin.Context, action func(*torrent.QBitClient, string) error) {
	client := h.sub.QBitClient()
	if client == nil {
		fail(c, http.StatusServiceUnavailable, iats.ErrComponentDown.Error())
		return
	}
	hash := c.Param("hash")
	if hash == "" {
		fail(c, http.StatusBadRequest, "missing hash")
		return
	}
	if err := action(client, hash); err != nil {
		fail(c, http.StatusBadGateway, err.Error())
		return
	}
	ok(c, nil)
}
