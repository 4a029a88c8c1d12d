package torrent

import (
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/config"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/monitoring"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/storage"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/supervisor"
)

const prowlarrConfigFile = "prowlarr_config.json"

var webuiPortRe = regexp.MustCompile(`WebUI\\Port=\d+`)

type prowlarrKeyCache struct {
	APIKey string `json:"api_key"`
}

// prowlarrXML mirrors the daemon's config.xml. Unknown elements are
// preserved by the daemon itself, not by us; we only manage the fields
// we seed.
type prowlarrXML struct {
	XMLName              xml.Name `xml:"Config"`
	BindAddress          string   `xml:"BindAddress"`
	Port                 int      `xml:"Port"`
	APIKey               string   `xml:"ApiKey"`
	AuthenticationMethod string   `xml:"AuthenticationMethod"`
	AnalyticsEnabled     string   `xml:"AnalyticsEnabled"`
	LogLevel             string   `xml:"LogLevel"`
	Branch               string   `xml:"Branch"`
	LaunchBrowser        string   `xml:"LaunchBrowser"`
}

func platformDir() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "macos"
	default:
		return "linux"
	}
}

func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func randomKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewQBitSupervisor builds the supervisor for the bundled torrent
// daemon. The args builder seeds the daemon's WebUI configuration for
// the chosen port before every launch.
func NewQBitSupervisor(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) *supervisor.Supervisor {
	profileDir := filepath.Join(cfg.Paths.DataDir, "qbittorrent_data")
	exe := filepath.Join(cfg.Paths.ResourcesDir, "qbittorrent", platformDir(), exeName("qbittorrent"))
	if _, err := os.Stat(exe); err != nil {
		exe = ""
	}

	log := logger.Named("qbittorrent")
	spec := supervisor.Spec{
		Name:          "qbittorrent",
		ExePath:       exe,
		PortLow:       cfg.QBit.PortLow,
		PortHigh:      cfg.QBit.PortHigh,
		HealthTimeout: cfg.QBit.HealthTimeout,
		ProbeInterval: cfg.QBit.ProbeInterval,
		Args: func(port int) []string {
			if err := seedQBitConfig(profileDir, port); err != nil {
				log.Warn("config seed failed", zap.Error(err))
			}
			return []string{
				fmt.Sprintf("--webui-port=%d", port),
				fmt.Sprintf("--profile=%s", profileDir),
			}
		},
		HealthURL: func(port int) string {
			return fmt.Sprintf("http://127.0.0.1:%d/api/v2/app/version", port)
		},
	}
	return supervisor.New(spec, logger, metrics)
}

// seedQBitConfig writes the daemon configuration enabling the local
// WebUI without auth. An existing file only has its port rewritten so
// user changes survive.
func seedQBitConfig(profileDir string, port int) error {
	configDir := filepath.Join(profileDir, "qBittorrent", "config")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}
	configFile := filepath.Join(configDir, "qBittorrent.conf")

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	downloads := filepath.Join(home, "Downloads", "Tankoban")
	_ = os.MkdirAll(downloads, 0o755)

	existing, err := os.ReadFile(configFile)
	if err == nil {
		updated := webuiPortRe.ReplaceAll(existing, []byte(fmt.Sprintf(`WebUI\Port=%d`, port)))
		return os.WriteFile(configFile, updated, 0o644)
	}

	content := fmt.Sprintf(`[Preferences]
WebUI\Enabled=true
WebUI\Port=%d
WebUI\Address=127.0.0.1
WebUI\LocalHostAuth=false
WebUI\AuthSubnetWhitelistEnabled=true
WebUI\AuthSubnetWhitelist=127.0.0.0/8
Downloads\SavePath=%s
General\Locale=en

[BitTorrent]
Session\DefaultSavePath=%s
`, port, downloads, downloads)
	return os.WriteFile(configFile, []byte(content), 0o644)
}

// NewProwlarrSupervisor builds the supervisor for the bundled indexer
// daemon and returns the API key the seeded configuration carries.
func NewProwlarrSupervisor(cfg *config.Config, store *storage.Store, logger *logging.Logger, metrics *monitoring.Metrics) (*supervisor.Supervisor, string) {
	dataDir := filepath.Join(cfg.Paths.DataDir, "prowlarr_data")
	log := logger.Named("prowlarr")

	exe := filepath.Join(cfg.Paths.ResourcesDir, "prowlarr", platformDir(), exeName("Prowlarr"))
	if _, err := os.Stat(exe); err != nil {
		if found, lerr := exec.LookPath("Prowlarr"); lerr == nil {
			exe = found
		} else {
			exe = ""
		}
	}

	apiKey, err := seedProwlarrConfig(dataDir, store)
	if err != nil {
		log.Warn("config seed failed", zap.Error(err))
	}

	spec := supervisor.Spec{
		Name:          "prowlarr",
		ExePath:       exe,
		PortLow:       cfg.Prowlarr.PortLow,
		PortHigh:      cfg.Prowlarr.PortHigh,
		HealthTimeout: cfg.Prowlarr.HealthTimeout,
		ProbeInterval: cfg.Prowlarr.ProbeInterval,
		Args: func(port int) []string {
			if err := setProwlarrPort(dataDir, port); err != nil {
				log.Warn("port rewrite failed", zap.Error(err))
			}
			return []string{
				fmt.Sprintf("-data=%s", dataDir),
				fmt.Sprintf("-port=%d", port),
				"-nobrowser",
			}
		},
		HealthURL: func(port int) string {
			// /ping answers without API key auth.
			return fmt.Sprintf("http://127.0.0.1:%d/ping", port)
		},
	}
	return supervisor.New(spec, logger, metrics), apiKey
}

// seedProwlarrConfig ensures config.xml exists with a known API key and
// caches the key in the store so clients can authenticate.
func seedProwlarrConfig(dataDir string, store *storage.Store) (string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", err
	}
	configXML := filepath.Join(dataDir, "config.xml")

	var cache prowlarrKeyCache
	_ = store.ReadJSON(prowlarrConfigFile, &cache)
	apiKey := cache.APIKey
	if apiKey == "" {
		apiKey = randomKey()
	}

	if raw, err := os.ReadFile(configXML); err == nil {
		var existing prowlarrXML
		if xml.Unmarshal(raw, &existing) == nil && existing.APIKey != "" {
			apiKey = existing.APIKey
		}
	} else {
		seed := prowlarrXML{
			BindAddress:          "127.0.0.1",
			Port:                 0,
			APIKey:               apiKey,
			AuthenticationMethod: "None",
			AnalyticsEnabled:     "False",
			LogLevel:             "info",
			Branch:               "main",
			LaunchBrowser:        "False",
		}
		if err := writeProwlarrXML(configXML, &seed); err != nil {
			return apiKey, err
		}
	}

	if err := store.WriteJSONSync(prowlarrConfigFile, &prowlarrKeyCache{APIKey: apiKey}); err != nil {
		return apiKey, err
	}
	return apiKey, nil
}

// setProwlarrPort rewrites the Port element before launch.
func setProwlarrPort(dataDir string, port int) error {
	configXML := filepath.Join(dataDir, "config.xml")
	raw, err := os.ReadFile(configXML)
	if err != nil {
		return err
	}
	var cfg prowlarrXML
	if err := xml.Unmarshal(raw, &cfg); err != nil {
		return err
	}
	cfg.Port = port
	return writeProwlarrXML(configXML, &cfg)
}

func writeProwlarrXML(path string, cfg *prowlarrXML) error {
	out, err := xml.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
