package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level REPLey config.
	WorkspaceDirName = ".repley"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the REPLey server.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	HTTP        HTTPConfig        `yaml:"http"`
	Visualizers VisualizersConfig `yaml:"visualizers"`
	Downloads   DownloadsConfig   `yaml:"downloads"`
	Browser     BrowserConfig     `yaml:"browser"`
	Mangle      MangleConfig      `yaml:"mangle"`
	MCP         MCPConfig         `yaml:"mcp"`
	Recorder    RecorderConfig    `yaml:"recorder"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// HTTPConfig configures the browser-facing inspector.
type HTTPConfig struct {
	// Listen address, e.g. "127.0.0.1:7878".
	Addr string `yaml:"addr"`
	// Prefix under which visualizer side channels are mounted (default "/viz").
	SideChannelPrefix string `yaml:"side_channel_prefix"`
	// Serve cleartext HTTP/2 alongside HTTP/1.1.
	EnableH2C bool `yaml:"enable_h2c"`
	// Name of the session cookie (default "repley_session").
	SessionCookie string `yaml:"session_cookie"`
	// Idle time after which a session and its navigation state are dropped (e.g. "30m").
	SessionTTL string `yaml:"session_ttl"`
	// How often idle sessions and expired download tokens are swept (e.g. "1m").
	SweepInterval string `yaml:"sweep_interval"`
}

// VisualizersConfig selects and tunes the built-in visualizers.
type VisualizersConfig struct {
	// Elements inspected by structural predicates (default 10).
	SampleSize int `yaml:"sample_size"`
	// Characters shown for nested values inside container views (default 120).
	PreviewLen int `yaml:"preview_len"`
	// Per-visualizer settings keyed by label.
	Strategies map[string]VisualizerConfig `yaml:"strategies"`
}

// VisualizerConfig toggles one visualizer.
type VisualizerConfig struct {
	Enabled *bool          `yaml:"enabled"`
	Options map[string]any `yaml:"options"`
}

// IsEnabled returns whether the visualizer is registered (default: true).
func (v VisualizerConfig) IsEnabled() bool {
	if v.Enabled == nil {
		return true
	}
	return *v.Enabled
}

// DownloadsConfig controls the download token store and file evaluation.
type DownloadsConfig struct {
	// Lifetime of an unresolved token (e.g. "15m"). "0" keeps tokens until resolved.
	TokenTTL string `yaml:"token_ttl"`
	// Directories that file: expressions may read from. Empty allows any path.
	Roots []string `yaml:"roots"`
}

// BrowserConfig configures how we attach to or launch Chrome for screenshot previews.
type BrowserConfig struct {
	// Enabled starts the previewer at startup.
	Enabled bool `yaml:"enabled"`
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Navigation timeout for a capture (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	ViewportWidth            int    `yaml:"viewport_width"`
	ViewportHeight           int    `yaml:"viewport_height"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// MangleConfig controls the embedded deductive engine.
type MangleConfig struct {
	Enable bool `yaml:"enable"`
	// Optional schema file; the built-in schema is used when empty.
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// RecorderConfig controls the JSONL activity trace.
type RecorderConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Dir             string `yaml:"dir"`
	MaxRotatedFiles int    `yaml:"max_rotated_files"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "repley",
			Version: "0.3.0",
			LogFile: "repley.log",
		},
		HTTP: HTTPConfig{
			Addr:              "127.0.0.1:7878",
			SideChannelPrefix: "/viz",
			SessionCookie:     "repley_session",
			SessionTTL:        "30m",
			SweepInterval:     "1m",
		},
		Visualizers: VisualizersConfig{
			SampleSize: 10,
			PreviewLen: 120,
		},
		Downloads: DownloadsConfig{
			TokenTTL: "15m",
		},
		Browser: BrowserConfig{
			DefaultNavigationTimeout: "15s",
			ViewportWidth:            1280,
			ViewportHeight:           800,
		},
		Mangle: MangleConfig{
			Enable:          true,
			FactBufferLimit: 4096,
		},
		Recorder: RecorderConfig{
			Dir:             "traces",
			MaxRotatedFiles: 10,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .repley/config.yaml file.
// Returns the workspace root directory (parent of .repley/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .repley/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, err := os.Getwd()
			if err != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", err)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .repley/ directory with a template config at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	for _, d := range []string{wsDir, filepath.Join(wsDir, "traces")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# REPLey project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# http:
#   addr: "127.0.0.1:7878"
#   enable_h2c: true

# visualizers:
#   strategies:
#     chart:
#       enabled: false
#     table:
#       options:
#         page_size: 200

# downloads:
#   token_ttl: "5m"
#   roots:
#     - "."

# recorder:
#   enabled: true
#   dir: "traces"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte("traces/\n"), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	cfg.Recorder.Dir = resolve(cfg.Recorder.Dir)
	roots := make([]string, len(cfg.Downloads.Roots))
	for i, r := range cfg.Downloads.Roots {
		roots[i] = resolve(r)
	}
	cfg.Downloads.Roots = roots
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if p := c.HTTP.SideChannelPrefix; p != "" && (!strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/")) {
		return fmt.Errorf("http.side_channel_prefix %q must start with / and not end with /", p)
	}
	if c.Visualizers.SampleSize < 0 {
		return errors.New("visualizers.sample_size must not be negative")
	}
	for name, d := range map[string]string{
		"http.session_ttl":    c.HTTP.SessionTTL,
		"http.sweep_interval": c.HTTP.SweepInterval,
		"downloads.token_ttl": c.Downloads.TokenTTL,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Browser.Enabled {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	return nil
}

// Prefix returns the side-channel mount prefix with a sane default.
func (h HTTPConfig) Prefix() string {
	if h.SideChannelPrefix == "" {
		return "/viz"
	}
	return h.SideChannelPrefix
}

// CookieName returns the session cookie name with a sane default.
func (h HTTPConfig) CookieName() string {
	if h.SessionCookie == "" {
		return "repley_session"
	}
	return h.SessionCookie
}

// IdleTTL returns the parsed session idle timeout with a sane default.
func (h HTTPConfig) IdleTTL() time.Duration {
	return parseDuration(h.SessionTTL, 30*time.Minute)
}

// Sweep returns the parsed sweep interval with a sane default.
func (h HTTPConfig) Sweep() time.Duration {
	d := parseDuration(h.SweepInterval, time.Minute)
	if d <= 0 {
		return time.Minute
	}
	return d
}

// TTL returns the parsed token lifetime. Zero disables expiry.
func (d DownloadsConfig) TTL() time.Duration {
	return parseDuration(d.TokenTTL, 15*time.Minute)
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	d := parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
	if d <= 0 {
		return 15 * time.Second
	}
	return d
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1280
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 800
	}
	return b.ViewportHeight
}

// GetMaxRotatedFiles returns how many trace files to keep with a sane default.
func (r RecorderConfig) GetMaxRotatedFiles() int {
	if r.MaxRotatedFiles <= 0 {
		return 10
	}
	return r.MaxRotatedFiles
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
