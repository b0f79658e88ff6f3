package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/zeitstein/REPLey/internal/config"
	"github.com/zeitstein/REPLey/internal/download"
)

var (
	// ErrNotStarted is returned by captures before Start succeeds.
	ErrNotStarted = errors.New("browser not connected")
	// ErrNoBrowser is returned when there is nothing to attach to and no Chrome to launch.
	ErrNoBrowser = errors.New("no debugger_url, launch command or local chrome found")
)

// Previewer owns a headless Chrome used to take PNG snapshots of rendered results.
type Previewer struct {
	cfg config.BrowserConfig

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
}

func NewPreviewer(cfg config.BrowserConfig) *Previewer {
	return &Previewer{cfg: cfg}
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (p *Previewer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser != nil {
		if _, err := p.browser.Version(); err == nil {
			return nil
		}
		log.Printf("Stale browser connection detected, reconnecting...")
		_ = p.browser.Close()
		p.browser = nil
		p.controlURL = ""
	}

	controlURL := p.cfg.DebuggerURL
	if controlURL == "" {
		l, err := p.launcher()
		if err != nil {
			return err
		}
		url, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	// Captures carry their own contexts.
	p.browser = b.Context(context.Background())
	p.controlURL = controlURL
	log.Printf("Browser connected at %s", controlURL)
	return nil
}

func (p *Previewer) launcher() (*launcher.Launcher, error) {
	bin := ""
	if len(p.cfg.Launch) > 0 {
		bin = p.cfg.Launch[0]
	} else if found, ok := launcher.LookPath(); ok {
		bin = found
	} else {
		return nil, ErrNoBrowser
	}

	l := launcher.New().Bin(bin).Headless(p.cfg.IsHeadless())
	for _, f := range launchFlags(p.cfg.Launch) {
		if f.value == "" {
			l = l.Set(flags.Flag(f.name))
		} else {
			l = l.Set(flags.Flag(f.name), f.value)
		}
	}
	return l, nil
}

type launchFlag struct {
	name  string
	value string
}

// launchFlags turns the arguments after the binary into launcher flags.
func launchFlags(launch []string) []launchFlag {
	if len(launch) < 2 {
		return nil
	}
	out := make([]launchFlag, 0, len(launch)-1)
	for _, raw := range launch[1:] {
		name, val, _ := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if name == "" {
			continue
		}
		out = append(out, launchFlag{name: name, value: val})
	}
	return out
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (p *Previewer) ControlURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (p *Previewer) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.browser != nil
}

// Capture loads url and returns a full-page PNG.
func (p *Previewer) Capture(ctx context.Context, url string) ([]byte, error) {
	return p.capture(ctx, url, func(page *rod.Page) error {
		return page.WaitLoad()
	})
}

// CaptureHTML renders an HTML document and returns a full-page PNG.
func (p *Previewer) CaptureHTML(ctx context.Context, html string) ([]byte, error) {
	return p.capture(ctx, "about:blank", func(page *rod.Page) error {
		if err := page.SetDocumentContent(html); err != nil {
			return err
		}
		return page.WaitLoad()
	})
}

// Snapshot captures html and wraps the PNG as a downloadable resource.
func (p *Previewer) Snapshot(ctx context.Context, name, html string) (*download.Blob, error) {
	png, err := p.CaptureHTML(ctx, html)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(name, ".png") {
		name += ".png"
	}
	return download.NewBlob(name, png), nil
}

func (p *Previewer) capture(ctx context.Context, url string, load func(*rod.Page) error) ([]byte, error) {
	p.mu.RLock()
	b := p.browser
	p.mu.RUnlock()
	if b == nil {
		return nil, ErrNotStarted
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.NavigationTimeout())
	defer cancel()

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             p.cfg.GetViewportWidth(),
		Height:            p.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		log.Printf("warning: failed to set viewport: %v", err)
	}

	if err := load(page); err != nil {
		return nil, fmt.Errorf("load %s: %w", url, err)
	}
	png, err := page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return png, nil
}

// Shutdown closes the underlying browser.
func (p *Previewer) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.browser != nil {
		err = p.browser.Close()
		p.browser = nil
	}
	p.controlURL = ""
	log.Printf("Browser shutdown complete")
	return err
}
