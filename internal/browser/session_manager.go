// Package browser drives a headless Chrome through Rod for the library UI
// verifier: one session, pages with mocked API routes, text waits and
// screenshots.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shelfkit/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// ErrNotStarted is returned when a page is requested before Start.
var ErrNotStarted = errors.New("browser not started")

// ErrClosed is returned by Start after Shutdown.
var ErrClosed = errors.New("browser session closed")

// Config holds browser configuration.
type Config struct {
	DebuggerURL         string `json:"debugger_url"`
	Bin                 string `json:"bin"`
	Headless            bool   `json:"headless"`
	Stealth             bool   `json:"stealth"`
	ViewportWidth       int    `json:"viewport_width"`
	ViewportHeight      int    `json:"viewport_height"`
	NavigationTimeoutMs int    `json:"navigation_timeout_ms"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		ViewportWidth:       1280,
		ViewportHeight:      720,
		NavigationTimeoutMs: 30000,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1280
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 720
	}
	return c.ViewportHeight
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// SessionManager owns the Chrome instance and the pages opened on it.
type SessionManager struct {
	cfg        Config
	log        *zap.Logger
	mu         sync.Mutex
	browser    *rod.Browser
	lnch       *launcher.Launcher
	pages      []*Page
	controlURL string
	closed     bool
}

// NewSessionManager creates a new session manager. Call Start to launch or
// connect to Chrome.
func NewSessionManager(cfg Config, logger *zap.Logger) *SessionManager {
	return &SessionManager{
		cfg: cfg,
		log: logging.With(logger, logging.CategoryBrowser),
	}
}

// Start connects to an existing Chrome or launches a new one.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.browser != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(m.cfg.Headless)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		m.lnch = l
		controlURL = u
		m.log.Debug("launched local chrome", zap.String("url", u), zap.Bool("headless", m.cfg.Headless))
	} else {
		m.log.Debug("connecting to remote chrome", zap.String("url", controlURL))
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if m.lnch != nil {
			m.lnch.Kill()
			m.lnch = nil
		}
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = b
	m.controlURL = controlURL
	return nil
}

// ControlURL returns the WebSocket debugger URL.
func (m *SessionManager) ControlURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controlURL
}

// IsConnected returns whether the browser is connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser != nil
}

// NewPage opens a blank page with the configured viewport and the HTTP cache
// disabled, so every navigation reaches the route table.
func (m *SessionManager) NewPage(ctx context.Context) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return nil, ErrNotStarted
	}

	var (
		rp  *rod.Page
		err error
	)
	if m.cfg.Stealth {
		rp, err = stealth.Page(m.browser)
	} else {
		rp, err = m.browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	rp = rp.Context(ctx)

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(rp); err != nil {
		m.log.Warn("failed to set viewport", zap.Error(err))
	}

	if err := (proto.NetworkEnable{}).Call(rp); err != nil {
		_ = rp.Close()
		return nil, fmt.Errorf("enable network domain: %w", err)
	}
	if err := (proto.NetworkSetCacheDisabled{CacheDisabled: true}).Call(rp); err != nil {
		_ = rp.Close()
		return nil, fmt.Errorf("disable cache: %w", err)
	}

	p := newPage(rp, m.cfg.NavigationTimeout(), m.log)
	m.pages = append(m.pages, p)
	return p, nil
}

// Shutdown closes tracked pages and the browser. Only the first call does
// any work; later calls return nil. A remote browser reached through
// DebuggerURL is left running.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for _, p := range m.pages {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.pages = nil

	if m.browser != nil && m.lnch != nil {
		if err := m.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.browser = nil
	m.controlURL = ""
	m.log.Debug("browser session closed")

	return errors.Join(errs...)
}
