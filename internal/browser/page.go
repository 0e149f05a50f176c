package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
)

// textMatchJS reports whether a visible element contains the needle. Matching
// follows the text= selector rule: case-insensitive substring over collapsed
// whitespace, checked on the deepest elements that contain the needle.
const textMatchJS = `(needle) => {
	const norm = (s) => (s || '').replace(/\s+/g, ' ').trim().toLowerCase();
	const want = norm(needle);
	if (!want || !document.body) return false;
	const skip = new Set(['SCRIPT', 'STYLE', 'TEMPLATE', 'NOSCRIPT']);
	const has = (el) => !skip.has(el.tagName) && norm(el.textContent).includes(want);
	const hits = [];
	const walk = (el) => {
		let deeper = false;
		for (const child of el.children) {
			if (has(child)) {
				deeper = true;
				walk(child);
			}
		}
		if (!deeper) hits.push(el);
	};
	if (!has(document.body)) return false;
	walk(document.body);
	return hits.some((el) => {
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	});
}`

// Page is a browser tab with its own route table.
type Page struct {
	page       *rod.Page
	router     *Router
	navTimeout time.Duration
	log        *zap.Logger
	closeOnce  sync.Once
	closeErr   error
}

func newPage(rp *rod.Page, navTimeout time.Duration, log *zap.Logger) *Page {
	return &Page{
		page:       rp,
		router:     newRouter(func() hijacker { return rp.HijackRequests() }, log),
		navTimeout: navTimeout,
		log:        log,
	}
}

// Route serves f for every request matching pattern.
func (p *Page) Route(pattern string, f Fulfillment) error {
	return p.router.Route(pattern, f)
}

// Unroute stops mocking pattern.
func (p *Page) Unroute(pattern string) error {
	return p.router.Unroute(pattern)
}

// Routes returns the patterns currently mocked on this page.
func (p *Page) Routes() []string {
	return p.router.Patterns()
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx).Timeout(p.navTimeout)
	defer pg.CancelTimeout()

	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	p.log.Debug("page loaded", zap.String("url", url))
	return nil
}

// Reload reloads the current document and waits for the load event.
func (p *Page) Reload(ctx context.Context) error {
	pg := p.page.Context(ctx).Timeout(p.navTimeout)
	defer pg.CancelTimeout()

	if err := pg.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait load after reload: %w", err)
	}
	p.log.Debug("page reloaded")
	return nil
}

// WaitForText blocks until text is visible on the page or timeout elapses.
func (p *Page) WaitForText(ctx context.Context, text string, timeout time.Duration) error {
	pg := p.page.Context(ctx).Timeout(timeout)
	defer pg.CancelTimeout()

	if err := pg.Wait(rod.Eval(textMatchJS, text)); err != nil {
		return fmt.Errorf("wait for text %q: %w", text, err)
	}
	return nil
}

// TextVisible checks once, without waiting, whether text is visible.
func (p *Page) TextVisible(ctx context.Context, text string) (bool, error) {
	res, err := p.page.Context(ctx).Eval(textMatchJS, text)
	if err != nil {
		return false, fmt.Errorf("check text %q: %w", text, err)
	}
	return res.Value.Bool(), nil
}

// Screenshot captures the viewport and writes it as PNG to path.
func (p *Page) Screenshot(ctx context.Context, path string) error {
	img, err := p.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create screenshot dir: %w", err)
		}
	}
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	p.log.Debug("screenshot written", zap.String("path", path), zap.Int("bytes", len(img)))
	return nil
}

// Close stops interception and closes the tab. Safe to call more than once.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		if err := p.router.Stop(); err != nil {
			p.log.Warn("failed to stop router", zap.Error(err))
		}
		if err := p.page.Context(context.Background()).Close(); err != nil {
			p.closeErr = fmt.Errorf("close page: %w", err)
		}
	})
	return p.closeErr
}
