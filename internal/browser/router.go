package browser

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Fulfillment is a canned response served for an intercepted request.
type Fulfillment struct {
	Status      int
	ContentType string
	Body        []byte
}

// JSONResponse returns a 200 application/json fulfillment.
func JSONResponse(body []byte) Fulfillment {
	return Fulfillment{Status: http.StatusOK, ContentType: "application/json", Body: body}
}

func (f Fulfillment) status() int {
	if f.Status == 0 {
		return http.StatusOK
	}
	return f.Status
}

func (f Fulfillment) contentType() string {
	if f.ContentType == "" {
		return "application/octet-stream"
	}
	return f.ContentType
}

// fill writes the canned response into the CDP fulfill payload. The request
// id set by rod is left alone.
func (f Fulfillment) fill(p *proto.FetchFulfillRequest) {
	p.ResponseCode = f.status()
	p.ResponseHeaders = append(p.ResponseHeaders,
		&proto.FetchHeaderEntry{Name: "Content-Type", Value: f.contentType()},
		&proto.FetchHeaderEntry{Name: "Cache-Control", Value: "no-store"},
	)
	p.Body = f.Body
	if p.Body == nil {
		p.Body = []byte{}
	}
}

func (f Fulfillment) handler(pattern string, log *zap.Logger) func(*rod.Hijack) {
	return func(h *rod.Hijack) {
		f.fill(h.Response.Payload())
		log.Debug("fulfilled mocked request",
			zap.String("pattern", pattern),
			zap.String("url", h.Request.URL().String()),
			zap.Int("status", f.status()),
			zap.Int("bytes", len(f.Body)))
	}
}

// ErrInvalidPattern is returned by Route for a glob rod cannot compile.
var ErrInvalidPattern = errors.New("invalid route pattern")

// rodPattern turns a URL glob into the pattern rod's hijack router takes.
// Rod compiles patterns with proto.PatternToReg, which maps each * to .* and
// so rejects **; runs of * are collapsed into one, which matches the same URLs.
func rodPattern(glob string) (string, error) {
	if glob == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	var b strings.Builder
	star := false
	for _, c := range glob {
		if c == '*' && star {
			continue
		}
		star = c == '*'
		b.WriteRune(c)
	}
	p := b.String()
	if _, err := regexp.Compile(proto.PatternToReg(p)); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPattern, glob, err)
	}
	return p, nil
}

type rule struct {
	rodPattern string
	resp       Fulfillment
}

// hijacker is the subset of *rod.HijackRouter the route table drives.
type hijacker interface {
	Add(pattern string, resourceType proto.NetworkResourceType, handler func(*rod.Hijack)) error
	Run()
	Stop() error
}

// Router keeps at most one mocked response per URL pattern for a page.
// Rod routers must not gain handlers once running, so every change stops the
// active router and starts a fresh one carrying the whole table.
type Router struct {
	mu     sync.Mutex
	newHJ  func() hijacker
	active hijacker
	rules  map[string]rule // keyed by the caller's glob
	log    *zap.Logger
}

func newRouter(newHJ func() hijacker, log *zap.Logger) *Router {
	return &Router{
		newHJ: newHJ,
		rules: make(map[string]rule),
		log:   log,
	}
}

// Route registers f for pattern, replacing any rule already bound to it.
// Patterns are URL globs: * and ** match any run of characters.
// If the new table cannot be installed the previous rule is restored.
func (r *Router) Route(pattern string, f Fulfillment) error {
	rp, err := rodPattern(pattern)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.rules[pattern]
	r.rules[pattern] = rule{rodPattern: rp, resp: f}
	if err := r.rebuildLocked(); err != nil {
		if had {
			r.rules[pattern] = prev
		} else {
			delete(r.rules, pattern)
		}
		if rerr := r.rebuildLocked(); rerr != nil {
			r.log.Warn("failed to restore routes", zap.Error(rerr))
			return fmt.Errorf("route %s: %w", pattern, errors.Join(err, rerr))
		}
		return fmt.Errorf("route %s: %w", pattern, err)
	}
	r.log.Debug("route registered", zap.String("pattern", pattern), zap.Int("status", f.status()))
	return nil
}

// Unroute removes the rule for pattern. Unknown patterns are ignored.
func (r *Router) Unroute(pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[pattern]; !ok {
		return nil
	}
	delete(r.rules, pattern)
	if err := r.rebuildLocked(); err != nil {
		return fmt.Errorf("unroute %s: %w", pattern, err)
	}
	r.log.Debug("route removed", zap.String("pattern", pattern))
	return nil
}

// Patterns returns the registered patterns in sorted order.
func (r *Router) Patterns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rules))
	for p := range r.rules {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Stop tears down interception. The rule table is kept.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked()
}

func (r *Router) stopLocked() error {
	if r.active == nil {
		return nil
	}
	err := r.active.Stop()
	r.active = nil
	return err
}

func (r *Router) rebuildLocked() error {
	if err := r.stopLocked(); err != nil {
		return err
	}
	if len(r.rules) == 0 {
		return nil
	}

	patterns := make([]string, 0, len(r.rules))
	for p := range r.rules {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	hj := r.newHJ()
	for _, p := range patterns {
		rl := r.rules[p]
		if err := hj.Add(rl.rodPattern, "", rl.resp.handler(p, r.log)); err != nil {
			_ = hj.Stop()
			return err
		}
	}
	go hj.Run()
	r.active = hj
	return nil
}
