// Package verify drives the library page through its empty and populated
// states with the library endpoint mocked, and records what it saw.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"shelfkit/internal/browser"
	"shelfkit/internal/library"
	"shelfkit/internal/logging"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// Screenshot file names, joined onto Options.ArtifactsDir.
const (
	ShotEmpty           = "library_empty_mocked.png"
	ShotEmptyFailure    = "debug_empty_failure.png"
	ShotPopulated       = "library_populated_mocked.png"
	ShotPopulatedFailed = "debug_populated_failure.png"
	ShotFatal           = "error_fatal.png"
)

// Page markers the frontend renders.
const (
	EmptyStateText   = "The shelves are bare..."
	PickSectionText  = "Recommended Reading"
	PhaseEmpty       = "empty"
	PhasePopulated   = "populated"
	DefaultTargetURL = "http://localhost:5173"
	DefaultEndpoint  = "**/api/v2/library"
	DefaultWait      = 5 * time.Second
)

// Page is the subset of a browser tab the runner needs.
type Page interface {
	Route(pattern string, f browser.Fulfillment) error
	Unroute(pattern string) error
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	WaitForText(ctx context.Context, text string, timeout time.Duration) error
	TextVisible(ctx context.Context, text string) (bool, error)
	Screenshot(ctx context.Context, path string) error
}

// Session owns the browser for the length of a run.
type Session interface {
	Start(ctx context.Context) error
	OpenPage(ctx context.Context) (Page, error)
	Shutdown(ctx context.Context) error
}

type managedSession struct {
	*browser.SessionManager
}

func (s managedSession) OpenPage(ctx context.Context) (Page, error) {
	p, err := s.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// BrowserSession adapts a SessionManager to Session.
func BrowserSession(m *browser.SessionManager) Session {
	return managedSession{m}
}

// Options configures a run.
type Options struct {
	TargetURL       string
	EndpointPattern string
	WaitTimeout     time.Duration
	ArtifactsDir    string
	Strict          bool
	// Populated is served in the second phase. Defaults to the sample shelf.
	Populated library.Shelf
}

func (o Options) withDefaults() Options {
	if o.TargetURL == "" {
		o.TargetURL = DefaultTargetURL
	}
	if o.EndpointPattern == "" {
		o.EndpointPattern = DefaultEndpoint
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWait
	}
	if o.ArtifactsDir == "" {
		o.ArtifactsDir = "."
	}
	if len(o.Populated) == 0 {
		o.Populated = library.SampleShelf()
	}
	return o
}

// Runner runs the two phases against one page.
type Runner struct {
	opts    Options
	session Session
	out     io.Writer
	log     *zap.Logger

	green *color.Color
	red   *color.Color
}

// NewRunner creates a runner. Console lines go to out (stdout when nil).
func NewRunner(opts Options, session Session, out io.Writer, logger *zap.Logger) *Runner {
	if out == nil {
		out = os.Stdout
	}
	return &Runner{
		opts:    opts.withDefaults(),
		session: session,
		out:     out,
		log:     logging.With(logger, logging.CategoryVerify),
		green:   color.New(color.FgGreen),
		red:     color.New(color.FgRed),
	}
}

// Options returns the effective options.
func (r *Runner) Options() Options {
	return r.opts
}

// Run starts the session, runs both phases and shuts the session down. The
// returned error is non-nil only when the browser could not be started or a
// page could not be opened; everything after that is recorded in the report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	rep := newReport()
	log := r.log.With(zap.String("run_id", rep.RunID.String()))

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := r.session.Shutdown(shutdownCtx); err != nil {
			log.Warn("browser shutdown failed", zap.Error(err))
		}
		rep.Finished = time.Now()
	}()

	if err := r.session.Start(ctx); err != nil {
		return rep, fmt.Errorf("start browser: %w", err)
	}
	page, err := r.session.OpenPage(ctx)
	if err != nil {
		return rep, fmt.Errorf("open page: %w", err)
	}

	err = guard(func() error { return r.runPhases(ctx, page, rep, log) })
	if err != nil {
		rep.Fatal = err
		r.say(r.red, "Error during verification: %v", err)
		log.Error("verification aborted", zap.Error(err))
		shotErr := guard(func() error { return page.Screenshot(ctx, r.artifact(ShotFatal)) })
		if shotErr != nil {
			log.Warn("fatal screenshot failed", zap.Error(shotErr))
		}
	}

	log.Info("verification finished",
		zap.Bool("passed", rep.Passed()),
		zap.Int("phases", len(rep.Phases)))
	return rep, nil
}

// guard runs fn and turns a panic into an error, so a crash in the browser
// layer takes the same fatal path as a returned error.
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

func (r *Runner) runPhases(ctx context.Context, page Page, rep *Report, log *zap.Logger) error {
	empty, err := r.emptyPhase(ctx, page, log)
	rep.Phases = append(rep.Phases, empty)
	if err != nil {
		return err
	}

	populated, err := r.populatedPhase(ctx, page, log)
	rep.Phases = append(rep.Phases, populated)
	return err
}

func (r *Runner) emptyPhase(ctx context.Context, page Page, log *zap.Logger) (PhaseResult, error) {
	res := PhaseResult{Name: PhaseEmpty}

	body, err := library.EmptyShelf().JSON()
	if err != nil {
		return res, err
	}
	if err := page.Route(r.opts.EndpointPattern, browser.JSONResponse(body)); err != nil {
		return res, fmt.Errorf("route %s: %w", r.opts.EndpointPattern, err)
	}

	r.say(nil, "Navigating to homepage (Empty State)...")
	if err := page.Navigate(ctx, r.opts.TargetURL); err != nil {
		return res, err
	}

	check := Check{Text: EmptyStateText}
	if err := page.WaitForText(ctx, EmptyStateText, r.opts.WaitTimeout); err != nil {
		check.Err = err
		r.say(r.red, "FAILURE: Did not find empty state text '%s'", EmptyStateText)
		log.Debug("empty state wait failed", zap.Error(err))
		if err := r.shoot(ctx, page, &res, ShotEmptyFailure); err != nil {
			return res, err
		}
	} else {
		check.Passed = true
		r.say(r.green, "SUCCESS: Found empty state text '%s'", EmptyStateText)
	}
	res.Checks = append(res.Checks, check)

	if err := r.shoot(ctx, page, &res, ShotEmpty); err != nil {
		return res, err
	}
	r.say(nil, "Screenshot saved: %s", ShotEmpty)
	return res, nil
}

func (r *Runner) populatedPhase(ctx context.Context, page Page, log *zap.Logger) (PhaseResult, error) {
	res := PhaseResult{Name: PhasePopulated}

	body, err := r.opts.Populated.JSON()
	if err != nil {
		return res, err
	}
	featured, _ := r.opts.Populated.Pick()

	r.say(nil, "Reloading with populated library (Bunnies Pick)...")
	if err := page.Unroute(r.opts.EndpointPattern); err != nil {
		return res, fmt.Errorf("unroute %s: %w", r.opts.EndpointPattern, err)
	}
	if err := page.Route(r.opts.EndpointPattern, browser.JSONResponse(body)); err != nil {
		return res, fmt.Errorf("route %s: %w", r.opts.EndpointPattern, err)
	}
	if err := page.Reload(ctx); err != nil {
		return res, err
	}

	// An error from either the section wait or the title lookup lands in the
	// same failure branch; a title that is merely not visible does not.
	var failure error
	section := Check{Text: PickSectionText}
	if err := page.WaitForText(ctx, PickSectionText, r.opts.WaitTimeout); err != nil {
		section.Err = err
		failure = err
		res.Checks = append(res.Checks, section)
	} else {
		section.Passed = true
		res.Checks = append(res.Checks, section)
		r.say(r.green, "SUCCESS: Found 'Bunnies Pick' section (%s)", PickSectionText)

		title := Check{Text: featured.Title}
		visible, err := page.TextVisible(ctx, featured.Title)
		switch {
		case err != nil:
			title.Err = err
			failure = err
		case visible:
			title.Passed = true
			r.say(r.green, "SUCCESS: Found book '%s'", featured.Title)
		default:
			title.Err = errors.New("title not visible")
			r.say(r.red, "FAILURE: Did not find book title")
		}
		res.Checks = append(res.Checks, title)
	}

	if failure != nil {
		r.say(r.red, "FAILURE: Did not find 'Bunnies Pick' section. Error: %v", failure)
		log.Debug("populated state check failed", zap.Error(failure))
		if err := r.shoot(ctx, page, &res, ShotPopulatedFailed); err != nil {
			return res, err
		}
	}

	if err := r.shoot(ctx, page, &res, ShotPopulated); err != nil {
		return res, err
	}
	r.say(nil, "Screenshot saved: %s", ShotPopulated)
	return res, nil
}

func (r *Runner) shoot(ctx context.Context, page Page, res *PhaseResult, name string) error {
	path := r.artifact(name)
	if err := page.Screenshot(ctx, path); err != nil {
		return fmt.Errorf("screenshot %s: %w", name, err)
	}
	res.Screenshots = append(res.Screenshots, path)
	return nil
}

func (r *Runner) artifact(name string) string {
	return filepath.Join(r.opts.ArtifactsDir, name)
}

func (r *Runner) say(c *color.Color, format string, args ...any) {
	if c == nil {
		fmt.Fprintf(r.out, format+"\n", args...)
		return
	}
	c.Fprintf(r.out, format+"\n", args...)
}
