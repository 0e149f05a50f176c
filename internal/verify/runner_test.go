package verify

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"shelfkit/internal/browser"
	"shelfkit/internal/library"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	color.NoColor = true
}

// fakePage serves the body of the active route as "the page". Text is
// visible when the current route body makes the frontend render it.
type fakePage struct {
	routes   map[string]browser.Fulfillment
	served   []string
	shots    []string
	visible  map[string]bool
	waitErr  map[string]error
	navErr   error
	shotErr  map[string]error
	routeErr error
	panicOn  string
	titleErr error
}

func newFakePage() *fakePage {
	return &fakePage{
		routes:  map[string]browser.Fulfillment{},
		visible: map[string]bool{},
		waitErr: map[string]error{},
		shotErr: map[string]error{},
	}
}

func (p *fakePage) Route(pattern string, f browser.Fulfillment) error {
	if p.routeErr != nil {
		return p.routeErr
	}
	if _, dup := p.routes[pattern]; dup {
		return errors.New("duplicate route for " + pattern)
	}
	p.routes[pattern] = f
	return nil
}

func (p *fakePage) Unroute(pattern string) error {
	delete(p.routes, pattern)
	return nil
}

func (p *fakePage) load() {
	f := p.routes[DefaultEndpoint]
	p.served = append(p.served, string(f.Body))
}

func (p *fakePage) Navigate(context.Context, string) error {
	if p.navErr != nil {
		return p.navErr
	}
	p.load()
	return nil
}

func (p *fakePage) Reload(context.Context) error {
	p.load()
	return nil
}

func (p *fakePage) WaitForText(_ context.Context, text string, _ time.Duration) error {
	if text == p.panicOn {
		panic("page crashed")
	}
	if err := p.waitErr[text]; err != nil {
		return err
	}
	return nil
}

func (p *fakePage) TextVisible(_ context.Context, text string) (bool, error) {
	if p.titleErr != nil {
		return false, p.titleErr
	}
	return p.visible[text], nil
}

func (p *fakePage) Screenshot(_ context.Context, path string) error {
	if err := p.shotErr[filepath.Base(path)]; err != nil {
		return err
	}
	p.shots = append(p.shots, path)
	return nil
}

type fakeSession struct {
	page      *fakePage
	startErr  error
	shutdowns int
}

func (s *fakeSession) Start(context.Context) error { return s.startErr }

func (s *fakeSession) OpenPage(context.Context) (Page, error) { return s.page, nil }

func (s *fakeSession) Shutdown(context.Context) error {
	s.shutdowns++
	return nil
}

func run(t *testing.T, page *fakePage, opts Options) (*Report, *fakeSession, string) {
	t.Helper()
	sess := &fakeSession{page: page}
	var out bytes.Buffer
	rep, err := NewRunner(opts, sess, &out, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	return rep, sess, out.String()
}

func TestRun_AllPass(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := newFakePage()
	page.visible[library.SampleTitle] = true
	rep, sess, out := run(t, page, Options{ArtifactsDir: "artifacts"})

	assert.True(t, rep.Passed())
	assert.NoError(t, rep.Err())
	assert.Equal(t, 1, sess.shutdowns)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", rep.RunID.String())

	want := "Navigating to homepage (Empty State)...\n" +
		"SUCCESS: Found empty state text 'The shelves are bare...'\n" +
		"Screenshot saved: library_empty_mocked.png\n" +
		"Reloading with populated library (Bunnies Pick)...\n" +
		"SUCCESS: Found 'Bunnies Pick' section (Recommended Reading)\n" +
		"SUCCESS: Found book 'Snoopy's Guide to Life'\n" +
		"Screenshot saved: library_populated_mocked.png\n"
	assert.Equal(t, want, out)

	assert.Equal(t, []string{
		filepath.Join("artifacts", ShotEmpty),
		filepath.Join("artifacts", ShotPopulated),
	}, page.shots)
	assert.Equal(t, page.shots, rep.Screenshots())
}

func TestRun_RouteReplacement(t *testing.T) {
	page := newFakePage()
	page.visible[library.SampleTitle] = true
	run(t, page, Options{})

	sample, err := library.SampleShelf().JSON()
	require.NoError(t, err)
	require.Len(t, page.served, 2)
	assert.Equal(t, "[]", page.served[0])
	assert.Equal(t, string(sample), page.served[1])
	assert.Len(t, page.routes, 1)
}

func TestRun_AssertionFailuresAreRecovered(t *testing.T) {
	page := newFakePage()
	page.waitErr[EmptyStateText] = context.DeadlineExceeded
	page.waitErr[PickSectionText] = context.DeadlineExceeded
	rep, sess, out := run(t, page, Options{})

	assert.NoError(t, rep.Fatal)
	assert.False(t, rep.Passed())
	assert.ErrorIs(t, rep.Err(), ErrVerificationFailed)
	assert.Equal(t, 1, sess.shutdowns)
	require.Len(t, rep.Phases, 2)

	assert.Contains(t, out, "FAILURE: Did not find empty state text 'The shelves are bare...'")
	assert.Contains(t, out, "FAILURE: Did not find 'Bunnies Pick' section. Error: context deadline exceeded")
	assert.NotContains(t, out, "Error during verification")

	assert.Equal(t, []string{
		ShotEmptyFailure, ShotEmpty, ShotPopulatedFailed, ShotPopulated,
	}, page.shots)
}

func TestRun_TitleMissing(t *testing.T) {
	page := newFakePage()
	rep, _, out := run(t, page, Options{})

	assert.Contains(t, out, "SUCCESS: Found 'Bunnies Pick' section (Recommended Reading)")
	assert.Contains(t, out, "FAILURE: Did not find book title")
	assert.True(t, rep.Phases[0].Passed())
	assert.False(t, rep.Phases[1].Passed())
	assert.NotContains(t, page.shots, ShotPopulatedFailed)
}

func TestRun_FatalErrorAborts(t *testing.T) {
	page := newFakePage()
	page.navErr = errors.New("net::ERR_CONNECTION_REFUSED")
	rep, sess, out := run(t, page, Options{})

	require.Error(t, rep.Fatal)
	assert.Contains(t, out, "Error during verification: net::ERR_CONNECTION_REFUSED")
	assert.NotContains(t, out, "Reloading with populated library")
	assert.Equal(t, []string{ShotFatal}, page.shots)
	assert.Equal(t, 1, sess.shutdowns)
	assert.ErrorIs(t, rep.Err(), ErrVerificationFailed)
}

func TestRun_CompletionScreenshotFailureIsFatal(t *testing.T) {
	page := newFakePage()
	page.visible[library.SampleTitle] = true
	page.shotErr[ShotPopulated] = errors.New("target closed")
	rep, _, out := run(t, page, Options{})

	require.Error(t, rep.Fatal)
	assert.Contains(t, out, "Error during verification: screenshot library_populated_mocked.png: target closed")
	assert.Len(t, rep.Phases, 2)
}

func TestRun_StartFailure(t *testing.T) {
	sess := &fakeSession{page: newFakePage(), startErr: errors.New("chrome not found")}
	_, err := NewRunner(Options{}, sess, &bytes.Buffer{}, nil).Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, 1, sess.shutdowns)
}

func TestRun_PanicTakesFatalPath(t *testing.T) {
	page := newFakePage()
	page.panicOn = EmptyStateText
	sess := &fakeSession{page: page}
	var out bytes.Buffer

	var rep *Report
	require.NotPanics(t, func() {
		var err error
		rep, err = NewRunner(Options{}, sess, &out, nil).Run(context.Background())
		require.NoError(t, err)
	})

	require.Error(t, rep.Fatal)
	assert.Contains(t, rep.Fatal.Error(), "page crashed")
	assert.Contains(t, out.String(), "Error during verification: panic: page crashed")
	assert.Equal(t, []string{ShotFatal}, page.shots)
	assert.Equal(t, 1, sess.shutdowns)
	assert.False(t, rep.Passed())
}

func TestRun_TitleLookupErrorTakesSectionFailurePath(t *testing.T) {
	page := newFakePage()
	page.titleErr = errors.New("execution context was destroyed")
	rep, sess, out := run(t, page, Options{})

	assert.NoError(t, rep.Fatal)
	assert.Contains(t, out, "SUCCESS: Found 'Bunnies Pick' section (Recommended Reading)")
	assert.Contains(t, out, "FAILURE: Did not find 'Bunnies Pick' section. Error: execution context was destroyed")
	assert.NotContains(t, out, "FAILURE: Did not find book title")
	assert.Equal(t, []string{ShotEmpty, ShotPopulatedFailed, ShotPopulated}, page.shots)

	require.Len(t, rep.Phases, 2)
	checks := rep.Phases[1].Checks
	require.Len(t, checks, 2)
	assert.True(t, checks[0].Passed)
	assert.ErrorContains(t, checks[1].Err, "execution context was destroyed")
	assert.Equal(t, 1, sess.shutdowns)
}

func TestRun_PhaseLogsCarryRunID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	page := newFakePage()
	page.waitErr[EmptyStateText] = context.DeadlineExceeded
	page.waitErr[PickSectionText] = context.DeadlineExceeded

	rep, err := NewRunner(Options{}, &fakeSession{page: page}, &bytes.Buffer{}, zap.New(core)).Run(context.Background())
	require.NoError(t, err)

	entries := logs.FilterMessageSnippet("failed").AllUntimed()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, rep.RunID.String(), e.ContextMap()["run_id"], e.Message)
		assert.Equal(t, "verify", e.ContextMap()["category"], e.Message)
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := NewRunner(Options{}, &fakeSession{}, nil, nil).Options()
	assert.Equal(t, DefaultTargetURL, o.TargetURL)
	assert.Equal(t, DefaultEndpoint, o.EndpointPattern)
	assert.Equal(t, 5*time.Second, o.WaitTimeout)
	assert.Equal(t, ".", o.ArtifactsDir)
	assert.Len(t, o.Populated, 1)
}

func TestReport_Err(t *testing.T) {
	assert.ErrorIs(t, (&Report{}).Err(), ErrVerificationFailed)

	rep := &Report{Phases: []PhaseResult{
		{Name: PhaseEmpty, Checks: []Check{{Passed: true}}},
		{Name: PhasePopulated, Checks: []Check{{Passed: true}, {Passed: false}}},
	}}
	err := rep.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "populated")
	assert.NotContains(t, err.Error(), "empty")
}
