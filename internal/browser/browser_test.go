package browser

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHijacker struct {
	id       int
	patterns []string
	addErr   error
	stopped  bool
}

// Add compiles the pattern the way rod's HijackRouter.Add does, so a pattern
// rod would panic on panics here too.
func (f *fakeHijacker) Add(pattern string, _ proto.NetworkResourceType, _ func(*rod.Hijack)) error {
	regexp.MustCompile(proto.PatternToReg(pattern))
	if f.addErr != nil {
		return f.addErr
	}
	f.patterns = append(f.patterns, pattern)
	return nil
}

func (f *fakeHijacker) Run() {}

func (f *fakeHijacker) Stop() error {
	f.stopped = true
	return nil
}

type hijackerLog struct {
	created []*fakeHijacker
	addErr  error
	// failNext makes only the next router created fail on Add.
	failNext error
}

func (l *hijackerLog) factory() hijacker {
	h := &fakeHijacker{id: len(l.created), addErr: l.addErr}
	if l.failNext != nil {
		h.addErr = l.failNext
		l.failNext = nil
	}
	l.created = append(l.created, h)
	return h
}

func (l *hijackerLog) last() *fakeHijacker {
	return l.created[len(l.created)-1]
}

func TestRouter_RouteInstallsRule(t *testing.T) {
	hl := &hijackerLog{}
	r := newRouter(hl.factory, zap.NewNop())

	require.NoError(t, r.Route("**/api/v2/library", JSONResponse([]byte("[]"))))

	assert.Equal(t, []string{"**/api/v2/library"}, r.Patterns())
	require.Len(t, hl.created, 1)
	assert.Equal(t, []string{"*/api/v2/library"}, hl.last().patterns)
	assert.False(t, hl.last().stopped)
}

func TestRouter_ReplaceKeepsSingleRule(t *testing.T) {
	hl := &hijackerLog{}
	r := newRouter(hl.factory, zap.NewNop())

	require.NoError(t, r.Route("**/api/v2/library", JSONResponse([]byte("[]"))))
	require.NoError(t, r.Route("**/api/v2/library", JSONResponse([]byte(`[{"id":"book-1"}]`))))

	assert.Equal(t, []string{"**/api/v2/library"}, r.Patterns())
	assert.Equal(t, `[{"id":"book-1"}]`, string(r.rules["**/api/v2/library"].resp.Body))

	// Every router except the live one has been stopped, and the live one
	// carries exactly one handler.
	for _, h := range hl.created[:len(hl.created)-1] {
		assert.True(t, h.stopped, "router %d left running", h.id)
	}
	assert.False(t, hl.last().stopped)
	assert.Equal(t, []string{"*/api/v2/library"}, hl.last().patterns)
}

func TestRouter_UnrouteThenRoute(t *testing.T) {
	hl := &hijackerLog{}
	r := newRouter(hl.factory, zap.NewNop())

	require.NoError(t, r.Route("**/api/v2/library", JSONResponse([]byte("[]"))))
	require.NoError(t, r.Unroute("**/api/v2/library"))
	assert.Empty(t, r.Patterns())
	assert.True(t, hl.last().stopped)
	created := len(hl.created)

	require.NoError(t, r.Route("**/api/v2/library", JSONResponse([]byte("[1]"))))
	assert.Len(t, hl.created, created+1)
	assert.Equal(t, []string{"*/api/v2/library"}, hl.last().patterns)
}

func TestRouter_UnrouteUnknownIsNoop(t *testing.T) {
	hl := &hijackerLog{}
	r := newRouter(hl.factory, zap.NewNop())

	require.NoError(t, r.Unroute("**/nothing"))
	assert.Empty(t, hl.created)
}

func TestRouter_MultiplePatterns(t *testing.T) {
	hl := &hijackerLog{}
	r := newRouter(hl.factory, zap.NewNop())

	require.NoError(t, r.Route("**/api/v2/me", JSONResponse([]byte("{}"))))
	require.NoError(t, r.Route("**/api/v2/library", JSONResponse([]byte("[]"))))

	assert.Equal(t, []string{"*/api/v2/library", "*/api/v2/me"}, hl.last().patterns)
}

func TestRouter_AddFailureRollsBack(t *testing.T) {
	hl := &hijackerLog{addErr: errors.New("fetch disabled")}
	r := newRouter(hl.factory, zap.NewNop())

	err := r.Route("**/api/v2/library", JSONResponse([]byte("[]")))
	require.Error(t, err)
	assert.Empty(t, r.Patterns())
	assert.True(t, hl.last().stopped)
	assert.Nil(t, r.active)
}

func TestRouter_Stop(t *testing.T) {
	hl := &hijackerLog{}
	r := newRouter(hl.factory, zap.NewNop())

	require.NoError(t, r.Route("**/a", JSONResponse(nil)))
	require.NoError(t, r.Stop())
	assert.True(t, hl.last().stopped)
	require.NoError(t, r.Stop())
	assert.Equal(t, []string{"**/a"}, r.Patterns())
}

func TestRouter_FailedReplaceRestoresPreviousRule(t *testing.T) {
	hl := &hijackerLog{}
	r := newRouter(hl.factory, zap.NewNop())

	require.NoError(t, r.Route("**/api/v2/library", JSONResponse([]byte("[]"))))
	hl.failNext = errors.New("fetch enable failed")

	err := r.Route("**/api/v2/library", JSONResponse([]byte("[1]")))
	require.Error(t, err)

	assert.Equal(t, []string{"**/api/v2/library"}, r.Patterns())
	assert.Equal(t, "[]", string(r.rules["**/api/v2/library"].resp.Body))
	assert.False(t, hl.last().stopped, "previous rule is live again")
	assert.Equal(t, []string{"*/api/v2/library"}, hl.last().patterns)
}

func TestRouter_RejectsInvalidPattern(t *testing.T) {
	hl := &hijackerLog{}
	r := newRouter(hl.factory, zap.NewNop())

	assert.ErrorIs(t, r.Route("**/api/(v2", JSONResponse(nil)), ErrInvalidPattern)
	assert.ErrorIs(t, r.Route("", JSONResponse(nil)), ErrInvalidPattern)
	assert.Empty(t, hl.created)
	assert.Empty(t, r.Patterns())
}

func TestRodPattern_CompilesAndMatches(t *testing.T) {
	tests := []struct {
		glob  string
		want  string
		match string
		miss  string
	}{
		{"**/api/v2/library", "*/api/v2/library", "http://localhost:5173/api/v2/library", "http://localhost:5173/api/v2/library/book-1"},
		{"**", "*", "http://localhost:5173/", ""},
		{"http://localhost:5173/api/*", "http://localhost:5173/api/*", "http://localhost:5173/api/v2", "http://example.com/api/v2"},
		{"***/app.js", "*/app.js", "http://127.0.0.1:8080/app.js", "http://127.0.0.1:8080/app.jsx"},
	}
	for _, tt := range tests {
		t.Run(tt.glob, func(t *testing.T) {
			got, err := rodPattern(tt.glob)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			re, err := regexp.Compile(proto.PatternToReg(got))
			require.NoError(t, err)
			assert.True(t, re.MatchString(tt.match), "should match %s", tt.match)
			if tt.miss != "" {
				assert.False(t, re.MatchString(tt.miss), "should not match %s", tt.miss)
			}
		})
	}
}

// rod.Hijack wraps unexported CDP state and can only be built by a running
// HijackRouter, so the handler is checked through the payload it fills.
func TestFulfillment_FillsRodPayload(t *testing.T) {
	p := &proto.FetchFulfillRequest{RequestID: "interception-7", ResponseCode: 200}
	JSONResponse([]byte(`[{"id":"book-1"}]`)).fill(p)

	assert.Equal(t, proto.FetchRequestID("interception-7"), p.RequestID)
	assert.Equal(t, 200, p.ResponseCode)
	assert.Equal(t, `[{"id":"book-1"}]`, string(p.Body))
	assert.Equal(t, []*proto.FetchHeaderEntry{
		{Name: "Content-Type", Value: "application/json"},
		{Name: "Cache-Control", Value: "no-store"},
	}, p.ResponseHeaders)

	empty := &proto.FetchFulfillRequest{}
	Fulfillment{Status: 404}.fill(empty)
	assert.Equal(t, 404, empty.ResponseCode)
	assert.NotNil(t, empty.Body, "a nil body would be sent as JSON null")
}

func TestFulfillmentDefaults(t *testing.T) {
	f := Fulfillment{}
	assert.Equal(t, 200, f.status())
	assert.Equal(t, "application/octet-stream", f.contentType())

	j := JSONResponse([]byte("[]"))
	assert.Equal(t, 200, j.status())
	assert.Equal(t, "application/json", j.contentType())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, 1280, cfg.GetViewportWidth())
	assert.Equal(t, 720, cfg.GetViewportHeight())
	assert.Equal(t, 30*time.Second, cfg.NavigationTimeout())

	cfg.NavigationTimeoutMs = 1500
	assert.Equal(t, 1500*time.Millisecond, cfg.NavigationTimeout())
	assert.True(t, DefaultConfig().Headless)
}

func TestSessionManager_Lifecycle(t *testing.T) {
	m := NewSessionManager(DefaultConfig(), nil)

	_, err := m.NewPage(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.False(t, m.IsConnected())

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))

	assert.ErrorIs(t, m.Start(context.Background()), ErrClosed)
}

func TestSessionManager_StartHonoursCancelledContext(t *testing.T) {
	m := NewSessionManager(DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Start(ctx), context.Canceled)
	assert.False(t, m.IsConnected())
}
