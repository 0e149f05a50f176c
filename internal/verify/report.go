package verify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrVerificationFailed is returned by Report.Err when a check failed or the
// run aborted.
var ErrVerificationFailed = errors.New("verification failed")

// Check is the outcome of one text assertion.
type Check struct {
	Text   string
	Passed bool
	Err    error
}

// PhaseResult records what happened in one phase.
type PhaseResult struct {
	Name        string
	Checks      []Check
	Screenshots []string
}

// Passed reports whether every check in the phase passed.
func (p PhaseResult) Passed() bool {
	if len(p.Checks) == 0 {
		return false
	}
	for _, c := range p.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Report is the in-memory result of a run.
type Report struct {
	RunID    uuid.UUID
	Started  time.Time
	Finished time.Time
	Phases   []PhaseResult
	Fatal    error
}

func newReport() *Report {
	return &Report{RunID: uuid.New(), Started: time.Now()}
}

// Passed is true only when no fatal error occurred and every phase passed.
func (r *Report) Passed() bool {
	if r.Fatal != nil || len(r.Phases) == 0 {
		return false
	}
	for _, p := range r.Phases {
		if !p.Passed() {
			return false
		}
	}
	return true
}

// Screenshots lists every screenshot written during the run, in order.
func (r *Report) Screenshots() []string {
	var out []string
	for _, p := range r.Phases {
		out = append(out, p.Screenshots...)
	}
	return out
}

// Err returns nil for a passing run and an error wrapping
// ErrVerificationFailed otherwise.
func (r *Report) Err() error {
	if r.Passed() {
		return nil
	}
	if r.Fatal != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, r.Fatal)
	}
	var failed []string
	for _, p := range r.Phases {
		if !p.Passed() {
			failed = append(failed, p.Name)
		}
	}
	if len(failed) == 0 {
		return fmt.Errorf("%w: no phases ran", ErrVerificationFailed)
	}
	return fmt.Errorf("%w: phases %s", ErrVerificationFailed, strings.Join(failed, ", "))
}
