package upgrade

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"hotswap/internal/runner"
)

// Trigger sources
const (
	SourceWebhook = "webhook"
	SourceCommand = "command"
	SourceRestart = "restart"
)

// Request describes one upgrade trigger.
type Request struct {
	Source string
	// Commands are run in order before anything else. Empty skips the fetch.
	Commands []string
	// Rebuild continues with the placeholder swap and rebuild after a
	// successful fetch.
	Rebuild bool

	Ref      string
	Revision string
}

// FetchOutcome is the result of the fetch step.
type FetchOutcome struct {
	Results []*runner.Result
	Err     error
}

// Stdout joins the captured stdout of every fetch command.
func (o FetchOutcome) Stdout() string {
	var parts []string
	for _, r := range o.Results {
		parts = append(parts, r.Stdout)
	}
	return strings.Join(parts, "")
}

// Stderr joins the captured stderr of every fetch command.
func (o FetchOutcome) Stderr() string {
	var parts []string
	for _, r := range o.Results {
		parts = append(parts, r.Stderr)
	}
	return strings.Join(parts, "")
}

// Cycle tracks one accepted request. Fetched is closed once the fetch step
// has finished, which always happens before any server is stopped. Done is
// closed when the cycle ends.
type Cycle struct {
	ID        string
	Request   Request
	StartedAt time.Time

	parked  bool
	fetched chan struct{}
	fetch   FetchOutcome
	done    chan struct{}
	err     error
}

func newCycle(req Request, parked bool) *Cycle {
	return &Cycle{
		ID:        uuid.NewString(),
		Request:   req,
		StartedAt: time.Now(),
		parked:    parked,
		fetched:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Fetched is closed when the fetch outcome is available.
func (c *Cycle) Fetched() <-chan struct{} {
	return c.fetched
}

// FetchOutcome returns the fetch result. It must only be called after
// Fetched is closed.
func (c *Cycle) FetchOutcome() FetchOutcome {
	return c.fetch
}

// Done is closed when the cycle has finished.
func (c *Cycle) Done() <-chan struct{} {
	return c.done
}

// Err returns the cycle's error. It must only be called after Done is
// closed.
func (c *Cycle) Err() error {
	return c.err
}

func (c *Cycle) setFetched(outcome FetchOutcome) {
	c.fetch = outcome
	close(c.fetched)
}

func (c *Cycle) finish(err error) {
	c.err = err
	close(c.done)
}
