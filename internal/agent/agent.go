// Package agent implements the cooperative polling model used by every
// unit of work in the gateway: session I/O,
// replication role advancement, and archival are all expressed as Agents
// driven round-robin from one or more goroutines, never blocking and
// never suspending mid-poll.
package agent

import (
	"context"
	"log/slog"
	"time"
)

// Agent is one unit of cooperatively-scheduled work. Poll must return
// promptly: it performs at most a bounded amount of work (its own
// fragment or iteration limit) and never blocks waiting on I/O.
type Agent interface {
	// Poll advances the agent's state as of now and returns the amount of
	// work performed, for idle-backoff decisions by the Runner.
	Poll(now time.Time) int
}

// Func adapts a plain function to the Agent interface.
type Func func(now time.Time) int

// Poll calls f.
func (f Func) Poll(now time.Time) int { return f(now) }

// Runner drives a fixed set of Agents round-robin on one goroutine,
// backing off briefly when a full round produces no work.
type Runner struct {
	agents   []Agent
	idleWait time.Duration
	logger   *slog.Logger
}

// Option configures a Runner at construction time.
type Option func(*Runner)

// WithIdleWait overrides the default backoff applied after an idle round.
func WithIdleWait(d time.Duration) Option {
	return func(r *Runner) { r.idleWait = d }
}

// WithLogger installs a logger for lifecycle messages. The default
// discards all output.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a Runner over agents, polled in the order given.
func NewRunner(agents []Agent, opts ...Option) *Runner {
	r := &Runner{
		agents:   agents,
		idleWait: time.Millisecond,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls every agent round-robin until ctx is canceled. A round that
// performs no work across every agent sleeps for idleWait before trying
// again, so an idle gateway does not spin a CPU core.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("agent runner starting", slog.Int("agents", len(r.agents)))
	defer r.logger.Info("agent runner stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		work := r.RunOnce(time.Now())

		if work > 0 {
			continue
		}

		timer.Reset(r.idleWait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce polls every agent exactly once and returns the total work
// performed across the round. Exposed directly for deterministic tests
// that drive time by hand.
func (r *Runner) RunOnce(now time.Time) int {
	total := 0
	for _, a := range r.agents {
		total += a.Poll(now)
	}
	return total
}
