package sonar

import (
	"context"
	"log/slog"
	"time"

	"github.com/terra-clan/skillscout/internal/faults"
)

// State is the lifecycle of one submitted analysis
type State string

const (
	StateSubmitted State = "submitted"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateReady     State = "ready"
	StateTimedOut  State = "timed_out"
	StateFailed    State = "failed"
)

// IsTerminal returns true once polling can stop
func (s State) IsTerminal() bool {
	return s == StateReady || s == StateTimedOut || s == StateFailed
}

// probeMetric is fetched to confirm the server has published results
const probeMetric = "ncloc"

// taskSource is the part of Client the poller needs
type taskSource interface {
	ComponentTasks(ctx context.Context, projectKey string) (*ComponentTasks, error)
	Measures(ctx context.Context, projectKey string, metricKeys []string) (map[string]string, error)
}

// Poller waits for the server to finish processing a scanner report
type Poller struct {
	source   taskSource
	timeout  time.Duration
	interval time.Duration
}

// NewPoller creates a poller bounded by timeout, checking every interval
func NewPoller(source taskSource, timeout, interval time.Duration) *Poller {
	return &Poller{source: source, timeout: timeout, interval: interval}
}

// Await polls until the analysis of projectKey is Ready, Failed or the
// deadline passes. It returns the final state, with a classified error for
// TimedOut and Failed.
func (p *Poller) Await(ctx context.Context, projectKey string) (State, error) {
	deadline := time.Now().Add(p.timeout)
	state := StateSubmitted

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return state, faults.Wrap(faults.KindScanTimedOut, ctx.Err(), "polling cancelled")
		case <-timer.C:
		}

		next, details := p.step(ctx, projectKey, state)
		if next != state {
			slog.Debug("analysis state changed", "project", projectKey, "from", state, "to", next)
			state = next
		}

		switch state {
		case StateReady:
			return state, nil
		case StateFailed:
			return state, faults.New(faults.KindScannerInvocationFailed, "analysis task failed: %s", details)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return StateTimedOut, faults.New(faults.KindScanTimedOut,
				"analysis of %s not ready after %s", projectKey, p.timeout)
		}
		wait := p.interval
		if wait > remaining {
			wait = remaining
		}
		timer.Reset(wait)
	}
}

// step performs one observation and returns the resulting state
func (p *Poller) step(ctx context.Context, projectKey string, state State) (State, string) {
	tasks, err := p.source.ComponentTasks(ctx, projectKey)
	if err != nil {
		slog.Warn("failed to poll analysis queue", "project", projectKey, "error", err)
		return state, ""
	}

	if len(tasks.Queue) > 0 {
		for _, t := range tasks.Queue {
			if t.Status == "IN_PROGRESS" {
				return StateRunning, ""
			}
		}
		return StateQueued, ""
	}

	if tasks.Current != nil {
		switch tasks.Current.Status {
		case "FAILED", "CANCELED":
			return StateFailed, tasks.Current.ErrorMessage
		}
	}

	values, err := p.source.Measures(ctx, projectKey, []string{probeMetric})
	if err != nil || len(values) == 0 {
		return StateRunning, ""
	}
	return StateReady, ""
}
