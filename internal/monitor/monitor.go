// Package monitor watches playback until the current track ends.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/mutecap/mutecap/internal/config"
	"github.com/mutecap/mutecap/internal/player"
	"github.com/mutecap/mutecap/internal/poll"
)

// StateReader is the slice of the player controller the monitor needs.
type StateReader interface {
	State(ctx context.Context) player.State
}

// Outcome says which condition ended the monitoring loop.
type Outcome int

const (
	// OutcomeStatusChange: the player left the Playing state.
	OutcomeStatusChange Outcome = iota
	// OutcomeEndThreshold: position reached expected duration minus the end
	// threshold.
	OutcomeEndThreshold
	// OutcomeSafetyTimeout: the hard elapsed-time bound fired. Always a safe
	// exit, but it usually means the expected duration was wrong or the
	// player is stuck.
	OutcomeSafetyTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStatusChange:
		return "status-change"
	case OutcomeEndThreshold:
		return "end-threshold"
	case OutcomeSafetyTimeout:
		return "safety-timeout"
	default:
		return "unknown"
	}
}

// Monitor polls playback state on a fixed interval.
type Monitor struct {
	cfg    config.MonitorConfig
	reader StateReader
}

func New(cfg config.MonitorConfig, reader StateReader) *Monitor {
	return &Monitor{cfg: cfg, reader: reader}
}

// RunUntilTrackEnd blocks until the track ends, the position guard fires, or
// the hard safety bound elapses. It never fails on player misbehavior; the
// safety bound guarantees return within expected + margin + one poll
// interval. The only error it returns is ctx.Err() on cancellation.
//
// Unknown status (a timed-out property read) is treated as still-playing:
// a flaky read must not cut a capture short.
func (m *Monitor) RunUntilTrackEnd(ctx context.Context, expected time.Duration) (Outcome, error) {
	start := time.Now()
	hardBound := expected + m.cfg.SafetyMargin()
	endGuard := expected - m.cfg.EndThreshold()

	slog.Debug("Monitoring playback", "expected", expected, "hard_bound", hardBound)

	for {
		if err := ctx.Err(); err != nil {
			return OutcomeSafetyTimeout, err
		}
		if time.Since(start) > hardBound {
			slog.Warn("Playback monitor hit the hard safety bound; the expected track duration is likely inaccurate",
				"expected", expected, "elapsed", time.Since(start))
			return OutcomeSafetyTimeout, nil
		}

		st := m.reader.State(ctx)
		switch {
		case st.Status == player.StatusStopped || st.Status == player.StatusPaused:
			slog.Debug("Playback left Playing state", "status", st.Status, "position", st.Position)
			return m.graceExit(ctx, OutcomeStatusChange)
		case st.Status == player.StatusPlaying && st.Position >= endGuard && endGuard > 0:
			slog.Debug("Position reached end threshold", "position", st.Position, "guard", endGuard)
			return m.graceExit(ctx, OutcomeEndThreshold)
		}

		if err := poll.Sleep(ctx, m.cfg.PollInterval()); err != nil {
			return OutcomeSafetyTimeout, err
		}
	}
}

// graceExit sleeps briefly before signaling completion so the capture keeps
// running through the true track tail.
func (m *Monitor) graceExit(ctx context.Context, o Outcome) (Outcome, error) {
	if err := poll.Sleep(ctx, m.cfg.Grace()); err != nil {
		return o, err
	}
	return o, nil
}
