// Package player drives an MPRIS media player over the D-Bus session bus.
// Every MPRIS command is fire-and-forget; transitions are confirmed by
// polling properties, never assumed synchronous.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mutecap/mutecap/internal/config"
	"github.com/mutecap/mutecap/internal/poll"
)

// Errors surfaced to the orchestrator.
var (
	ErrUnresponsive = errors.New("player control endpoint unresponsive")
	ErrLoadTimeout  = errors.New("track never became the current track")
)

// Status mirrors the MPRIS PlaybackStatus property.
type Status string

const (
	StatusStopped Status = "Stopped"
	StatusPaused  Status = "Paused"
	StatusPlaying Status = "Playing"
	StatusUnknown Status = "Unknown"
)

// State is a snapshot of the player, re-read on every poll and never cached
// beyond one poll cycle.
type State struct {
	Status   Status
	Position time.Duration
	TrackID  string
}

// Bus is the slice of the MPRIS D-Bus surface the controller needs. The
// concrete session-bus implementation lives in dbus.go; tests substitute a
// fake with scripted responses.
type Bus interface {
	NameHasOwner(ctx context.Context) (bool, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	OpenURI(ctx context.Context, uri string) error
	SetPosition(ctx context.Context, trackID string, position time.Duration) error
	PlaybackStatus(ctx context.Context) (string, error)
	Position(ctx context.Context) (time.Duration, error)
	TrackID(ctx context.Context) (string, error)
}

const loadPollInterval = 250 * time.Millisecond

// Controller implements verified track loading on top of the fire-and-forget
// MPRIS surface.
type Controller struct {
	cfg config.PlayerConfig
	bus Bus

	// launch starts the player process; overridable in tests.
	launch func() error
}

func NewController(cfg config.PlayerConfig, bus Bus) *Controller {
	c := &Controller{cfg: cfg, bus: bus}
	c.launch = c.launchProcess
	return c
}

// EnsureRunning makes sure the player process is up and its control endpoint
// answers. If the endpoint is absent or silent it terminates any stale
// instance, relaunches once, and waits for the endpoint to respond. The
// player is intentionally left running afterwards so sequential jobs reuse it.
func (c *Controller) EnsureRunning(ctx context.Context) error {
	if c.responsive(ctx) {
		return nil
	}

	slog.Info("Player endpoint not responding, relaunching", "bus", c.cfg.BusName)
	c.killStale()

	if err := c.launch(); err != nil {
		return fmt.Errorf("%w: launch failed: %v", ErrUnresponsive, err)
	}

	err := poll.Until(ctx, loadPollInterval, c.cfg.StartupTimeout(), func(ctx context.Context) (bool, error) {
		return c.responsive(ctx), nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: no response within %s after relaunch", ErrUnresponsive, c.cfg.StartupTimeout())
	}
	slog.Debug("Player endpoint responding", "bus", c.cfg.BusName)
	return nil
}

// Activate issues Play to make the player the active output device. It does
// not guarantee any particular track is loaded.
func (c *Controller) Activate(ctx context.Context) error {
	if err := c.bus.Play(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return poll.Sleep(ctx, c.cfg.SettleDelay())
}

// Open loads the track and parks it paused at position zero. MPRIS gives no
// completion acknowledgment for any of these, so each command is followed by
// a settle delay. Pausing before seeking avoids racing the seek against
// active playback.
func (c *Controller) Open(ctx context.Context, uri string) error {
	if err := c.bus.OpenURI(ctx, uri); err != nil {
		return fmt.Errorf("open %s: %w", uri, err)
	}
	if err := poll.Sleep(ctx, c.cfg.SettleDelay()); err != nil {
		return err
	}

	if err := c.bus.Pause(ctx); err != nil {
		return fmt.Errorf("pause after open: %w", err)
	}
	if err := poll.Sleep(ctx, c.cfg.SettleDelay()); err != nil {
		return err
	}

	if err := c.seekToZero(ctx); err != nil {
		return err
	}
	return poll.Sleep(ctx, c.cfg.SettleDelay())
}

// seekToZero needs the loaded track's object path, which only the player can
// tell us. A stale or missing trackid is tolerated here because WaitForLoad
// re-verifies the loaded track afterwards.
func (c *Controller) seekToZero(ctx context.Context) error {
	trackID, err := c.bus.TrackID(ctx)
	if err != nil || trackID == "" {
		slog.Debug("No trackid available for seek, skipping SetPosition", "error", err)
		return nil
	}
	if err := c.bus.SetPosition(ctx, trackID, 0); err != nil {
		return fmt.Errorf("seek to zero: %w", err)
	}
	return nil
}

// WaitForLoad polls the current-track identifier until it matches uri or the
// timeout elapses.
func (c *Controller) WaitForLoad(ctx context.Context, uri string, timeout time.Duration) error {
	err := poll.Until(ctx, loadPollInterval, timeout, func(ctx context.Context) (bool, error) {
		id, err := c.bus.TrackID(ctx)
		if err != nil {
			// Property reads fail transiently while the player buffers.
			return false, nil
		}
		return TrackMatches(id, uri), nil
	})
	if errors.Is(err, poll.ErrTimeout) {
		return fmt.Errorf("%w: %s not loaded within %s", ErrLoadTimeout, uri, timeout)
	}
	return err
}

// State returns a snapshot. Property reads that fail or time out degrade the
// snapshot to StatusUnknown instead of failing the caller.
func (c *Controller) State(ctx context.Context) State {
	st := State{Status: StatusUnknown}

	rctx, cancel := context.WithTimeout(ctx, c.cfg.PropertyTimeout())
	defer cancel()

	if s, err := c.bus.PlaybackStatus(rctx); err == nil {
		switch Status(s) {
		case StatusStopped, StatusPaused, StatusPlaying:
			st.Status = Status(s)
		}
	}
	if pos, err := c.bus.Position(rctx); err == nil {
		st.Position = pos
	}
	if id, err := c.bus.TrackID(rctx); err == nil {
		st.TrackID = id
	}
	return st
}

// Resume issues Play.
func (c *Controller) Resume(ctx context.Context) error {
	if err := c.bus.Play(ctx); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}

func (c *Controller) responsive(ctx context.Context) bool {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.PropertyTimeout())
	defer cancel()

	has, err := c.bus.NameHasOwner(rctx)
	if err != nil || !has {
		return false
	}
	// Owning the name is not enough: a wedged player keeps the name but
	// stops answering property reads.
	_, err = c.bus.PlaybackStatus(rctx)
	return err == nil
}

func (c *Controller) launchProcess() error {
	cmd := exec.Command(c.cfg.LaunchCommand[0], c.cfg.LaunchCommand[1:]...)
	if err := cmd.Start(); err != nil {
		return err
	}
	// Detach: the player outlives us on purpose.
	go func() { _ = cmd.Wait() }()
	slog.Debug("Player launched", "command", strings.Join(c.cfg.LaunchCommand, " "), "pid", cmd.Process.Pid)
	return nil
}

// killStale terminates a stale player instance before the single relaunch
// attempt. Best effort; a missing process is fine.
func (c *Controller) killStale() {
	bin := filepath.Base(c.cfg.LaunchCommand[0])
	out, err := exec.Command("pkill", "-x", bin).CombinedOutput()
	if err != nil {
		slog.Debug("No stale player instance to kill", "binary", bin, "output", strings.TrimSpace(string(out)))
	}
}

// TrackMatches reports whether an MPRIS trackid refers to the requested URI.
// Spotify reports object paths like /com/spotify/track/4uLU6hMC while the
// request carries spotify:track:4uLU6hMC, so the comparison falls back to the
// final segment of each.
func TrackMatches(trackID, uri string) bool {
	if trackID == "" || uri == "" {
		return false
	}
	if trackID == uri {
		return true
	}
	return lastSegment(trackID) == lastSegment(uri)
}

func lastSegment(s string) string {
	s = strings.TrimRight(s, "/:")
	if i := strings.LastIndexAny(s, "/:"); i >= 0 {
		return s[i+1:]
	}
	return s
}
