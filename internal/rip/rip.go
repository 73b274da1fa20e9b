// Package rip sequences one track capture end to end: verified load, sink
// reroute, capture, playback monitoring, silence trim, transcode. It owns the
// scoped resources (silent route, capture process, temp file) and guarantees
// their release on every exit path, including failure and cancellation.
package rip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mutecap/mutecap/internal/capture"
	"github.com/mutecap/mutecap/internal/config"
	"github.com/mutecap/mutecap/internal/encode"
	"github.com/mutecap/mutecap/internal/monitor"
	"github.com/mutecap/mutecap/internal/player"
	"github.com/mutecap/mutecap/internal/poll"
	"github.com/mutecap/mutecap/internal/sink"
	"github.com/mutecap/mutecap/internal/trim"
)

// TrackRequest describes one track to capture. Immutable; consumed by a
// single Rip run.
type TrackRequest struct {
	// URI is the opaque track handle passed to the player.
	URI string
	// OutputPath is the final encoded file destination.
	OutputPath string
	// ExpectedDuration is the upstream-reported track length.
	ExpectedDuration time.Duration
	// Verbose elevates this request's state transitions to info level.
	Verbose bool
}

// Capability interfaces. Each is the narrow slice of a component the
// orchestrator consumes, so tests can substitute deterministic fakes.

type PlayerControl interface {
	EnsureRunning(ctx context.Context) error
	Activate(ctx context.Context) error
	Open(ctx context.Context, uri string) error
	WaitForLoad(ctx context.Context, uri string, timeout time.Duration) error
	State(ctx context.Context) player.State
	Resume(ctx context.Context) error
}

type AudioRouting interface {
	Discover(ctx context.Context) (sink.Handle, error)
	CreateSilentRoute(ctx context.Context) (*sink.Route, error)
	Reroute(ctx context.Context, h sink.Handle, route *sink.Route) error
	Release(route *sink.Route)
}

type Capturer interface {
	Start(target, outPath string) (*capture.Handle, error)
	Stop(h *capture.Handle) error
}

type PlaybackMonitor interface {
	RunUntilTrackEnd(ctx context.Context, expected time.Duration) (monitor.Outcome, error)
}

type SilenceAnalyzer interface {
	Analyze(ctx context.Context, rawPath string) trim.Decision
}

type Encoder interface {
	Encode(ctx context.Context, rawPath, outPath string, window trim.Decision, expected time.Duration) error
}

// State names the orchestrator's position in the per-track state machine.
type State string

const (
	StateIdle           State = "Idle"
	StatePlayerReady    State = "PlayerReady"
	StateTrackLoading   State = "TrackLoading"
	StateTrackLoaded    State = "TrackLoaded"
	StateSinkDiscovered State = "SinkDiscovered"
	StateRerouted       State = "Rerouted"
	StateCapturing      State = "Capturing"
	StateMonitoring     State = "Monitoring"
	StateStopped        State = "Stopped"
	StateTranscoding    State = "Transcoding"
	StateDone           State = "Done"
	StateFailed         State = "Failed"
)

// pauseAtZeroBound is how close to zero the paused position must be before
// capture may start.
const pauseAtZeroBound = time.Second

// playbackStartBound is how close to zero the position must still be when
// playback is first confirmed after Resume.
const playbackStartBound = 2 * time.Second

// Orchestrator wires the capability interfaces into the state machine.
type Orchestrator struct {
	cfg      *config.Config
	player   PlayerControl
	router   AudioRouting
	capturer Capturer
	monitor  PlaybackMonitor
	analyzer SilenceAnalyzer
	encoder  Encoder
}

func New(cfg *config.Config, pc PlayerControl, ar AudioRouting, cp Capturer, mon PlaybackMonitor, an SilenceAnalyzer, enc Encoder) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		player:   pc,
		router:   ar,
		capturer: cp,
		monitor:  mon,
		analyzer: an,
		encoder:  enc,
	}
}

// request carries all mutable per-track state. Nothing outlives the Rip call.
type request struct {
	req     TrackRequest
	state   State
	route   *sink.Route
	handle  *capture.Handle
	rawPath string
}

func (r *request) transition(to State) {
	level := slog.LevelDebug
	if r.req.Verbose {
		level = slog.LevelInfo
	}
	slog.Default().Log(context.Background(), level, "State transition",
		"track", r.req.URI, "from", string(r.state), "to", string(to))
	r.state = to
}

// Rip captures one track. On any failure it transitions to Failed, runs the
// cleanup routine, and returns the component's error kind unchanged (wrapped
// with step context). Cancellation propagates as context.Canceled after the
// identical cleanup; the player process is left running either way so
// sequential jobs can reuse it.
func (o *Orchestrator) Rip(ctx context.Context, req TrackRequest) (err error) {
	if err := validate(req); err != nil {
		return err
	}

	r := &request{req: req, state: StateIdle}
	defer func() {
		o.cleanup(r, err)
	}()

	if err = o.player.EnsureRunning(ctx); err != nil {
		return fmt.Errorf("ensure player running: %w", err)
	}
	r.transition(StatePlayerReady)

	if err = o.player.Activate(ctx); err != nil {
		return fmt.Errorf("activate player: %w", err)
	}

	r.transition(StateTrackLoading)
	if err = o.player.Open(ctx, req.URI); err != nil {
		return fmt.Errorf("open track: %w", err)
	}
	if err = o.player.WaitForLoad(ctx, req.URI, o.cfg.Player.LoadTimeout()); err != nil {
		return fmt.Errorf("wait for load: %w", err)
	}
	if err = o.waitPausedAtZero(ctx); err != nil {
		return fmt.Errorf("verify paused at zero: %w", err)
	}
	r.transition(StateTrackLoaded)

	sinkHandle, err := o.router.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover sink: %w", err)
	}
	r.transition(StateSinkDiscovered)

	r.route, err = o.router.CreateSilentRoute(ctx)
	if err != nil {
		return fmt.Errorf("create silent route: %w", err)
	}
	if err = o.router.Reroute(ctx, sinkHandle, r.route); err != nil {
		return fmt.Errorf("reroute: %w", err)
	}
	r.transition(StateRerouted)

	r.rawPath, err = o.rawPath(req)
	if err != nil {
		return err
	}
	r.handle, err = o.capturer.Start(r.route.MonitorSource(), r.rawPath)
	if err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	r.transition(StateCapturing)

	if err = o.player.Resume(ctx); err != nil {
		return fmt.Errorf("resume playback: %w", err)
	}
	if err = o.waitForPlaybackStart(ctx); err != nil {
		return fmt.Errorf("confirm playback start: %w", err)
	}
	r.transition(StateMonitoring)

	outcome, err := o.monitor.RunUntilTrackEnd(ctx, req.ExpectedDuration)
	if err != nil {
		return err
	}
	slog.Debug("Monitoring finished", "track", req.URI, "outcome", outcome.String())

	stopErr := o.capturer.Stop(r.handle)
	r.handle = nil
	if stopErr != nil {
		err = fmt.Errorf("stop capture: %w", stopErr)
		return err
	}
	r.transition(StateStopped)

	// The silent route is done the moment capture stops; release it before
	// the (potentially slow) transcode.
	o.router.Release(r.route)
	r.route = nil

	r.transition(StateTranscoding)
	window := o.analyzer.Analyze(ctx, r.rawPath)
	if err = os.MkdirAll(filepath.Dir(req.OutputPath), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err = o.encoder.Encode(ctx, r.rawPath, req.OutputPath, window, req.ExpectedDuration); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	removeQuiet(r.rawPath)
	r.rawPath = ""
	r.transition(StateDone)
	return nil
}

func validate(req TrackRequest) error {
	if req.URI == "" {
		return fmt.Errorf("track request has no URI")
	}
	if req.OutputPath == "" {
		return fmt.Errorf("track request has no output path")
	}
	if req.ExpectedDuration <= 0 {
		return fmt.Errorf("track request has no expected duration")
	}
	return nil
}

// waitPausedAtZero confirms the player parked the track paused near position
// zero. Capture must not start otherwise.
func (o *Orchestrator) waitPausedAtZero(ctx context.Context) error {
	err := poll.Until(ctx, 250*time.Millisecond, o.cfg.Player.LoadTimeout(), func(ctx context.Context) (bool, error) {
		st := o.player.State(ctx)
		return st.Status == player.StatusPaused && st.Position < pauseAtZeroBound, nil
	})
	if errors.Is(err, poll.ErrTimeout) {
		return fmt.Errorf("%w: never paused near position zero", player.ErrLoadTimeout)
	}
	return err
}

// waitForPlaybackStart confirms the player actually left Paused after Resume.
// Resume is fire-and-forget like every MPRIS command, and a lagging status
// read on the first monitor cycle would otherwise look like end-of-track and
// stop the capture at position zero.
func (o *Orchestrator) waitForPlaybackStart(ctx context.Context) error {
	err := poll.Until(ctx, 250*time.Millisecond, o.cfg.Player.LoadTimeout(), func(ctx context.Context) (bool, error) {
		st := o.player.State(ctx)
		return st.Status == player.StatusPlaying && st.Position < playbackStartBound, nil
	})
	if errors.Is(err, poll.ErrTimeout) {
		return fmt.Errorf("%w: playback never started after resume", player.ErrUnresponsive)
	}
	return err
}

func (o *Orchestrator) rawPath(req TrackRequest) (string, error) {
	if err := os.MkdirAll(o.cfg.Output.BuildDirectory, 0755); err != nil {
		return "", fmt.Errorf("create build directory: %w", err)
	}
	name := fmt.Sprintf("%s-%s.wav", sanitize(req.URI), uuid.NewString()[:8])
	return filepath.Join(o.cfg.Output.BuildDirectory, name), nil
}

// cleanup is the single failure/cancellation path: stop any running capture,
// release the silent route, delete the partial raw file, and on a transcode
// failure also delete the partial output. The player stays running. Keyed on
// the reached state rather than the returned error so it also covers a panic
// unwinding through the deferred call.
func (o *Orchestrator) cleanup(r *request, ripErr error) {
	if r.handle != nil {
		if err := o.capturer.Stop(r.handle); err != nil {
			slog.Warn("Cleanup: capture stop reported failure", "error", err)
		}
		r.handle = nil
	}
	if r.route != nil {
		o.router.Release(r.route)
		r.route = nil
	}
	if r.state == StateDone {
		return
	}
	r.transition(StateFailed)
	if r.rawPath != "" {
		removeQuiet(r.rawPath)
	}
	if ripErr != nil && errors.Is(ripErr, encode.ErrTranscodeFailure) {
		removeQuiet(r.req.OutputPath)
	}
}

func removeQuiet(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove file", "path", path, "error", err)
	}
}

func sanitize(uri string) string {
	var b strings.Builder
	for _, r := range uri {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
