// Package sink discovers the player's live sink input and reroutes it into a
// throwaway null sink so the listener hears nothing while capture taps the
// null sink's monitor source.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mutecap/mutecap/internal/config"
	"github.com/mutecap/mutecap/internal/poll"
)

// Errors surfaced to the orchestrator.
var (
	ErrNotFound      = errors.New("no matching sink input found")
	ErrDisappeared   = errors.New("sink input disappeared before reroute")
	ErrRouteCreation = errors.New("failed to create silent route")
)

// Handle identifies a live sink input. It is only valid while the player is
// producing audio and must be re-discovered per track.
type Handle struct {
	Index uint32
	Label string
}

// Route owns one loaded null-sink module. It must be released exactly once,
// on every exit path; Router.Release enforces the exactly-once part.
type Route struct {
	ModuleID string
	SinkName string

	releaseOnce sync.Once
}

// MonitorSource is the capture target for audio flowing into the route.
func (r *Route) MonitorSource() string {
	return r.SinkName + ".monitor"
}

// Router wraps the pactl routing surface.
type Router struct {
	cfg config.SinkConfig

	// run executes pactl; overridable in tests.
	run func(ctx context.Context, args ...string) (string, error)
}

func NewRouter(cfg config.SinkConfig) *Router {
	return &Router{cfg: cfg, run: runPactl}
}

func runPactl(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "pactl", args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("pactl %s: %w (output: %s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// ListInputs returns the current sink inputs, one Handle per input.
func (r *Router) ListInputs(ctx context.Context) ([]Handle, error) {
	out, err := r.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("list sink inputs: %w", err)
	}
	return ParseSinkInputs(out), nil
}

// Discover polls the live sink inputs until one matches the configured label
// or the timeout elapses. The player may still be buffering when this starts,
// so absence is retried, never failed early.
func (r *Router) Discover(ctx context.Context) (Handle, error) {
	var found Handle
	err := poll.Until(ctx, r.cfg.PollInterval(), r.cfg.DiscoverTimeout(), func(ctx context.Context) (bool, error) {
		out, err := r.run(ctx, "list", "sink-inputs")
		if err != nil {
			slog.Debug("Listing sink inputs failed, retrying", "error", err)
			return false, nil
		}
		inputs := ParseSinkInputs(out)
		h, ok := Match(inputs, r.cfg.MatchLabel)
		if !ok {
			return false, nil
		}
		found = h
		return true, nil
	})
	if errors.Is(err, poll.ErrTimeout) {
		return Handle{}, fmt.Errorf("%w: no sink input matching %q within %s", ErrNotFound, r.cfg.MatchLabel, r.cfg.DiscoverTimeout())
	}
	if err != nil {
		return Handle{}, err
	}
	slog.Debug("Sink input discovered", "index", found.Index, "label", found.Label)
	return found, nil
}

// CreateSilentRoute loads a uniquely named null sink.
func (r *Router) CreateSilentRoute(ctx context.Context) (*Route, error) {
	name := "mutecap_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	out, err := r.run(ctx, "load-module", "module-null-sink",
		"sink_name="+name,
		"sink_properties=device.description=mutecap_silent_capture")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteCreation, err)
	}
	moduleID := strings.TrimSpace(out)
	if _, convErr := strconv.Atoi(moduleID); convErr != nil {
		return nil, fmt.Errorf("%w: unexpected load-module output %q", ErrRouteCreation, moduleID)
	}
	slog.Debug("Silent route created", "sink", name, "module", moduleID)
	return &Route{ModuleID: moduleID, SinkName: name}, nil
}

// Reroute moves the sink input into the silent route. pactl move is not
// transactional against discovery: the input can vanish in between, which
// surfaces as ErrDisappeared and aborts the request.
func (r *Router) Reroute(ctx context.Context, h Handle, route *Route) error {
	_, err := r.run(ctx, "move-sink-input", strconv.FormatUint(uint64(h.Index), 10), route.SinkName)
	if err != nil {
		return fmt.Errorf("%w: sink input #%d: %v", ErrDisappeared, h.Index, err)
	}
	slog.Debug("Sink input rerouted", "index", h.Index, "sink", route.SinkName)
	return nil
}

// Release destroys the null sink. Idempotent and never fails: a route that is
// already gone is as released as it gets. Attempted on every exit path.
func (r *Router) Release(route *Route) {
	if route == nil {
		return
	}
	route.releaseOnce.Do(func() {
		_, err := r.run(context.Background(), "unload-module", route.ModuleID)
		if err != nil {
			slog.Warn("Failed to unload silent route module", "module", route.ModuleID, "error", err)
			return
		}
		slog.Debug("Silent route released", "module", route.ModuleID)
	})
}

// ParseSinkInputs extracts sink inputs with their descriptive labels from
// `pactl list sink-inputs` output. The label is the application name when
// present, the media name otherwise.
func ParseSinkInputs(out string) []Handle {
	var inputs []Handle
	var cur *Handle
	var appName, mediaName string

	flush := func() {
		if cur == nil {
			return
		}
		cur.Label = appName
		if cur.Label == "" {
			cur.Label = mediaName
		}
		inputs = append(inputs, *cur)
		cur, appName, mediaName = nil, "", ""
	}

	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "Sink Input #"); ok {
			flush()
			idx, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 32)
			if err != nil {
				continue
			}
			cur = &Handle{Index: uint32(idx)}
			continue
		}
		if cur == nil {
			continue
		}
		if v, ok := propertyValue(trimmed, "application.name"); ok {
			appName = v
		}
		if v, ok := propertyValue(trimmed, "media.name"); ok {
			mediaName = v
		}
	}
	flush()
	return inputs
}

func propertyValue(line, key string) (string, bool) {
	rest, ok := strings.CutPrefix(line, key)
	if !ok {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	rest, ok = strings.CutPrefix(rest, "=")
	if !ok {
		return "", false
	}
	return strings.Trim(strings.TrimSpace(rest), `"`), true
}

// Match returns the first sink input whose label contains the given label,
// case-insensitively.
func Match(inputs []Handle, label string) (Handle, bool) {
	needle := strings.ToLower(label)
	for _, in := range inputs {
		if strings.Contains(strings.ToLower(in.Label), needle) {
			return in, true
		}
	}
	return Handle{}, false
}
