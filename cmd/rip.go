package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mutecap/mutecap/internal/capture"
	"github.com/mutecap/mutecap/internal/encode"
	"github.com/mutecap/mutecap/internal/monitor"
	"github.com/mutecap/mutecap/internal/player"
	"github.com/mutecap/mutecap/internal/rip"
	"github.com/mutecap/mutecap/internal/sink"
	"github.com/mutecap/mutecap/internal/trim"

	"github.com/spf13/cobra"
)

var (
	ripDuration time.Duration
	ripOutput   string
	ripListFile string
)

var ripCmd = &cobra.Command{
	Use:   "rip [track-uri]",
	Short: "Record one or more tracks silently",
	Long: `Record tracks from the configured player while muting them locally.

A single track is given as a URI with --duration. Multiple tracks are given
as a YAML list file via --list; each entry has a uri, a duration, and an
optional output name. Tracks are processed sequentially, and a failed track
does not abort the rest of the list.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requests, err := buildRequests(args)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		orch, err := newOrchestrator()
		if err != nil {
			return err
		}

		var failed int
		for _, req := range requests {
			slog.Info("Ripping track", "uri", req.URI, "output", req.OutputPath, "duration", req.ExpectedDuration)
			err := orch.Rip(ctx, req)
			switch {
			case err == nil:
				slog.Info("Track done", "output", req.OutputPath)
			case errors.Is(err, context.Canceled):
				slog.Info("Interrupted, stopping", "uri", req.URI)
				return err
			default:
				slog.Error("Track failed", "uri", req.URI, "error", err)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d tracks failed", failed, len(requests))
		}
		return nil
	},
}

func init() {
	ripCmd.Flags().DurationVarP(&ripDuration, "duration", "d", 0, "expected track duration, e.g. 3m58s (required for a single track)")
	ripCmd.Flags().StringVarP(&ripOutput, "out", "o", "", "output file name (default derived from the track URI)")
	ripCmd.Flags().StringVarP(&ripListFile, "list", "l", "", "YAML file listing tracks to rip")
}

// trackEntry is one item of a --list file.
type trackEntry struct {
	URI      string `yaml:"uri"`
	Duration string `yaml:"duration"`
	Output   string `yaml:"output"`
}

func buildRequests(args []string) ([]rip.TrackRequest, error) {
	if ripListFile != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("give either a track URI or --list, not both")
		}
		return loadTrackList(ripListFile)
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("a track URI is required (or use --list)")
	}
	if ripDuration <= 0 {
		return nil, fmt.Errorf("--duration is required and must be positive")
	}
	req := rip.TrackRequest{
		URI:              args[0],
		OutputPath:       outputPath(ripOutput, args[0]),
		ExpectedDuration: ripDuration,
		Verbose:          verboseLevel > 0,
	}
	return []rip.TrackRequest{req}, nil
}

func loadTrackList(path string) ([]rip.TrackRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read track list: %w", err)
	}
	var entries []trackEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse track list: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("track list %s is empty", path)
	}

	requests := make([]rip.TrackRequest, 0, len(entries))
	for i, e := range entries {
		if e.URI == "" {
			return nil, fmt.Errorf("track list entry %d has no uri", i+1)
		}
		d, err := time.ParseDuration(e.Duration)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("track list entry %d has invalid duration %q", i+1, e.Duration)
		}
		requests = append(requests, rip.TrackRequest{
			URI:              e.URI,
			OutputPath:       outputPath(e.Output, e.URI),
			ExpectedDuration: d,
			Verbose:          verboseLevel > 0,
		})
	}
	return requests, nil
}

// outputPath resolves the final file location. Relative names land in the
// configured output directory; an empty name is derived from the URI.
func outputPath(name, uri string) string {
	if name == "" {
		name = trackName(uri) + ".mp3"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".mp3") {
		name += ".mp3"
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(cfg.Output.Directory, name)
}

// trackName is the last URI segment, whichever of ':' or '/' delimits it.
func trackName(uri string) string {
	if i := strings.LastIndexAny(uri, ":/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// newOrchestrator wires the live components against the session bus and the
// local audio stack.
func newOrchestrator() (*rip.Orchestrator, error) {
	bus, err := player.ConnectSession(cfg.Player.BusName)
	if err != nil {
		return nil, err
	}
	controller := player.NewController(cfg.Player, bus)
	return rip.New(
		cfg,
		controller,
		sink.NewRouter(cfg.Sink),
		capture.NewSession(cfg.Capture, cfg.Output.BuildDirectory),
		monitor.New(cfg.Monitor, controller),
		trim.NewTrimmer(cfg.Trim),
		encode.NewEncoder(cfg.Encode),
	), nil
}
