// Package encode produces the final compressed file from a raw capture,
// optionally restricted to a trim window.
package encode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mutecap/mutecap/internal/config"
	"github.com/mutecap/mutecap/internal/trim"
)

// ErrTranscodeFailure covers an encoder that failed outright or produced an
// undersized output.
var ErrTranscodeFailure = errors.New("transcode failed")

// Encoder shells out to ffmpeg with libmp3lame at a fixed bitrate.
type Encoder struct {
	cfg config.EncodeConfig

	// run executes ffmpeg; overridable in tests.
	run func(ctx context.Context, args []string) error
}

func NewEncoder(cfg config.EncodeConfig) *Encoder {
	e := &Encoder{cfg: cfg}
	e.run = runFFmpeg
	return e
}

func runFFmpeg(ctx context.Context, args []string) error {
	out, err := exec.CommandContext(ctx, "ffmpeg", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg %s: %w (output: %s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Encode transcodes rawPath into outPath, honoring the trim window. The
// result is sanity-checked against a size floor derived from the expected
// duration; an empty or truncated output is a failure, not a success.
func (e *Encoder) Encode(ctx context.Context, rawPath, outPath string, window trim.Decision, expected time.Duration) error {
	args := []string{"-hide_banner", "-nostats", "-y"}
	if window.Trim && window.Start > 0 {
		args = append(args, "-ss", formatSeconds(window.Start))
	}
	args = append(args, "-i", rawPath)
	if window.Trim && window.HasEnd {
		args = append(args, "-t", formatSeconds(window.End-window.Start))
	}
	args = append(args,
		"-c:a", "libmp3lame",
		"-b:a", strconv.Itoa(e.cfg.BitrateKbps)+"k",
		outPath,
	)

	slog.Debug("Encoding", "raw", rawPath, "out", outPath, "args", strings.Join(args, " "))
	if err := e.run(ctx, args); err != nil {
		return fmt.Errorf("%w: %v", ErrTranscodeFailure, err)
	}
	return e.verify(outPath, window, expected)
}

func (e *Encoder) verify(outPath string, window trim.Decision, expected time.Duration) error {
	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("%w: output missing: %v", ErrTranscodeFailure, err)
	}

	encoded := expected
	if window.Trim {
		encoded -= window.Start
		if window.HasEnd && window.End < expected {
			encoded = window.End - window.Start
		}
	}
	if encoded < 0 {
		encoded = 0
	}
	minSize := int64(encoded.Seconds()) * int64(e.cfg.MinBytesPerSec)
	if info.Size() < minSize {
		return fmt.Errorf("%w: output too small: %d bytes, expected at least %d", ErrTranscodeFailure, info.Size(), minSize)
	}
	slog.Debug("Encode verified", "out", outPath, "size", info.Size())
	return nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
