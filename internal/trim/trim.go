// Package trim derives a trim window from the silence ffmpeg detects at the
// edges of a raw capture.
package trim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mutecap/mutecap/internal/config"
)

// Decision is the derived trim window. A zero Decision (Trim false) means
// encode the full capture; detecting no silence is a valid outcome.
type Decision struct {
	// Start is the offset the encode should begin at.
	Start time.Duration
	// End bounds the encode when HasEnd is true.
	End    time.Duration
	HasEnd bool
	Trim   bool
}

// Span is one silence interval reported by silencedetect. Unterminated means
// the silence ran through to the end of the file.
type Span struct {
	Start        time.Duration
	End          time.Duration
	Unterminated bool
}

// Trimmer runs the silence-detection pass.
type Trimmer struct {
	cfg config.TrimConfig

	// run executes the analysis command and returns its stderr; overridable
	// in tests.
	run func(ctx context.Context, rawPath string) (string, error)
}

func NewTrimmer(cfg config.TrimConfig) *Trimmer {
	t := &Trimmer{cfg: cfg}
	t.run = t.runFFmpeg
	return t
}

func (t *Trimmer) runFFmpeg(ctx context.Context, rawPath string) (string, error) {
	filter := fmt.Sprintf("silencedetect=noise=%gdB:d=%g", t.cfg.NoiseFloorDb, t.cfg.MinSilence().Seconds())
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-nostats",
		"-i", rawPath,
		"-af", filter,
		"-f", "null", "-",
	)
	// silencedetect reports on stderr.
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("silence analysis: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Analyze runs silence detection over the capture and applies the decision
// policy. An analysis failure degrades to a no-trim decision rather than
// failing the request: an untrimmed file beats no file.
func (t *Trimmer) Analyze(ctx context.Context, rawPath string) Decision {
	out, err := t.run(ctx, rawPath)
	if err != nil {
		slog.Warn("Silence analysis failed, encoding full capture", "error", err)
		return Decision{}
	}
	d := Decide(ParseSilence(out), t.cfg.Epsilon())
	slog.Debug("Trim decision", "trim", d.Trim, "start", d.Start, "has_end", d.HasEnd, "end", d.End)
	return d
}

// ParseSilence extracts silence spans from silencedetect stderr output.
func ParseSilence(out string) []Span {
	var spans []Span
	var open *Span

	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "silencedetect") {
			continue
		}
		if v, ok := fieldAfter(line, "silence_start:"); ok {
			open = &Span{Start: v}
			continue
		}
		if v, ok := fieldAfter(line, "silence_end:"); ok && open != nil {
			open.End = v
			spans = append(spans, *open)
			open = nil
		}
	}
	if open != nil {
		open.Unterminated = true
		spans = append(spans, *open)
	}
	return spans
}

func fieldAfter(line, key string) (time.Duration, bool) {
	i := strings.Index(line, key)
	if i < 0 {
		return 0, false
	}
	rest := strings.TrimSpace(line[i+len(key):])
	if j := strings.IndexAny(rest, " |"); j >= 0 {
		rest = rest[:j]
	}
	secs, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return 0, false
	}
	// Millisecond resolution is plenty and keeps the arithmetic exact.
	return time.Duration(math.Round(secs*1000)) * time.Millisecond, true
}

// leadingBound is how close to position zero a silence must start to count
// as the pre-roll gap rather than an intra-track rest.
const leadingBound = time.Second

// Decide applies the trim policy: a leading silence yields a start offset
// (plus epsilon, so the first musical sample is not re-clipped), an
// unterminated trailing silence yields an end bound.
func Decide(spans []Span, epsilon time.Duration) Decision {
	var d Decision

	// Only the first span can be the leading gap.
	if len(spans) > 0 {
		first := spans[0]
		if !first.Unterminated && first.Start < leadingBound && first.End > 0 {
			d.Start = first.End + epsilon
			d.Trim = true
		}
	}

	if len(spans) > 0 {
		last := spans[len(spans)-1]
		if last.Unterminated && last.Start > 0 {
			d.End = last.Start
			d.HasEnd = true
			d.Trim = true
		}
	}

	// A trailing bound at or before the start offset would produce an empty
	// or negative window; fall back to no trimming.
	if d.HasEnd && d.End <= d.Start {
		return Decision{}
	}
	return d
}
