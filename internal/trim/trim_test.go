package trim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mutecap/mutecap/internal/config"
)

const epsilon = 100 * time.Millisecond

const leadingOnlyOutput = `Input #0, wav, from '/tmp/t1.wav':
  Duration: 00:03:01.20, bitrate: 2822 kb/s
[silencedetect @ 0x55d1] silence_start: 0
[silencedetect @ 0x55d1] silence_end: 0.3 | silence_duration: 0.3
`

const bothBoundsOutput = `[silencedetect @ 0x55d1] silence_start: 0
[silencedetect @ 0x55d1] silence_end: 0.5 | silence_duration: 0.5
[silencedetect @ 0x55d1] silence_start: 178.2
`

const noSilenceOutput = `Input #0, wav, from '/tmp/t1.wav':
  Duration: 00:03:01.20, bitrate: 2822 kb/s
size=N/A time=00:03:01.20 bitrate=N/A speed= 581x
`

func TestParseSilence(t *testing.T) {
	spans := ParseSilence(bothBoundsOutput)
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d: %+v", len(spans), spans)
	}
	if spans[0].Start != 0 || spans[0].End != 500*time.Millisecond || spans[0].Unterminated {
		t.Errorf("First span incorrect: %+v", spans[0])
	}
	if spans[1].Start != 178200*time.Millisecond || !spans[1].Unterminated {
		t.Errorf("Second span incorrect: %+v", spans[1])
	}
}

func TestParseSilence_NoEvents(t *testing.T) {
	if spans := ParseSilence(noSilenceOutput); len(spans) != 0 {
		t.Errorf("Expected no spans, got %+v", spans)
	}
}

func TestDecide_LeadingOnly(t *testing.T) {
	d := Decide(ParseSilence(leadingOnlyOutput), epsilon)
	if !d.Trim {
		t.Fatal("Expected a trim decision")
	}
	if d.Start != 400*time.Millisecond {
		t.Errorf("Expected start 0.4s (0.3 + epsilon), got %v", d.Start)
	}
	if d.HasEnd {
		t.Errorf("Expected no end bound, got %v", d.End)
	}
}

func TestDecide_BothBounds(t *testing.T) {
	d := Decide(ParseSilence(bothBoundsOutput), epsilon)
	if !d.Trim || !d.HasEnd {
		t.Fatalf("Expected a bounded trim decision, got %+v", d)
	}
	if d.Start != 600*time.Millisecond {
		t.Errorf("Expected start 0.6s, got %v", d.Start)
	}
	if d.End != 178200*time.Millisecond {
		t.Errorf("Expected end 178.2s, got %v", d.End)
	}
}

// An already-trimmed capture (no silence above the noise floor) yields a
// no-trim decision.
func TestDecide_NoSilenceIsNoTrim(t *testing.T) {
	d := Decide(ParseSilence(noSilenceOutput), epsilon)
	if d.Trim {
		t.Errorf("Expected no-trim decision, got %+v", d)
	}
}

func TestDecide_MidTrackSilenceIgnored(t *testing.T) {
	// A rest in the middle of the track is neither leading nor trailing.
	out := `[silencedetect @ 0x1] silence_start: 92.1
[silencedetect @ 0x1] silence_end: 93.4 | silence_duration: 1.3
`
	d := Decide(ParseSilence(out), epsilon)
	if d.Trim {
		t.Errorf("Mid-track silence should not trigger trimming, got %+v", d)
	}
}

func TestDecide_DegenerateWindowFallsBack(t *testing.T) {
	// Trailing silence starting before the leading cut would produce an
	// empty window.
	out := `[silencedetect @ 0x1] silence_start: 0
[silencedetect @ 0x1] silence_end: 5 | silence_duration: 5
[silencedetect @ 0x1] silence_start: 2
`
	d := Decide(ParseSilence(out), epsilon)
	if d.Trim {
		t.Errorf("Degenerate window should fall back to no trim, got %+v", d)
	}
}

func TestAnalyze_FailureDegradesToNoTrim(t *testing.T) {
	tr := NewTrimmer(config.TrimConfig{NoiseFloorDb: -50, MinSilenceMs: 500, EpsilonMs: 100})
	tr.run = func(context.Context, string) (string, error) {
		return "", errors.New("ffmpeg exploded")
	}

	d := tr.Analyze(context.Background(), "/tmp/raw.wav")
	if d.Trim {
		t.Errorf("Analysis failure must yield no-trim, got %+v", d)
	}
}

func TestAnalyze_AppliesConfigEpsilon(t *testing.T) {
	tr := NewTrimmer(config.TrimConfig{NoiseFloorDb: -50, MinSilenceMs: 500, EpsilonMs: 250})
	tr.run = func(context.Context, string) (string, error) {
		return leadingOnlyOutput, nil
	}

	d := tr.Analyze(context.Background(), "/tmp/raw.wav")
	if d.Start != 550*time.Millisecond {
		t.Errorf("Expected 0.3s + 0.25s epsilon, got %v", d.Start)
	}
}
