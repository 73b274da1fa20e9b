package encode

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mutecap/mutecap/internal/config"
	"github.com/mutecap/mutecap/internal/trim"
)

func testEncodeConfig() config.EncodeConfig {
	return config.EncodeConfig{BitrateKbps: 320, MinBytesPerSec: 20 * 1024}
}

// fakeRun records the args and writes size bytes to the output path (the
// last argument), mimicking a successful ffmpeg run.
func fakeRun(t *testing.T, gotArgs *[]string, size int) func(context.Context, []string) error {
	t.Helper()
	return func(_ context.Context, args []string) error {
		*gotArgs = args
		out := args[len(args)-1]
		return os.WriteFile(out, bytes.Repeat([]byte{0xff}, size), 0644)
	}
}

func TestEncode_FullPassthrough(t *testing.T) {
	e := NewEncoder(testEncodeConfig())
	var args []string
	e.run = fakeRun(t, &args, 10*20*1024)

	out := filepath.Join(t.TempDir(), "t1.mp3")
	err := e.Encode(context.Background(), "/tmp/raw.wav", out, trim.Decision{}, 10*time.Second)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	joined := strings.Join(args, " ")
	if strings.Contains(joined, "-ss") || strings.Contains(joined, "-t ") {
		t.Errorf("Passthrough encode must not carry a trim window: %s", joined)
	}
	if !strings.Contains(joined, "-b:a 320k") {
		t.Errorf("Expected fixed 320k bitrate: %s", joined)
	}
}

func TestEncode_StartOnlyWindow(t *testing.T) {
	e := NewEncoder(testEncodeConfig())
	var args []string
	e.run = fakeRun(t, &args, 180*20*1024)

	window := trim.Decision{Trim: true, Start: 400 * time.Millisecond}
	out := filepath.Join(t.TempDir(), "t1.mp3")
	if err := e.Encode(context.Background(), "/tmp/raw.wav", out, window, 180*time.Second); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-ss 0.400") {
		t.Errorf("Expected start offset 0.400: %s", joined)
	}
	if strings.Contains(joined, "-t ") {
		t.Errorf("Start-only window must not set an end bound: %s", joined)
	}
}

func TestEncode_BoundedWindow(t *testing.T) {
	e := NewEncoder(testEncodeConfig())
	var args []string
	e.run = fakeRun(t, &args, 178*20*1024)

	window := trim.Decision{Trim: true, Start: 600 * time.Millisecond, End: 178200 * time.Millisecond, HasEnd: true}
	out := filepath.Join(t.TempDir(), "t1.mp3")
	if err := e.Encode(context.Background(), "/tmp/raw.wav", out, window, 180*time.Second); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-ss 0.600") {
		t.Errorf("Expected start offset: %s", joined)
	}
	if !strings.Contains(joined, "-t 177.600") {
		t.Errorf("Expected duration 177.600: %s", joined)
	}
}

func TestEncode_CommandFailure(t *testing.T) {
	e := NewEncoder(testEncodeConfig())
	e.run = func(context.Context, []string) error {
		return errors.New("ffmpeg: invalid input")
	}

	err := e.Encode(context.Background(), "/tmp/raw.wav", filepath.Join(t.TempDir(), "t1.mp3"), trim.Decision{}, time.Minute)
	if !errors.Is(err, ErrTranscodeFailure) {
		t.Fatalf("Expected ErrTranscodeFailure, got: %v", err)
	}
}

func TestEncode_UndersizedOutputFails(t *testing.T) {
	e := NewEncoder(testEncodeConfig())
	var args []string
	e.run = fakeRun(t, &args, 100) // 100 bytes for a 3-minute track

	err := e.Encode(context.Background(), "/tmp/raw.wav", filepath.Join(t.TempDir(), "t1.mp3"), trim.Decision{}, 180*time.Second)
	if !errors.Is(err, ErrTranscodeFailure) {
		t.Fatalf("Expected ErrTranscodeFailure for undersized output, got: %v", err)
	}
}

func TestEncode_MissingOutputFails(t *testing.T) {
	e := NewEncoder(testEncodeConfig())
	e.run = func(context.Context, []string) error { return nil } // writes nothing

	err := e.Encode(context.Background(), "/tmp/raw.wav", filepath.Join(t.TempDir(), "t1.mp3"), trim.Decision{}, time.Minute)
	if !errors.Is(err, ErrTranscodeFailure) {
		t.Fatalf("Expected ErrTranscodeFailure for missing output, got: %v", err)
	}
}
