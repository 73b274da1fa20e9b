package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file should fall back to defaults, got: %v", err)
	}
	if cfg.Player.BusName != "org.mpris.MediaPlayer2.spotify" {
		t.Errorf("Expected default bus name, got %s", cfg.Player.BusName)
	}
	if cfg.Capture.SampleRate != 44100 {
		t.Errorf("Expected default sample rate 44100, got %d", cfg.Capture.SampleRate)
	}
	if cfg.Encode.BitrateKbps != 320 {
		t.Errorf("Expected default bitrate 320, got %d", cfg.Encode.BitrateKbps)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mutecap.yaml")
	content := `
player:
  bus_name: org.mpris.MediaPlayer2.vlc
  launch_command: ["vlc"]
sink:
  match_label: vlc
monitor:
  safety_margin_sec: 30
output:
  directory: /tmp/out
  build_directory: /tmp/build
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Player.BusName != "org.mpris.MediaPlayer2.vlc" {
		t.Errorf("Expected overridden bus name, got %s", cfg.Player.BusName)
	}
	if cfg.Sink.MatchLabel != "vlc" {
		t.Errorf("Expected overridden match label, got %s", cfg.Sink.MatchLabel)
	}
	if cfg.Monitor.SafetyMarginSec != 30 {
		t.Errorf("Expected safety margin 30, got %d", cfg.Monitor.SafetyMarginSec)
	}
	// Untouched sections keep their defaults.
	if cfg.Capture.ResampleQuality != 15 {
		t.Errorf("Expected default resample quality 15, got %d", cfg.Capture.ResampleQuality)
	}
}

func TestLoad_ExpandsHomeInOutputPaths(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if strings.HasPrefix(cfg.Output.Directory, "~") {
		t.Errorf("Output directory not expanded: %s", cfg.Output.Directory)
	}
	if strings.HasPrefix(cfg.Output.BuildDirectory, "~") {
		t.Errorf("Build directory not expanded: %s", cfg.Output.BuildDirectory)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty bus name", func(c *Config) { c.Player.BusName = "" }, "bus_name"},
		{"empty launch command", func(c *Config) { c.Player.LaunchCommand = nil }, "launch_command"},
		{"zero discover timeout", func(c *Config) { c.Sink.DiscoverTimeoutSec = 0 }, "discover_timeout_sec"},
		{"empty match label", func(c *Config) { c.Sink.MatchLabel = "" }, "match_label"},
		{"bad resample quality", func(c *Config) { c.Capture.ResampleQuality = 16 }, "resample_quality"},
		{"positive noise floor", func(c *Config) { c.Trim.NoiseFloorDb = 3 }, "noise_floor_db"},
		{"zero bitrate", func(c *Config) { c.Encode.BitrateKbps = 0 }, "bitrate_kbps"},
		{"negative end threshold", func(c *Config) { c.Monitor.EndThresholdSec = -1 }, "end_threshold_sec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Expected validation error for %s", tt.name)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := defaultConfig
	if cfg.Monitor.PollInterval().Milliseconds() != 500 {
		t.Errorf("Unexpected poll interval: %v", cfg.Monitor.PollInterval())
	}
	if cfg.Player.StartupTimeout().Seconds() != 15 {
		t.Errorf("Unexpected startup timeout: %v", cfg.Player.StartupTimeout())
	}
	if cfg.Trim.Epsilon().Milliseconds() != 100 {
		t.Errorf("Unexpected epsilon: %v", cfg.Trim.Epsilon())
	}
}

// The grace sleep after an end-threshold exit covers the remaining playback;
// a default grace shorter than the end threshold would truncate the tail.
func TestDefaultGraceCoversEndThreshold(t *testing.T) {
	cfg := defaultConfig
	if cfg.Monitor.Grace() < cfg.Monitor.EndThreshold() {
		t.Errorf("Default grace %v is shorter than the end threshold %v",
			cfg.Monitor.Grace(), cfg.Monitor.EndThreshold())
	}
}
