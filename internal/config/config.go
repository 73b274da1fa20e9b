package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the capture pipeline. Values not present in
// the config file fall back to the defaults below.
type Config struct {
	Player  PlayerConfig  `mapstructure:"player" yaml:"player"`
	Sink    SinkConfig    `mapstructure:"sink" yaml:"sink"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	Trim    TrimConfig    `mapstructure:"trim" yaml:"trim"`
	Encode  EncodeConfig  `mapstructure:"encode" yaml:"encode"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
}

type PlayerConfig struct {
	// BusName is the MPRIS well-known name on the session bus.
	BusName string `mapstructure:"bus_name" yaml:"bus_name"`
	// LaunchCommand starts the player when its control endpoint is absent.
	LaunchCommand []string `mapstructure:"launch_command" yaml:"launch_command"`
	// StartupTimeoutSec bounds how long EnsureRunning waits for the bus name.
	StartupTimeoutSec int `mapstructure:"startup_timeout_sec" yaml:"startup_timeout_sec"`
	// LoadTimeoutSec bounds how long WaitForLoad polls for the track id.
	LoadTimeoutSec int `mapstructure:"load_timeout_sec" yaml:"load_timeout_sec"`
	// SettleDelayMs is slept after each fire-and-forget command.
	SettleDelayMs int `mapstructure:"settle_delay_ms" yaml:"settle_delay_ms"`
	// PropertyTimeoutMs bounds individual property reads.
	PropertyTimeoutMs int `mapstructure:"property_timeout_ms" yaml:"property_timeout_ms"`
}

type SinkConfig struct {
	// MatchLabel identifies the player's sink input by its application name
	// or media description, case-insensitively.
	MatchLabel         string `mapstructure:"match_label" yaml:"match_label"`
	DiscoverTimeoutSec int    `mapstructure:"discover_timeout_sec" yaml:"discover_timeout_sec"`
	PollIntervalMs     int    `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
}

type CaptureConfig struct {
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
	Format     string `mapstructure:"format" yaml:"format"`
	LatencyMs  int    `mapstructure:"latency_ms" yaml:"latency_ms"`
	// ResampleQuality is the pw-record resampler quality (0..15).
	ResampleQuality int `mapstructure:"resample_quality" yaml:"resample_quality"`
	StopTimeoutSec  int `mapstructure:"stop_timeout_sec" yaml:"stop_timeout_sec"`
}

type MonitorConfig struct {
	PollIntervalMs  int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	SafetyMarginSec int `mapstructure:"safety_margin_sec" yaml:"safety_margin_sec"`
	EndThresholdSec int `mapstructure:"end_threshold_sec" yaml:"end_threshold_sec"`
	GraceMs         int `mapstructure:"grace_ms" yaml:"grace_ms"`
}

type TrimConfig struct {
	NoiseFloorDb float64 `mapstructure:"noise_floor_db" yaml:"noise_floor_db"`
	MinSilenceMs int     `mapstructure:"min_silence_ms" yaml:"min_silence_ms"`
	EpsilonMs    int     `mapstructure:"epsilon_ms" yaml:"epsilon_ms"`
}

type EncodeConfig struct {
	BitrateKbps int `mapstructure:"bitrate_kbps" yaml:"bitrate_kbps"`
	// MinBytesPerSec is the sanity floor applied to the encoded file size.
	MinBytesPerSec int `mapstructure:"min_bytes_per_sec" yaml:"min_bytes_per_sec"`
}

type OutputConfig struct {
	Directory      string `mapstructure:"directory" yaml:"directory"`
	BuildDirectory string `mapstructure:"build_directory" yaml:"build_directory"`
}

var defaultConfig = Config{
	Player: PlayerConfig{
		BusName:           "org.mpris.MediaPlayer2.spotify",
		LaunchCommand:     []string{"spotify"},
		StartupTimeoutSec: 15,
		LoadTimeoutSec:    10,
		SettleDelayMs:     500,
		PropertyTimeoutMs: 1000,
	},
	Sink: SinkConfig{
		MatchLabel:         "spotify",
		DiscoverTimeoutSec: 60,
		PollIntervalMs:     500,
	},
	Capture: CaptureConfig{
		SampleRate:      44100,
		Channels:        2,
		Format:          "f32",
		LatencyMs:       20,
		ResampleQuality: 15,
		StopTimeoutSec:  5,
	},
	Monitor: MonitorConfig{
		PollIntervalMs:  500,
		SafetyMarginSec: 15,
		EndThresholdSec: 2,
		// The grace sleep must cover at least the end threshold, or an
		// end-threshold exit stops capture before the expected track end.
		GraceMs: 2000,
	},
	Trim: TrimConfig{
		NoiseFloorDb: -50,
		MinSilenceMs: 500,
		EpsilonMs:    100,
	},
	Encode: EncodeConfig{
		BitrateKbps:    320,
		MinBytesPerSec: 20 * 1024,
	},
	Output: OutputConfig{
		Directory:      "~/Music/mutecap",
		BuildDirectory: "~/.cache/mutecap",
	},
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/mutecap.yaml")
}

// Load reads the config file at path, merging it over the defaults. A missing
// file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(underlying(err)) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	cfg := defaultConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.Output.Directory = expandHome(cfg.Output.Directory)
	cfg.Output.BuildDirectory = expandHome(cfg.Output.BuildDirectory)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func underlying(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok && u.Unwrap() != nil {
		return u.Unwrap()
	}
	return err
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("player.bus_name", defaultConfig.Player.BusName)
	v.SetDefault("player.launch_command", defaultConfig.Player.LaunchCommand)
	v.SetDefault("player.startup_timeout_sec", defaultConfig.Player.StartupTimeoutSec)
	v.SetDefault("player.load_timeout_sec", defaultConfig.Player.LoadTimeoutSec)
	v.SetDefault("player.settle_delay_ms", defaultConfig.Player.SettleDelayMs)
	v.SetDefault("player.property_timeout_ms", defaultConfig.Player.PropertyTimeoutMs)
	v.SetDefault("sink.match_label", defaultConfig.Sink.MatchLabel)
	v.SetDefault("sink.discover_timeout_sec", defaultConfig.Sink.DiscoverTimeoutSec)
	v.SetDefault("sink.poll_interval_ms", defaultConfig.Sink.PollIntervalMs)
	v.SetDefault("capture.sample_rate", defaultConfig.Capture.SampleRate)
	v.SetDefault("capture.channels", defaultConfig.Capture.Channels)
	v.SetDefault("capture.format", defaultConfig.Capture.Format)
	v.SetDefault("capture.latency_ms", defaultConfig.Capture.LatencyMs)
	v.SetDefault("capture.resample_quality", defaultConfig.Capture.ResampleQuality)
	v.SetDefault("capture.stop_timeout_sec", defaultConfig.Capture.StopTimeoutSec)
	v.SetDefault("monitor.poll_interval_ms", defaultConfig.Monitor.PollIntervalMs)
	v.SetDefault("monitor.safety_margin_sec", defaultConfig.Monitor.SafetyMarginSec)
	v.SetDefault("monitor.end_threshold_sec", defaultConfig.Monitor.EndThresholdSec)
	v.SetDefault("monitor.grace_ms", defaultConfig.Monitor.GraceMs)
	v.SetDefault("trim.noise_floor_db", defaultConfig.Trim.NoiseFloorDb)
	v.SetDefault("trim.min_silence_ms", defaultConfig.Trim.MinSilenceMs)
	v.SetDefault("trim.epsilon_ms", defaultConfig.Trim.EpsilonMs)
	v.SetDefault("encode.bitrate_kbps", defaultConfig.Encode.BitrateKbps)
	v.SetDefault("encode.min_bytes_per_sec", defaultConfig.Encode.MinBytesPerSec)
	v.SetDefault("output.directory", defaultConfig.Output.Directory)
	v.SetDefault("output.build_directory", defaultConfig.Output.BuildDirectory)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Player.BusName == "" {
		return fmt.Errorf("player.bus_name must not be empty")
	}
	if len(c.Player.LaunchCommand) == 0 {
		return fmt.Errorf("player.launch_command must not be empty")
	}
	if c.Player.StartupTimeoutSec <= 0 {
		return fmt.Errorf("player.startup_timeout_sec must be positive, got %d", c.Player.StartupTimeoutSec)
	}
	if c.Player.LoadTimeoutSec <= 0 {
		return fmt.Errorf("player.load_timeout_sec must be positive, got %d", c.Player.LoadTimeoutSec)
	}
	if c.Sink.MatchLabel == "" {
		return fmt.Errorf("sink.match_label must not be empty")
	}
	if c.Sink.DiscoverTimeoutSec <= 0 {
		return fmt.Errorf("sink.discover_timeout_sec must be positive, got %d", c.Sink.DiscoverTimeoutSec)
	}
	if c.Sink.PollIntervalMs <= 0 {
		return fmt.Errorf("sink.poll_interval_ms must be positive, got %d", c.Sink.PollIntervalMs)
	}
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture.sample_rate must be positive, got %d", c.Capture.SampleRate)
	}
	if c.Capture.Channels <= 0 {
		return fmt.Errorf("capture.channels must be positive, got %d", c.Capture.Channels)
	}
	if c.Capture.Format == "" {
		return fmt.Errorf("capture.format must not be empty")
	}
	if c.Capture.ResampleQuality < 0 || c.Capture.ResampleQuality > 15 {
		return fmt.Errorf("capture.resample_quality must be in 0..15, got %d", c.Capture.ResampleQuality)
	}
	if c.Monitor.PollIntervalMs <= 0 {
		return fmt.Errorf("monitor.poll_interval_ms must be positive, got %d", c.Monitor.PollIntervalMs)
	}
	if c.Monitor.SafetyMarginSec <= 0 {
		return fmt.Errorf("monitor.safety_margin_sec must be positive, got %d", c.Monitor.SafetyMarginSec)
	}
	if c.Monitor.EndThresholdSec < 0 {
		return fmt.Errorf("monitor.end_threshold_sec must not be negative, got %d", c.Monitor.EndThresholdSec)
	}
	if c.Trim.NoiseFloorDb >= 0 {
		return fmt.Errorf("trim.noise_floor_db must be negative, got %g", c.Trim.NoiseFloorDb)
	}
	if c.Trim.MinSilenceMs <= 0 {
		return fmt.Errorf("trim.min_silence_ms must be positive, got %d", c.Trim.MinSilenceMs)
	}
	if c.Encode.BitrateKbps <= 0 {
		return fmt.Errorf("encode.bitrate_kbps must be positive, got %d", c.Encode.BitrateKbps)
	}
	if c.Output.Directory == "" {
		return fmt.Errorf("output.directory must not be empty")
	}
	if c.Output.BuildDirectory == "" {
		return fmt.Errorf("output.build_directory must not be empty")
	}
	return nil
}

// Duration accessors keep time arithmetic out of the call sites.

func (c *PlayerConfig) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutSec) * time.Second
}

func (c *PlayerConfig) LoadTimeout() time.Duration {
	return time.Duration(c.LoadTimeoutSec) * time.Second
}

func (c *PlayerConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

func (c *PlayerConfig) PropertyTimeout() time.Duration {
	return time.Duration(c.PropertyTimeoutMs) * time.Millisecond
}

func (c *SinkConfig) DiscoverTimeout() time.Duration {
	return time.Duration(c.DiscoverTimeoutSec) * time.Second
}

func (c *SinkConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *CaptureConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSec) * time.Second
}

func (c *MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *MonitorConfig) SafetyMargin() time.Duration {
	return time.Duration(c.SafetyMarginSec) * time.Second
}

func (c *MonitorConfig) EndThreshold() time.Duration {
	return time.Duration(c.EndThresholdSec) * time.Second
}

func (c *MonitorConfig) Grace() time.Duration {
	return time.Duration(c.GraceMs) * time.Millisecond
}

func (c *TrimConfig) MinSilence() time.Duration {
	return time.Duration(c.MinSilenceMs) * time.Millisecond
}

func (c *TrimConfig) Epsilon() time.Duration {
	return time.Duration(c.EpsilonMs) * time.Millisecond
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
