// Package config loads the declarative stream configuration. Values may
// reference environment variables with ${VAR}, resolved before parsing;
// a .env file is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"cmafpack/internal/media"

	"github.com/joho/godotenv"
)

// StreamConfig is the fully processed configuration for one stream.
type StreamConfig struct {
	AppID           string
	StreamID        string
	SegmentPrefix   string
	SegmentDuration float64
	RetentionCount  int
	LowLatency      bool
	Video           *media.TrackDescriptor
	Audio           *media.TrackDescriptor
}

// rawConfig maps directly onto the YAML file.
type rawConfig struct {
	App             string         `yaml:"app"`
	Stream          string         `yaml:"stream"`
	Prefix          string         `yaml:"prefix"`
	SegmentDuration float64        `yaml:"segment_duration"`
	Retention       int            `yaml:"retention_segments"`
	LowLatency      *bool          `yaml:"low_latency"`
	Video           *rawVideoTrack `yaml:"video"`
	Audio           *rawAudioTrack `yaml:"audio"`
}

type rawVideoTrack struct {
	TimeScale   uint32  `yaml:"timescale"`
	FrameRate   float64 `yaml:"framerate"`
	Bitrate     int     `yaml:"bitrate"`
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	PixelAspect string  `yaml:"pixel_aspect"`
}

type rawAudioTrack struct {
	TimeScale  uint32 `yaml:"timescale"`
	SampleRate int    `yaml:"samplerate"`
	Bitrate    int    `yaml:"bitrate"`
	Channels   int    `yaml:"channels"`
}

// Load reads and processes the stream configuration at path. ${VAR}
// references are substituted from the environment before parsing.
func Load(path string) (*StreamConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse processes configuration bytes. See Load.
func Parse(data []byte) (*StreamConfig, error) {
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})
	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg := &StreamConfig{
		AppID:           raw.App,
		StreamID:        raw.Stream,
		SegmentPrefix:   raw.Prefix,
		SegmentDuration: raw.SegmentDuration,
		RetentionCount:  raw.Retention,
		LowLatency:      true,
	}
	if raw.LowLatency != nil {
		cfg.LowLatency = *raw.LowLatency
	}
	if cfg.AppID == "" || cfg.StreamID == "" {
		return nil, fmt.Errorf("app and stream identifiers are required")
	}
	if cfg.SegmentPrefix == "" {
		cfg.SegmentPrefix = cfg.StreamID
	}
	if cfg.SegmentDuration <= 0 {
		return nil, fmt.Errorf("segment_duration must be positive, got %v", cfg.SegmentDuration)
	}
	if cfg.RetentionCount <= 0 {
		cfg.RetentionCount = 5
	}
	if raw.Video != nil {
		cfg.Video = &media.TrackDescriptor{
			Kind:        media.Video,
			TimeScale:   raw.Video.TimeScale,
			FrameRate:   raw.Video.FrameRate,
			Bitrate:     raw.Video.Bitrate,
			Width:       raw.Video.Width,
			Height:      raw.Video.Height,
			PixelAspect: raw.Video.PixelAspect,
		}
		if cfg.Video.PixelAspect == "" {
			cfg.Video.PixelAspect = "1:1"
		}
		if err := cfg.Video.Validate(); err != nil {
			return nil, err
		}
	}
	if raw.Audio != nil {
		cfg.Audio = &media.TrackDescriptor{
			Kind:       media.Audio,
			TimeScale:  raw.Audio.TimeScale,
			SampleRate: raw.Audio.SampleRate,
			Bitrate:    raw.Audio.Bitrate,
			Channels:   raw.Audio.Channels,
		}
		if err := cfg.Audio.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Video == nil && cfg.Audio == nil {
		return nil, fmt.Errorf("at least one track must be configured")
	}
	return cfg, nil
}

// LoadEnv loads a .env file if one exists; callers ignore the error and
// fall back to the system environment.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the named environment variable or fallback when unset.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the named integer environment variable or fallback when
// unset or unparsable.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}
