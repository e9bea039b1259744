// Package config loads the daemon's JSON configuration file and watches it
// for changes, delivering the "sound" and "server" sections to subscribers
// as the core consumes them.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"soundd/internal/dispatch"
	"soundd/internal/wire"
)

// SoundConfig is the "sound" section: which device directions to open and
// where the bass split falls.
type SoundConfig struct {
	CaptureEnabled  bool    `json:"capture_enabled"`
	PlaybackEnabled bool    `json:"playback_enabled"`
	BassLowerHz     float64 `json:"bass_lower_hz"`
	BassHigherHz    float64 `json:"bass_higher_hz"`
	FramesPerBuffer int     `json:"frames_per_buffer"`
}

// ServerConfig is the "server" section: the TCP listener's settings.
type ServerConfig struct {
	Port int `json:"port"`
}

// Config is the full daemon configuration.
type Config struct {
	Sound  SoundConfig  `json:"sound"`
	Server ServerConfig `json:"server"`
}

// Default returns a Config populated with the engine's built-in defaults.
func Default() Config {
	return Config{
		Sound: SoundConfig{
			CaptureEnabled:  true,
			PlaybackEnabled: true,
			BassLowerHz:     dispatch.DefaultBassRange.Lower,
			BassHigherHz:    dispatch.DefaultBassRange.Higher,
			FramesPerBuffer: 1024,
		},
		Server: ServerConfig{
			Port: wire.DefaultPort,
		},
	}
}

// DefaultPath returns $SOUNDD_CONFIG if set, otherwise a well-known path
// under the user's config directory.
func DefaultPath() string {
	if p := os.Getenv("SOUNDD_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "soundd.json"
	}
	return filepath.Join(dir, "soundd", "config.json")
}

// Load reads the config file at path. A missing or malformed file yields
// the default config, never an error — matching the client config loader
// this package is grounded on.
func Load(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to path, creating its directory if needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
