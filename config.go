//////////////////////////////////////////////////////////////////////////////
//
// Config contains configuration data for a Recorder.
//
// Copyright 2026 Mahina Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package screencap

import (
	"os"
	"path/filepath"
	"time"

	"github.com/mahina/screencap/internal/capture"
)

// Bound on the mux session's AwaitingFormats state. If one encoder never
// reports format-ready within this window, the session opens with the
// tracks it has.
const defaultFormatTimeout = 5 * time.Second

type Config struct {
	// Capability providers. VideoEncoder is required; leaving AudioEncoder
	// or AudioSource nil records video-only.
	VideoEncoder capture.VideoEncoder
	AudioEncoder capture.AudioEncoder
	AudioSource  capture.AudioSource

	Video capture.VideoConfig
	Audio capture.AudioConfig

	// Directory for output files. Defaults to the platform media directory
	// (~/Videos), falling back to the working directory.
	OutputDir string

	// Overrides defaultFormatTimeout when positive.
	FormatTimeout time.Duration
}

func (c *Config) audioEnabled() bool {
	return c.AudioEncoder != nil && c.AudioSource != nil
}

func (c *Config) formatTimeout() time.Duration {
	if c.FormatTimeout > 0 {
		return c.FormatTimeout
	}
	return defaultFormatTimeout
}

func (c *Config) outputDir() string {
	if c.OutputDir != "" {
		return c.OutputDir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Videos")
	}
	return "."
}

// outputPath names one recording by its start timestamp.
func (c *Config) outputPath(now time.Time) string {
	return filepath.Join(c.outputDir(), now.Format("2006-01-02_15-04-05")+".mp4")
}
