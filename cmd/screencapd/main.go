package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/mahina/screencap"
	"github.com/mahina/screencap/internal/capture"

	// Platform capture drivers register themselves.
	_ "github.com/mahina/screencap/internal/alsa"
	_ "github.com/mahina/screencap/internal/v4l2"
)

// Populated at link time via -ldflags="-X main.GitRevisionId=...".
var GitRevisionId string

var (
	flagVideo            string
	flagAudio            string
	flagGeometry         string
	flagBitrate          int
	flagFrameRate        int
	flagKeyframeInterval int
	flagOutputDir        string
	flagListen           string
	flagHelp             bool
	flagVersion          bool
)

func init() {
	flag.StringVarP(&flagVideo, "video", "i", "v4l2:/dev/video0", "Video encoder driver spec")
	flag.StringVarP(&flagAudio, "audio", "a", "alsa:default", "Audio driver spec, \"none\" to disable")
	flag.StringVarP(&flagGeometry, "geometry", "g", "1280x720", "Video frame size, in pixels")
	flag.IntVarP(&flagBitrate, "bitrate", "b", 4000000, "Video bitrate, in bits per second")
	flag.IntVarP(&flagFrameRate, "framerate", "r", 30, "Video frame rate")
	flag.IntVarP(&flagKeyframeInterval, "keyframe-interval", "k", 2, "Keyframe interval, in seconds")
	flag.StringVarP(&flagOutputDir, "output-dir", "o", "", "Directory for output files")
	flag.StringVarP(&flagListen, "listen", "l", "", "Address for the websocket control endpoint")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	var width, height int
	if n, err := fmt.Sscanf(flagGeometry, "%dx%d", &width, &height); n != 2 || err != nil {
		fmt.Fprintf(os.Stderr, "invalid geometry %q\n", flagGeometry)
		os.Exit(1)
	}

	build := func() (screencap.Config, error) {
		return buildConfig(width, height)
	}

	if flagListen != "" {
		ctl := newControlServer(flagListen, build)
		if err := ctl.Listen(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	recordOnce(build)
}

// buildConfig opens fresh capture capabilities; every recording session gets
// its own.
func buildConfig(width, height int) (screencap.Config, error) {
	cfg := screencap.Config{
		Video: capture.VideoConfig{
			Width:            width,
			Height:           height,
			Bitrate:          flagBitrate,
			FrameRate:        flagFrameRate,
			KeyframeInterval: flagKeyframeInterval,
		},
		Audio: capture.AudioConfig{
			SampleRate: 44100,
			Channels:   2,
			Bitrate:    128000,
			Loopback:   true,
		},
		OutputDir: flagOutputDir,
	}

	enc, err := capture.OpenVideoEncoder(flagVideo)
	if err != nil {
		return cfg, err
	}
	cfg.VideoEncoder = enc

	// Audio is negotiated off when no driver serves the spec.
	if flagAudio != "none" {
		if capture.HasAudioDriver(flagAudio) {
			src, aenc, err := capture.OpenAudioStack(flagAudio)
			if err != nil {
				return cfg, err
			}
			cfg.AudioSource = src
			cfg.AudioEncoder = aenc
		} else {
			fmt.Fprintf(os.Stderr, "no audio driver for %q, recording video only\n", flagAudio)
		}
	}

	return cfg, nil
}

// recordOnce runs a single recording session until interrupted.
func recordOnce(build func() (screencap.Config, error)) {
	cfg, err := build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	token := capture.NewToken()
	rec := screencap.NewRecorder(token, cfg, consoleObserver{})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		token.Revoke()
	}()

	if err := rec.Start(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	<-rec.Done()
	if err := rec.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type consoleObserver struct{}

func (consoleObserver) OnPrepared() {}

func (consoleObserver) OnRecordingStarted() {
	fmt.Println("Recording. Press Ctrl-C to stop.")
}

func (consoleObserver) OnRecordingStopped(path string) {
	fmt.Println("Saved", path)
}

func (consoleObserver) OnError(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
}
