//////////////////////////////////////////////////////////////////////////////
//
// Hardware encoder contracts. The pipeline treats encoders as opaque
// capability providers: a platform backend (V4L2 stateful encoder, and so
// on) implements these interfaces and is registered with the driver
// registry.
//
// Copyright 2026 Mahina Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package capture

import (
	"time"

	"github.com/pkg/errors"
)

var (
	// No output available within the dequeue timeout.
	ErrAgain = errors.New("no output available")

	// The encoder's output format is finalized; fetch it with OutputFormat.
	// Reported at most meaningfully once, strictly before the first media
	// sample.
	ErrFormatChanged = errors.New("output format changed")

	// The encoder has been released and can produce no further output.
	ErrClosed = errors.New("encoder closed")
)

// A single dequeued encoder output buffer. Data is recycled on the next
// dequeue call.
type Output struct {
	Data  []byte
	Time  time.Duration
	Flags Flags
}

type VideoConfig struct {
	Width   int
	Height  int
	Density int // display density of the capture source, informational

	Bitrate   int // bits per second
	FrameRate int

	// Keyframe interval in seconds.
	KeyframeInterval int
}

type AudioConfig struct {
	SampleRate int
	Channels   int
	Bitrate    int // bits per second

	// Capture strategy, negotiated by the caller based on platform
	// capability: loopback capture scoped to the same grant as the video
	// source, or a fixed system-audio device when loopback is unavailable.
	Loopback bool
}

// VideoEncoder is a surface-fed hardware video encoder. The capture surface
// is owned by the implementation; frames arrive on it asynchronously and
// encoded access units are drained through DequeueOutput.
type VideoEncoder interface {
	// Configure acquires the capture surface and encoder. Returns once
	// configuration succeeds, not once encoding finishes.
	Configure(g Grant, cfg VideoConfig) error

	// DequeueOutput waits up to timeout for the next output event. Returns
	// ErrAgain on timeout, ErrFormatChanged when the output format is
	// finalized, and ErrClosed after Release.
	DequeueOutput(timeout time.Duration) (Output, error)

	// OutputFormat returns the finalized format. Valid only after
	// DequeueOutput has reported ErrFormatChanged.
	OutputFormat() (Format, error)

	// SignalEndOfStream asks the encoder to flush; the drain loop will
	// observe a buffer flagged EndOfStream once the flush completes.
	SignalEndOfStream() error

	// Release frees the encoder and its capture surface. Idempotent.
	Release() error
}

// AudioEncoder is a pull-fed hardware audio encoder: raw samples are pushed
// into its input queue and encoded access units drained from its output
// queue.
type AudioEncoder interface {
	Configure(g Grant, cfg AudioConfig) error

	// QueueInput submits a chunk of raw samples. A nil chunk with eos set
	// signals end of stream.
	QueueInput(pcm []byte, pts time.Duration, eos bool) error

	// DequeueOutput waits up to timeout for the next output event, with the
	// same sentinel errors as VideoEncoder.DequeueOutput.
	DequeueOutput(timeout time.Duration) (Output, error)

	OutputFormat() (Format, error)

	Release() error
}

// AudioSource produces raw PCM from the platform audio capture. Read blocks
// until data is available or the source is stopped, after which it returns
// io.EOF.
type AudioSource interface {
	Start() error
	Read(p []byte) (int, error)
	Stop() error
	Close() error
}

// Handler receives pipeline events. Callbacks execute on the owning
// pipeline's drain goroutine, not the caller's.
type Handler interface {
	OnFormatReady(Format)
	OnSample(Sample)
	OnError(error)
}
