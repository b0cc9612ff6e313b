//////////////////////////////////////////////////////////////////////////////
//
// Video capture pipeline: owns a surface-fed hardware encoder and drains
// its output on a dedicated goroutine.
//
// Copyright 2026 Mahina Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package capture

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// Bounded wait for a single dequeue, so a stop request is observed
	// promptly.
	dequeueTimeout = 10 * time.Millisecond

	// Fallback wait for the encoder to flush after end-of-stream is
	// signalled. If the deadline passes we release anyway rather than hang;
	// the output may lack trailing frames.
	drainDeadline = 500 * time.Millisecond
)

// Reported when an encoder fails to reach end-of-stream within the drain
// deadline.
var ErrShutdownTimeout = errors.New("encoder did not drain before deadline")

// VideoCapture drains one VideoEncoder for the duration of a session.
// Single use: a new session needs a new VideoCapture.
type VideoCapture struct {
	enc VideoEncoder
	h   Handler

	quit    chan struct{} // closed by Stop to terminate the drain loop
	drained chan struct{} // closed by the loop when end-of-stream is observed
	done    chan struct{} // closed when the drain loop has exited

	stopOnce    sync.Once
	releaseOnce sync.Once

	started bool
}

func NewVideoCapture(enc VideoEncoder, h Handler) *VideoCapture {
	return &VideoCapture{
		enc:     enc,
		h:       h,
		quit:    make(chan struct{}),
		drained: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start configures the encoder and capture surface and begins the drain
// loop. Returns once configuration succeeds. A configuration failure
// releases whatever was acquired and is terminal.
func (v *VideoCapture) Start(g Grant, cfg VideoConfig) error {
	if err := v.enc.Configure(g, cfg); err != nil {
		v.release()
		return errors.Wrap(err, "video: configure")
	}
	log.Info("Video encoder configured: %dx%d @ %d fps, %d bps",
		cfg.Width, cfg.Height, cfg.FrameRate, cfg.Bitrate)

	v.started = true
	go v.drainLoop()
	return nil
}

func (v *VideoCapture) drainLoop() {
	defer close(v.done)
	defer v.release()

	var formatReady bool

	for {
		select {
		case <-v.quit:
			return
		default:
		}

		out, err := v.enc.DequeueOutput(dequeueTimeout)
		switch err {
		case nil:
		case ErrAgain:
			continue
		case ErrFormatChanged:
			if formatReady {
				// The format cannot change mid-session; later occurrences
				// are ignored.
				log.Debug("video: repeated format change ignored")
				continue
			}
			f, ferr := v.enc.OutputFormat()
			if ferr != nil {
				log.Warn("video: output format: %v", ferr)
				continue
			}
			formatReady = true
			v.h.OnFormatReady(f)
			continue
		case ErrClosed:
			return
		default:
			// Isolated dequeue failures are recoverable.
			log.Warn("video: dequeue: %v", err)
			continue
		}

		if out.Flags&EndOfStream != 0 {
			if len(out.Data) > 0 && out.Flags&CodecConfig == 0 {
				v.h.OnSample(Sample{Kind: Video, Data: out.Data, Time: out.Time, Flags: out.Flags})
			}
			close(v.drained)
			return
		}

		// Configuration-only buffers carry no media data; the parameter
		// sets already travelled in the format.
		if out.Flags&CodecConfig != 0 || len(out.Data) == 0 {
			continue
		}

		v.h.OnSample(Sample{Kind: Video, Data: out.Data, Time: out.Time, Flags: out.Flags})
	}
}

// Stop signals end-of-stream, waits for the drain loop to observe it (with
// a bounded fallback), then releases the capture surface and encoder.
// Idempotent.
func (v *VideoCapture) Stop() {
	if !v.started {
		v.release()
		return
	}
	v.stopOnce.Do(func() {
		if err := v.enc.SignalEndOfStream(); err != nil {
			log.Warn("video: signal end of stream: %v", err)
		}

		select {
		case <-v.drained:
		case <-v.done:
			// Loop already exited on its own error path.
		case <-time.After(drainDeadline):
			log.Warn("video: %v", ErrShutdownTimeout)
			v.h.OnError(ErrShutdownTimeout)
		}

		close(v.quit)
		<-v.done
	})
}

func (v *VideoCapture) release() {
	v.releaseOnce.Do(func() {
		if err := v.enc.Release(); err != nil {
			log.Warn("video: release: %v", err)
		}
	})
}
