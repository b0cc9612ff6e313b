//////////////////////////////////////////////////////////////////////////////
//
// Audio capture pipeline: pulls raw PCM from the platform audio source,
// feeds the hardware encoder's input queue, and drains its output queue,
// all on one dedicated goroutine.
//
// Copyright 2026 Mahina Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package capture

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Size of one raw PCM read. At 44.1kHz stereo 16-bit this is roughly 23ms
// of audio per cycle.
const audioReadSize = 4096

// AudioCapture runs the read/feed/drain cycle for one AudioEncoder.
// Single use, like VideoCapture.
type AudioCapture struct {
	src AudioSource
	enc AudioEncoder
	h   Handler

	drained chan struct{} // closed when end-of-stream is observed
	done    chan struct{} // closed when the cycle goroutine has exited

	stopOnce    sync.Once
	releaseOnce sync.Once

	epoch   time.Time
	started bool
}

func NewAudioCapture(src AudioSource, enc AudioEncoder, h Handler) *AudioCapture {
	return &AudioCapture{
		src:     src,
		enc:     enc,
		h:       h,
		drained: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start configures the encoder, starts the audio source, and begins the
// read/feed/drain cycle. Returns once configuration succeeds.
func (a *AudioCapture) Start(g Grant, cfg AudioConfig) error {
	if err := a.enc.Configure(g, cfg); err != nil {
		a.release()
		return errors.Wrap(err, "audio: configure")
	}
	if err := a.src.Start(); err != nil {
		a.release()
		return errors.Wrap(err, "audio: start source")
	}
	log.Info("Audio encoder configured: %d Hz, %d ch, %d bps (loopback=%v)",
		cfg.SampleRate, cfg.Channels, cfg.Bitrate, cfg.Loopback)

	a.epoch = time.Now()
	a.started = true
	go a.cycle()
	return nil
}

func (a *AudioCapture) cycle() {
	defer close(a.done)
	defer a.release()

	buf := make([]byte, audioReadSize)
	var formatReady bool

	for {
		// (a) read a chunk of raw samples from the audio source.
		n, err := a.src.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Warn("audio: read: %v", err)
			}
			// Source stopped. Flush the encoder and drain what remains.
			if qerr := a.enc.QueueInput(nil, a.pts(), true); qerr != nil {
				log.Warn("audio: queue end of stream: %v", qerr)
				return
			}
			a.drainOutput(&formatReady, true)
			return
		}

		// (b) feed it to the encoder's input queue.
		if n > 0 {
			if err := a.enc.QueueInput(buf[:n], a.pts(), false); err != nil {
				if err == ErrClosed {
					return
				}
				log.Warn("audio: queue input: %v", err)
			}
		}

		// (c) drain the encoder's output queue.
		if !a.drainOutput(&formatReady, false) {
			return
		}
	}
}

// drainOutput forwards pending encoder output. With untilEOS set it keeps
// waiting (bounded by drainDeadline) for the end-of-stream sample; otherwise
// it returns as soon as the output queue runs dry. Reports false when the
// cycle should exit.
func (a *AudioCapture) drainOutput(formatReady *bool, untilEOS bool) bool {
	deadline := time.Now().Add(drainDeadline)

	for {
		timeout := time.Duration(0)
		if untilEOS {
			timeout = dequeueTimeout
		}

		out, err := a.enc.DequeueOutput(timeout)
		switch err {
		case nil:
		case ErrAgain:
			if !untilEOS {
				return true
			}
			if time.Now().After(deadline) {
				log.Warn("audio: %v", ErrShutdownTimeout)
				a.h.OnError(ErrShutdownTimeout)
				return false
			}
			continue
		case ErrFormatChanged:
			if *formatReady {
				log.Debug("audio: repeated format change ignored")
				continue
			}
			f, ferr := a.enc.OutputFormat()
			if ferr != nil {
				log.Warn("audio: output format: %v", ferr)
				continue
			}
			*formatReady = true
			a.h.OnFormatReady(f)
			continue
		case ErrClosed:
			return false
		default:
			log.Warn("audio: dequeue: %v", err)
			continue
		}

		if out.Flags&EndOfStream != 0 {
			if len(out.Data) > 0 && out.Flags&CodecConfig == 0 {
				a.h.OnSample(Sample{Kind: Audio, Data: out.Data, Time: out.Time, Flags: out.Flags})
			}
			close(a.drained)
			return false
		}

		if out.Flags&CodecConfig != 0 || len(out.Data) == 0 {
			continue
		}

		a.h.OnSample(Sample{Kind: Audio, Data: out.Data, Time: out.Time, Flags: out.Flags})
	}
}

// Stop halts the audio source, which makes the cycle flush the encoder with
// end-of-stream, then waits for the drain to complete (bounded) and releases.
// Idempotent.
func (a *AudioCapture) Stop() {
	if !a.started {
		a.release()
		return
	}
	a.stopOnce.Do(func() {
		if err := a.src.Stop(); err != nil {
			log.Warn("audio: stop source: %v", err)
		}

		select {
		case <-a.drained:
			<-a.done
		case <-a.done:
		case <-time.After(2 * drainDeadline):
			// Release to force the cycle out: the closed source returns EOF
			// and the released encoder returns ErrClosed. Still join before
			// returning, so no callback can trail the stop.
			log.Warn("audio: cycle did not finish before deadline")
			a.release()
			<-a.done
		}
	})
}

func (a *AudioCapture) release() {
	a.releaseOnce.Do(func() {
		if err := a.enc.Release(); err != nil {
			log.Warn("audio: release encoder: %v", err)
		}
		if err := a.src.Close(); err != nil {
			log.Warn("audio: close source: %v", err)
		}
	})
}

func (a *AudioCapture) pts() time.Duration {
	return time.Since(a.epoch)
}
