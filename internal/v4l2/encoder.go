// +build linux

//////////////////////////////////////////////////////////////////////////////
//
// V4L2 stateful H.264 encoder backend. The kernel driver owns the capture
// surface; encoded buffers are read off the device, split into NAL units,
// and surfaced through the encoder contract.
//
// Copyright 2026 Mahina Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package v4l2

import (
	"bytes"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mahina/screencap/internal/capture"
	"github.com/mahina/screencap/internal/logging"
)

var log = logging.DefaultLogger.WithTag("v4l2")

func init() {
	capture.RegisterVideoDriver("v4l2", func(path string) (capture.VideoEncoder, error) {
		if path == "" {
			path = "/dev/video0"
		}
		return &Encoder{path: path}, nil
	})
}

type outEvent struct {
	out capture.Output
	err error
}

// Encoder adapts one V4L2 device to the capture.VideoEncoder contract.
// Single use.
type Encoder struct {
	path string

	mu       sync.Mutex
	dev      *device
	format   capture.Format
	sps, pps []byte

	events   chan outEvent
	quit     chan struct{}
	loopDone chan struct{}

	stopOnce    sync.Once
	releaseOnce sync.Once

	epoch time.Time
}

func (e *Encoder) Configure(g capture.Grant, cfg capture.VideoConfig) error {
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 720
	}

	dev, err := openDevice(e.path)
	if err != nil {
		return errors.Wrapf(err, "v4l2: open %s", e.path)
	}

	if err := dev.setPixelFormat(cfg.Width, cfg.Height, V4L2_PIX_FMT_H264); err != nil {
		dev.Close()
		return errors.Wrap(err, "v4l2: set pixel format")
	}
	if cfg.Bitrate > 0 {
		if err := dev.setBitrate(cfg.Bitrate); err != nil {
			dev.Close()
			return errors.Wrap(err, "v4l2: set bitrate")
		}
	}
	if cfg.KeyframeInterval > 0 && cfg.FrameRate > 0 {
		if err := dev.setGOPSize(cfg.KeyframeInterval * cfg.FrameRate); err != nil {
			// Not all drivers expose the I-period control.
			log.Warn("v4l2: set GOP size: %v", err)
		}
	}
	// Parameter sets ahead of every IDR frame, so the format is recoverable
	// from the stream itself.
	if err := dev.setRepeatSequenceHeader(true); err != nil {
		log.Warn("v4l2: repeat sequence header: %v", err)
	}

	if err := dev.start(); err != nil {
		dev.Close()
		return errors.Wrap(err, "v4l2: start streaming")
	}

	e.dev = dev
	e.events = make(chan outEvent, 4)
	e.quit = make(chan struct{})
	e.loopDone = make(chan struct{})
	e.epoch = time.Now()
	go e.readLoop()

	log.Info("V4L2 encoder streaming: %s %dx%d", e.path, cfg.Width, cfg.Height)
	return nil
}

func (e *Encoder) readLoop() {
	defer close(e.loopDone)
	for {
		buf, err := e.dev.readFrame()
		if err != nil {
			// Streaming was turned off (or the device failed); either way
			// this stream is over.
			e.deliver(outEvent{out: capture.Output{Flags: capture.EndOfStream}})
			return
		}
		if !e.processBuffer(buf) {
			return
		}
	}
}

// processBuffer splits one device buffer into NAL units. Parameter sets are
// folded into the track format; slice NALUs are delivered as samples.
// Reports false once the encoder is being released.
func (e *Encoder) processBuffer(buf []byte) bool {
	for _, nalu := range bytes.Split(buf, []byte{0, 0, 0, 1}) {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1f {
		case 7: // SPS
			e.mu.Lock()
			e.sps = append([]byte(nil), nalu...)
			e.mu.Unlock()

		case 8: // PPS
			e.mu.Lock()
			e.pps = append([]byte(nil), nalu...)
			ready := e.format.Codec == "" && e.sps != nil
			if ready {
				e.format = capture.Format{
					Kind:  capture.Video,
					Codec: "h264",
					SPS:   e.sps,
					PPS:   e.pps,
				}
			}
			e.mu.Unlock()

			if ready {
				if !e.deliver(outEvent{err: capture.ErrFormatChanged}) {
					return false
				}
			}

		case 6: // SEI
			continue

		default:
			var flags capture.Flags
			if nalu[0]&0x1f == 5 {
				flags |= capture.KeyFrame
			}
			out := capture.Output{
				Data:  append([]byte{0, 0, 0, 1}, nalu...),
				Time:  time.Since(e.epoch),
				Flags: flags,
			}
			if !e.deliver(outEvent{out: out}) {
				return false
			}
		}
	}
	return true
}

func (e *Encoder) deliver(ev outEvent) bool {
	select {
	case e.events <- ev:
		return true
	case <-e.quit:
		return false
	}
}

func (e *Encoder) DequeueOutput(timeout time.Duration) (capture.Output, error) {
	select {
	case ev := <-e.events:
		return ev.out, ev.err
	case <-e.quit:
		return capture.Output{}, capture.ErrClosed
	case <-time.After(timeout):
		return capture.Output{}, capture.ErrAgain
	}
}

func (e *Encoder) OutputFormat() (capture.Format, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.format.Codec == "" {
		return capture.Format{}, errors.New("v4l2: output format not finalized")
	}
	return e.format, nil
}

// SignalEndOfStream turns streaming off. The blocked dequeue in the read
// loop returns, and the loop delivers the end-of-stream marker. The buffer
// mapping is torn down later in Release, after the loop has exited.
func (e *Encoder) SignalEndOfStream() error {
	var err error
	e.stopOnce.Do(func() {
		if e.dev != nil {
			err = e.dev.streamOff()
		}
	})
	return err
}

func (e *Encoder) Release() error {
	var err error
	e.releaseOnce.Do(func() {
		if e.quit != nil {
			close(e.quit)
		}
		if e.dev == nil {
			return
		}
		e.stopOnce.Do(func() {
			e.dev.streamOff()
		})
		// The loop may still be copying out of the mapped buffer; join it
		// before Close unmaps.
		<-e.loopDone
		err = e.dev.Close()
	})
	return err
}
