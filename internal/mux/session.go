//////////////////////////////////////////////////////////////////////////////
//
// Mux session: accumulates per-track formats from the two encoder
// pipelines, opens the container writer exactly once both expected formats
// are known, and forwards samples under their assigned track indices.
//
// Copyright 2026 Mahina Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package mux

import (
	"os"
	"sync"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/aacparser"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/mp4"
	"github.com/pkg/errors"

	"github.com/mahina/screencap/internal/capture"
	"github.com/mahina/screencap/internal/logging"
)

var log = logging.DefaultLogger.WithTag("mux")

type state int

const (
	stateAwaitingFormats state = iota
	stateOpen
	stateClosed
)

// Session is one mux session per recording attempt. Single use: never
// reopened after Close.
//
// Mutable state is shared across both encoder drain goroutines and guarded
// by one mutex; the container writer is exclusively owned by the session and
// only ever touched under that lock.
type Session struct {
	mu sync.Mutex

	state state
	path  string

	file  *os.File
	muxer *mp4.Muxer

	expected map[capture.Kind]bool
	formats  map[capture.Kind]capture.Format
	tracks   map[capture.Kind]int8

	// Bounds the AwaitingFormats state. If one encoder never reaches
	// format-ready within this window, the session opens with the tracks it
	// has (video-only fallback) instead of sticking forever.
	formatTimeout time.Duration
	formatTimer   *time.Timer
}

// NewSession creates the output file and enters AwaitingFormats. The video
// track is always expected; the audio track only when expectAudio is set.
// A formatTimeout of zero leaves the wait unbounded.
func NewSession(path string, expectAudio bool, formatTimeout time.Duration) (*Session, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "mux: create output")
	}

	s := &Session{
		state:         stateAwaitingFormats,
		path:          path,
		file:          file,
		muxer:         mp4.NewMuxer(file),
		expected:      map[capture.Kind]bool{capture.Video: true},
		formats:       map[capture.Kind]capture.Format{},
		tracks:        map[capture.Kind]int8{},
		formatTimeout: formatTimeout,
	}
	if expectAudio {
		s.expected[capture.Audio] = true
	}

	log.Info("Mux session created: %s (audio=%v)", path, expectAudio)
	return s, nil
}

// Path returns the output file path.
func (s *Session) Path() string {
	return s.path
}

// RegisterFormat stores the format for its kind. Once formats for all
// expected kinds are present, the writer is started and the session
// transitions to Open. Registering after Open is a no-op with a warning,
// since a source format cannot change mid-session.
func (s *Session) RegisterFormat(f capture.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateAwaitingFormats:
	case stateOpen:
		log.Warn("mux: %s format registered after open, ignored", f.Kind)
		return nil
	default:
		log.Warn("mux: %s format registered on closed session, ignored", f.Kind)
		return nil
	}

	if _, dup := s.formats[f.Kind]; dup {
		log.Warn("mux: duplicate %s format ignored", f.Kind)
		return nil
	}
	s.formats[f.Kind] = f
	log.Info("Registered %s format (%s)", f.Kind, f.Codec)

	for kind := range s.expected {
		if _, ok := s.formats[kind]; !ok {
			// Still waiting on the other pipeline. Arm the fallback timer
			// on the first registration.
			if s.formatTimer == nil && s.formatTimeout > 0 {
				s.formatTimer = time.AfterFunc(s.formatTimeout, s.formatWaitExpired)
			}
			return nil
		}
	}

	return s.openLocked()
}

// formatWaitExpired fires when the other expected format never arrived.
// Open with what we have, preferring a video-only output over a stuck
// session.
func (s *Session) formatWaitExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateAwaitingFormats {
		return
	}
	if _, ok := s.formats[capture.Video]; !ok {
		// No video track to fall back to; leave the session for Close to
		// clean up.
		log.Error("mux: video format never arrived, session cannot open")
		return
	}

	log.Warn("mux: format wait expired after %v, opening without audio", s.formatTimeout)
	if err := s.openLocked(); err != nil {
		log.Error("mux: fallback open: %v", err)
	}
}

// openLocked assigns track indices in fixed order (video before audio) and
// starts the writer. Caller holds s.mu.
func (s *Session) openLocked() error {
	var streams []av.CodecData

	for _, kind := range []capture.Kind{capture.Video, capture.Audio} {
		f, ok := s.formats[kind]
		if !ok {
			continue
		}
		cd, err := codecData(f)
		if err != nil {
			return errors.Wrapf(err, "mux: %s codec data", kind)
		}
		s.tracks[kind] = int8(len(streams))
		streams = append(streams, cd)
	}

	if err := s.muxer.WriteHeader(streams); err != nil {
		return errors.Wrap(err, "mux: write header")
	}

	s.state = stateOpen
	log.Info("Writer started with %d track(s)", len(streams))
	return nil
}

// WriteSample forwards one encoded sample to the writer under its track's
// index. Samples arriving before the session is Open, or for a track that
// was never assigned, are dropped with a warning; recording continues.
func (s *Session) WriteSample(smp capture.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateOpen {
		log.Warn("mux: dropping %s sample, writer not open", smp.Kind)
		return nil
	}
	idx, ok := s.tracks[smp.Kind]
	if !ok {
		log.Warn("mux: dropping %s sample, track not assigned", smp.Kind)
		return nil
	}

	data := smp.Data
	if smp.Kind == capture.Video {
		// The muxer stores length-prefixed NAL units.
		data = toAVCC(data)
		if len(data) == 0 {
			return nil
		}
	}

	return s.muxer.WritePacket(av.Packet{
		Idx:        idx,
		IsKeyFrame: smp.Flags&capture.KeyFrame != 0,
		Time:       smp.Time,
		Data:       data,
	})
}

// Close finalizes the session. An Open session stops then releases the
// writer, producing a seekable file. A session that never opened releases
// without stopping the writer (stopping an unstarted writer is invalid) and
// removes the useless zero-track file.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.formatTimer != nil {
		s.formatTimer.Stop()
	}

	switch s.state {
	case stateOpen:
		s.state = stateClosed
		if err := s.muxer.WriteTrailer(); err != nil {
			s.file.Close()
			return errors.Wrap(err, "mux: write trailer")
		}
		if err := s.file.Close(); err != nil {
			return errors.Wrap(err, "mux: close output")
		}
		log.Info("Mux session closed: %s", s.path)
		return nil

	case stateAwaitingFormats:
		s.state = stateClosed
		s.file.Close()
		if err := os.Remove(s.path); err != nil {
			log.Warn("mux: remove aborted output: %v", err)
		}
		log.Info("Mux session aborted before open, output removed")
		return nil

	default:
		log.Warn("mux: close on closed session, ignored")
		return nil
	}
}

// codecData converts a track format into the container writer's codec
// description.
func codecData(f capture.Format) (av.CodecData, error) {
	switch f.Kind {
	case capture.Video:
		return h264parser.NewCodecDataFromSPSAndPPS(f.SPS, f.PPS)
	case capture.Audio:
		return aacparser.NewCodecDataFromMPEG4AudioConfigBytes(f.AudioSpecificConfig)
	default:
		return nil, errors.Errorf("unknown track kind %v", f.Kind)
	}
}
