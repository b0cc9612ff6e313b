//////////////////////////////////////////////////////////////////////////////
//
// Advanced Linux Sound Architecture (ALSA) capture source. With the
// snd-aloop loopback card this captures system playback, which is the
// closest Linux analog to scoped loopback capture.
//
// Copyright 2026 Mahina Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

// +build linux

package alsa

// #cgo pkg-config: alsa
// #include <stdlib.h>
// #include <alsa/asoundlib.h>
import "C"
import (
	"io"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/mahina/screencap/internal/logging"
)

var log = logging.DefaultLogger.WithTag("alsa")

const bytesPerSample = 2 // S16_LE only

// Source captures interleaved signed 16-bit little endian PCM from an ALSA
// device. Implements the pipeline's audio source contract.
type Source struct {
	handle    *C.struct__snd_pcm
	framesize int

	mu      sync.Mutex
	stopped bool
}

// NewSource opens an ALSA capture device (e.g. "default" or
// "hw:Loopback,1") at the given rate and channel count.
func NewSource(devname string, rate, channels int) (*Source, error) {
	s := &Source{framesize: bytesPerSample * channels}

	name := C.CString(devname)
	rc := C.snd_pcm_open(&s.handle, name, C.SND_PCM_STREAM_CAPTURE, 0)
	C.free(unsafe.Pointer(name))
	if rc < 0 {
		return nil, alsaError(rc)
	}

	var hwparams *C.struct__snd_pcm_hw_params
	if rc := C.snd_pcm_hw_params_malloc(&hwparams); rc < 0 {
		s.Close()
		return nil, alsaError(rc)
	}
	defer C.snd_pcm_hw_params_free(hwparams)

	if rc := C.snd_pcm_hw_params_any(s.handle, hwparams); rc < 0 {
		s.Close()
		return nil, alsaError(rc)
	}
	if rc := C.snd_pcm_hw_params_set_access(
		s.handle,
		hwparams,
		C.SND_PCM_ACCESS_RW_INTERLEAVED,
	); rc < 0 {
		s.Close()
		return nil, alsaError(rc)
	}
	if rc := C.snd_pcm_hw_params_set_format(
		s.handle,
		hwparams,
		C.SND_PCM_FORMAT_S16_LE,
	); rc < 0 {
		s.Close()
		return nil, alsaError(rc)
	}
	if rc := C.snd_pcm_hw_params_set_channels(
		s.handle,
		hwparams,
		C.uint(channels),
	); rc < 0 {
		s.Close()
		return nil, alsaError(rc)
	}
	r := C.uint(rate)
	if rc := C.snd_pcm_hw_params_set_rate_near(s.handle, hwparams, &r, nil); rc < 0 {
		s.Close()
		return nil, alsaError(rc)
	}
	if int(r) != rate {
		log.Warn("Requested %d Hz, device offers %d Hz", rate, int(r))
	}
	if rc := C.snd_pcm_hw_params(s.handle, hwparams); rc < 0 {
		s.Close()
		return nil, alsaError(rc)
	}

	log.Info("ALSA capture open: %s (%d Hz, %d ch)", devname, int(r), channels)
	return s, nil
}

func (s *Source) Start() error {
	if rc := C.snd_pcm_prepare(s.handle); rc < 0 {
		return alsaError(rc)
	}
	return nil
}

// Read blocks until at least one period of samples is available. After Stop
// it returns io.EOF.
func (s *Source) Read(p []byte) (int, error) {
	frames := len(p) / s.framesize
	if frames == 0 {
		return 0, errors.New("alsa: read buffer smaller than one frame")
	}

	n := C.snd_pcm_readi(
		s.handle,
		unsafe.Pointer(&p[0]),
		C.snd_pcm_uframes_t(frames),
	)
	if n < 0 {
		if s.isStopped() {
			return 0, io.EOF
		}
		// Try to recover from overruns; anything else is fatal.
		if rc := C.snd_pcm_recover(s.handle, C.int(n), 1); rc < 0 {
			return 0, alsaError(C.int(n))
		}
		return 0, nil
	}
	return int(n) * s.framesize, nil
}

// Stop drops buffered samples and unblocks a pending Read.
func (s *Source) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if rc := C.snd_pcm_drop(s.handle); rc < 0 {
		return alsaError(rc)
	}
	return nil
}

func (s *Source) Close() error {
	if rc := C.snd_pcm_close(s.handle); rc < 0 {
		return alsaError(rc)
	}
	return nil
}

func (s *Source) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func alsaError(rc C.int) error {
	return errors.New(C.GoString(C.snd_strerror(rc)))
}
