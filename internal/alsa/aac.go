//////////////////////////////////////////////////////////////////////////////
//
// AAC-LC encoder backed by libfdk-aac. Raw PCM goes in, raw AAC access
// units come out; the AudioSpecificConfig travels in the track format.
//
// Copyright 2026 Mahina Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

// +build linux

package alsa

// #cgo pkg-config: fdk-aac
// #include <stdlib.h>
// #include <fdk-aac/aacenc_lib.h>
import "C"
import (
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/mahina/screencap/internal/capture"
)

const (
	defaultSampleRate = 44100
	defaultChannels   = 2
	defaultBitrate    = 128000

	encodeOutSize = 8192
)

func init() {
	capture.RegisterAudioDriver("alsa", func(path string) (capture.AudioSource, capture.AudioEncoder, error) {
		if path == "" {
			path = "default"
		}
		src, err := NewSource(path, defaultSampleRate, defaultChannels)
		if err != nil {
			return nil, nil, err
		}
		return src, &AACEncoder{}, nil
	})
}

type pendingOut struct {
	out capture.Output
	err error
}

// AACEncoder implements the pipeline's audio encoder contract. All methods
// are serialized by the audio cycle goroutine; the mutex only protects
// against a concurrent Release.
type AACEncoder struct {
	mu sync.Mutex

	handle   C.HANDLE_AACENCODER
	opened   bool
	released bool

	format     capture.Format
	frameBytes int // PCM bytes per AAC frame

	inbuf   []byte
	pending []pendingOut
}

func (e *AACEncoder) Configure(g capture.Grant, cfg capture.AudioConfig) error {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaultChannels
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = defaultBitrate
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if rc := C.aacEncOpen(&e.handle, 0, C.UINT(cfg.Channels)); rc != C.AACENC_OK {
		return aacError("open", rc)
	}
	e.opened = true

	params := []struct {
		param C.AACENC_PARAM
		value C.UINT
	}{
		{C.AACENC_AOT, 2}, // AAC-LC
		{C.AACENC_SAMPLERATE, C.UINT(cfg.SampleRate)},
		{C.AACENC_CHANNELMODE, C.UINT(cfg.Channels)},
		{C.AACENC_BITRATE, C.UINT(cfg.Bitrate)},
		{C.AACENC_TRANSMUX, 0}, // raw access units, no ADTS
		{C.AACENC_AFTERBURNER, 1},
	}
	for _, p := range params {
		if rc := C.aacEncoder_SetParam(e.handle, p.param, p.value); rc != C.AACENC_OK {
			return aacError("set param", rc)
		}
	}

	// A parameterless encode call commits the settings.
	if rc := C.aacEncEncode(e.handle, nil, nil, nil, nil); rc != C.AACENC_OK {
		return aacError("initialize", rc)
	}

	var info C.AACENC_InfoStruct
	if rc := C.aacEncInfo(e.handle, &info); rc != C.AACENC_OK {
		return aacError("info", rc)
	}

	e.format = capture.Format{
		Kind:                capture.Audio,
		Codec:               "aac",
		AudioSpecificConfig: C.GoBytes(unsafe.Pointer(&info.confBuf[0]), C.int(info.confSize)),
		SampleRate:          cfg.SampleRate,
		Channels:            cfg.Channels,
	}
	e.frameBytes = int(info.frameLength) * cfg.Channels * bytesPerSample

	// The format is final before the first encoded buffer.
	e.pending = append(e.pending, pendingOut{err: capture.ErrFormatChanged})

	log.Info("AAC encoder ready: %d Hz, %d ch, %d bps (frame %d bytes)",
		cfg.SampleRate, cfg.Channels, cfg.Bitrate, e.frameBytes)
	return nil
}

func (e *AACEncoder) QueueInput(pcm []byte, pts time.Duration, eos bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return capture.ErrClosed
	}

	e.inbuf = append(e.inbuf, pcm...)
	for len(e.inbuf) >= e.frameBytes {
		frame := e.inbuf[:e.frameBytes]
		e.inbuf = e.inbuf[e.frameBytes:]
		if err := e.encodeLocked(frame, pts, false); err != nil {
			return err
		}
	}

	if eos {
		// Flush the encoder's internal delay line, then mark the stream
		// complete.
		for {
			done, err := e.flushLocked(pts)
			if err != nil {
				return err
			}
			if done {
				break
			}
		}
		e.pending = append(e.pending, pendingOut{out: capture.Output{Flags: capture.EndOfStream}})
	}
	return nil
}

// encodeLocked feeds exactly one frame of PCM. Caller holds e.mu.
func (e *AACEncoder) encodeLocked(frame []byte, pts time.Duration, _ bool) error {
	out := make([]byte, encodeOutSize)

	inPtr := unsafe.Pointer(&frame[0])
	inID := C.INT(C.IN_AUDIO_DATA)
	inSize := C.INT(len(frame))
	inElSize := C.INT(bytesPerSample)
	inDesc := C.AACENC_BufDesc{
		numBufs:           1,
		bufs:              &inPtr,
		bufferIdentifiers: &inID,
		bufSizes:          &inSize,
		bufElSizes:        &inElSize,
	}

	outPtr := unsafe.Pointer(&out[0])
	outID := C.INT(C.OUT_BITSTREAM_DATA)
	outSize := C.INT(len(out))
	outElSize := C.INT(1)
	outDesc := C.AACENC_BufDesc{
		numBufs:           1,
		bufs:              &outPtr,
		bufferIdentifiers: &outID,
		bufSizes:          &outSize,
		bufElSizes:        &outElSize,
	}

	inArgs := C.AACENC_InArgs{numInSamples: C.INT(len(frame) / bytesPerSample)}
	var outArgs C.AACENC_OutArgs

	if rc := C.aacEncEncode(e.handle, &inDesc, &outDesc, &inArgs, &outArgs); rc != C.AACENC_OK {
		return aacError("encode", rc)
	}

	if n := int(outArgs.numOutBytes); n > 0 {
		e.pending = append(e.pending, pendingOut{out: capture.Output{
			Data: append([]byte(nil), out[:n]...),
			Time: pts,
		}})
	}
	return nil
}

// flushLocked drains the encoder delay line. Reports true once the encoder
// signals end of file. Caller holds e.mu.
func (e *AACEncoder) flushLocked(pts time.Duration) (bool, error) {
	out := make([]byte, encodeOutSize)

	outPtr := unsafe.Pointer(&out[0])
	outID := C.INT(C.OUT_BITSTREAM_DATA)
	outSize := C.INT(len(out))
	outElSize := C.INT(1)
	outDesc := C.AACENC_BufDesc{
		numBufs:           1,
		bufs:              &outPtr,
		bufferIdentifiers: &outID,
		bufSizes:          &outSize,
		bufElSizes:        &outElSize,
	}

	var inDesc C.AACENC_BufDesc
	inArgs := C.AACENC_InArgs{numInSamples: -1}
	var outArgs C.AACENC_OutArgs

	rc := C.aacEncEncode(e.handle, &inDesc, &outDesc, &inArgs, &outArgs)
	if rc == C.AACENC_ENCODE_EOF {
		return true, nil
	}
	if rc != C.AACENC_OK {
		return false, aacError("flush", rc)
	}
	if n := int(outArgs.numOutBytes); n > 0 {
		e.pending = append(e.pending, pendingOut{out: capture.Output{
			Data: append([]byte(nil), out[:n]...),
			Time: pts,
		}})
	}
	return false, nil
}

func (e *AACEncoder) DequeueOutput(timeout time.Duration) (capture.Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return capture.Output{}, capture.ErrClosed
	}
	if len(e.pending) == 0 {
		return capture.Output{}, capture.ErrAgain
	}
	p := e.pending[0]
	e.pending = e.pending[1:]
	return p.out, p.err
}

func (e *AACEncoder) OutputFormat() (capture.Format, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.format.Codec == "" {
		return capture.Format{}, errors.New("aac: encoder not configured")
	}
	return e.format, nil
}

func (e *AACEncoder) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return nil
	}
	e.released = true
	if e.opened {
		C.aacEncClose(&e.handle)
	}
	return nil
}

func aacError(op string, rc C.AACENC_ERROR) error {
	return errors.Errorf("aac: %s failed (0x%04x)", op, int(rc))
}
