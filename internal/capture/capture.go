//////////////////////////////////////////////////////////////////////////////
//
// Capture data model: track kinds, encoded samples, track formats, and the
// capture grant shared by the video and audio pipelines.
//
// Copyright 2026 Mahina Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package capture

import (
	"sync"
	"time"

	"github.com/mahina/screencap/internal/logging"
)

var log = logging.DefaultLogger.WithTag("capture")

// Track kind of an encoded stream.
type Kind int

const (
	Video Kind = iota
	Audio
)

func (k Kind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	default:
		return "unknown"
	}
}

// Per-sample flags, mirroring the flags a hardware encoder attaches to its
// output buffers.
type Flags uint8

const (
	// The sample starts a decodable unit (IDR frame for H.264).
	KeyFrame Flags = 1 << iota

	// The buffer carries codec configuration rather than media data. Such
	// buffers are not written to the container; configuration travels in the
	// track Format instead.
	CodecConfig

	// The encoder has flushed its last sample.
	EndOfStream
)

// An encoded access unit, produced by an encoder pipeline and consumed
// exactly once by the mux session.
//
// Data is only valid for the duration of the consuming callback; the backing
// storage is recycled by the encoder afterwards. Consumers that need to keep
// the bytes must copy them.
type Sample struct {
	Kind  Kind
	Data  []byte
	Time  time.Duration // presentation timestamp, relative to session start
	Flags Flags
}

// Finalized output configuration of an encoder. Produced once per encoder
// per session, when the encoder reports its format-ready event.
type Format struct {
	Kind  Kind
	Codec string // "h264" or "aac"

	// H.264 parameter sets (video only).
	SPS, PPS []byte

	// MPEG-4 AudioSpecificConfig (audio only).
	AudioSpecificConfig []byte

	// Informational, for logging.
	SampleRate int
	Channels   int
}

// Grant is the opaque capture authorization obtained from an external
// consent flow. It authorizes both video and audio capture for one session.
// Revocation happens out of band (the platform or the user withdrawing the
// grant); holders observe it through the Revoked channel.
type Grant interface {
	Revoked() <-chan struct{}
}

// Token is the canonical Grant implementation.
type Token struct {
	once    sync.Once
	revoked chan struct{}
}

func NewToken() *Token {
	return &Token{revoked: make(chan struct{})}
}

// Revoke withdraws the grant. Safe to call more than once.
func (t *Token) Revoke() {
	t.once.Do(func() {
		log.Info("Capture grant revoked")
		close(t.revoked)
	})
}

func (t *Token) Revoked() <-chan struct{} {
	return t.revoked
}
