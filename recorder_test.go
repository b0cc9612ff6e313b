package screencap

import (
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/format/mp4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahina/screencap/internal/capture"
)

var (
	testSPS = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xba, 0x10, 0x00, 0x00, 0x03, 0x00, 0x10,
		0x00, 0x00, 0x03, 0x03, 0x20, 0xf1, 0x83, 0x19,
		0x60,
	}
	testPPS = []byte{0x68, 0xeb, 0xec, 0xb2, 0x2c}
)

type encoderEvent struct {
	out capture.Output
	err error
}

// scriptedVideoEncoder lets a test hand-feed the drain loop.
type scriptedVideoEncoder struct {
	mu           sync.Mutex
	events       chan encoderEvent
	configureErr error
	released     bool
}

func newScriptedVideoEncoder() *scriptedVideoEncoder {
	return &scriptedVideoEncoder{events: make(chan encoderEvent, 64)}
}

func (e *scriptedVideoEncoder) Configure(g capture.Grant, cfg capture.VideoConfig) error {
	return e.configureErr
}

func (e *scriptedVideoEncoder) DequeueOutput(timeout time.Duration) (capture.Output, error) {
	if e.isReleased() {
		return capture.Output{}, capture.ErrClosed
	}
	select {
	case ev := <-e.events:
		return ev.out, ev.err
	case <-time.After(timeout):
		return capture.Output{}, capture.ErrAgain
	}
}

func (e *scriptedVideoEncoder) OutputFormat() (capture.Format, error) {
	return capture.Format{Kind: capture.Video, Codec: "h264", SPS: testSPS, PPS: testPPS}, nil
}

func (e *scriptedVideoEncoder) SignalEndOfStream() error {
	e.events <- encoderEvent{out: capture.Output{Flags: capture.EndOfStream}}
	return nil
}

func (e *scriptedVideoEncoder) Release() error {
	e.mu.Lock()
	e.released = true
	e.mu.Unlock()
	return nil
}

func (e *scriptedVideoEncoder) isReleased() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

func (e *scriptedVideoEncoder) emitFormat() {
	e.events <- encoderEvent{err: capture.ErrFormatChanged}
}

func (e *scriptedVideoEncoder) emitFrame(data []byte, pts time.Duration, flags capture.Flags) {
	e.events <- encoderEvent{out: capture.Output{Data: data, Time: pts, Flags: flags}}
}

// idleAudioSource produces no samples until stopped.
type idleAudioSource struct {
	once    sync.Once
	stopped chan struct{}
	mu      sync.Mutex
	closed  bool
}

func newIdleAudioSource() *idleAudioSource {
	return &idleAudioSource{stopped: make(chan struct{})}
}

func (s *idleAudioSource) Start() error { return nil }

func (s *idleAudioSource) Read(p []byte) (int, error) {
	<-s.stopped
	return 0, io.EOF
}

func (s *idleAudioSource) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *idleAudioSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *idleAudioSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// failingAudioEncoder rejects configuration.
type failingAudioEncoder struct {
	err error
}

func (e *failingAudioEncoder) Configure(capture.Grant, capture.AudioConfig) error { return e.err }
func (e *failingAudioEncoder) QueueInput([]byte, time.Duration, bool) error       { return nil }
func (e *failingAudioEncoder) DequeueOutput(time.Duration) (capture.Output, error) {
	return capture.Output{}, capture.ErrAgain
}
func (e *failingAudioEncoder) OutputFormat() (capture.Format, error) { return capture.Format{}, nil }
func (e *failingAudioEncoder) Release() error                        { return nil }

// countingObserver records lifecycle callbacks for assertions.
type countingObserver struct {
	mu       sync.Mutex
	prepared int
	started  int
	stopped  int
	paths    []string
	errs     []error
}

func (o *countingObserver) OnPrepared() {
	o.mu.Lock()
	o.prepared++
	o.mu.Unlock()
}

func (o *countingObserver) OnRecordingStarted() {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *countingObserver) OnRecordingStopped(path string) {
	o.mu.Lock()
	o.stopped++
	o.paths = append(o.paths, path)
	o.mu.Unlock()
}

func (o *countingObserver) OnError(err error) {
	o.mu.Lock()
	o.errs = append(o.errs, err)
	o.mu.Unlock()
}

func idrFrame() []byte {
	return []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0x33, 0xff}
}

func deltaFrame() []byte {
	return []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9a, 0x24, 0x6c, 0x41}
}

func TestRecorderStartStop(t *testing.T) {
	enc := newScriptedVideoEncoder()
	obs := &countingObserver{}
	r := NewRecorder(capture.NewToken(), Config{
		VideoEncoder: enc,
		OutputDir:    t.TempDir(),
	}, obs)

	require.NoError(t, r.Start())

	enc.emitFormat()
	enc.emitFrame(idrFrame(), 0, capture.KeyFrame)
	enc.emitFrame(deltaFrame(), 33*time.Millisecond, 0)

	// The fake's output queue is ordered, so both frames are drained before
	// the end-of-stream that Stop signals.
	r.Stop()
	r.Stop() // idempotent

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.prepared)
	assert.Equal(t, 1, obs.started)
	require.Equal(t, 1, obs.stopped, "OnRecordingStopped must fire exactly once")
	require.Len(t, obs.paths, 1)
	assert.Empty(t, obs.errs)

	streams, packets := demuxFile(t, obs.paths[0])
	require.Len(t, streams, 1)
	assert.Equal(t, av.H264, streams[0].Type())
	require.Len(t, packets, 2)
	assert.True(t, packets[0].IsKeyFrame)

	assert.True(t, enc.isReleased())

	select {
	case <-r.Done():
	default:
		t.Fatal("recorder not terminal after Stop")
	}
	assert.NoError(t, r.Err())
}

func TestRecorderGrantRevocation(t *testing.T) {
	enc := newScriptedVideoEncoder()
	obs := &countingObserver{}
	tok := capture.NewToken()
	r := NewRecorder(tok, Config{
		VideoEncoder: enc,
		OutputDir:    t.TempDir(),
	}, obs)

	require.NoError(t, r.Start())
	enc.emitFormat()
	enc.emitFrame(idrFrame(), 0, capture.KeyFrame)

	// Withdrawing the grant must finalize the session without any explicit
	// Stop call.
	tok.Revoke()

	select {
	case <-r.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("recorder did not stop after grant revocation")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Equal(t, 1, obs.stopped)
	_, err := os.Stat(obs.paths[0])
	assert.NoError(t, err, "revocation must leave a finalized output file")
}

func TestRecorderAudioConfigFailureAbortsStart(t *testing.T) {
	enc := newScriptedVideoEncoder()
	src := newIdleAudioSource()
	obs := &countingObserver{}
	dir := t.TempDir()
	r := NewRecorder(capture.NewToken(), Config{
		VideoEncoder: enc,
		AudioEncoder: &failingAudioEncoder{err: errors.New("codec unavailable")},
		AudioSource:  src,
		OutputDir:    dir,
	}, obs)

	err := r.Start()
	require.Error(t, err)
	cfgErr, ok := err.(*ConfigError)
	require.True(t, ok, "expected *ConfigError, got %T", err)
	assert.Equal(t, "audio", cfgErr.Stage)

	// The session never opened, so no output file may remain.
	entries, rerr := os.ReadDir(dir)
	require.NoError(t, rerr)
	assert.Empty(t, entries)

	assert.True(t, src.isClosed())

	// The recorder is spent; a second Start is refused.
	assert.Equal(t, ErrRecorderClosed, r.Start())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Zero(t, obs.started)
	assert.NotEmpty(t, obs.errs)
}

func TestRecorderRequiresVideoEncoder(t *testing.T) {
	r := NewRecorder(capture.NewToken(), Config{OutputDir: t.TempDir()}, nil)
	assert.Equal(t, ErrNoVideoEncoder, r.Start())
	assert.Equal(t, ErrNoVideoEncoder, r.Err())
}

func demuxFile(t *testing.T, path string) ([]av.CodecData, []av.Packet) {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	demuxer := mp4.NewDemuxer(file)
	streams, err := demuxer.Streams()
	require.NoError(t, err)

	var packets []av.Packet
	for {
		pkt, err := demuxer.ReadPacket()
		if err != nil {
			break
		}
		packets = append(packets, pkt)
	}
	return streams, packets
}
