package capture

import (
	"io"
	"sync"
	"time"
)

// Scripted encoder output event: either a buffer or a sentinel error.
type event struct {
	out Output
	err error
}

type fakeVideoEncoder struct {
	mu sync.Mutex

	events chan event

	configureErr error
	configured   bool
	released     bool
	signalled    bool

	format Format
}

func newFakeVideoEncoder() *fakeVideoEncoder {
	return &fakeVideoEncoder{
		events: make(chan event, 64),
		format: Format{
			Kind:  Video,
			Codec: "h264",
			SPS:   testSPS,
			PPS:   testPPS,
		},
	}
}

func (e *fakeVideoEncoder) Configure(g Grant, cfg VideoConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.configureErr != nil {
		return e.configureErr
	}
	e.configured = true
	return nil
}

func (e *fakeVideoEncoder) DequeueOutput(timeout time.Duration) (Output, error) {
	if e.isReleased() {
		return Output{}, ErrClosed
	}
	select {
	case ev := <-e.events:
		return ev.out, ev.err
	case <-time.After(timeout):
		return Output{}, ErrAgain
	}
}

func (e *fakeVideoEncoder) OutputFormat() (Format, error) {
	return e.format, nil
}

func (e *fakeVideoEncoder) SignalEndOfStream() error {
	e.mu.Lock()
	e.signalled = true
	e.mu.Unlock()
	e.events <- event{out: Output{Flags: EndOfStream}}
	return nil
}

func (e *fakeVideoEncoder) Release() error {
	e.mu.Lock()
	e.released = true
	e.mu.Unlock()
	return nil
}

func (e *fakeVideoEncoder) isReleased() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

func (e *fakeVideoEncoder) emitFormatChanged() {
	e.events <- event{err: ErrFormatChanged}
}

func (e *fakeVideoEncoder) emitSample(data []byte, pts time.Duration, flags Flags) {
	e.events <- event{out: Output{Data: data, Time: pts, Flags: flags}}
}

// fakeAudioSource serves scripted PCM chunks, then blocks until stopped.
type fakeAudioSource struct {
	mu       sync.Mutex
	chunks   [][]byte
	stopped  chan struct{}
	once     sync.Once
	startErr error
	started  bool
	closed   bool
}

func newFakeAudioSource(chunks ...[]byte) *fakeAudioSource {
	return &fakeAudioSource{
		chunks:  chunks,
		stopped: make(chan struct{}),
	}
}

func (s *fakeAudioSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *fakeAudioSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.chunks) > 0 {
		chunk := s.chunks[0]
		s.chunks = s.chunks[1:]
		s.mu.Unlock()
		return copy(p, chunk), nil
	}
	s.mu.Unlock()

	<-s.stopped
	return 0, io.EOF
}

func (s *fakeAudioSource) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *fakeAudioSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// stuckAudioSource ignores Stop entirely; Read blocks until Close. Models a
// capture backend whose stop path has wedged.
type stuckAudioSource struct {
	mu      sync.Mutex
	unblock chan struct{}
	once    sync.Once
	closed  bool
}

func newStuckAudioSource() *stuckAudioSource {
	return &stuckAudioSource{unblock: make(chan struct{})}
}

func (s *stuckAudioSource) Start() error { return nil }

func (s *stuckAudioSource) Read(p []byte) (int, error) {
	<-s.unblock
	return 0, io.EOF
}

func (s *stuckAudioSource) Stop() error { return nil }

func (s *stuckAudioSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.unblock) })
	return nil
}

// fakeAudioEncoder emits its format before the first encoded buffer, then
// one encoded buffer per queued input chunk.
type fakeAudioEncoder struct {
	mu sync.Mutex

	configureErr error
	configured   bool
	released     bool
	eosQueued    bool

	formatSent bool
	pending    []event

	format Format
}

func newFakeAudioEncoder() *fakeAudioEncoder {
	return &fakeAudioEncoder{
		format: Format{
			Kind:                Audio,
			Codec:               "aac",
			AudioSpecificConfig: testASC,
			SampleRate:          44100,
			Channels:            2,
		},
	}
}

func (e *fakeAudioEncoder) Configure(g Grant, cfg AudioConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.configureErr != nil {
		return e.configureErr
	}
	e.configured = true
	return nil
}

func (e *fakeAudioEncoder) QueueInput(pcm []byte, pts time.Duration, eos bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrClosed
	}
	if !e.formatSent {
		e.formatSent = true
		e.pending = append(e.pending, event{err: ErrFormatChanged})
	}
	if eos {
		e.eosQueued = true
		e.pending = append(e.pending, event{out: Output{Flags: EndOfStream}})
		return nil
	}
	encoded := append([]byte{0x21}, pcm[:min(4, len(pcm))]...)
	e.pending = append(e.pending, event{out: Output{Data: encoded, Time: pts}})
	return nil
}

func (e *fakeAudioEncoder) DequeueOutput(timeout time.Duration) (Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return Output{}, ErrClosed
	}
	if len(e.pending) == 0 {
		return Output{}, ErrAgain
	}
	ev := e.pending[0]
	e.pending = e.pending[1:]
	return ev.out, ev.err
}

func (e *fakeAudioEncoder) OutputFormat() (Format, error) {
	return e.format, nil
}

func (e *fakeAudioEncoder) Release() error {
	e.mu.Lock()
	e.released = true
	e.mu.Unlock()
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// recordingHandler collects pipeline events for assertions.
type recordingHandler struct {
	mu      sync.Mutex
	formats []Format
	samples []Sample
	errs    []error
}

func (h *recordingHandler) OnFormatReady(f Format) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.formats = append(h.formats, f)
}

func (h *recordingHandler) OnSample(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// The backing storage is recycled after the callback; keep a copy.
	s.Data = append([]byte(nil), s.Data...)
	h.samples = append(h.samples, s)
}

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) snapshot() (formats []Format, samples []Sample, errs []error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Format(nil), h.formats...),
		append([]Sample(nil), h.samples...),
		append([]error(nil), h.errs...)
}

// Minimal but syntactically valid H.264 parameter sets (1280x720) and an
// AAC-LC 44.1kHz stereo AudioSpecificConfig.
var (
	testSPS = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xba, 0x10, 0x00, 0x00, 0x03, 0x00, 0x10,
		0x00, 0x00, 0x03, 0x03, 0x20, 0xf1, 0x83, 0x19,
		0x60,
	}
	testPPS = []byte{0x68, 0xeb, 0xec, 0xb2, 0x2c}
	testASC = []byte{0x12, 0x10}
)
