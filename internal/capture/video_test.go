package capture

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestVideoFormatReadyExactlyOnce(t *testing.T) {
	enc := newFakeVideoEncoder()
	h := &recordingHandler{}
	vc := NewVideoCapture(enc, h)

	require.NoError(t, vc.Start(NewToken(), VideoConfig{Width: 1280, Height: 720}))

	enc.emitFormatChanged()
	enc.emitSample([]byte{0x65, 0x01}, 0, KeyFrame)
	enc.emitFormatChanged() // later occurrences must be ignored
	enc.emitSample([]byte{0x41, 0x02}, 33*time.Millisecond, 0)

	waitFor(t, "samples not drained", func() bool {
		_, samples, _ := h.snapshot()
		return len(samples) == 2
	})
	vc.Stop()

	formats, samples, _ := h.snapshot()
	assert.Len(t, formats, 1)
	assert.Equal(t, "h264", formats[0].Codec)
	assert.Len(t, samples, 2)
	assert.True(t, samples[0].Flags&KeyFrame != 0)
	assert.True(t, enc.isReleased())
}

func TestVideoStripsConfigBuffers(t *testing.T) {
	enc := newFakeVideoEncoder()
	h := &recordingHandler{}
	vc := NewVideoCapture(enc, h)

	require.NoError(t, vc.Start(NewToken(), VideoConfig{}))

	enc.emitFormatChanged()
	enc.emitSample(append(append([]byte{}, testSPS...), testPPS...), 0, CodecConfig)
	enc.emitSample([]byte{}, 0, 0) // zero-length, also dropped
	enc.emitSample([]byte{0x65, 0x01}, 0, KeyFrame)

	waitFor(t, "sample not drained", func() bool {
		_, samples, _ := h.snapshot()
		return len(samples) == 1
	})
	vc.Stop()

	_, samples, _ := h.snapshot()
	require.Len(t, samples, 1)
	assert.EqualValues(t, []byte{0x65, 0x01}, samples[0].Data)
}

func TestVideoStopSignalsEndOfStream(t *testing.T) {
	enc := newFakeVideoEncoder()
	h := &recordingHandler{}
	vc := NewVideoCapture(enc, h)

	require.NoError(t, vc.Start(NewToken(), VideoConfig{}))
	enc.emitFormatChanged()
	enc.emitSample([]byte{0x65}, 0, KeyFrame)

	vc.Stop()
	vc.Stop() // idempotent

	enc.mu.Lock()
	signalled, released := enc.signalled, enc.released
	enc.mu.Unlock()
	assert.True(t, signalled)
	assert.True(t, released)

	_, _, errs := h.snapshot()
	assert.Empty(t, errs, "clean drain must not report a shutdown timeout")
}

func TestVideoConfigureFailureReleases(t *testing.T) {
	enc := newFakeVideoEncoder()
	enc.configureErr = errors.New("no such device")
	vc := NewVideoCapture(enc, &recordingHandler{})

	err := vc.Start(NewToken(), VideoConfig{})
	require.Error(t, err)
	assert.True(t, enc.isReleased())
}

func TestVideoStopTimeoutReportsError(t *testing.T) {
	enc := &silentVideoEncoder{newFakeVideoEncoder()}
	h := &recordingHandler{}
	vc := NewVideoCapture(enc, h)

	require.NoError(t, vc.Start(NewToken(), VideoConfig{}))
	enc.emitFormatChanged()

	start := time.Now()
	vc.Stop()
	elapsed := time.Since(start)
	assert.True(t, elapsed >= drainDeadline, "Stop returned before the drain deadline")
	assert.True(t, elapsed < 5*drainDeadline, "Stop hung well past the drain deadline")

	_, _, errs := h.snapshot()
	var found bool
	for _, err := range errs {
		if err == ErrShutdownTimeout {
			found = true
		}
	}
	assert.True(t, found, "expected ErrShutdownTimeout to be surfaced")
	assert.True(t, enc.isReleased())
}

// silentVideoEncoder accepts the end-of-stream signal but never emits the
// flushed buffer, forcing the bounded fallback wait.
type silentVideoEncoder struct {
	*fakeVideoEncoder
}

func (e *silentVideoEncoder) SignalEndOfStream() error {
	return nil
}
