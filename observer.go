package screencap

// Observer receives recorder lifecycle signals. Implementations are passed
// to NewRecorder; there is no global registration. OnError may be invoked
// from an encoder drain goroutine; the other callbacks run on the
// recorder's command sequencer.
type Observer interface {
	// Both encoders configured, session about to record.
	OnPrepared()

	OnRecordingStarted()

	// The session is finalized; outputPath is playable and seekable.
	OnRecordingStopped(outputPath string)

	OnError(err error)
}

// NopObserver implements Observer with no-ops, for embedding.
type NopObserver struct{}

func (NopObserver) OnPrepared()               {}
func (NopObserver) OnRecordingStarted()       {}
func (NopObserver) OnRecordingStopped(string) {}
func (NopObserver) OnError(error)             {}
