//////////////////////////////////////////////////////////////////////////////
//
// Recorder drives one capture-encode-mux session: it serializes all
// control operations on a single command sequencer, starts and stops the
// two encoder pipelines, and owns the mux session's lifecycle.
//
// Copyright 2026 Mahina Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package screencap

import (
	"time"

	"github.com/mahina/screencap/internal/capture"
	"github.com/mahina/screencap/internal/logging"
	"github.com/mahina/screencap/internal/mux"
)

var log = logging.DefaultLogger.WithTag("screencap")

type State int

const (
	Idle State = iota
	Preparing
	Recording
	Stopping
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Preparing:
		return "Preparing"
	case Recording:
		return "Recording"
	case Stopping:
		return "Stopping"
	case Closed:
		return "Closed"
	default:
		return "?"
	}
}

// Recorder is single use: one instance per recording attempt. Multiple
// independent recorders may exist side by side; there is no process-wide
// instance.
type Recorder struct {
	cfg   Config
	obs   Observer
	grant capture.Grant

	cmds     chan command
	finished chan struct{} // closed when the sequencer exits

	// Sequencer-owned state. Only ever touched from the sequencer
	// goroutine.
	state   State
	cause   error
	session *mux.Session
	video   *capture.VideoCapture
	audio   *capture.AudioCapture
}

type command struct {
	run  func()
	done chan struct{}
}

func NewRecorder(g capture.Grant, cfg Config, obs Observer) *Recorder {
	if obs == nil {
		obs = NopObserver{}
	}
	r := &Recorder{
		cfg:      cfg,
		obs:      obs,
		grant:    g,
		cmds:     make(chan command),
		finished: make(chan struct{}),
	}
	go r.sequence()
	return r
}

// sequence is the command sequencer: exactly one control operation in
// flight at a time, so control never races with itself. The encoder drain
// goroutines keep running independently until explicitly signalled.
func (r *Recorder) sequence() {
	defer close(r.finished)

	revoked := r.grant.Revoked()
	for r.state != Closed {
		select {
		case cmd := <-r.cmds:
			cmd.run()
			close(cmd.done)
		case <-revoked:
			// The capture grant was withdrawn out of band. Same path as an
			// explicit stop.
			revoked = nil
			log.Info("Grant revoked, stopping recording")
			r.handleStop()
		}
	}
}

// post runs fn on the sequencer and waits for it. Reports false when the
// sequencer has already exited.
func (r *Recorder) post(fn func()) bool {
	cmd := command{run: fn, done: make(chan struct{})}
	select {
	case r.cmds <- cmd:
		<-cmd.done
		return true
	case <-r.finished:
		return false
	}
}

// Start creates a fresh mux session and output target and starts the audio
// then the video pipeline. It returns once both encoders are configured; a
// configuration failure in either aborts the other and closes the recorder.
func (r *Recorder) Start() error {
	var err error
	if !r.post(func() { err = r.handleStart() }) {
		return ErrRecorderClosed
	}
	return err
}

// Stop flushes and stops both pipelines, then finalizes the mux session.
// Idempotent: a second call observably does nothing.
func (r *Recorder) Stop() {
	r.post(r.handleStop)
}

// Err returns the cause when the recorder closed on an error path.
func (r *Recorder) Err() error {
	var cause error
	if !r.post(func() { cause = r.cause }) {
		return r.cause
	}
	return cause
}

// Done is closed once the recorder has reached its terminal state.
func (r *Recorder) Done() <-chan struct{} {
	return r.finished
}

func (r *Recorder) handleStart() error {
	if r.state != Idle {
		log.Warn("Start ignored in state %v", r.state)
		return ErrRecorderClosed
	}
	if r.cfg.VideoEncoder == nil {
		r.state = Closed
		r.cause = ErrNoVideoEncoder
		return ErrNoVideoEncoder
	}
	r.state = Preparing

	path := r.cfg.outputPath(time.Now())
	session, err := mux.NewSession(path, r.cfg.audioEnabled(), r.cfg.formatTimeout())
	if err != nil {
		return r.abortStart(&ConfigError{Stage: "output", Err: err})
	}
	r.session = session

	r.video = capture.NewVideoCapture(r.cfg.VideoEncoder, pipeHandler{r})
	if r.cfg.audioEnabled() {
		r.audio = capture.NewAudioCapture(r.cfg.AudioSource, r.cfg.AudioEncoder, pipeHandler{r})
	}

	// Both pipelines must be started before either delivers events. Audio
	// first; the relative order is otherwise immaterial.
	if r.audio != nil {
		if err := r.audio.Start(r.grant, r.cfg.Audio); err != nil {
			return r.abortStart(&ConfigError{Stage: "audio", Err: err})
		}
	}
	if err := r.video.Start(r.grant, r.cfg.Video); err != nil {
		if r.audio != nil {
			r.audio.Stop()
		}
		return r.abortStart(&ConfigError{Stage: "video", Err: err})
	}

	r.obs.OnPrepared()
	r.state = Recording
	log.Info("Recording started: %s", path)
	r.obs.OnRecordingStarted()
	return nil
}

// abortStart tears down whatever Start managed to acquire. The mux session
// never opened, so closing it also removes the zero-track output file.
func (r *Recorder) abortStart(err error) error {
	if r.session != nil {
		r.session.Close()
	}
	r.state = Closed
	r.cause = err
	log.Error("Start failed: %v", err)
	r.obs.OnError(err)
	return err
}

func (r *Recorder) handleStop() {
	switch r.state {
	case Recording:
	case Idle:
		// Never started; nothing to release.
		r.state = Closed
		return
	default:
		log.Debug("Stop ignored in state %v", r.state)
		return
	}
	r.state = Stopping

	// Audio first (flush with end-of-stream), then video (flush with
	// end-of-stream, bounded wait). Both drain loops have terminated once
	// these return, so no further WriteSample can race the close.
	if r.audio != nil {
		r.audio.Stop()
	}
	r.video.Stop()

	path := r.session.Path()
	if err := r.session.Close(); err != nil {
		r.cause = err
		r.obs.OnError(err)
	}

	r.state = Closed
	log.Info("Recording stopped: %s", path)
	r.obs.OnRecordingStopped(path)
}

// pipeHandler routes encoder pipeline events into the mux session. These
// callbacks run on the encoders' drain goroutines; the session's own lock
// serializes them.
type pipeHandler struct {
	r *Recorder
}

func (h pipeHandler) OnFormatReady(f capture.Format) {
	if err := h.r.session.RegisterFormat(f); err != nil {
		log.Error("Register %s format: %v", f.Kind, err)
		h.r.obs.OnError(err)
		// A session that cannot open its writer is unusable; stop from a
		// separate goroutine, since Stop joins the drain loop we are on.
		go h.r.Stop()
	}
}

func (h pipeHandler) OnSample(s capture.Sample) {
	if err := h.r.session.WriteSample(s); err != nil {
		log.Error("Write %s sample: %v", s.Kind, err)
		h.r.obs.OnError(err)
		go h.r.Stop()
	}
}

func (h pipeHandler) OnError(err error) {
	// Encoder-local failures (shutdown timeouts, transient dequeue faults
	// that turned fatal) are surfaced but do not abort the session; the
	// stop path proceeds regardless.
	h.r.obs.OnError(err)
}
