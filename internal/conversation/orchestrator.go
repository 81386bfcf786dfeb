package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"voiceloop/internal/capture"
	"voiceloop/internal/tts"
)

// Orchestrator sequences capture, transcript delivery, reply synthesis and
// playback into hands-free turns, and owns every restart and error policy.
//
// All mutation happens under one mutex. Every asynchronous continuation
// (capture outcome, send resolution, synthesis return, playback end, restart
// timer) carries the generation it was scheduled under and re-checks it
// before touching state: disabling the mode bumps the generation, so late
// callbacks from cancelled work become no-ops instead of state corruption.
type Orchestrator struct {
	cfg     Config
	device  Device
	speaker Speaker
	send    SendFunc
	events  EventSink
	caps    capture.Capabilities

	ctx       context.Context
	ctxCancel context.CancelFunc

	mu         sync.Mutex
	gen        uint64
	closed     bool
	modeActive bool
	state      State

	session   Session
	endedTurn string
	turnID    string

	playback   SpokenReply
	speakSeq   uint64
	endedSpeak uint64

	restartTimer *time.Timer

	noSpeechCount int
	lastSpoken    string
	lastReply     string
	pendingReply  string

	level           float64
	alert           string
	alertCode       AlertCode
	alertPersistent bool
}

// New builds an orchestrator. The sink may be nil.
func New(device Device, speaker Speaker, send SendFunc, events EventSink, caps capture.Capabilities, cfg Config) *Orchestrator {
	if events == nil {
		events = NopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		device:    device,
		speaker:   speaker,
		send:      send,
		events:    events,
		caps:      caps,
		ctx:       ctx,
		ctxCancel: cancel,
		state:     StateIdle,
	}
}

// Capabilities returns the startup capability record.
func (o *Orchestrator) Capabilities() capture.Capabilities { return o.caps }

// Status reports the current state for the host UI.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:              o.state,
		ConversationActive: o.modeActive,
		Level:              o.level,
		Message:            o.alert,
		Capabilities:       o.caps,
	}
}

// EnableConversation enters hands-free mode and opens the first capture
// session. Enabling an already-active mode is a no-op.
func (o *Orchestrator) EnableConversation() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if !o.caps.HandsFree() {
		o.raiseAlertLocked(AlertUnsupported, "hands-free conversation is not available on this system", true)
		o.mu.Unlock()
		return ErrUnsupported
	}
	if o.modeActive {
		o.mu.Unlock()
		return nil
	}
	o.modeActive = true
	o.noSpeechCount = 0
	o.pendingReply = ""
	gen := o.gen
	o.mu.Unlock()

	log.Info("conversation mode enabled")
	return o.openCapture(gen, false)
}

// DisableConversation leaves hands-free mode. This is a hard cancellation:
// the open capture session is closed, any playback is stopped, pending
// restart timers are cancelled, and callbacks from still-outstanding work
// are invalidated.
func (o *Orchestrator) DisableConversation() {
	o.mu.Lock()
	o.gen++
	o.modeActive = false
	o.noSpeechCount = 0
	o.pendingReply = ""
	o.level = 0
	if o.restartTimer != nil {
		o.restartTimer.Stop()
		o.restartTimer = nil
	}
	sess := o.session
	o.session = nil
	pb := o.playback
	o.playback = nil
	o.setStateLocked(StateIdle)
	o.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	if pb != nil {
		pb.Stop()
	}
	log.Info("conversation mode disabled")
}

// Close tears the orchestrator down for good.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.DisableConversation()
	o.ctxCancel()
	log.Debug("orchestrator closed")
}

// RecordOnce is the manual, non-hands-free capture path: one session, one
// outcome, no automatic re-arm.
func (o *Orchestrator) RecordOnce() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if !o.caps.CanRecord() {
		o.raiseAlertLocked(AlertUnsupported, "voice recording is not available on this system", true)
		o.mu.Unlock()
		return ErrUnsupported
	}
	if o.modeActive {
		o.mu.Unlock()
		return ErrModeActive
	}
	if o.state != StateIdle && o.state != StateError {
		o.mu.Unlock()
		return ErrBusy
	}
	gen := o.gen
	o.mu.Unlock()

	return o.openCapture(gen, true)
}

// PlayLatestReply is the manual playback path: speak the newest assistant
// message once, even if it was spoken before.
func (o *Orchestrator) PlayLatestReply() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if !o.caps.CanSpeak() {
		o.raiseAlertLocked(AlertUnsupported, "spoken replies are not available on this system", true)
		o.mu.Unlock()
		return ErrUnsupported
	}
	if o.modeActive {
		o.mu.Unlock()
		return ErrModeActive
	}
	if o.state != StateIdle && o.state != StateError {
		o.mu.Unlock()
		return ErrBusy
	}
	text := o.lastReply
	gen := o.gen
	o.mu.Unlock()

	if text == "" {
		return ErrNothingToPlay
	}
	o.speak(gen, text, true)
	return nil
}

// NotifyAssistantMessage tells the orchestrator a new assistant message is
// visible. While the mode is active with autoplay on, an unseen message is
// spoken; the LastSpokenMessage guard keeps duplicate notifications (e.g.
// repeated renders of the same reply) from re-synthesizing.
func (o *Orchestrator) NotifyAssistantMessage(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	o.mu.Lock()
	o.lastReply = text
	if o.closed || !o.modeActive || !o.cfg.AutoPlayReplies {
		o.mu.Unlock()
		return
	}
	if text == o.lastSpoken {
		o.mu.Unlock()
		return
	}
	switch o.state {
	case StateProcessing:
		// The send callback has not resolved yet; speak when it does.
		o.pendingReply = text
		o.mu.Unlock()
		return
	case StateIdle, StateError:
		gen := o.gen
		o.mu.Unlock()
		o.speak(gen, text, false)
		return
	default:
		o.mu.Unlock()
	}
}

// openCapture opens one capture session for the given generation. It is a
// no-op when the generation is stale or another session is already open.
func (o *Orchestrator) openCapture(gen uint64, manual bool) error {
	o.mu.Lock()
	if gen != o.gen || o.closed || o.session != nil {
		o.mu.Unlock()
		return nil
	}
	turn := uuid.NewString()
	o.turnID = turn
	o.mu.Unlock()

	sess, err := o.device.Open(o.ctx, o.sessionCallbacks(gen, manual, turn))

	o.mu.Lock()
	if gen != o.gen || o.closed {
		o.mu.Unlock()
		if sess != nil {
			// The mode was disabled while the device was opening; the late
			// session must still be released.
			_ = sess.Close()
		}
		return nil
	}
	if err != nil {
		o.raiseCaptureErrorLocked(err)
		o.setStateLocked(StateError)
		o.mu.Unlock()
		log.Error("capture open failed", "turn", turn, "error", err)
		return err
	}
	if o.endedTurn == turn {
		// The session already reported its outcome before Open returned.
		o.mu.Unlock()
		return nil
	}
	o.session = sess
	o.setStateLocked(StateRecording)
	o.mu.Unlock()
	log.Debug("recording", "turn", turn, "manual", manual)
	return nil
}

func (o *Orchestrator) sessionCallbacks(gen uint64, manual bool, turn string) capture.Callbacks {
	return capture.Callbacks{
		OnLevel: func(level float64) {
			o.mu.Lock()
			if gen != o.gen || o.closed || o.state != StateRecording {
				o.mu.Unlock()
				return
			}
			o.level = level
			o.events.Level(level)
			o.mu.Unlock()
		},
		OnTranscript: func(text string) { o.handleTranscript(gen, turn, text) },
		OnNoSpeech:   func() { o.handleNoSpeech(gen, manual, turn) },
		OnError:      func(err error) { o.handleCaptureError(gen, turn, err) },
	}
}

func (o *Orchestrator) handleTranscript(gen uint64, turn, text string) {
	o.mu.Lock()
	if gen != o.gen || o.closed {
		o.mu.Unlock()
		return
	}
	o.endTurnLocked(turn)
	o.noSpeechCount = 0
	o.clearTransientAlertLocked()
	o.setStateLocked(StateProcessing)
	o.events.Transcript(turn, text)
	o.mu.Unlock()
	log.Info("transcript finalized", "turn", turn, "chars", len(text))

	go func() {
		err := o.send(o.ctx, text)

		o.mu.Lock()
		if gen != o.gen || o.closed {
			o.mu.Unlock()
			return
		}
		if err != nil {
			o.raiseAlertLocked(AlertSend, "your message could not be delivered - try again", false)
			o.setStateLocked(StateIdle)
			o.mu.Unlock()
			log.Error("send failed", "turn", turn, "error", err)
			return
		}
		pending := o.pendingReply
		o.pendingReply = ""
		o.setStateLocked(StateIdle)
		o.mu.Unlock()

		if pending != "" {
			o.speak(gen, pending, false)
		}
	}()
}

func (o *Orchestrator) handleNoSpeech(gen uint64, manual bool, turn string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen || o.closed {
		return
	}
	o.endTurnLocked(turn)
	if manual || !o.modeActive {
		o.setStateLocked(StateIdle)
		return
	}

	o.noSpeechCount++
	log.Debug("no speech detected", "turn", turn, "consecutive", o.noSpeechCount)
	if o.noSpeechCount >= o.cfg.MaxNoSpeechRestarts {
		o.raiseAlertLocked(AlertNoSpeechBudget,
			"Having trouble hearing you. Automatic listening is paused - press record or toggle conversation mode to continue.", false)
		o.setStateLocked(StateIdle)
		return
	}
	o.setStateLocked(StateIdle)
	o.scheduleRestartLocked(o.cfg.NoSpeechSettle, gen)
}

func (o *Orchestrator) handleCaptureError(gen uint64, turn string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen || o.closed {
		// Expected after cancellation; swallowed silently.
		return
	}
	o.endTurnLocked(turn)
	o.raiseCaptureErrorLocked(err)
	o.setStateLocked(StateError)
	log.Error("capture failed", "turn", turn, "error", err)
}

// speak synthesizes and plays one assistant message. force bypasses the
// duplicate guard for explicit user-triggered playback.
func (o *Orchestrator) speak(gen uint64, text string, force bool) {
	o.mu.Lock()
	if gen != o.gen || o.closed {
		o.mu.Unlock()
		return
	}
	if o.state != StateIdle && o.state != StateError {
		o.mu.Unlock()
		return
	}
	if !force && text == o.lastSpoken {
		o.mu.Unlock()
		return
	}
	o.lastSpoken = text
	o.speakSeq++
	seq := o.speakSeq
	o.setStateLocked(StateSpeaking)
	o.mu.Unlock()

	reply, err := o.speaker.Speak(o.ctx, text, tts.PlaybackCallbacks{
		OnEnded: func() { o.handlePlaybackEnded(gen, seq) },
	})

	o.mu.Lock()
	if err != nil {
		// An unspoken reply must stay eligible for a later attempt.
		if o.lastSpoken == text {
			o.lastSpoken = ""
		}
		if gen == o.gen && !o.closed {
			o.raiseAlertLocked(AlertSynthesis, "the reply could not be spoken - it is still shown as text", false)
			o.setStateLocked(StateError)
			log.Error("synthesis failed", "error", err)
		}
		o.mu.Unlock()
		return
	}
	if gen != o.gen || o.closed {
		o.mu.Unlock()
		reply.Stop()
		return
	}
	if o.endedSpeak == seq {
		// Playback already ended before Speak returned.
		o.mu.Unlock()
		return
	}
	o.playback = reply
	o.mu.Unlock()
}

func (o *Orchestrator) handlePlaybackEnded(gen, seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen || o.closed {
		return
	}
	o.playback = nil
	o.endedSpeak = seq
	o.setStateLocked(StateIdle)
	if o.modeActive && o.cfg.AutoRestart && o.noSpeechCount < o.cfg.MaxNoSpeechRestarts {
		o.scheduleRestartLocked(o.cfg.SpeakSettle, gen)
	}
}

func (o *Orchestrator) scheduleRestartLocked(delay time.Duration, gen uint64) {
	if o.restartTimer != nil {
		o.restartTimer.Stop()
	}
	o.restartTimer = time.AfterFunc(delay, func() {
		o.mu.Lock()
		if gen != o.gen || o.closed || !o.modeActive || o.session != nil {
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()
		_ = o.openCapture(gen, false)
	})
}

// endTurnLocked marks the given turn's session as finished. The session
// closes its own hardware after a terminal outcome; dropping the reference
// here keeps the at-most-one-open-session invariant checkable.
func (o *Orchestrator) endTurnLocked(turn string) {
	o.session = nil
	o.endedTurn = turn
	o.level = 0
}

func (o *Orchestrator) setStateLocked(state State) {
	if o.state == state {
		return
	}
	o.state = state
	o.events.StateChanged(state, o.turnID)
}

func (o *Orchestrator) raiseAlertLocked(code AlertCode, message string, persistent bool) {
	o.alert = message
	o.alertCode = code
	o.alertPersistent = persistent
	o.events.Alert(code, message)
}

func (o *Orchestrator) raiseCaptureErrorLocked(err error) {
	var capErr *capture.Error
	if errors.As(err, &capErr) {
		o.raiseAlertLocked(AlertCapture, capErr.Message, capErr.Persistent())
		return
	}
	o.raiseAlertLocked(AlertCapture, "voice capture failed", false)
}

func (o *Orchestrator) clearTransientAlertLocked() {
	if o.alert == "" || o.alertPersistent {
		return
	}
	o.alert = ""
	o.alertCode = ""
	o.events.AlertCleared()
}
