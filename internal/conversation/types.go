package conversation

import (
	"context"
	"errors"
	"time"

	"voiceloop/internal/capture"
	"voiceloop/internal/tts"
)

// State is the orchestrator's single linear state. At most one of recording,
// processing or speaking is ever active.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
	StateError      State = "error"
)

// AlertCode classifies user-visible failures. Benign transients (single
// no-speech timeouts, stale callbacks) never get a code.
type AlertCode string

const (
	AlertUnsupported    AlertCode = "unsupported"
	AlertCapture        AlertCode = "capture"
	AlertSynthesis      AlertCode = "synthesis"
	AlertSend           AlertCode = "send"
	AlertNoSpeechBudget AlertCode = "no-speech-budget"
)

var (
	ErrClosed        = errors.New("conversation: orchestrator is closed")
	ErrBusy          = errors.New("conversation: another turn is in progress")
	ErrModeActive    = errors.New("conversation: hands-free mode owns the microphone")
	ErrUnsupported   = errors.New("conversation: capability not available")
	ErrNothingToPlay = errors.New("conversation: no assistant reply to play")
)

// Device opens exclusive capture sessions. Production wiring uses
// capture.MicDevice; tests substitute fakes.
type Device interface {
	Open(ctx context.Context, cb capture.Callbacks) (Session, error)
}

// Session is one open microphone/recognizer pairing.
type Session interface {
	Close() error
}

// Speaker synthesizes one reply and plays it. The OnEnded callback must fire
// exactly once per successful Speak.
type Speaker interface {
	Speak(ctx context.Context, text string, cb tts.PlaybackCallbacks) (SpokenReply, error)
}

// SpokenReply is an in-flight playback. Stop is idempotent and blocks until
// the playback resources are released.
type SpokenReply interface {
	Stop()
}

// SendFunc delivers a finalized transcript to the host chat. Its return
// signals that the reply has been appended and may be spoken.
type SendFunc func(ctx context.Context, transcript string) error

// EventSink receives orchestrator events for the host UI. Implementations
// must not call back into the orchestrator.
type EventSink interface {
	StateChanged(state State, turnID string)
	Transcript(turnID, text string)
	Level(level float64)
	Alert(code AlertCode, message string)
	AlertCleared()
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) StateChanged(State, string)  {}
func (NopSink) Transcript(string, string)   {}
func (NopSink) Level(float64)               {}
func (NopSink) Alert(AlertCode, string)     {}
func (NopSink) AlertCleared()               {}

// Config tunes turn-taking behavior.
type Config struct {
	// SpeakSettle is the pause before re-arming capture after a spoken reply,
	// so the tail of the assistant's own audio is not captured.
	SpeakSettle time.Duration
	// NoSpeechSettle is the pause before retrying after a no-speech end, so a
	// silent room does not produce a tight retry loop.
	NoSpeechSettle time.Duration
	// MaxNoSpeechRestarts bounds consecutive no-speech restarts.
	MaxNoSpeechRestarts int
	// AutoPlayReplies speaks new assistant messages while the mode is active.
	AutoPlayReplies bool
	// AutoRestart re-arms the microphone after playback ends.
	AutoRestart bool
}

// DefaultConfig matches the product behavior: three strikes, one second of
// settle after speech, two after silence.
func DefaultConfig() Config {
	return Config{
		SpeakSettle:         time.Second,
		NoSpeechSettle:      2 * time.Second,
		MaxNoSpeechRestarts: 3,
		AutoPlayReplies:     true,
		AutoRestart:         true,
	}
}

func (c Config) withDefaults() Config {
	if c.SpeakSettle <= 0 {
		c.SpeakSettle = time.Second
	}
	if c.NoSpeechSettle <= 0 {
		c.NoSpeechSettle = 2 * time.Second
	}
	if c.MaxNoSpeechRestarts <= 0 {
		c.MaxNoSpeechRestarts = 3
	}
	return c
}

// Status summarizes the orchestrator for the host UI.
type Status struct {
	State              State                `json:"state"`
	ConversationActive bool                 `json:"conversationActive"`
	Level              float64              `json:"level"`
	Message            string               `json:"message,omitempty"`
	Capabilities       capture.Capabilities `json:"capabilities"`
}
