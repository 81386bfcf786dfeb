package capture

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"voiceloop/internal/audio"
	"voiceloop/internal/transcribe"
)

// Callbacks receive the outcome of one capture session. Exactly one of
// OnTranscript, OnNoSpeech or OnError fires per session, and none of them
// fire once Close has been called.
type Callbacks struct {
	// OnTranscript delivers a finalized, trimmed, non-empty transcript.
	OnTranscript func(text string)
	// OnNoSpeech reports a benign end: the recognizer heard nothing usable.
	OnNoSpeech func()
	// OnError reports a hard failure (*Error).
	OnError func(err error)
	// OnLevel reports throttled 0-100 input activity while recording.
	OnLevel func(level float64)
}

// Config tunes the microphone/recognizer pairing.
type Config struct {
	SampleRate int
	// NoSpeechTimeout bounds how long a session waits for a finalized
	// transcript before ending as no-speech.
	NoSpeechTimeout time.Duration
	// MeterInterval throttles level callbacks.
	MeterInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.NoSpeechTimeout <= 0 {
		c.NoSpeechTimeout = 8 * time.Second
	}
	if c.MeterInterval <= 0 {
		c.MeterInterval = 50 * time.Millisecond
	}
	return c
}

// MicDevice pairs the default microphone with a live recognizer stream.
// Each Open yields exactly one exclusive Session.
type MicDevice struct {
	cfg        Config
	recognizer *transcribe.Recognizer
}

func NewMicDevice(cfg Config, recognizer *transcribe.Recognizer) *MicDevice {
	return &MicDevice{cfg: cfg.withDefaults(), recognizer: recognizer}
}

// Open acquires the microphone and the recognizer and starts pumping audio.
// Failures are typed *Error values with distinct kinds per cause.
func (d *MicDevice) Open(ctx context.Context, cb Callbacks) (*Session, error) {
	sessionCtx, cancel := context.WithCancel(ctx)

	mic := audio.NewMicrophone(audio.MicrophoneConfig{
		SampleRate: uint32(d.cfg.SampleRate),
		Channels:   1,
		FrameSize:  uint32(d.cfg.SampleRate * 30 / 1000), // 30ms periods
	})
	if err := mic.Start(sessionCtx); err != nil {
		cancel()
		return nil, classifyOpenError(err)
	}

	stream, err := d.recognizer.Start(sessionCtx)
	if err != nil {
		_ = mic.Stop()
		cancel()
		return nil, classifyOpenError(err)
	}

	s := &Session{
		cancel: cancel,
		mic:    mic,
		stream: stream,
		cb:     cb,
		meter:  NewMeter(d.cfg.MeterInterval, cb.OnLevel),
	}

	go s.pumpAudio()
	go s.consumeEvents(d.cfg.NoSpeechTimeout)

	log.Debug("capture session opened", "sample_rate", d.cfg.SampleRate)
	return s, nil
}

// Session is one exclusive microphone + recognizer pairing. It reports
// exactly one terminal outcome unless closed first.
type Session struct {
	cancel context.CancelFunc
	mic    *audio.Microphone
	stream *transcribe.Stream
	cb     Callbacks
	meter  *Meter

	aborted      atomic.Bool
	terminalOnce sync.Once
	closeOnce    sync.Once
}

// Close releases the microphone and the recognizer. Idempotent, and safe to
// call at any time, including after the terminal callback and from within it.
// A session closed before its terminal outcome reports nothing: the app
// aborting its own capture is not an event worth surfacing.
func (s *Session) Close() error {
	s.aborted.Store(true)
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.mic.Stop()
		_ = s.stream.Close()
		log.Debug("capture session closed")
	})
	return nil
}

// terminal runs the one allowed outcome callback, unless the session was
// aborted first.
func (s *Session) terminal(outcome func()) {
	s.terminalOnce.Do(func() {
		if s.aborted.Load() {
			return
		}
		outcome()
	})
}

func (s *Session) pumpAudio() {
	for frame := range s.mic.Frames() {
		s.meter.Feed(frame)
		if err := s.stream.SendAudio(frame); err != nil {
			break
		}
	}
	_ = s.stream.CloseSend()
}

func (s *Session) consumeEvents(noSpeechTimeout time.Duration) {
	timer := time.NewTimer(noSpeechTimeout)
	defer timer.Stop()

	gotFinal := false
	for {
		select {
		case ev, ok := <-s.stream.Events():
			if !ok {
				err := s.stream.Err()
				switch {
				case s.aborted.Load():
				case err != nil:
					s.terminal(func() {
						s.cb.OnError(classifyStreamError(err))
					})
				case !gotFinal:
					s.terminal(s.cb.OnNoSpeech)
				}
				s.finish()
				return
			}
			switch ev.Kind {
			case transcribe.EventFinal:
				text := strings.TrimSpace(ev.Text)
				if text == "" {
					continue
				}
				gotFinal = true
				s.terminal(func() { s.cb.OnTranscript(text) })
				s.finish()
				return
			case transcribe.EventUtteranceEnd:
				if !gotFinal {
					s.terminal(s.cb.OnNoSpeech)
					s.finish()
					return
				}
			case transcribe.EventPartial:
				// Still hearing something; push the no-speech horizon out.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(noSpeechTimeout)
			}
		case <-timer.C:
			if !s.aborted.Load() {
				s.terminal(s.cb.OnNoSpeech)
			}
			s.finish()
			return
		}
	}
}

// finish tears the hardware down after a terminal outcome without tripping
// the abort guard that Close sets for caller-initiated shutdown.
func (s *Session) finish() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.mic.Stop()
		_ = s.stream.Close()
		log.Debug("capture session finished")
	})
}

func classifyStreamError(err error) *Error {
	return newError(KindRecognizer, "speech recognition failed - check your network connection", err)
}
