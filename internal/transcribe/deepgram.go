package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// ErrMissingAPIKey is returned before dialing when no credentials are set.
var ErrMissingAPIKey = errors.New("deepgram: api key is not configured")

// EventKind classifies recognizer output.
type EventKind string

const (
	// EventPartial is an interim hypothesis; callers must not act on it.
	EventPartial EventKind = "partial"
	// EventFinal is a finalized transcript segment.
	EventFinal EventKind = "final"
	// EventUtteranceEnd marks the recognizer's end-of-utterance boundary.
	EventUtteranceEnd EventKind = "utterance_end"
)

// Event is one recognizer message after decoding.
type Event struct {
	Kind        EventKind
	Text        string
	SpeechFinal bool
}

// Config controls the Deepgram live-transcription websocket.
type Config struct {
	APIKey       string
	BaseURL      string // default https://api.deepgram.com/v1; tests point this at a local server
	Model        string
	Language     string
	SampleRate   int
	Channels     int
	UtteranceEnd bool
}

// Recognizer dials Deepgram live-transcription sessions.
type Recognizer struct {
	cfg Config
}

func NewRecognizer(cfg Config) *Recognizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Recognizer{cfg: cfg}
}

// Start opens one live-transcription stream. The stream ends when CloseSend
// has been called and the server finishes, when Close is called, or when ctx
// is cancelled.
func (r *Recognizer) Start(ctx context.Context) (*Stream, error) {
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	wsURL, err := listenURL(r.cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("deepgram: websocket dial failed: %w", err)
	}

	s := &Stream{
		conn:     conn,
		events:   make(chan Event, 64),
		audio:    make(chan []byte, 32),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
		closing:  make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	return s, nil
}

// Stream is one live recognizer websocket session. Audio goes in via
// SendAudio; decoded transcript events come out of Events.
type Stream struct {
	conn *websocket.Conn

	events   chan Event
	audio    chan []byte
	done     chan struct{}
	readDone chan struct{}
	closing  chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

// SendAudio queues one PCM chunk for delivery.
func (s *Stream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	closed := s.sendClosed
	s.sendMu.RUnlock()
	if closed {
		return errors.New("deepgram: audio stream already closed")
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return errors.New("deepgram: stream closed")
	}
}

// CloseSend stops the audio side and asks the server to flush. Idempotent.
func (s *Stream) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

// Events yields decoded recognizer events until the stream ends.
func (s *Stream) Events() <-chan Event { return s.events }

// Wait blocks until the stream has fully shut down.
func (s *Stream) Wait() error {
	<-s.done
	return s.Err()
}

// Close tears the stream down. Idempotent and safe from any goroutine.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.CloseSend()
		_ = s.conn.Close()
	})
	<-s.done
	return s.Err()
}

// Err returns the first hard stream error, if any. Normal websocket closes
// are not errors.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Stream) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
					s.setErr(fmt.Errorf("deepgram: close stream: %w", err))
				}
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("deepgram: send audio: %w", err))
				return
			}
		case <-s.readDone:
			// Reader died; nothing sane to write anymore.
			return
		}
	}
}

func (s *Stream) readLoop() {
	defer s.wg.Done()
	defer close(s.readDone)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("deepgram: read event: %w", err))
			return
		}

		var resp listenResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			log.Debug("dropping undecodable recognizer payload", "error", err)
			continue
		}

		switch {
		case strings.EqualFold(resp.Type, "Error"):
			msg := strings.TrimSpace(resp.Message)
			if msg == "" {
				msg = "deepgram returned an unknown error"
			}
			s.setErr(errors.New(msg))
			return
		case strings.EqualFold(resp.Type, "UtteranceEnd"):
			s.emit(Event{Kind: EventUtteranceEnd})
			continue
		}

		text := extractTranscript(resp)
		if text == "" {
			continue
		}
		ev := Event{Text: text, SpeechFinal: resp.SpeechFinal}
		if resp.IsFinal || resp.SpeechFinal {
			ev.Kind = EventFinal
		} else {
			ev.Kind = EventPartial
		}
		s.emit(ev)
	}
}

// emit delivers ev on the events channel. A lagging consumer may lose
// partials, which the next partial supersedes anyway; a final or an
// utterance end is never dropped while the stream is open.
func (s *Stream) emit(ev Event) {
	if ev.Kind == EventPartial {
		select {
		case s.events <- ev:
		case <-s.closing:
		default:
		}
		return
	}
	select {
	case s.events <- ev:
	case <-s.closing:
	}
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func extractTranscript(resp listenResponse) string {
	if len(resp.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
}

func listenURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	u, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("deepgram: invalid base url: %w", err)
	}

	q := u.Query()
	q.Set("model", cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", cfg.SampleRate))
	q.Set("channels", fmt.Sprintf("%d", cfg.Channels))
	q.Set("interim_results", "true")
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	if cfg.UtteranceEnd {
		q.Set("utterance_end_ms", "1000")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
