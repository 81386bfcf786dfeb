package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestNewRecognizerDefaults(t *testing.T) {
	t.Parallel()

	r := NewRecognizer(Config{})
	if r.cfg.BaseURL != "https://api.deepgram.com/v1" {
		t.Fatalf("unexpected base url: %q", r.cfg.BaseURL)
	}
	if r.cfg.Model != "nova-2" {
		t.Fatalf("unexpected model: %q", r.cfg.Model)
	}
	if r.cfg.SampleRate != 16000 || r.cfg.Channels != 1 {
		t.Fatalf("unexpected audio defaults: %d/%d", r.cfg.SampleRate, r.cfg.Channels)
	}
}

func TestStartRequiresAPIKey(t *testing.T) {
	t.Parallel()

	r := NewRecognizer(Config{})
	if _, err := r.Start(context.Background()); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestListenURL(t *testing.T) {
	t.Parallel()

	u, err := listenURL(Config{
		BaseURL:      "https://api.deepgram.com/v1",
		Model:        "nova-2",
		Language:     "en-US",
		SampleRate:   16000,
		Channels:     1,
		UtteranceEnd: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(u, "wss://api.deepgram.com/v1/listen") {
		t.Fatalf("unexpected ws url: %s", u)
	}
	for _, frag := range []string{"encoding=linear16", "sample_rate=16000", "language=en-US", "interim_results=true", "utterance_end_ms=1000"} {
		if !strings.Contains(u, frag) {
			t.Fatalf("expected %q in url: %s", frag, u)
		}
	}

	u, err = listenURL(Config{BaseURL: "http://localhost:9999/v1", Model: "m", SampleRate: 8000, Channels: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(u, "ws://localhost:9999/v1/listen") {
		t.Fatalf("expected plain ws scheme: %s", u)
	}
}

func TestExtractTranscript(t *testing.T) {
	t.Parallel()

	var r listenResponse
	if got := extractTranscript(r); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
	r.Channel.Alternatives = append(r.Channel.Alternatives, struct {
		Transcript string `json:"transcript"`
	}{Transcript: "  wrist pain  "})
	if got := extractTranscript(r); got != "wrist pain" {
		t.Fatalf("unexpected transcript %q", got)
	}
}

func TestStreamSendAudioAfterCloseSend(t *testing.T) {
	t.Parallel()

	s := &Stream{sendClosed: true}
	if err := s.SendAudio([]byte{1}); err == nil {
		t.Fatalf("expected closed error")
	}
}

func TestStreamCloseSendIsIdempotent(t *testing.T) {
	t.Parallel()

	s := &Stream{audio: make(chan []byte, 1)}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("unexpected second error: %v", err)
	}
}

func TestEmitKeepsFinalsWhenBufferIsFull(t *testing.T) {
	t.Parallel()

	s := &Stream{events: make(chan Event, 1), closing: make(chan struct{})}
	s.emit(Event{Kind: EventPartial, Text: "first"})
	s.emit(Event{Kind: EventPartial, Text: "dropped"})

	delivered := make(chan struct{})
	go func() {
		s.emit(Event{Kind: EventFinal, Text: "I have wrist pain"})
		close(delivered)
	}()

	if ev := <-s.events; ev.Kind != EventPartial || ev.Text != "first" {
		t.Fatalf("unexpected buffered event: %+v", ev)
	}
	select {
	case ev := <-s.events:
		if ev.Kind != EventFinal || ev.Text != "I have wrist pain" {
			t.Fatalf("expected the final transcript, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("final transcript was dropped")
	}
	<-delivered
}

func TestEmitFinalUnblocksOnClose(t *testing.T) {
	t.Parallel()

	s := &Stream{events: make(chan Event), closing: make(chan struct{})}
	returned := make(chan struct{})
	go func() {
		s.emit(Event{Kind: EventFinal, Text: "late"})
		close(returned)
	}()
	close(s.closing)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatalf("emit did not unblock after close")
	}
}

func TestStreamSetErr(t *testing.T) {
	t.Parallel()

	s := &Stream{}
	s.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "bye"})
	if s.Err() != nil {
		t.Fatalf("normal close must not count as an error")
	}
	s.setErr(errors.New("first"))
	s.setErr(errors.New("second"))
	if s.Err() == nil || s.Err().Error() != "first" {
		t.Fatalf("expected first error to win, got %v", s.Err())
	}
}

// fakeListenServer speaks just enough of the Deepgram live protocol for tests.
func fakeListenServer(t *testing.T, payloads []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/listen" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for _, p := range payloads {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
				return
			}
		}
		// Drain client frames until CloseStream, then close normally.
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.Contains(string(data), "CloseStream") {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
		}
	}))
}

func TestStream_EndToEndEvents(t *testing.T) {
	t.Parallel()

	srv := fakeListenServer(t, []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"I have"}]}}`,
		`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"I have wrist pain"}]}}`,
		`{"type":"UtteranceEnd"}`,
	})
	defer srv.Close()

	r := NewRecognizer(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stream, err := r.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stream.Close()

	if err := stream.SendAudio(make([]byte, 320)); err != nil {
		t.Fatalf("send audio: %v", err)
	}

	var kinds []EventKind
	var finalText string
	deadline := time.After(2 * time.Second)
	for len(kinds) < 3 {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				t.Fatalf("events closed early, got %v", kinds)
			}
			kinds = append(kinds, ev.Kind)
			if ev.Kind == EventFinal {
				finalText = ev.Text
			}
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", kinds)
		}
	}

	if kinds[0] != EventPartial || kinds[1] != EventFinal || kinds[2] != EventUtteranceEnd {
		t.Fatalf("unexpected event order: %v", kinds)
	}
	if finalText != "I have wrist pain" {
		t.Fatalf("unexpected final transcript %q", finalText)
	}

	_ = stream.CloseSend()
	if err := stream.Wait(); err != nil {
		t.Fatalf("stream ended with error: %v", err)
	}
}

func TestStream_ServerErrorSurfaces(t *testing.T) {
	t.Parallel()

	srv := fakeListenServer(t, []string{
		`{"type":"Error","message":"unsupported language"}`,
	})
	defer srv.Close()

	r := NewRecognizer(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	stream, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stream.Close()

	if err := stream.Wait(); err == nil || !strings.Contains(err.Error(), "unsupported language") {
		t.Fatalf("expected server error, got %v", err)
	}
}
