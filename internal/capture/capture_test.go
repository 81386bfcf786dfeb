package capture

import (
	"errors"
	"sync"
	"testing"
	"time"

	"voiceloop/internal/audio"
	"voiceloop/internal/transcribe"
)

func TestClassifyOpenError(t *testing.T) {
	cases := []struct {
		err  error
		kind ErrorKind
	}{
		{audio.ErrBackendUnavailable, KindUnsupported},
		{audio.ErrNoCaptureDevice, KindNoDevice},
		{audio.ErrDeviceOpen, KindDeviceBusy},
		{transcribe.ErrMissingAPIKey, KindUnsupported},
		{errors.New("dial tcp: connection refused"), KindRecognizer},
	}
	for _, tc := range cases {
		got := classifyOpenError(tc.err)
		if got.Kind != tc.kind {
			t.Fatalf("classify(%v) = %s, want %s", tc.err, got.Kind, tc.kind)
		}
		if got.Message == "" {
			t.Fatalf("classify(%v) produced empty message", tc.err)
		}
		if !errors.Is(got, tc.err) {
			t.Fatalf("classify(%v) lost its cause", tc.err)
		}
	}
}

func TestErrorPersistence(t *testing.T) {
	persistent := []ErrorKind{KindUnsupported, KindPermissionDenied, KindNoDevice}
	transient := []ErrorKind{KindDeviceBusy, KindBadConstraints, KindRecognizer}
	for _, k := range persistent {
		if !(&Error{Kind: k}).Persistent() {
			t.Fatalf("expected %s to be persistent", k)
		}
	}
	for _, k := range transient {
		if (&Error{Kind: k}).Persistent() {
			t.Fatalf("expected %s to be transient", k)
		}
	}
}

func TestMeter_ThrottlesAndScales(t *testing.T) {
	var mu sync.Mutex
	var readings []float64
	m := NewMeter(20*time.Millisecond, func(level float64) {
		mu.Lock()
		readings = append(readings, level)
		mu.Unlock()
	})

	loud := make([]byte, 960)
	for i := 0; i+1 < len(loud); i += 2 {
		loud[i] = 0xFF
		loud[i+1] = 0x7F
	}
	for i := 0; i < 10; i++ {
		m.Feed(loud)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(readings) != 1 {
		t.Fatalf("expected throttling to one reading, got %d", len(readings))
	}
	if readings[0] != 100 {
		t.Fatalf("expected full-scale clamp to 100, got %v", readings[0])
	}
}

func TestMeter_NilEmitIsSafe(t *testing.T) {
	m := NewMeter(time.Millisecond, nil)
	m.Feed(make([]byte, 32))

	var nilMeter *Meter
	nilMeter.Feed(make([]byte, 32))
}

func TestCapabilities_Gates(t *testing.T) {
	all := Capabilities{Microphone: true, Playback: true, Recognition: true, Synthesis: true}
	if !all.CanRecord() || !all.CanSpeak() || !all.HandsFree() {
		t.Fatalf("full capabilities should enable everything")
	}

	noMic := all
	noMic.Microphone = false
	if noMic.CanRecord() || noMic.HandsFree() {
		t.Fatalf("missing microphone must disable record and hands-free")
	}
	if !noMic.CanSpeak() {
		t.Fatalf("missing microphone must not disable speech")
	}

	noTTS := all
	noTTS.Synthesis = false
	if noTTS.CanSpeak() || noTTS.HandsFree() {
		t.Fatalf("missing synthesis must disable speech and hands-free")
	}
	if !noTTS.CanRecord() {
		t.Fatalf("missing synthesis must not disable recording")
	}
}

func TestSessionTerminalOnce(t *testing.T) {
	fired := 0
	s := &Session{}
	s.terminal(func() { fired++ })
	s.terminal(func() { fired++ })
	if fired != 1 {
		t.Fatalf("expected exactly one terminal outcome, got %d", fired)
	}
}

func TestSessionAbortSuppressesTerminal(t *testing.T) {
	fired := 0
	s := &Session{}
	s.aborted.Store(true)
	s.terminal(func() { fired++ })
	if fired != 0 {
		t.Fatalf("aborted session must not report an outcome")
	}
}
