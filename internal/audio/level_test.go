package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcmFrame(amplitude int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

func TestLevel_SilenceIsZero(t *testing.T) {
	if got := Level(pcmFrame(0, 480)); got != 0 {
		t.Fatalf("expected 0 for silence, got %v", got)
	}
}

func TestLevel_EmptyFrame(t *testing.T) {
	if got := Level(nil); got != 0 {
		t.Fatalf("expected 0 for empty frame, got %v", got)
	}
	if got := Level([]byte{1}); got != 0 {
		t.Fatalf("expected 0 for sub-sample frame, got %v", got)
	}
}

func TestLevel_FullScaleClampsTo100(t *testing.T) {
	if got := Level(pcmFrame(32767, 480)); got != 100 {
		t.Fatalf("expected clamp to 100, got %v", got)
	}
}

func TestLevel_ScalesWithAmplitude(t *testing.T) {
	// Constant amplitude a: RMS = a/32768, level = 200*a/32768.
	got := Level(pcmFrame(3277, 480))
	want := 200 * 3277.0 / 32768.0
	if math.Abs(got-want) > 0.1 {
		t.Fatalf("got %v want ~%v", got, want)
	}
	if got <= 0 || got >= 100 {
		t.Fatalf("expected mid-range level, got %v", got)
	}

	louder := Level(pcmFrame(6554, 480))
	if louder <= got {
		t.Fatalf("louder frame must score higher: %v vs %v", louder, got)
	}
}
