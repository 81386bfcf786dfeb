package capture

import (
	"time"

	"voiceloop/internal/audio"
)

// Meter turns raw PCM frames into throttled 0-100 activity readings for UI
// feedback. It exists only while a session is recording; feeding it costs one
// RMS pass per frame and emits at most once per interval.
type Meter struct {
	interval time.Duration
	emit     func(level float64)
	last     time.Time
}

// NewMeter returns a meter that calls emit at most once per interval.
// A nil emit disables the meter; capture proceeds without visual feedback.
func NewMeter(interval time.Duration, emit func(level float64)) *Meter {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Meter{interval: interval, emit: emit}
}

// Feed samples one PCM frame.
func (m *Meter) Feed(frame []byte) {
	if m == nil || m.emit == nil {
		return
	}
	now := time.Now()
	if now.Sub(m.last) < m.interval {
		return
	}
	m.last = now
	m.emit(audio.Level(frame))
}
