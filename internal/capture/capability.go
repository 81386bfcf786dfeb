package capture

import (
	"github.com/charmbracelet/log"

	"voiceloop/internal/audio"
)

// Capabilities is the one capability record produced at startup. The
// hands-free toggle and the manual controls both consume it instead of
// feature-detecting on the fly.
type Capabilities struct {
	Microphone  bool `json:"microphone"`
	Playback    bool `json:"playback"`
	Recognition bool `json:"recognition"`
	Synthesis   bool `json:"synthesis"`

	// Detail carries a human-readable reason per missing capability.
	Detail map[string]string `json:"detail,omitempty"`
}

// ProbeInput carries the credentials whose presence gates remote capabilities.
type ProbeInput struct {
	RecognizerKey  string
	SynthesisKey   string
	SynthesisVoice string
}

// Probe enumerates audio devices and checks configured credentials once.
func Probe(in ProbeInput) Capabilities {
	caps := Capabilities{Detail: map[string]string{}}

	avail, err := audio.ProbeDevices()
	if err != nil {
		caps.Detail["audio"] = "audio backend unavailable on this system"
		log.Warn("audio probe failed", "error", err)
	} else {
		caps.Microphone = avail.Capture
		caps.Playback = avail.Playback
		if !avail.Capture {
			caps.Detail["microphone"] = "no capture device found"
		}
		if !avail.Playback {
			caps.Detail["playback"] = "no playback device found"
		}
	}

	if in.RecognizerKey != "" {
		caps.Recognition = true
	} else {
		caps.Detail["recognition"] = "speech recognition credentials missing"
	}
	if in.SynthesisKey != "" && in.SynthesisVoice != "" {
		caps.Synthesis = true
	} else {
		caps.Detail["synthesis"] = "speech synthesis credentials missing"
	}

	log.Info("capabilities probed",
		"microphone", caps.Microphone,
		"playback", caps.Playback,
		"recognition", caps.Recognition,
		"synthesis", caps.Synthesis,
	)
	return caps
}

// CanRecord reports whether the manual record control is usable.
func (c Capabilities) CanRecord() bool { return c.Microphone && c.Recognition }

// CanSpeak reports whether replies can be played aloud.
func (c Capabilities) CanSpeak() bool { return c.Playback && c.Synthesis }

// HandsFree reports whether automatic conversation mode is supported.
func (c Capabilities) HandsFree() bool { return c.CanRecord() && c.CanSpeak() }
