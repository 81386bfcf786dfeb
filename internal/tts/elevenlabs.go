package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ErrMissingCredentials is returned before any network call when the client
// has no API key or voice id configured.
var ErrMissingCredentials = errors.New("elevenlabs: api key or voice id missing")

// ErrNothingToSay is returned when the text normalizes to an empty string.
var ErrNothingToSay = errors.New("elevenlabs: nothing to say after normalization")

// SynthesisError reports a non-2xx response from the synthesis service.
// Callers treat it as a recoverable turn failure, not fatal to the conversation.
type SynthesisError struct {
	Status int
	Body   string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("elevenlabs: status=%d body=%s", e.Status, e.Body)
}

// VoiceSettings mirror the ElevenLabs voice_settings payload.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DefaultVoiceSettings keeps the voice steady without sounding flat.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{Stability: 0.4, SimilarityBoost: 0.7, Style: 0.0, UseSpeakerBoost: true}
}

// ClientConfig configures the ElevenLabs synthesis client.
type ClientConfig struct {
	APIKey   string
	VoiceID  string
	ModelID  string
	BaseURL  string // default https://api.elevenlabs.io
	Settings VoiceSettings
	// SampleRate selects the pcm_<rate> output format the player consumes.
	SampleRate int
}

// Client converts assistant text into audible speech: normalize, synthesize
// over HTTP, spool the returned audio, and play it exactly once per call.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	player     Player
	spoolDir   string
}

// NewClient constructs a synthesis client that plays through the given Player.
func NewClient(cfg ClientConfig, player Player) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_flash_v2_5"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Settings == (VoiceSettings{}) {
		cfg.Settings = DefaultVoiceSettings()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		player:     player,
	}
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// Speak normalizes text, fetches audio for it and starts playback. The
// returned Playback ends exactly once: on natural completion, Stop, or
// context cancellation, and its spool is released on every one of those paths.
func (c *Client) Speak(ctx context.Context, text string, cb PlaybackCallbacks) (*Playback, error) {
	if c.cfg.APIKey == "" || c.cfg.VoiceID == "" {
		return nil, ErrMissingCredentials
	}
	normalized := Normalize(text)
	if normalized == "" {
		return nil, ErrNothingToSay
	}

	audio, err := c.synthesize(ctx, normalized)
	if err != nil {
		return nil, err
	}
	log.Debug("synthesis complete", "chars", len(normalized), "bytes", len(audio))

	return startPlayback(c.player, audio, c.spoolDir, cb)
}

func (c *Client) synthesize(ctx context.Context, text string) ([]byte, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: bad base url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/text-to-speech/" + c.cfg.VoiceID
	q := u.Query()
	q.Set("output_format", fmt.Sprintf("pcm_%d", c.cfg.SampleRate))
	u.RawQuery = q.Encode()

	body, _ := json.Marshal(speechRequest{
		Text:          text,
		ModelID:       c.cfg.ModelID,
		VoiceSettings: c.cfg.Settings,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &SynthesisError{Status: resp.StatusCode, Body: string(b)}
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("elevenlabs: empty audio response")
	}
	return audio, nil
}
