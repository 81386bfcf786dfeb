package config

import (
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	DeepgramKey      string
	DeepgramModel    string
	DeepgramLanguage string

	ElevenLabsKey     string
	ElevenLabsVoiceID string
	ElevenLabsModelID string

	ChatAPIURL  string
	ChatAPIKey  string
	ChatModelID string

	CaptureSampleRate int
	SpeakSettle       time.Duration
	NoSpeechSettle    time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded", "error", err)
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	dgKey := os.Getenv("DEEPGRAM_API_KEY")
	if dgKey == "" {
		log.Warn("DEEPGRAM_API_KEY not set - voice capture will not work")
	}
	dgModel := os.Getenv("DEEPGRAM_MODEL")
	if dgModel == "" {
		dgModel = "nova-2"
	}
	dgLang := os.Getenv("DEEPGRAM_LANGUAGE")
	if dgLang == "" {
		dgLang = "en-US"
	}

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	if elevenKey == "" {
		log.Warn("ELEVENLABS_API_KEY not set - spoken replies will not work")
	}
	voiceID := os.Getenv("ELEVENLABS_VOICE_ID")
	if voiceID == "" {
		log.Warn("ELEVENLABS_VOICE_ID not set - set a concrete voice ID from your ElevenLabs dashboard")
	}
	elevenModel := os.Getenv("ELEVENLABS_MODEL_ID")
	if elevenModel == "" {
		elevenModel = "eleven_flash_v2_5"
	}

	// Base URL only; the chat client appends /v1/chat/completions.
	chatURL := os.Getenv("CHAT_API_URL")
	if chatURL == "" {
		chatURL = "https://api.cerebras.ai"
	}
	chatKey := os.Getenv("CHAT_API_KEY")
	if chatKey == "" {
		log.Warn("CHAT_API_KEY not set - assistant replies will not work")
	}
	chatModel := os.Getenv("CHAT_MODEL_ID")
	if chatModel == "" {
		chatModel = "gpt-oss-120b"
	}

	log.Info("config loaded", "http_address", addr, "deepgram_model", dgModel, "chat_model", chatModel)
	return Config{
		HTTPAddress:       addr,
		DeepgramKey:       dgKey,
		DeepgramModel:     dgModel,
		DeepgramLanguage:  dgLang,
		ElevenLabsKey:     elevenKey,
		ElevenLabsVoiceID: voiceID,
		ElevenLabsModelID: elevenModel,
		ChatAPIURL:        chatURL,
		ChatAPIKey:        chatKey,
		ChatModelID:       chatModel,
		CaptureSampleRate: envInt("CAPTURE_SAMPLE_RATE", 16000),
		SpeakSettle:       envMillis("SPEAK_SETTLE_MS", 1000),
		NoSpeechSettle:    envMillis("NO_SPEECH_SETTLE_MS", 2000),
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Warn("ignoring invalid integer env value", "key", key, "value", raw)
		return fallback
	}
	return v
}

func envMillis(key string, fallbackMs int) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(fallbackMs) * time.Millisecond
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		log.Warn("ignoring invalid millisecond env value", "key", key, "value", raw)
		return time.Duration(fallbackMs) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}
