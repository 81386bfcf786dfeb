package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"voiceloop/internal/audio"
	"voiceloop/internal/capture"
	"voiceloop/internal/chat"
	"voiceloop/internal/config"
	"voiceloop/internal/conversation"
	"voiceloop/internal/httpserver"
	"voiceloop/internal/transcribe"
	"voiceloop/internal/tts"
)

// micDevice adapts the concrete capture device to the orchestrator's
// interface.
type micDevice struct {
	dev *capture.MicDevice
}

func (d micDevice) Open(ctx context.Context, cb capture.Callbacks) (conversation.Session, error) {
	sess, err := d.dev.Open(ctx, cb)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// speaker adapts the synthesis client the same way.
type speaker struct {
	client *tts.Client
}

func (s speaker) Speak(ctx context.Context, text string, cb tts.PlaybackCallbacks) (conversation.SpokenReply, error) {
	playback, err := s.client.Speak(ctx, text, cb)
	if err != nil {
		return nil, err
	}
	return playback, nil
}

func main() {
	log.SetTimeFormat(time.TimeOnly)
	if os.Getenv("DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	}

	cfg := config.Load()

	caps := capture.Probe(capture.ProbeInput{
		RecognizerKey:  cfg.DeepgramKey,
		SynthesisKey:   cfg.ElevenLabsKey,
		SynthesisVoice: cfg.ElevenLabsVoiceID,
	})

	recognizer := transcribe.NewRecognizer(transcribe.Config{
		APIKey:     cfg.DeepgramKey,
		Model:      cfg.DeepgramModel,
		Language:   cfg.DeepgramLanguage,
		SampleRate: cfg.CaptureSampleRate,
	})
	device := micDevice{dev: capture.NewMicDevice(capture.Config{
		SampleRate: cfg.CaptureSampleRate,
	}, recognizer)}

	player := audio.NewDevicePlayer(audio.PlayerConfig{})
	synth := tts.NewClient(tts.ClientConfig{
		APIKey:  cfg.ElevenLabsKey,
		VoiceID: cfg.ElevenLabsVoiceID,
		ModelID: cfg.ElevenLabsModelID,
	}, player)

	chatClient := chat.NewClient(cfg.ChatAPIKey, cfg.ChatModelID, cfg.ChatAPIURL)

	hub := httpserver.NewHub()

	orchCfg := conversation.DefaultConfig()
	orchCfg.SpeakSettle = cfg.SpeakSettle
	orchCfg.NoSpeechSettle = cfg.NoSpeechSettle
	orch := conversation.New(device, speaker{client: synth}, chatClient.Send, hub, caps, orchCfg)
	chatClient.OnReply(orch.NotifyAssistantMessage)

	srv := httpserver.New(orch, chatClient, hub)

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddress)
		serverErrors <- srv.Start(cfg.HTTPAddress)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Fatal("server error", "error", err)
		}
	case sig := <-sigChan:
		log.Info("shutdown signal received", "signal", sig)
	}

	orch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
