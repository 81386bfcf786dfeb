package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Sentinel errors that let callers distinguish why the microphone could not
// be opened. Wrapped errors carry the backend detail.
var (
	ErrBackendUnavailable = errors.New("audio backend unavailable")
	ErrNoCaptureDevice    = errors.New("no capture device found")
	ErrDeviceOpen         = errors.New("capture device could not be opened")
)

// MicrophoneConfig describes how the microphone should be captured.
type MicrophoneConfig struct {
	SampleRate uint32
	Channels   uint32
	// FrameSize is the period size in frames per data callback.
	FrameSize uint32
	// BufferedFrames sizes the frame channel; overflowing frames are dropped.
	BufferedFrames int
}

// DefaultMicrophoneConfig is tuned for speech recognition input.
func DefaultMicrophoneConfig() MicrophoneConfig {
	return MicrophoneConfig{
		SampleRate:     16000,
		Channels:       1,
		FrameSize:      480, // 30ms at 16kHz
		BufferedFrames: 64,
	}
}

// Microphone owns one exclusive capture stream on the default input device.
// PCM frames (16-bit little-endian) arrive on Frames until Stop.
type Microphone struct {
	cfg MicrophoneConfig

	mu      sync.Mutex
	running bool
	device  *malgo.Device
	backend *malgo.AllocatedContext

	frames   chan []byte
	dropped  int
	stopOnce sync.Once
}

func NewMicrophone(cfg MicrophoneConfig) *Microphone {
	if cfg.SampleRate == 0 {
		cfg = DefaultMicrophoneConfig()
	}
	if cfg.BufferedFrames <= 0 {
		cfg.BufferedFrames = 64
	}
	return &Microphone{
		cfg:    cfg,
		frames: make(chan []byte, cfg.BufferedFrames),
	}
}

// Start opens the default capture device and begins delivering frames.
func (m *Microphone) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("microphone already running")
	}

	backend, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	infos, err := backend.Devices(malgo.Capture)
	if err != nil || len(infos) == 0 {
		_ = backend.Uninit()
		backend.Free()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoCaptureDevice, err)
		}
		return ErrNoCaptureDevice
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = m.cfg.Channels
	deviceConfig.SampleRate = m.cfg.SampleRate
	deviceConfig.PeriodSizeInFrames = m.cfg.FrameSize

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			frame := make([]byte, len(input))
			copy(frame, input)
			select {
			case m.frames <- frame:
			default:
				m.mu.Lock()
				m.dropped++
				m.mu.Unlock()
			}
		},
	}

	device, err := malgo.InitDevice(backend.Context, deviceConfig, callbacks)
	if err != nil {
		_ = backend.Uninit()
		backend.Free()
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = backend.Uninit()
		backend.Free()
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}

	m.device = device
	m.backend = backend
	m.running = true

	go func() {
		<-ctx.Done()
		_ = m.Stop()
	}()
	return nil
}

// Stop releases the device and closes the frame channel. Idempotent.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	device := m.device
	backend := m.backend
	m.device = nil
	m.backend = nil
	m.mu.Unlock()

	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	if backend != nil {
		_ = backend.Uninit()
		backend.Free()
	}

	m.stopOnce.Do(func() { close(m.frames) })
	return nil
}

// Frames yields captured PCM frames until Stop.
func (m *Microphone) Frames() <-chan []byte { return m.frames }

// DroppedFrames reports how many frames were discarded due to backpressure.
func (m *Microphone) DroppedFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
