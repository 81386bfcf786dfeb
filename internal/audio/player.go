package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// PlayerConfig describes the raw PCM format of spooled replies.
type PlayerConfig struct {
	SampleRate uint32
	Channels   uint32
}

// DevicePlayer renders 16-bit little-endian PCM files on the default output
// device. One playback at a time; Play blocks until the audio is exhausted or
// ctx is cancelled.
type DevicePlayer struct {
	cfg PlayerConfig
}

func NewDevicePlayer(cfg PlayerConfig) *DevicePlayer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &DevicePlayer{cfg: cfg}
}

func (p *DevicePlayer) Play(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("player: read spool: %w", err)
	}
	if len(data) == 0 {
		return errors.New("player: empty spool")
	}

	backend, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer func() {
		_ = backend.Uninit()
		backend.Free()
	}()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = p.cfg.Channels
	deviceConfig.SampleRate = p.cfg.SampleRate

	var (
		mu       sync.Mutex
		pos      int
		done     = make(chan struct{})
		doneOnce sync.Once
	)
	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			mu.Lock()
			n := copy(output, data[pos:])
			pos += n
			finished := pos >= len(data)
			mu.Unlock()
			for i := n; i < len(output); i++ {
				output[i] = 0
			}
			if finished {
				doneOnce.Do(func() { close(done) })
			}
		},
	}

	device, err := malgo.InitDevice(backend.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}
	defer func() { _ = device.Stop() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		// Let the device drain the final period before stopping.
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}
}
