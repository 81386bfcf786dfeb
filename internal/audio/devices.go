package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// DeviceAvailability reports what the host audio backend offers.
type DeviceAvailability struct {
	Capture  bool
	Playback bool
}

// ProbeDevices enumerates host audio devices once at startup. A failed probe
// means the backend itself is unavailable; missing device classes are
// reported, not errors.
func ProbeDevices() (DeviceAvailability, error) {
	backend, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return DeviceAvailability{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer func() {
		_ = backend.Uninit()
		backend.Free()
	}()

	var avail DeviceAvailability
	if infos, err := backend.Devices(malgo.Capture); err == nil && len(infos) > 0 {
		avail.Capture = true
	}
	if infos, err := backend.Devices(malgo.Playback); err == nil && len(infos) > 0 {
		avail.Playback = true
	}
	return avail, nil
}
