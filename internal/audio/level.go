package audio

import "math"

// Level converts one 16-bit little-endian PCM frame into a 0-100 activity
// value for UI feedback. The raw RMS average is doubled and clamped so normal
// speech fills most of the range.
func Level(pcm []byte) float64 {
	sampleCount := len(pcm) / 2
	if sampleCount == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	rms := math.Sqrt(sum / float64(sampleCount))
	level := rms * 100 * 2
	if level > 100 {
		level = 100
	}
	return level
}
