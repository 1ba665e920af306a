package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// RMS computes the root-mean-square amplitude of little-endian 16-bit PCM.
// A trailing odd byte is ignored; empty input returns 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}

// Duration converts a PCM byte count into wall-clock time for the given
// format. Non-positive format parameters return 0.
func Duration(bytes, sampleRate, sampleWidth, channels int) time.Duration {
	bytesPerSecond := sampleRate * sampleWidth * channels
	if bytes <= 0 || bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(bytes) / float64(bytesPerSecond) * float64(time.Second))
}
