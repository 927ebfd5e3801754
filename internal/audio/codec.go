package audio

import (
	"encoding/base64"
	"math"
	"time"
)

const (
	// CaptureSampleRate is the rate the remote service expects for microphone audio
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the rate of synthesized audio received from the remote service
	PlaybackSampleRate = 24000
	// FrameSize is the number of samples in one captured frame
	FrameSize = 4096

	pcmScale = 32768.0
)

// Buffer is decoded, de-interleaved audio ready to be played
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of sample frames in the buffer
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Samples returns the first channel
func (b *Buffer) Samples() []float32 {
	if b == nil || len(b.Channels) == 0 {
		return nil
	}
	return b.Channels[0]
}

// FloatToPCM16 converts float samples in [-1, 1] to little-endian 16-bit PCM.
// Samples are scaled by 32768 and truncated; values outside the int16 range are clamped.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * pcmScale
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		sample := int16(v)
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}

// PCM16ToFloat decodes little-endian 16-bit PCM into a playable buffer,
// de-interleaving by channel. A trailing partial frame is ignored.
func PCM16ToFloat(data []byte, sampleRate, channels int) *Buffer {
	if channels <= 0 {
		channels = 1
	}

	frames := len(data) / 2 / channels
	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}

	for i := 0; i < frames*channels; i++ {
		sample := int16(data[i*2]) | int16(data[i*2+1])<<8
		buf.Channels[i%channels][i/channels] = float32(float64(sample) / pcmScale)
	}

	return buf
}

// EncodeBase64 encodes bytes for transport over a text-only channel
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 reverses EncodeBase64
func DecodeBase64(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(text)
}

// Resample performs simple linear interpolation resampling
func Resample(samples []float32, inputRate, outputRate int) []float32 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]float32, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = float32(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// RMS calculates the root mean square of float samples
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
