// Package audio implements the audio pipeline for a live memoir session:
// the PCM wire codec, microphone capture, and gapless output scheduling.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrDecode indicates a malformed wire-encoded audio payload. Callers drop
// the segment; playback scheduling continues unaffected.
var ErrDecode = errors.New("audio: malformed payload")

const (
	// CaptureSampleRate is the fixed microphone capture rate in Hz.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the default rate for audio received from the
	// remote session, in Hz.
	PlaybackSampleRate = 24000

	// CaptureFrameSamples is the number of mono samples per capture frame.
	CaptureFrameSamples = 4096

	bytesPerSample = 2
)

// CaptureMIMEType is the media type attached to outbound capture frames.
const CaptureMIMEType = "audio/pcm;rate=16000"

// Encode converts raw PCM bytes to the transport-safe text encoding.
// Decode(Encode(b)) == b for any byte sequence; this is the wire contract
// with the remote service and must stay bit-exact.
func Encode(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// Decode reverses Encode.
func Decode(data string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return b, nil
}

// Frame is a block of decoded, playable audio: one normalized sample buffer
// per channel, all the same length.
type Frame struct {
	Channels   [][]float32
	SampleRate int
}

// Duration returns the frame length in seconds.
func (f Frame) Duration() float64 {
	if f.SampleRate <= 0 || len(f.Channels) == 0 {
		return 0
	}
	return float64(len(f.Channels[0])) / float64(f.SampleRate)
}

// Samples returns the per-channel sample count.
func (f Frame) Samples() int {
	if len(f.Channels) == 0 {
		return 0
	}
	return len(f.Channels[0])
}

// DecodePCM16 interprets pcm as signed 16-bit little-endian samples,
// interleaved across channelCount channels, and normalizes each sample to
// [-1, 1]. A trailing incomplete sample is truncated rather than rejected.
func DecodePCM16(pcm []byte, sampleRate, channelCount int) Frame {
	if channelCount < 1 {
		channelCount = 1
	}
	total := len(pcm) / bytesPerSample
	perChannel := total / channelCount

	channels := make([][]float32, channelCount)
	for c := range channels {
		channels[c] = make([]float32, perChannel)
	}
	for i := 0; i < perChannel*channelCount; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		channels[i%channelCount][i/channelCount] = float32(s) / 32768.0
	}
	return Frame{Channels: channels, SampleRate: sampleRate}
}

// EncodePCM16 converts a frame back to interleaved signed 16-bit
// little-endian bytes, clamping out-of-range samples.
func EncodePCM16(f Frame) []byte {
	n := f.Samples()
	ch := len(f.Channels)
	out := make([]byte, n*ch*bytesPerSample)
	for i := 0; i < n; i++ {
		for c := 0; c < ch; c++ {
			v := f.Channels[c][i]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			s := int16(v * 32767.0)
			idx := (i*ch + c) * 2
			out[idx] = byte(s)
			out[idx+1] = byte(s >> 8)
		}
	}
	return out
}

// SampleRateFromMIME extracts the rate parameter from a media type such as
// "audio/pcm;rate=24000". Missing or malformed parameters fall back to the
// default playback rate.
func SampleRateFromMIME(mimeType string) int {
	for _, part := range strings.Split(mimeType, ";") {
		part = strings.TrimSpace(part)
		if rest, ok := strings.CutPrefix(part, "rate="); ok {
			if rate, err := strconv.Atoi(rest); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return PlaybackSampleRate
}
