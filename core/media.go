package core

import (
	"encoding/binary"
	"time"
)

type AudioEncodingFormat int

const (
	PCM  AudioEncodingFormat = iota // 16-bit little-endian linear PCM.
	ULAW                            // μ-law encoding format.
	ALAW                            // A-law encoding format.
)

type AudioChunk struct {
	Data       *[]byte             // Raw audio data.
	SampleRate int                 // Sample rate of the audio data.
	Channels   int                 // Number of audio channels.
	Format     AudioEncodingFormat // Encoding format of the audio data.
	Timestamp  time.Time
}

// NewPCMChunk copies samples into a little-endian PCM16 chunk.
func NewPCMChunk(samples []int16, sampleRate, channels int) AudioChunk {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return AudioChunk{
		Data:       &data,
		SampleRate: sampleRate,
		Channels:   channels,
		Format:     PCM,
		Timestamp:  time.Now(),
	}
}

func (ac *AudioChunk) Bytes() []byte {
	if ac.Data == nil {
		return nil
	}
	return *ac.Data
}

// Samples decodes a PCM16 chunk.
func (ac *AudioChunk) Samples() []int16 {
	data := ac.Bytes()
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// Duration is the playback length. G.711 formats carry one byte per
// sample, PCM two.
func (ac *AudioChunk) Duration() time.Duration {
	if ac.SampleRate == 0 || ac.Channels == 0 || ac.Data == nil {
		return 0
	}
	bytesPerSample := 2
	if ac.Format == ULAW || ac.Format == ALAW {
		bytesPerSample = 1
	}
	frames := int64(len(*ac.Data) / (bytesPerSample * ac.Channels))
	return time.Duration(frames) * time.Second / time.Duration(ac.SampleRate)
}
