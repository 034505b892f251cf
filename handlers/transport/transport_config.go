package transport

import "kioskagent/core"

type TransportConfig struct {
	OutSampleRate  int // Sample rate of the outbound track.
	OutChannels    int
	OutAudioFormat core.AudioEncodingFormat
}

func DefaultConfig() TransportConfig {
	return TransportConfig{
		OutSampleRate:  24000,
		OutChannels:    1,
		OutAudioFormat: core.PCM,
	}
}
