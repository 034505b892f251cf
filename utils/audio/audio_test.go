package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskagent/core"
)

func TestPCMBytesToWavBytesHeader(t *testing.T) {
	pcm := make([]byte, 320)
	wav, err := PCMBytesToWavBytes(pcm, 1, 16000)
	require.NoError(t, err)
	require.Len(t, wav, 44+320)
	assert.Equal(t, "RIFF", string(wav[:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:]))
	assert.Equal(t, uint32(320), binary.LittleEndian.Uint32(wav[40:]))

	_, err = PCMBytesToWavBytes(nil, 1, 16000)
	assert.Error(t, err)
}

func TestResampleChangesFrameCount(t *testing.T) {
	in := core.NewPCMChunk(make([]int16, 160), 8000, 1)
	out, err := ConvertAudioChunk(in, core.PCM, 1, 24000)
	require.NoError(t, err)
	assert.Equal(t, 24000, out.SampleRate)
	assert.Len(t, out.Samples(), 480)
	assert.Equal(t, in.Duration(), out.Duration())
}

func TestConvertULawToPCM(t *testing.T) {
	pcm := core.NewPCMChunk([]int16{0, 1000, -1000, 8000}, 8000, 1)
	ulaw, err := PCMBytesToULaw(pcm.Bytes())
	require.NoError(t, err)

	chunk := core.AudioChunk{Data: &ulaw, SampleRate: 8000, Channels: 1, Format: core.ULAW}
	out, err := ConvertAudioChunk(chunk, core.PCM, 1, 8000)
	require.NoError(t, err)
	samples := out.Samples()
	require.Len(t, samples, 4)
	assert.InDelta(t, 1000, samples[1], 70)
	assert.InDelta(t, -1000, samples[2], 70)
}

func TestStereoToMonoAverages(t *testing.T) {
	in := core.NewPCMChunk([]int16{100, 300, -50, 50}, 16000, 2)
	out, err := ConvertAudioChunk(in, core.PCM, 1, 16000)
	require.NoError(t, err)
	assert.Equal(t, []int16{200, 0}, out.Samples())
}
