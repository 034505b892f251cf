package silero

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskagent/core"
)

type recordingModel struct {
	windows   [][]float32
	destroyed bool
}

func (m *recordingModel) infer(window []float32, state []float32) (float32, error) {
	m.windows = append(m.windows, append([]float32(nil), window...))
	state[0]++
	return 0.9, nil
}

func (m *recordingModel) destroy() { m.destroyed = true }

func ramp(n int, start int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = start + int16(i)
	}
	return out
}

func TestStreamWaitsForFullWindow(t *testing.T) {
	model := &recordingModel{}
	s := newStream(model)

	res, err := s.ProcessAudio(core.NewPCMChunk(make([]int16, 320), SampleRate, 1))
	require.NoError(t, err)
	assert.False(t, res.Ready)
	assert.Empty(t, model.windows)

	res, err = s.ProcessAudio(core.NewPCMChunk(make([]int16, 320), SampleRate, 1))
	require.NoError(t, err)
	assert.True(t, res.Ready)
	assert.InDelta(t, 0.9, res.Confidence, 1e-6)
	assert.Len(t, model.windows, 1)
	assert.Len(t, s.pending, 128)
}

func TestStreamCarriesContextAndState(t *testing.T) {
	model := &recordingModel{}
	s := newStream(model)

	_, err := s.ProcessAudio(core.NewPCMChunk(ramp(1024, 1), SampleRate, 1))
	require.NoError(t, err)
	require.Len(t, model.windows, 2)

	first, second := model.windows[0], model.windows[1]
	assert.Equal(t, make([]float32, contextSize), first[:contextSize])
	assert.Equal(t, first[len(first)-contextSize:], second[:contextSize])
	assert.InDelta(t, float32(513)/32768.0, second[contextSize], 1e-6)
	assert.Equal(t, float32(2), s.state[0])
}

func TestStreamResamplesInput(t *testing.T) {
	model := &recordingModel{}
	s := newStream(model)
	_, err := s.ProcessAudio(core.NewPCMChunk(make([]int16, 1536), 48000, 1))
	require.NoError(t, err)
	assert.Len(t, model.windows, 1)
}

func TestStreamCloseReleasesTensors(t *testing.T) {
	model := &recordingModel{}
	s := newStream(model)
	require.NoError(t, s.Close())
	assert.True(t, model.destroyed)
	_, err := s.ProcessAudio(core.NewPCMChunk(make([]int16, 512), SampleRate, 1))
	assert.Error(t, err)
}
