package livekit

import (
	"context"
	"testing"
	"time"

	media "github.com/livekit/media-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskagent/core"
)

func newTestRoom() *Room {
	return NewRoom(RoomConfig{URL: "ws://localhost:7880", RoomName: "opd-kiosk-1", Logger: core.NewNopLogger()})
}

func TestRoomDefaults(t *testing.T) {
	r := newTestRoom()
	assert.Equal(t, 16000, r.config.InSampleRate)
	assert.Equal(t, 24000, r.config.OutSampleRate)
	assert.Equal(t, 1, r.config.OutChannels)
	assert.Equal(t, "agent-audio", r.config.TrackName)
}

func TestRoomRequiresConnection(t *testing.T) {
	r := newTestRoom()
	ctx := context.Background()

	assert.ErrorIs(t, r.PublishData(ctx, []byte(`{}`), "queue_ticket"), ErrNotConnected)
	assert.ErrorIs(t, r.StartReceiving(ctx, make(chan core.AudioChunk)), ErrNotConnected)
	assert.ErrorIs(t, r.WriteAudio(core.NewPCMChunk(make([]int16, 10), 24000, 1)), ErrNotConnected)
	r.ClearAudio()
}

func TestRoomWaitForParticipant(t *testing.T) {
	r := newTestRoom()
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.mu.Lock()
		r.linked = "kiosk-screen"
		r.mu.Unlock()
		r.participantCh <- "kiosk-screen"
	}()

	identity, err := r.WaitForParticipant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "kiosk-screen", identity)

	again, err := r.WaitForParticipant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "kiosk-screen", again)
}

func TestRoomWaitEndsWithContextOrClose(t *testing.T) {
	r := newTestRoom()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.WaitForParticipant(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, r.Close())
	_, err = r.WaitForParticipant(context.Background())
	assert.ErrorIs(t, err, ErrRoomDisconnected)
}

func TestPCMWriterDeliversToSink(t *testing.T) {
	r := newTestRoom()
	w := &pcmWriter{room: r}

	require.NoError(t, w.WriteSample(media.PCM16Sample{1, 2, 3}))

	sink := make(chan core.AudioChunk, 1)
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
	require.NoError(t, w.WriteSample(media.PCM16Sample{1, 2, 3}))

	chunk := <-sink
	assert.Equal(t, 16000, chunk.SampleRate)
	assert.Equal(t, []int16{1, 2, 3}, chunk.Samples())
}
