package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskagent/core"
	sttevents "kioskagent/events/stt"
	"kioskagent/events/vad"
)

type fakeSTT struct {
	mu      sync.Mutex
	out     chan<- string
	chunks  int
	flushes int
}

func (f *fakeSTT) Init(ctx context.Context) error { return nil }
func (f *fakeSTT) Cleanup() error                 { return nil }
func (f *fakeSTT) Reset() error                   { return nil }

func (f *fakeSTT) StartTranscriptionSession(out chan<- string, interim chan<- string, errs chan<- error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = out
}

func (f *fakeSTT) started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out != nil
}

func (f *fakeSTT) SendTranscriptionAudio(chunk core.AudioChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks++
	return nil
}

func (f *fakeSTT) Flush() error {
	f.mu.Lock()
	f.flushes++
	out := f.out
	f.mu.Unlock()
	out <- " I have a headache for two days "
	return nil
}

func TestSTTHandlerTranscribesOnSpeechEnd(t *testing.T) {
	svc := &fakeSTT{}
	h := NewSTTHandler(svc, nil, DefaultConfig())
	in, next, top := make(chan *core.EventPacket, 8), make(chan *core.EventPacket, 8), make(chan *core.EventPacket, 8)
	ctx, cancel := context.WithCancel(core.ContextWithSessionLogger(context.Background(), core.NewNopLogger()))
	defer cancel()
	require.NoError(t, h.Initialize(in, next, top, ctx))
	require.NoError(t, h.Start())

	speech := core.NewPCMChunk(make([]int16, 320), 16000, 1)
	in <- core.NewEventPacket(&vad.VadUserSpeechStartedEvent{}, core.EventRelayDestinationNextService, "test")
	in <- core.NewEventPacket(&vad.VADUserSpeechChunkEvent{AudioChunk: speech}, core.EventRelayDestinationNextService, "test")
	in <- core.NewEventPacket(&vad.VadUserSpeechEndedEvent{}, core.EventRelayDestinationNextService, "test")

	var texts []string
	var ids []string
	deadline := time.After(time.Second)
	for len(ids) < 3 {
		select {
		case p := <-next:
			ids = append(ids, p.Event.GetId())
			if final, ok := p.Event.(*sttevents.STTFinalOutputEvent); ok {
				texts = append(texts, final.Text)
			}
		case <-deadline:
			t.Fatalf("events so far: %v", ids)
		}
	}

	assert.Contains(t, ids, "vad.user_speech.started")
	assert.Contains(t, ids, "vad.user_speech.ended")
	assert.Equal(t, []string{"I have a headache for two days"}, texts)
	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, 1, svc.chunks)
	assert.Equal(t, 1, svc.flushes)
}

func TestSTTHandlerRejectsWrongSampleRate(t *testing.T) {
	h := NewSTTHandler(&fakeSTT{}, nil, DefaultConfig())
	wrong := core.NewPCMChunk(make([]int16, 480), 48000, 1)
	err := h.HandleEvent(core.NewEventPacket(&vad.VADUserSpeechChunkEvent{AudioChunk: wrong}, core.EventRelayDestinationNextService, "test"))
	assert.Error(t, err)
}

func TestSTTHandlerStartsSessionOnBackup(t *testing.T) {
	primary, backup := &fakeSTT{}, &fakeSTT{}
	h := NewSTTHandler(primary, []ISTTService{backup}, DefaultConfig())
	in, next, top := make(chan *core.EventPacket, 8), make(chan *core.EventPacket, 8), make(chan *core.EventPacket, 8)
	ctx, cancel := context.WithCancel(core.ContextWithSessionLogger(context.Background(), core.NewNopLogger()))
	defer cancel()
	require.NoError(t, h.Initialize(in, next, top, ctx))
	require.NoError(t, h.Start())
	require.True(t, primary.started())

	h.HandleError(errors.New("transcription socket closed"))
	require.Eventually(t, backup.started, time.Second, 5*time.Millisecond)

	speech := core.NewPCMChunk(make([]int16, 320), 16000, 1)
	in <- core.NewEventPacket(&vad.VADUserSpeechChunkEvent{AudioChunk: speech}, core.EventRelayDestinationNextService, "test")
	in <- core.NewEventPacket(&vad.VadUserSpeechEndedEvent{}, core.EventRelayDestinationNextService, "test")

	deadline := time.After(time.Second)
	for {
		select {
		case p := <-next:
			if final, ok := p.Event.(*sttevents.STTFinalOutputEvent); ok {
				assert.Equal(t, "I have a headache for two days", final.Text)
				backup.mu.Lock()
				assert.Equal(t, 1, backup.chunks)
				assert.Equal(t, 1, backup.flushes)
				backup.mu.Unlock()
				primary.mu.Lock()
				assert.Zero(t, primary.flushes)
				primary.mu.Unlock()
				return
			}
		case <-deadline:
			t.Fatal("backup transcript never reached the pipeline")
		}
	}
}
