package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskagent/core"
)

func TestFlushTranscribesBufferedUtterance(t *testing.T) {
	type upload struct {
		language string
		size     int
	}
	uploads := make(chan upload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err == nil {
			file.Close()
		}
		uploads <- upload{language: r.FormValue("language"), size: int(header.Size)}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"ปวดหัวมาสองวันค่ะ"}`))
	}))
	defer srv.Close()

	cfg := DefaultConfig("sk-test", "th")
	cfg.BaseURL = srv.URL + "/v1"
	svc := NewOpenAISTTService(cfg)
	require.NoError(t, svc.Init(context.Background()))
	defer svc.Cleanup()

	out, fatal := make(chan string, 1), make(chan error, 1)
	svc.StartTranscriptionSession(out, nil, fatal)

	// 500ms of 16kHz mono.
	for i := 0; i < 25; i++ {
		require.NoError(t, svc.SendTranscriptionAudio(core.NewPCMChunk(make([]int16, 320), 16000, 1)))
	}
	require.NoError(t, svc.Flush())

	select {
	case text := <-out:
		assert.Equal(t, "ปวดหัวมาสองวันค่ะ", text)
	case err := <-fatal:
		t.Fatal(err)
	case <-time.After(2 * time.Second):
		t.Fatal("no transcript")
	}
	got := <-uploads
	assert.Equal(t, "th", got.language)
	assert.Equal(t, 44+25*640, got.size)
}

func TestFlushSkipsTinyUtterances(t *testing.T) {
	svc := NewOpenAISTTService(DefaultConfig("sk-test", "th"))
	require.NoError(t, svc.Init(context.Background()))
	svc.StartTranscriptionSession(make(chan string), nil, make(chan error))

	require.NoError(t, svc.SendTranscriptionAudio(core.NewPCMChunk(make([]int16, 160), 16000, 1)))
	assert.NoError(t, svc.Flush())
}
