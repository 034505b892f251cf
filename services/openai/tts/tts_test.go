package tts

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskagent/core"
)

func TestSynthesizeStreamsPCM(t *testing.T) {
	var req map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, sonic.Unmarshal(raw, &req))
		w.Header().Set("Content-Type", "audio/pcm")
		w.Write(make([]byte, chunkBytes+100))
	}))
	defer srv.Close()

	cfg := DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL + "/v1"
	svc := NewOpenAITTSService(cfg)
	require.NoError(t, svc.Init(context.Background()))

	out := make(chan core.AudioChunk, 4)
	require.NoError(t, svc.Synthesize(context.Background(), "สวัสดีค่ะ", out))
	close(out)

	var total int
	for c := range out {
		assert.Equal(t, SampleRate, c.SampleRate)
		total += len(c.Bytes())
	}
	assert.Equal(t, chunkBytes+100, total)
	assert.Equal(t, "alloy", req["voice"])
	assert.Equal(t, "pcm", req["response_format"])
	assert.Equal(t, "สวัสดีค่ะ", req["input"])
}
