package livekit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"kioskagent/core"
)

type fakeAgentServer struct {
	t         *testing.T
	server    *httptest.Server
	registers chan *livekit.RegisterWorkerRequest
	answers   chan *livekit.AvailabilityResponse
	statuses  chan *livekit.UpdateJobStatus
}

func newFakeAgentServer(t *testing.T, job *livekit.Job) *fakeAgentServer {
	f := &fakeAgentServer{
		t:         t,
		registers: make(chan *livekit.RegisterWorkerRequest, 1),
		answers:   make(chan *livekit.AvailabilityResponse, 1),
		statuses:  make(chan *livekit.UpdateJobStatus, 8),
	}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent" || r.Header.Get("Authorization") == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		send := func(msg *livekit.ServerMessage) {
			data, _ := proto.Marshal(msg)
			conn.WriteMessage(websocket.BinaryMessage, data)
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg livekit.WorkerMessage
			if proto.Unmarshal(data, &msg) != nil {
				continue
			}
			switch m := msg.Message.(type) {
			case *livekit.WorkerMessage_Register:
				f.registers <- m.Register
				send(&livekit.ServerMessage{Message: &livekit.ServerMessage_Register{
					Register: &livekit.RegisterWorkerResponse{WorkerId: "W_test"},
				}})
				send(&livekit.ServerMessage{Message: &livekit.ServerMessage_Availability{
					Availability: &livekit.AvailabilityRequest{Job: job},
				}})
			case *livekit.WorkerMessage_Availability:
				f.answers <- m.Availability
				send(&livekit.ServerMessage{Message: &livekit.ServerMessage_Assignment{
					Assignment: &livekit.JobAssignment{Job: job, Token: "room-token"},
				}})
			case *livekit.WorkerMessage_UpdateJob:
				f.statuses <- m.UpdateJob
			}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAgentServer) nextStatus(t *testing.T) *livekit.UpdateJobStatus {
	t.Helper()
	select {
	case s := <-f.statuses:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("no job status")
		return nil
	}
}

func testJob() *livekit.Job {
	return &livekit.Job{
		Id:   "AJ_kiosk0001",
		Type: livekit.JobType_JT_ROOM,
		Room: &livekit.Room{Name: "opd-kiosk-1"},
	}
}

func newTestWorker(t *testing.T, url string, entry EntrypointFunc, prewarm PrewarmFunc) *Worker {
	cfg := DefaultWorkerConfig()
	cfg.URL = url
	cfg.APIKey = "devkey"
	cfg.APISecret = "devsecret-devsecret-devsecret-00"
	cfg.AgentName = "naree"
	cfg.DevMode = true
	cfg.DrainTimeout = time.Second
	cfg.LogDir = t.TempDir()
	cfg.Logger = core.NewNopLogger()
	w, err := NewWorker(cfg, entry, prewarm)
	require.NoError(t, err)
	return w
}

func TestWorkerRunsAssignedJob(t *testing.T) {
	server := newFakeAgentServer(t, testJob())

	var prewarms atomic.Int32
	jobs := make(chan *Job, 1)
	w := newTestWorker(t, server.server.URL, func(ctx context.Context, job *Job) error {
		jobs <- job
		return nil
	}, func() error {
		prewarms.Add(1)
		return nil
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	reg := <-server.registers
	assert.Equal(t, "naree", reg.AgentName)
	assert.Equal(t, livekit.JobType_JT_ROOM, reg.Type)
	assert.EqualValues(t, 1, prewarms.Load())

	answer := <-server.answers
	assert.True(t, answer.Available)
	assert.Equal(t, "AJ_kiosk0001", answer.JobId)

	select {
	case job := <-jobs:
		assert.Equal(t, "opd-kiosk-1", job.RoomName)
		assert.Equal(t, "room-token", job.Token)
		assert.Equal(t, server.server.URL, job.URL)
		assert.NotNil(t, job.Logger)
	case <-time.After(3 * time.Second):
		t.Fatal("entrypoint not invoked")
	}

	assert.Equal(t, livekit.JobStatus_JS_RUNNING, server.nextStatus(t).Status)
	assert.Equal(t, livekit.JobStatus_JS_SUCCESS, server.nextStatus(t).Status)
}

func TestWorkerReportsFailedJob(t *testing.T) {
	server := newFakeAgentServer(t, testJob())
	w := newTestWorker(t, server.server.URL, func(ctx context.Context, job *Job) error {
		return context.DeadlineExceeded
	}, nil)
	require.NoError(t, w.Start())
	defer w.Stop()

	assert.Equal(t, livekit.JobStatus_JS_RUNNING, server.nextStatus(t).Status)
	failed := server.nextStatus(t)
	assert.Equal(t, livekit.JobStatus_JS_FAILED, failed.Status)
	assert.Contains(t, failed.Error, "deadline")
}

func TestWorkerPrewarmFailureStopsStart(t *testing.T) {
	w := newTestWorker(t, "http://127.0.0.1:1", func(ctx context.Context, job *Job) error { return nil }, func() error {
		return assert.AnError
	})
	assert.ErrorIs(t, w.Start(), assert.AnError)
}

func TestNewWorkerRequiresCredentials(t *testing.T) {
	_, err := NewWorker(WorkerConfig{URL: "ws://localhost:7880"}, func(ctx context.Context, job *Job) error { return nil }, nil)
	assert.Error(t, err)
}
