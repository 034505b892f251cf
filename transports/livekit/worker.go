package livekit

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"google.golang.org/protobuf/proto"

	"kioskagent/core"
)

const (
	DefaultDrainTimeout   = 30 * time.Minute
	InitialReconnectDelay = 1 * time.Second
	MaxReconnectDelay     = 30 * time.Second
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDraining
)

type WorkerConfig struct {
	URL          string
	APIKey       string
	APISecret    string
	AgentName    string
	Version      string
	MaxJobs      uint32
	DevMode      bool
	DrainTimeout time.Duration
	HTTPPort     int // Health endpoint, 0 picks a free port.
	LogDir       string
	Variant      string // Recorded in session logs.
	Logger       *core.Logger

	// RemoveParticipantsOnDone disconnects the remaining humans when a job
	// finishes so the kiosk resets.
	RemoveParticipantsOnDone bool
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Version:      "1.0.0",
		MaxJobs:      1,
		DrainTimeout: DefaultDrainTimeout,
		HTTPPort:     8081,
		LogDir:       "logs",
		Logger:       core.GetLogger(),
	}
}

// Job is one room assignment handed to the entrypoint.
type Job struct {
	ID                  string
	RoomName            string
	URL                 string
	Token               string
	Identity            string
	ParticipantIdentity string // Set when the dispatch targets a participant.
	Logger              *core.Logger
	StartedAt           time.Time
}

// EntrypointFunc runs a job and returns when the session is over.
type EntrypointFunc func(ctx context.Context, job *Job) error

// PrewarmFunc runs once per process before the worker accepts jobs.
type PrewarmFunc func() error

// Worker registers with the LiveKit agent service and runs assigned jobs.
type Worker struct {
	config     WorkerConfig
	logger     *core.Logger
	entrypoint EntrypointFunc
	prewarm    PrewarmFunc
	prewarmed  sync.Once
	prewarmErr error

	state    atomic.Int32
	conn     *websocket.Conn
	connMu   sync.Mutex
	workerID string
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	backoff  time.Duration

	activeJobs sync.Map // job id -> context.CancelFunc

	httpServer   *http.Server
	httpListener net.Listener
}

func NewWorker(cfg WorkerConfig, entrypoint EntrypointFunc, prewarm PrewarmFunc) (*Worker, error) {
	if cfg.URL == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("URL, APIKey, and APISecret are required")
	}
	if entrypoint == nil {
		return nil, errors.New("entrypoint is required")
	}
	if cfg.DevMode {
		cfg.MaxJobs = 100
		cfg.HTTPPort = 0
	}
	if cfg.MaxJobs == 0 {
		cfg.MaxJobs = 1
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = core.GetLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		config:     cfg,
		logger:     cfg.Logger.With(map[string]interface{}{"agent": cfg.AgentName}),
		entrypoint: entrypoint,
		prewarm:    prewarm,
		ctx:        ctx,
		cancel:     cancel,
		backoff:    InitialReconnectDelay,
	}
	w.state.Store(int32(StateDisconnected))
	return w, nil
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// Addr is the address of the health endpoint once started.
func (w *Worker) Addr() string {
	if w.httpListener == nil {
		return ""
	}
	return w.httpListener.Addr().String()
}

func (w *Worker) runPrewarm() error {
	w.prewarmed.Do(func() {
		if w.prewarm == nil {
			return
		}
		started := time.Now()
		w.prewarmErr = w.prewarm()
		w.logger.Info("prewarm finished", "duration", time.Since(started).String(), "error", w.prewarmErr)
	})
	return w.prewarmErr
}

// Start prewarms, serves the health endpoint and registers in the
// background.
func (w *Worker) Start() error {
	if err := w.runPrewarm(); err != nil {
		return fmt.Errorf("prewarm: %w", err)
	}
	if err := w.startHTTPServer(); err != nil {
		return err
	}

	w.logger.Info("starting worker", "url", w.config.URL, "maxJobs", w.config.MaxJobs)
	w.wg.Add(1)
	go w.statusLoop()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.connect()
	}()
	return nil
}

// Stop drains running jobs up to DrainTimeout, then cancels the rest.
func (w *Worker) Stop() error {
	w.logger.Info("stopping worker")
	w.state.Store(int32(StateDraining))

	deadline := time.Now().Add(w.config.DrainTimeout)
	for time.Now().Before(deadline) && w.activeCount() > 0 {
		time.Sleep(100 * time.Millisecond)
	}
	w.cancel()
	w.activeJobs.Range(func(_, v interface{}) bool {
		v.(context.CancelFunc)()
		return true
	})

	w.cleanupConnection()
	if w.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.httpServer.Shutdown(ctx)
	}
	w.wg.Wait()
	return nil
}

func (w *Worker) activeCount() int {
	count := 0
	w.activeJobs.Range(func(_, _ interface{}) bool { count++; return true })
	return count
}

func (w *Worker) cleanupConnection() {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

func (w *Worker) agentURL() (string, error) {
	u, err := url.Parse(w.config.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/agent"
	return u.String(), nil
}

func (w *Worker) connect() {
	if w.ctx.Err() != nil {
		return
	}
	w.cleanupConnection()
	w.state.Store(int32(StateConnecting))

	target, err := w.agentURL()
	if err != nil {
		w.logger.Error("invalid worker url", "error", err)
		return
	}

	identity := w.config.AgentName
	if identity == "" {
		identity = "kiosk-agent-worker"
	}
	token, err := auth.NewAccessToken(w.config.APIKey, w.config.APISecret).
		SetIdentity(identity).
		SetValidFor(24 * time.Hour).
		SetVideoGrant(&auth.VideoGrant{Agent: true}).
		ToJWT()
	if err != nil {
		w.logger.Error("failed to create worker token", "error", err)
		w.scheduleReconnect()
		return
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.DialContext(w.ctx, target, headers)
	if err != nil {
		w.logger.Error("failed to connect", "error", err)
		w.scheduleReconnect()
		return
	}

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()

	err = w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_Register{
		Register: &livekit.RegisterWorkerRequest{
			Type:      livekit.JobType_JT_ROOM,
			AgentName: w.config.AgentName,
			Version:   w.config.Version,
			AllowedPermissions: &livekit.ParticipantPermission{
				CanPublish:     true,
				CanSubscribe:   true,
				CanPublishData: true,
				Agent:          true,
			},
		},
	}})
	if err != nil {
		w.logger.Error("failed to register", "error", err)
		w.cleanupConnection()
		w.scheduleReconnect()
		return
	}

	w.state.Store(int32(StateConnected))
	w.backoff = InitialReconnectDelay
	w.wg.Add(1)
	go w.readLoop(conn)
}

func (w *Worker) scheduleReconnect() {
	if w.ctx.Err() != nil {
		return
	}
	delay := w.backoff
	w.backoff *= 2
	if w.backoff > MaxReconnectDelay {
		w.backoff = MaxReconnectDelay
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-w.ctx.Done():
		case <-time.After(delay):
			w.connect()
		}
	}()
}

func (w *Worker) send(msg *livekit.WorkerMessage) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn == nil {
		return ErrNotConnected
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *Worker) readLoop(conn *websocket.Conn) {
	defer w.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if w.ctx.Err() == nil && w.State() != StateDraining {
				w.logger.Warn("worker connection lost", "error", err)
				w.state.Store(int32(StateDisconnected))
				w.scheduleReconnect()
			}
			return
		}

		var msg livekit.ServerMessage
		if err := proto.Unmarshal(data, &msg); err != nil {
			w.logger.Error("failed to decode server message", "error", err)
			continue
		}

		switch m := msg.Message.(type) {
		case *livekit.ServerMessage_Register:
			w.workerID = m.Register.WorkerId
			w.logger.Info("registered", "workerID", w.workerID)
		case *livekit.ServerMessage_Availability:
			w.handleAvailability(m.Availability.Job)
		case *livekit.ServerMessage_Assignment:
			w.handleAssignment(m.Assignment)
		case *livekit.ServerMessage_Termination:
			if cancel, ok := w.activeJobs.Load(m.Termination.JobId); ok {
				w.logger.Info("job terminated by server", "job", m.Termination.JobId)
				cancel.(context.CancelFunc)()
			}
		}
	}
}

func (w *Worker) handleAvailability(job *livekit.Job) {
	if job == nil {
		return
	}
	available := w.State() == StateConnected && uint32(w.activeCount()) < w.config.MaxJobs

	label := w.config.AgentName
	if label == "" {
		label = "agent"
	}
	suffix := job.Id
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}

	err := w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_Availability{
		Availability: &livekit.AvailabilityResponse{
			JobId:               job.Id,
			Available:           available,
			ParticipantIdentity: fmt.Sprintf("agent-%s-%s-%x", label, suffix, randBytes(4)),
			ParticipantName:     label,
		},
	}})
	if err != nil {
		w.logger.Warn("failed to answer availability", "job", job.Id, "error", err)
	}
}

func (w *Worker) handleAssignment(assign *livekit.JobAssignment) {
	lkJob := assign.GetJob()
	if lkJob == nil || assign.Token == "" {
		return
	}

	jobURL := w.config.URL
	if u := assign.GetUrl(); u != "" {
		jobURL = u
	}
	job := &Job{
		ID:        lkJob.Id,
		RoomName:  lkJob.GetRoom().GetName(),
		URL:       jobURL,
		Token:     assign.Token,
		Identity:  lkJob.GetState().GetParticipantIdentity(),
		StartedAt: time.Now(),
	}
	if p := lkJob.GetParticipant(); p != nil {
		job.ParticipantIdentity = p.Identity
	}

	ctx, cancel := context.WithCancel(w.ctx)
	w.activeJobs.Store(job.ID, cancel)
	w.updateJobStatus(job.ID, livekit.JobStatus_JS_RUNNING, "")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer cancel()
		defer w.activeJobs.Delete(job.ID)

		if err := w.runJob(ctx, job); err != nil {
			w.updateJobStatus(job.ID, livekit.JobStatus_JS_FAILED, err.Error())
			return
		}
		w.updateJobStatus(job.ID, livekit.JobStatus_JS_SUCCESS, "")
	}()
}

// RunRoom joins roomName directly with the worker credentials and runs the
// entrypoint there, without dispatch.
func (w *Worker) RunRoom(ctx context.Context, roomName string) error {
	if err := w.runPrewarm(); err != nil {
		return fmt.Errorf("prewarm: %w", err)
	}
	label := w.config.AgentName
	if label == "" {
		label = "agent"
	}
	identity := fmt.Sprintf("agent-%s-%x", label, randBytes(4))
	token, err := auth.NewAccessToken(w.config.APIKey, w.config.APISecret).
		SetIdentity(identity).
		SetName(label).
		SetValidFor(6 * time.Hour).
		SetVideoGrant(&auth.VideoGrant{RoomJoin: true, Room: roomName, Agent: true}).
		ToJWT()
	if err != nil {
		return fmt.Errorf("sign room token: %w", err)
	}

	return w.runJob(ctx, &Job{
		ID:        fmt.Sprintf("direct-%x", randBytes(6)),
		RoomName:  roomName,
		URL:       w.config.URL,
		Token:     token,
		Identity:  identity,
		StartedAt: time.Now(),
	})
}

func (w *Worker) runJob(ctx context.Context, job *Job) error {
	sessionLogger := w.logger
	writer, err := core.NewSessionLogWriter(w.config.LogDir, core.SessionMetadata{
		JobID:    job.ID,
		RoomName: job.RoomName,
		Variant:  w.config.Variant,
	})
	if err != nil {
		w.logger.Warn("session log unavailable, using worker logger", "error", err)
	} else {
		defer writer.Close()
		sessionLogger = core.NewSessionLogger(w.logger, writer)
	}
	job.Logger = sessionLogger.With(map[string]interface{}{"job": job.ID, "room": job.RoomName})
	ctx = core.ContextWithSessionLogger(ctx, job.Logger)

	job.Logger.Info("job started", "identity", job.Identity)
	err = w.entrypoint(ctx, job)
	if err != nil {
		job.Logger.Error("job failed", "error", err)
	} else {
		job.Logger.Info("job completed", "duration", time.Since(job.StartedAt).String())
	}

	if w.config.RemoveParticipantsOnDone {
		w.removeParticipants(job.RoomName)
	}
	return err
}

func (w *Worker) removeParticipants(roomName string) {
	svc := lksdk.NewRoomServiceClient(w.config.URL, w.config.APIKey, w.config.APISecret)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := svc.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: roomName})
	if err != nil {
		w.logger.Error("failed to list participants", "room", roomName, "error", err)
		return
	}
	for _, participant := range resp.Participants {
		if participant.Kind == livekit.ParticipantInfo_AGENT {
			continue
		}
		if _, err := svc.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
			Room:     roomName,
			Identity: participant.Identity,
		}); err != nil {
			w.logger.Error("failed to remove participant", "room", roomName, "participant", participant.Identity, "error", err)
		}
	}
}

func (w *Worker) updateJobStatus(jobID string, status livekit.JobStatus, errMsg string) {
	err := w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_UpdateJob{
		UpdateJob: &livekit.UpdateJobStatus{
			JobId:  jobID,
			Status: status,
			Error:  errMsg,
		},
	}})
	if err != nil {
		w.logger.Warn("failed to report job status", "job", jobID, "status", status.String(), "error", err)
	}
}

func (w *Worker) statusLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if w.State() != StateConnected {
				continue
			}
			count := w.activeCount()
			status := livekit.WorkerStatus_WS_AVAILABLE
			if uint32(count) >= w.config.MaxJobs {
				status = livekit.WorkerStatus_WS_FULL
			}
			w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_UpdateWorker{
				UpdateWorker: &livekit.UpdateWorkerStatus{
					Status:   status.Enum(),
					JobCount: uint32(count),
				},
			}})
		}
	}
}

type healthResponse struct {
	Status     string `json:"status"`
	State      string `json:"state"`
	ActiveJobs int    `json:"active_jobs"`
}

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	default:
		return "disconnected"
	}
}

func (w *Worker) startHTTPServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		state := w.State()
		resp := healthResponse{Status: "ok", State: state.String(), ActiveJobs: w.activeCount()}
		code := http.StatusOK
		if state != StateConnected && state != StateDraining {
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
		}
		body, _ := sonic.Marshal(resp)
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(code)
		rw.Write(body)
	})

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", w.config.HTTPPort))
	if err != nil {
		return fmt.Errorf("failed to start HTTP listener: %w", err)
	}
	w.httpListener = ln
	w.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.httpServer.Serve(ln)
	}()
	return nil
}

func randBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}
