package factories

import (
	"context"

	"kioskagent/agent"
	"kioskagent/core"
	"kioskagent/transports/livekit"
)

// Pipeline adapts the bootstrapper to the worker: one room connection and
// one session per assigned job, all sharing the process context.
type Pipeline struct {
	boot    *agent.Bootstrapper
	proc    *agent.ProcessContext
	loadVAD agent.VADLoader
	room    livekit.RoomConfig
	logger  *core.Logger
}

func NewPipeline(boot *agent.Bootstrapper, proc *agent.ProcessContext, loadVAD agent.VADLoader, room livekit.RoomConfig, logger *core.Logger) *Pipeline {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Pipeline{boot: boot, proc: proc, loadVAD: loadVAD, room: room, logger: logger}
}

// Prewarm is the worker's prewarm hook.
func (p *Pipeline) Prewarm() error {
	return agent.Prewarm(p.proc, p.loadVAD)
}

// Entrypoint is the worker's job handler.
func (p *Pipeline) Entrypoint(ctx context.Context, job *livekit.Job) error {
	logger := job.Logger
	if logger == nil {
		logger = core.LoggerFromContext(ctx)
	}

	cfg := p.room
	if job.URL != "" {
		cfg.URL = job.URL
	}
	cfg.RoomName = job.RoomName
	cfg.Token = job.Token
	cfg.Identity = job.Identity
	cfg.Logger = logger

	return p.boot.Run(ctx, &agent.JobContext{
		RoomName: job.RoomName,
		Room:     livekit.NewRoom(cfg),
		Proc:     p.proc,
		Logger:   logger,
	})
}

// Serve runs worker until ctx is cancelled, then drains it.
func (p *Pipeline) Serve(ctx context.Context, worker *livekit.Worker) error {
	if err := worker.Start(); err != nil {
		return err
	}
	p.logger.Info("worker started, waiting for jobs")
	<-ctx.Done()

	p.logger.Info("stopping worker")
	return worker.Stop()
}
