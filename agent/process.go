// Package agent runs kiosk voice sessions: the per-process prewarm cache
// and the per-job bootstrap that joins a room and starts the pipeline.
package agent

import (
	"fmt"
	"sync"
	"time"

	"kioskagent/core"
	vadhandler "kioskagent/handlers/vad"
)

// VADKey is the process cache slot of the shared VAD model.
const VADKey = "vad"

// VAD is a loaded voice activity model. It is shared read-only across
// sessions; each session scores audio on its own stream.
type VAD interface {
	NewStream() (vadhandler.VADService, error)
}

// VADLoader loads the VAD model from disk.
type VADLoader func() (VAD, error)

// Userdata is a process-scoped cache keyed by resource name.
type Userdata struct {
	mu     sync.Mutex
	values map[string]any
}

func (u *Userdata) Get(key string) (any, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := u.values[key]
	return v, ok
}

func (u *Userdata) Set(key string, value any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.values == nil {
		u.values = make(map[string]any)
	}
	u.values[key] = value
}

// GetOrLoad returns the cached value for key, running load only when the
// slot is empty. Concurrent callers wait for the one load.
func (u *Userdata) GetOrLoad(key string, load func() (any, error)) (any, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if v, ok := u.values[key]; ok {
		return v, true, nil
	}
	v, err := load()
	if err != nil {
		return nil, false, err
	}
	if u.values == nil {
		u.values = make(map[string]any)
	}
	u.values[key] = v
	return v, false, nil
}

// ProcessContext is the state one worker process shares between its jobs.
type ProcessContext struct {
	Userdata Userdata
	Logger   *core.Logger
}

func NewProcessContext(logger *core.Logger) *ProcessContext {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &ProcessContext{Logger: logger}
}

// Prewarm loads the VAD model into the process cache before any session
// is assigned.
func Prewarm(proc *ProcessContext, load VADLoader) error {
	proc.Logger.Info("prewarming VAD")
	started := time.Now()
	model, err := load()
	if err != nil {
		return fmt.Errorf("prewarm vad: %w", err)
	}
	proc.Userdata.Set(VADKey, model)
	proc.Logger.Info("VAD ready", "duration", time.Since(started).String())
	return nil
}

// ResolveVAD reuses the prewarmed model, or loads and caches it when the
// slot is empty.
func ResolveVAD(proc *ProcessContext, load VADLoader) (VAD, error) {
	v, cached, err := proc.Userdata.GetOrLoad(VADKey, func() (any, error) {
		proc.Logger.Warn("VAD not prewarmed, loading now")
		return load()
	})
	if err != nil {
		return nil, fmt.Errorf("load vad: %w", err)
	}
	model, ok := v.(VAD)
	if !ok {
		return nil, fmt.Errorf("process cache %q holds %T", VADKey, v)
	}
	if cached {
		proc.Logger.Debug("reusing prewarmed VAD")
	}
	return model, nil
}
