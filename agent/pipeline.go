package agent

import (
	"kioskagent/core"
	"kioskagent/events/tts"
	contexthandler "kioskagent/handlers/context"
	"kioskagent/runner"
)

// VoicePipeline is a running session.
type VoicePipeline struct {
	runner      *runner.Runner
	manager     *contexthandler.ContextManager
	participant string
	logger      *core.Logger
}

// Say speaks text without a completion. It is recorded in the
// conversation as an assistant turn.
func (p *VoicePipeline) Say(text string, allowInterruptions bool) {
	p.runner.Inject(&tts.TTSSpeakEvent{Text: text, AllowInterruptions: allowInterruptions})
}

func (p *VoicePipeline) Participant() string {
	return p.participant
}

// Context returns a copy of the conversation so far.
func (p *VoicePipeline) Context() core.LLMContext {
	return p.manager.Snapshot()
}

func (p *VoicePipeline) Done() <-chan struct{} {
	return p.runner.Done()
}

func (p *VoicePipeline) StopReason() string {
	return p.runner.StopReason()
}

func (p *VoicePipeline) Stop() error {
	return p.runner.Stop()
}
