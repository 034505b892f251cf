package runner

import (
	"context"
	"errors"
	"sync"

	"kioskagent/core"
)

const channelBuffer = 100

// Runner chains handlers: each handler's next output feeds the following
// handler's input. Packets sent to the top re-enter at the first handler.
type Runner struct {
	Handlers []core.IHandler
	logger   *core.Logger

	ctx            context.Context
	cancel         context.CancelFunc
	inputChans     []chan *core.EventPacket
	topOutputChan  chan *core.EventPacket
	lastOutputChan chan *core.EventPacket

	done     chan struct{}
	stopOnce sync.Once
	reason   string
	mu       sync.Mutex
}

func NewRunner(handlers []core.IHandler, logger *core.Logger) *Runner {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Runner{
		Handlers: handlers,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if len(r.Handlers) == 0 {
		return errors.New("runner: no handlers")
	}

	r.ctx, r.cancel = context.WithCancel(core.ContextWithSessionLogger(ctx, r.logger))
	r.topOutputChan = make(chan *core.EventPacket, channelBuffer)
	r.lastOutputChan = make(chan *core.EventPacket, channelBuffer)

	r.inputChans = make([]chan *core.EventPacket, len(r.Handlers))
	for i := range r.inputChans {
		r.inputChans[i] = make(chan *core.EventPacket, channelBuffer)
	}

	for i, handler := range r.Handlers {
		outputNextChan := r.lastOutputChan
		if i < len(r.Handlers)-1 {
			outputNextChan = r.inputChans[i+1]
		}

		if err := handler.Initialize(r.inputChans[i], outputNextChan, r.topOutputChan, r.ctx); err != nil {
			r.cancel()
			return err
		}
	}

	for _, handler := range r.Handlers {
		if err := handler.Start(); err != nil {
			r.cancel()
			return err
		}
	}

	go r.listenToOutputs()
	return nil
}

// Inject pushes an event into the top of the chain.
func (r *Runner) Inject(event core.IEvent) {
	r.enqueueTop(core.NewEventPacket(event, core.EventRelayDestinationNextService, "Runner"))
}

// Done is closed once the runner stops.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// StopReason reports why the runner stopped, empty for an explicit Stop.
func (r *Runner) StopReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

func (r *Runner) enqueueTop(packet *core.EventPacket) {
	select {
	case r.inputChans[0] <- packet:
	case <-r.ctx.Done():
	}
}

func (r *Runner) listenToOutputs() {
	for {
		select {
		case <-r.lastOutputChan:
			// End of the chain, nothing consumes these.
		case packet := <-r.topOutputChan:
			r.processTopOutput(packet)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Runner) processTopOutput(packet *core.EventPacket) {
	switch e := packet.Event.(type) {
	case *core.CriticalErrorEvent:
		r.logger.Error("critical pipeline error", "source", e.Source, "error", e.Error)
	case *core.EndCallEvent:
		r.logger.Info("ending session", "reason", e.Reason)
		r.mu.Lock()
		r.reason = e.Reason
		r.mu.Unlock()
		go r.Stop()
	default:
		r.enqueueTop(packet.Forward())
	}
}

func (r *Runner) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}

		var errs []error
		for _, handler := range r.Handlers {
			if cerr := handler.Cleanup(); cerr != nil {
				errs = append(errs, cerr)
			}
		}
		err = errors.Join(errs...)
		close(r.done)
	})
	return err
}

func (r *Runner) Reset() error {
	var errs []error
	for _, handler := range r.Handlers {
		if err := handler.Reset(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
