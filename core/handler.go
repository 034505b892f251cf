package core

import (
	"context"
	"errors"
	"sync"
)

type IService interface {
	Init(
		ctx context.Context,
	) error
	Cleanup() error
	Reset() error
}

type IHandler interface {
	Initialize(
		InputChan <-chan *EventPacket,
		outputChan chan<- *EventPacket,
		OutputTopChan chan<- *EventPacket,
		ctx context.Context,
	) error // Wires channels and initializes the primary service.
	Start() error // Starts the handler's loops. Must not block.
	HandleEvent(packet *EventPacket) error

	Cleanup() error
	Reset() error
}

var ErrNoBackupService = errors.New("no backup services available")

// BaseHandler carries the plumbing shared by every stage: channel wiring,
// the input consume loop and failover to backup services.
type BaseHandler struct {
	Name                  string
	Service               IService
	BackupServices        []IService
	Logger                *Logger
	Ctx                   context.Context
	InputChan             <-chan *EventPacket
	outputNextChan        chan<- *EventPacket
	outputTopChan         chan<- *EventPacket
	FatalServiceErrorChan chan error
	// OnServiceSwitched runs after a backup service took over, for stages
	// whose services need a session started before use.
	OnServiceSwitched func(service IService)

	serviceMu sync.RWMutex
}

func (h *BaseHandler) Initialize(
	InputChan <-chan *EventPacket,
	OutputNextChan chan<- *EventPacket,
	OutputTopChan chan<- *EventPacket,
	ctx context.Context,
) error {
	h.InputChan = InputChan
	h.outputNextChan = OutputNextChan
	h.outputTopChan = OutputTopChan
	h.FatalServiceErrorChan = make(chan error, 1)
	h.Ctx = ctx
	h.Logger = LoggerFromContext(ctx).With(map[string]interface{}{"handler": h.Name})
	go h.fatalErrorHandlerLoop()

	if svc := h.CurrentService(); svc != nil {
		return svc.Init(ctx)
	}
	return nil
}

// CurrentService returns the active service, which changes on failover.
func (h *BaseHandler) CurrentService() IService {
	h.serviceMu.RLock()
	defer h.serviceMu.RUnlock()
	return h.Service
}

func (h *BaseHandler) Cleanup() error {
	if svc := h.CurrentService(); svc != nil {
		return svc.Cleanup()
	}
	return nil
}

func (h *BaseHandler) Reset() error {
	if svc := h.CurrentService(); svc != nil {
		return svc.Reset()
	}
	return nil
}

func (h *BaseHandler) SwitchToBackupService() error {
	h.serviceMu.Lock()
	defer h.serviceMu.Unlock()

	if len(h.BackupServices) == 0 {
		return ErrNoBackupService
	}
	next := h.BackupServices[0]
	if err := next.Init(h.Ctx); err != nil {
		return err
	}
	if h.Service != nil {
		h.Service.Cleanup()
	}
	h.Service = next
	h.BackupServices = h.BackupServices[1:]
	return nil
}

// SendPacket routes a packet by its destination. It gives up when the
// handler's context is done so a stalled downstream never wedges shutdown.
func (h *BaseHandler) SendPacket(packet *EventPacket) {
	out := h.outputNextChan
	if packet.Destination == EventRelayDestinationTopService {
		out = h.outputTopChan
	}
	if out == nil {
		return
	}
	select {
	case out <- packet:
	case <-h.Ctx.Done():
	}
}

// Emit wraps event in a packet relayed by this handler.
func (h *BaseHandler) Emit(event IEvent, destination EventRelayDestination) {
	h.SendPacket(NewEventPacket(event, destination, h.Name))
}

// Consume feeds every input packet to handle until the context ends.
func (h *BaseHandler) Consume(handle func(*EventPacket) error) {
	for {
		select {
		case packet, ok := <-h.InputChan:
			if !ok {
				return
			}
			if err := handle(packet); err != nil {
				h.Logger.Warn("event handling failed", "event", packet.Event.GetId(), "error", err)
			}
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *BaseHandler) HandleError(err error) {
	select {
	case h.FatalServiceErrorChan <- err:
	case <-h.Ctx.Done():
	}
}

func (h *BaseHandler) fatalErrorHandlerLoop() {
	for {
		select {
		case err := <-h.FatalServiceErrorChan:
			h.Logger.Error("service failure", "error", err)
			if switchErr := h.SwitchToBackupService(); switchErr != nil {
				h.Emit(&CriticalErrorEvent{Error: err.Error(), Source: h.Name}, EventRelayDestinationTopService)
				continue
			}
			h.Logger.Warn("switched to backup service", "remaining", h.remainingBackups())
			if h.OnServiceSwitched != nil {
				h.OnServiceSwitched(h.CurrentService())
			}
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *BaseHandler) remainingBackups() int {
	h.serviceMu.RLock()
	defer h.serviceMu.RUnlock()
	return len(h.BackupServices)
}
