package gatt

import (
	"context"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// EventRouter classifies raw driver callbacks into typed Response values and
// delivers them to whichever operation is currently awaiting one. It has no
// notion of requests; it only classifies and forwards.
//
// Request completions travel through a single-slot handoff channel: the
// publishing callback blocks only while the previous response is still
// unconsumed, which is back-pressure rather than loss (the driver issues at
// most one completion at a time). Connection-state transitions travel through
// an independent broadcast feed so lifecycle observers and the Coordinator
// can watch them concurrently.
//
// Responses that end up with no waiter (late arrivals from cancelled
// operations, kind mismatches) are recorded in a bounded stray trace for
// diagnostics and are never redelivered.
type EventRouter struct {
	responses chan Response
	states    *stateFeed
	stray     mpmc.RichOverlappedRingBuffer[Response]
	logger    *logrus.Logger
}

// NewEventRouter creates a router. A nil opts uses defaults.
func NewEventRouter(opts *Options) *EventRouter {
	opts = opts.normalized()
	return &EventRouter{
		responses: make(chan Response, 1),
		states:    newStateFeed(opts.StateFeedCapacity, opts.Logger),
		stray:     mpmc.NewOverlappedRingBuffer[Response](opts.StrayTraceCapacity),
		logger:    opts.Logger,
	}
}

// Responses exposes the handoff channel operations await on. Exactly one
// value is delivered per accepted hardware request.
func (r *EventRouter) Responses() <-chan Response {
	return r.responses
}

// NextResponse blocks until a response is published or the context ends.
func (r *EventRouter) NextResponse(ctx context.Context) (Response, error) {
	select {
	case ev := <-r.responses:
		return ev, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// ConnectionStates subscribes to the live connection-state feed. The returned
// cancel function unsubscribes and closes the channel; other subscribers are
// unaffected.
func (r *EventRouter) ConnectionStates() (<-chan StateChange, func()) {
	return r.states.Subscribe()
}

// LastState returns the most recent connection-state transition, if any.
func (r *EventRouter) LastState() (StateChange, bool) {
	return r.states.Last()
}

// Discard records a response that has no legitimate consumer. The event is
// kept in the stray trace so protocol violations stay observable instead of
// vanishing silently.
func (r *EventRouter) Discard(ev Response, reason string) {
	r.logger.WithFields(logrus.Fields{
		"kind":   ev.Kind,
		"status": ev.Status,
		"reason": reason,
	}).Warn("Discarding response event")

	// Overlapped ring: drops the oldest trace entry when full.
	if _, err := r.stray.EnqueueM(ev); err != nil {
		r.logger.WithError(err).Warn("Failed to record stray response event")
	}
}

// StrayEvents drains and returns the recorded stray responses, oldest first.
func (r *EventRouter) StrayEvents() []Response {
	var out []Response
	for !r.stray.IsEmpty() {
		ev, err := r.stray.Dequeue()
		if err != nil {
			break
		}
		out = append(out, ev)
	}
	return out
}

// publish hands one completion to the single consumer slot.
func (r *EventRouter) publish(ev Response) {
	r.logger.WithFields(logrus.Fields{
		"kind":   ev.Kind,
		"status": ev.Status,
	}).Debug("Routing response event")
	r.responses <- ev
}

// OnServicesDiscovered implements DriverEvents.
func (r *EventRouter) OnServicesDiscovered(status Status) {
	r.publish(Response{Kind: OpDiscoverServices, Status: status})
}

// OnCharacteristicRead implements DriverEvents.
func (r *EventRouter) OnCharacteristicRead(ref CharacteristicRef, value []byte, status Status) {
	r.publish(Response{Kind: OpReadCharacteristic, Status: status, Characteristic: ref, Value: value})
}

// OnCharacteristicWrite implements DriverEvents.
func (r *EventRouter) OnCharacteristicWrite(ref CharacteristicRef, status Status) {
	r.publish(Response{Kind: OpWriteCharacteristic, Status: status, Characteristic: ref})
}

// OnDescriptorWrite implements DriverEvents.
func (r *EventRouter) OnDescriptorWrite(ref DescriptorRef, status Status) {
	r.publish(Response{Kind: OpWriteDescriptor, Status: status, Descriptor: ref})
}

// OnReadRemoteRSSI implements DriverEvents.
func (r *EventRouter) OnReadRemoteRSSI(rssi int, status Status) {
	r.publish(Response{Kind: OpReadRSSI, Status: status, RSSI: rssi})
}

// OnConnectionStateChange implements DriverEvents. State transitions bypass
// the response slot entirely and fan out to all subscribers.
func (r *EventRouter) OnConnectionStateChange(state ConnState, status Status) {
	r.logger.WithFields(logrus.Fields{
		"state":  state,
		"status": status,
	}).Info("Connection state changed")
	r.states.Publish(StateChange{State: state, Status: status})
}

// compile-time check: the router is a complete driver callback sink
var _ DriverEvents = (*EventRouter)(nil)
