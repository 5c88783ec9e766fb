package gatt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattsync/internal/groutine"
)

// Result carries the status the remote stack reported for a completed
// operation. A non-success status is a normal business outcome, not an error.
type Result struct {
	Status Status
}

// ReadResult is the outcome of a characteristic read.
type ReadResult struct {
	Status         Status
	Characteristic CharacteristicRef
	Value          []byte
}

// RSSIResult is the outcome of a remote signal strength read.
type RSSIResult struct {
	Status Status
	RSSI   int
}

// Coordinator turns one named hardware request plus one awaited completion
// callback into a single atomic, cancellable suspending call. At most one
// operation is in flight per handle; concurrent callers queue on the
// exclusivity slot. The Coordinator exclusively owns the hardware handle and
// closes it exactly once, on the first terminal connection-state transition
// it observes.
//
// Timeouts are the caller's concern: pass a context with a deadline.
type Coordinator struct {
	driver Driver
	router *EventRouter
	logger *logrus.Logger

	// slot is the single-permit exclusivity semaphore guarding the
	// issue-and-await sequence.
	slot chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	// done is closed by closeHandle and releases the state monitor when the
	// handle is torn down without a Disconnected transition ever arriving.
	done chan struct{}

	// lost is closed by the state monitor when a Disconnected transition is
	// observed; lostEvent is written before the close.
	lost      chan struct{}
	lostEvent StateChange
}

// NewCoordinator creates a coordinator over an already-connected handle. The
// driver must report its callbacks into the given router. A nil opts uses
// defaults.
func NewCoordinator(driver Driver, router *EventRouter, opts *Options) *Coordinator {
	opts = opts.normalized()
	c := &Coordinator{
		driver: driver,
		router: router,
		logger: opts.Logger,
		slot:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		lost:   make(chan struct{}),
	}

	states, unsubscribe := router.ConnectionStates()
	groutine.Go(context.Background(), "gatt-state-monitor", func(ctx context.Context) {
		defer unsubscribe()
		for {
			select {
			case change, ok := <-states:
				if !ok {
					return
				}
				if change.State != StateDisconnected {
					continue
				}
				c.logger.WithField("status", change.Status).Info("Terminal connection state observed")
				c.lostEvent = change
				c.closeHandle()
				close(c.lost)
				return
			case <-c.done:
				return
			}
		}
	})

	return c
}

// ConnectionStates exposes a read-only live view of connection-state
// transitions for external lifecycle observers.
func (c *Coordinator) ConnectionStates() (<-chan StateChange, func()) {
	return c.router.ConnectionStates()
}

// DiscoverServices asks the remote to enumerate its services and waits for
// the discovery-complete callback.
func (c *Coordinator) DiscoverServices(ctx context.Context) (Result, error) {
	ev, err := c.do(ctx, OpDiscoverServices, c.driver.DiscoverServices)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: ev.Status}, nil
}

// ReadCharacteristic reads the value of a characteristic.
func (c *Coordinator) ReadCharacteristic(ctx context.Context, ref CharacteristicRef) (ReadResult, error) {
	ev, err := c.do(ctx, OpReadCharacteristic, func() bool {
		return c.driver.ReadCharacteristic(ref)
	})
	if err != nil {
		return ReadResult{}, err
	}
	return ReadResult{Status: ev.Status, Characteristic: ev.Characteristic, Value: ev.Value}, nil
}

// WriteCharacteristic writes value to a characteristic using the given write
// type.
func (c *Coordinator) WriteCharacteristic(ctx context.Context, ref CharacteristicRef, value []byte, writeType WriteType) (Result, error) {
	ev, err := c.do(ctx, OpWriteCharacteristic, func() bool {
		return c.driver.WriteCharacteristic(ref, value, writeType)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Status: ev.Status}, nil
}

// WriteDescriptor writes value to a descriptor.
func (c *Coordinator) WriteDescriptor(ctx context.Context, ref DescriptorRef, value []byte) (Result, error) {
	ev, err := c.do(ctx, OpWriteDescriptor, func() bool {
		return c.driver.WriteDescriptor(ref, value)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Status: ev.Status}, nil
}

// ReadRemoteRSSI reads the signal strength of the link.
func (c *Coordinator) ReadRemoteRSSI(ctx context.Context) (RSSIResult, error) {
	ev, err := c.do(ctx, OpReadRSSI, c.driver.ReadRemoteRSSI)
	if err != nil {
		return RSSIResult{}, err
	}
	return RSSIResult{Status: ev.Status, RSSI: ev.RSSI}, nil
}

// Disconnect tears the link down and resolves once a Disconnected transition
// is observed. The hardware handle is closed exactly once before Disconnect
// returns, whether it completes normally, is cancelled, or the driver
// short-circuits straight to Disconnected.
func (c *Coordinator) Disconnect(ctx context.Context) (Result, error) {
	if err := c.acquire(ctx, OpDisconnect); err != nil {
		return Result{}, err
	}
	defer c.release()
	defer c.closeHandle()

	// The link may already be gone; resolve from the last observed
	// transition instead of issuing a request on a closed handle.
	if c.closed.Load() {
		change, _ := c.router.LastState()
		return Result{Status: change.Status}, nil
	}

	// Subscribe before issuing the request so a fast transition cannot slip
	// past unobserved. The feed seeds the latest transition, which covers a
	// link that already dropped on its own.
	states, unsubscribe := c.router.ConnectionStates()
	defer unsubscribe()

	c.logger.Info("Disconnecting...")
	c.driver.Disconnect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Disconnect wait cancelled, closing handle anyway")
			return Result{}, fmt.Errorf("%s: %w", OpDisconnect, ctx.Err())
		case change := <-states:
			if change.State != StateDisconnected {
				c.logger.WithField("state", change.State).Debug("Awaiting disconnected state")
				continue
			}
			c.logger.WithField("status", change.Status).Info("Disconnected")
			return Result{Status: change.Status}, nil
		}
	}
}

// do runs the common request/response protocol: acquire exclusivity, issue
// the request, await the single next response, validate its kind, release.
func (c *Coordinator) do(ctx context.Context, kind OpKind, issue func() bool) (Response, error) {
	if err := c.acquire(ctx, kind); err != nil {
		return Response{}, err
	}
	defer c.release()

	// Fail fast once the handle is gone.
	if c.closed.Load() {
		return Response{}, &RejectedError{Op: kind, Reason: "gatt handle closed"}
	}

	// A predecessor cancelled mid-wait may have left its late response in
	// the handoff slot. It must not be attributed to this operation.
	c.drainStale()

	c.logger.WithField("op", kind).Debug("Issuing request")
	if !issue() {
		c.logger.WithField("op", kind).Warn("Driver rejected request")
		return Response{}, &RejectedError{Op: kind, Reason: "driver could not enqueue request"}
	}

	select {
	case <-ctx.Done():
		c.logger.WithField("op", kind).Debug("Operation cancelled while awaiting response")
		return Response{}, fmt.Errorf("%s: %w", kind, ctx.Err())
	case <-c.lost:
		return Response{}, &ConnectionLostError{Op: kind, Event: c.lostEvent}
	case ev := <-c.router.Responses():
		if ev.Kind != kind {
			c.router.Discard(ev, "kind does not match pending operation")
			return Response{}, &OutOfOrderError{Expected: kind, Actual: ev.Kind}
		}
		return ev, nil
	}
}

// acquire takes the exclusivity slot, honoring cancellation while queued.
func (c *Coordinator) acquire(ctx context.Context, kind OpKind) error {
	select {
	case c.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", kind, ctx.Err())
	}
}

func (c *Coordinator) release() {
	<-c.slot
}

// drainStale clears a response abandoned by a cancelled predecessor. Called
// with the slot held, before the next request is issued, so the drained event
// can only ever belong to an already-resolved operation.
func (c *Coordinator) drainStale() {
	select {
	case ev := <-c.router.Responses():
		c.router.Discard(ev, "late response from a cancelled operation")
	default:
	}
}

// closeHandle releases the hardware handle, marks the coordinator closed so
// later operations fail fast, and releases the state monitor. Guarded so the
// state monitor and a caller-initiated disconnect cannot double-close.
func (c *Coordinator) closeHandle() {
	c.closeOnce.Do(func() {
		c.logger.Debug("Closing gatt handle")
		c.closed.Store(true)
		c.driver.Close()
		close(c.done)
	})
}
