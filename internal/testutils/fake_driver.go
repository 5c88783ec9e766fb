//go:build test

package testutils

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/gattsync/gatt"
)

// Completion scripts how the fake driver resolves one accepted request.
type Completion struct {
	Status gatt.Status
	Value  []byte
	RSSI   int
	Delay  time.Duration

	// RespondAs overrides the kind of the emitted callback, used to simulate
	// a transport that answers with the wrong completion event.
	RespondAs *gatt.OpKind
}

// opBehavior is one scripted reaction, consumed FIFO per operation kind.
type opBehavior struct {
	reject     bool
	pending    bool // accept the request but never complete it
	completion Completion
}

// FakeDriver is a scriptable gatt.Driver. Every accepted request resolves on
// a dedicated callback goroutine, which models the hardware driver invoking
// callbacks from its own thread. Unscripted requests complete successfully
// with empty payloads.
type FakeDriver struct {
	events gatt.DriverEvents
	logger *logrus.Logger

	mu               sync.Mutex
	behaviors        map[gatt.OpKind][]*opBehavior
	issued           []gatt.OpKind
	disconnectStates []gatt.StateChange
	disconnectDelay  time.Duration

	closeCount atomic.Int32
	callbacks  sync.WaitGroup
}

// Bind wires the callback sink. Must be called before the first request.
func (f *FakeDriver) Bind(events gatt.DriverEvents) {
	f.events = events
}

// Issued returns the operations accepted or rejected so far, in order.
func (f *FakeDriver) Issued() []gatt.OpKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gatt.OpKind, len(f.issued))
	copy(out, f.issued)
	return out
}

// CloseCount returns how many times Close was invoked.
func (f *FakeDriver) CloseCount() int {
	return int(f.closeCount.Load())
}

// WaitCallbacks blocks until all in-flight callback goroutines have run.
func (f *FakeDriver) WaitCallbacks() {
	f.callbacks.Wait()
}

// EmitConnectionState pushes a connection-state transition from the test,
// independent of any request.
func (f *FakeDriver) EmitConnectionState(state gatt.ConnState, status gatt.Status) {
	f.events.OnConnectionStateChange(state, status)
}

// EmitResponse pushes a raw completion callback from the test. Blocks like a
// real driver callback would when the previous response is unconsumed, so
// call it from a separate goroutine when that matters.
func (f *FakeDriver) EmitResponse(ev gatt.Response) {
	f.deliver(ev.Kind, Completion{Status: ev.Status, Value: ev.Value, RSSI: ev.RSSI},
		ev.Characteristic, ev.Descriptor)
}

// DiscoverServices implements gatt.Driver.
func (f *FakeDriver) DiscoverServices() bool {
	return f.request(gatt.OpDiscoverServices, gatt.CharacteristicRef{}, gatt.DescriptorRef{})
}

// ReadCharacteristic implements gatt.Driver.
func (f *FakeDriver) ReadCharacteristic(ref gatt.CharacteristicRef) bool {
	return f.request(gatt.OpReadCharacteristic, ref, gatt.DescriptorRef{})
}

// WriteCharacteristic implements gatt.Driver.
func (f *FakeDriver) WriteCharacteristic(ref gatt.CharacteristicRef, value []byte, writeType gatt.WriteType) bool {
	return f.request(gatt.OpWriteCharacteristic, ref, gatt.DescriptorRef{})
}

// WriteDescriptor implements gatt.Driver.
func (f *FakeDriver) WriteDescriptor(ref gatt.DescriptorRef, value []byte) bool {
	return f.request(gatt.OpWriteDescriptor, gatt.CharacteristicRef{}, ref)
}

// ReadRemoteRSSI implements gatt.Driver.
func (f *FakeDriver) ReadRemoteRSSI() bool {
	return f.request(gatt.OpReadRSSI, gatt.CharacteristicRef{}, gatt.DescriptorRef{})
}

// Disconnect implements gatt.Driver. Emits the scripted connection-state
// transitions (Disconnecting then Disconnected by default) on the callback
// goroutine.
func (f *FakeDriver) Disconnect() {
	f.mu.Lock()
	f.issued = append(f.issued, gatt.OpDisconnect)
	states := make([]gatt.StateChange, len(f.disconnectStates))
	copy(states, f.disconnectStates)
	delay := f.disconnectDelay
	f.mu.Unlock()

	f.callbacks.Add(1)
	go func() {
		defer f.callbacks.Done()
		for _, change := range states {
			if delay > 0 {
				time.Sleep(delay)
			}
			f.events.OnConnectionStateChange(change.State, change.Status)
		}
	}()
}

// Close implements gatt.Driver.
func (f *FakeDriver) Close() {
	f.closeCount.Add(1)
	f.logger.Debug("Fake driver handle closed")
}

func (f *FakeDriver) request(kind gatt.OpKind, charRef gatt.CharacteristicRef, descRef gatt.DescriptorRef) bool {
	f.mu.Lock()
	f.issued = append(f.issued, kind)
	behavior := f.popBehavior(kind)
	f.mu.Unlock()

	if behavior.reject {
		f.logger.WithField("op", kind).Debug("Fake driver rejecting request")
		return false
	}
	if behavior.pending {
		f.logger.WithField("op", kind).Debug("Fake driver accepting request without completion")
		return true
	}

	comp := behavior.completion
	f.callbacks.Add(1)
	go func() {
		defer f.callbacks.Done()
		if comp.Delay > 0 {
			time.Sleep(comp.Delay)
		}
		f.deliver(kind, comp, charRef, descRef)
	}()
	return true
}

// popBehavior consumes the next scripted behavior for kind, defaulting to an
// immediate success. Caller holds f.mu.
func (f *FakeDriver) popBehavior(kind gatt.OpKind) *opBehavior {
	queue := f.behaviors[kind]
	if len(queue) == 0 {
		return &opBehavior{}
	}
	behavior := queue[0]
	f.behaviors[kind] = queue[1:]
	return behavior
}

func (f *FakeDriver) deliver(kind gatt.OpKind, comp Completion, charRef gatt.CharacteristicRef, descRef gatt.DescriptorRef) {
	if comp.RespondAs != nil {
		kind = *comp.RespondAs
	}
	switch kind {
	case gatt.OpDiscoverServices:
		f.events.OnServicesDiscovered(comp.Status)
	case gatt.OpReadCharacteristic:
		f.events.OnCharacteristicRead(charRef, comp.Value, comp.Status)
	case gatt.OpWriteCharacteristic:
		f.events.OnCharacteristicWrite(charRef, comp.Status)
	case gatt.OpWriteDescriptor:
		f.events.OnDescriptorWrite(descRef, comp.Status)
	case gatt.OpReadRSSI:
		f.events.OnReadRemoteRSSI(comp.RSSI, comp.Status)
	default:
		panic(fmt.Sprintf("FakeDriver: cannot deliver completion for %s", kind))
	}
}

var _ gatt.Driver = (*FakeDriver)(nil)

// ----------------------------
// Builder
// ----------------------------

// FakeDriverBuilder configures a FakeDriver with a fluent API.
//
//	driver := testutils.NewFakeDriverBuilder().
//	    WithCompletion(gatt.OpReadCharacteristic, testutils.Completion{Value: []byte{1, 2}}).
//	    WithReject(gatt.OpWriteCharacteristic).
//	    Build(logger)
type FakeDriverBuilder struct {
	behaviors        map[gatt.OpKind][]*opBehavior
	disconnectStates []gatt.StateChange
	disconnectDelay  time.Duration
}

// NewFakeDriverBuilder creates a builder with the default disconnect script
// (Disconnecting followed by Disconnected, both successful).
func NewFakeDriverBuilder() *FakeDriverBuilder {
	return &FakeDriverBuilder{
		behaviors: make(map[gatt.OpKind][]*opBehavior),
		disconnectStates: []gatt.StateChange{
			{State: gatt.StateDisconnecting, Status: gatt.StatusSuccess},
			{State: gatt.StateDisconnected, Status: gatt.StatusSuccess},
		},
	}
}

// WithCompletion scripts the next request of kind to complete as given.
func (b *FakeDriverBuilder) WithCompletion(kind gatt.OpKind, comp Completion) *FakeDriverBuilder {
	b.behaviors[kind] = append(b.behaviors[kind], &opBehavior{completion: comp})
	return b
}

// WithReject scripts the next request of kind to be rejected synchronously.
func (b *FakeDriverBuilder) WithReject(kind gatt.OpKind) *FakeDriverBuilder {
	b.behaviors[kind] = append(b.behaviors[kind], &opBehavior{reject: true})
	return b
}

// WithPending scripts the next request of kind to be accepted but never
// completed, for cancellation and connection-loss scenarios.
func (b *FakeDriverBuilder) WithPending(kind gatt.OpKind) *FakeDriverBuilder {
	b.behaviors[kind] = append(b.behaviors[kind], &opBehavior{pending: true})
	return b
}

// WithMismatchedCompletion scripts the next request of kind to be answered
// with a completion of the wrong kind.
func (b *FakeDriverBuilder) WithMismatchedCompletion(kind, respondAs gatt.OpKind) *FakeDriverBuilder {
	b.behaviors[kind] = append(b.behaviors[kind], &opBehavior{
		completion: Completion{RespondAs: &respondAs},
	})
	return b
}

// WithDisconnectStates replaces the transitions emitted by Disconnect.
func (b *FakeDriverBuilder) WithDisconnectStates(states ...gatt.StateChange) *FakeDriverBuilder {
	b.disconnectStates = states
	return b
}

// WithDisconnectDelay delays each emitted disconnect transition.
func (b *FakeDriverBuilder) WithDisconnectDelay(delay time.Duration) *FakeDriverBuilder {
	b.disconnectDelay = delay
	return b
}

// Build materializes the fake driver. Bind must be called before use.
func (b *FakeDriverBuilder) Build(logger *logrus.Logger) *FakeDriver {
	if logger == nil {
		logger = logrus.New()
	}
	behaviors := make(map[gatt.OpKind][]*opBehavior, len(b.behaviors))
	for kind, queue := range b.behaviors {
		behaviors[kind] = append([]*opBehavior(nil), queue...)
	}
	return &FakeDriver{
		logger:           logger,
		behaviors:        behaviors,
		disconnectStates: append([]gatt.StateChange(nil), b.disconnectStates...),
		disconnectDelay:  b.disconnectDelay,
	}
}

// ----------------------------
// YAML profiles
// ----------------------------

type operationConfig struct {
	Op        string `yaml:"op"`
	Reject    bool   `yaml:"reject,omitempty"`
	Pending   bool   `yaml:"pending,omitempty"`
	Status    int    `yaml:"status,omitempty"`
	Value     []int  `yaml:"value,omitempty"`
	RSSI      int    `yaml:"rssi,omitempty"`
	DelayMs   int    `yaml:"delay_ms,omitempty"`
	RespondAs string `yaml:"respond_as,omitempty"`
}

func (c operationConfig) valueBytes() []byte {
	if len(c.Value) == 0 {
		return nil
	}
	out := make([]byte, len(c.Value))
	for i, v := range c.Value {
		out[i] = byte(v)
	}
	return out
}

type stateConfig struct {
	State  string `yaml:"state"`
	Status int    `yaml:"status,omitempty"`
}

type disconnectConfig struct {
	DelayMs int           `yaml:"delay_ms,omitempty"`
	States  []stateConfig `yaml:"states,omitempty"`
}

type driverProfileConfig struct {
	Operations []operationConfig `yaml:"operations"`
	Disconnect *disconnectConfig `yaml:"disconnect,omitempty"`
}

// FromYAML fills the builder from a YAML profile. Panics on malformed input,
// mirroring the JSON profile builders used elsewhere in tests.
//
//	operations:
//	  - op: read_characteristic
//	    value: [1, 2, 3]
//	  - op: write_characteristic
//	    reject: true
//	disconnect:
//	  states:
//	    - state: disconnected
func (b *FakeDriverBuilder) FromYAML(yamlStrFmt string, args ...interface{}) *FakeDriverBuilder {
	yamlStr := fmt.Sprintf(yamlStrFmt, args...)

	var config driverProfileConfig
	if err := yaml.Unmarshal([]byte(yamlStr), &config); err != nil {
		panic(fmt.Sprintf("FakeDriverBuilder.FromYAML: failed to unmarshal: %v", err))
	}

	for _, op := range config.Operations {
		kind := mustParseOpKind(op.Op)
		switch {
		case op.Reject:
			b.WithReject(kind)
		case op.Pending:
			b.WithPending(kind)
		default:
			comp := Completion{
				Status: gatt.Status(op.Status),
				Value:  op.valueBytes(),
				RSSI:   op.RSSI,
				Delay:  time.Duration(op.DelayMs) * time.Millisecond,
			}
			if op.RespondAs != "" {
				respondAs := mustParseOpKind(op.RespondAs)
				comp.RespondAs = &respondAs
			}
			b.WithCompletion(kind, comp)
		}
	}

	if config.Disconnect != nil {
		b.disconnectDelay = time.Duration(config.Disconnect.DelayMs) * time.Millisecond
		if len(config.Disconnect.States) > 0 {
			states := make([]gatt.StateChange, 0, len(config.Disconnect.States))
			for _, sc := range config.Disconnect.States {
				states = append(states, gatt.StateChange{
					State:  mustParseConnState(sc.State),
					Status: gatt.Status(sc.Status),
				})
			}
			b.disconnectStates = states
		}
	}

	return b
}

func mustParseOpKind(name string) gatt.OpKind {
	kinds := []gatt.OpKind{
		gatt.OpDiscoverServices,
		gatt.OpReadCharacteristic,
		gatt.OpWriteCharacteristic,
		gatt.OpWriteDescriptor,
		gatt.OpReadRSSI,
		gatt.OpDisconnect,
	}
	for _, k := range kinds {
		if k.String() == name {
			return k
		}
	}
	panic(fmt.Sprintf("unknown operation kind %q", name))
}

func mustParseConnState(name string) gatt.ConnState {
	states := []gatt.ConnState{
		gatt.StateConnecting,
		gatt.StateConnected,
		gatt.StateDisconnecting,
		gatt.StateDisconnected,
	}
	for _, s := range states {
		if s.String() == name {
			return s
		}
	}
	panic(fmt.Sprintf("unknown connection state %q", name))
}
