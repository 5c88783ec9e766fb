// Package goble adapts an already-connected go-ble client to the gatt.Driver
// contract. go-ble's client API is synchronous; each accepted request runs
// the corresponding blocking call on a named goroutine and reports the
// outcome through the gatt.DriverEvents sink, which restores the
// one-callback-per-request shape the Coordinator expects.
package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattsync/gatt"
	"github.com/srg/gattsync/internal/groutine"
)

// Client is the slice of the go-ble client API the driver needs. A connected
// ble.Client satisfies it; tests substitute a stub.
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, v []byte, noRsp bool) error
	WriteDescriptor(d *ble.Descriptor, v []byte) error
	ReadRSSI() int
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// Driver implements gatt.Driver over a connected go-ble client.
type Driver struct {
	client Client
	events gatt.DriverEvents
	logger *logrus.Logger

	mu    sync.RWMutex
	chars map[gatt.CharacteristicRef]*ble.Characteristic
	descs map[gatt.DescriptorRef]*ble.Descriptor

	closeOnce sync.Once
}

// NewDriver wraps a connected client. Callbacks are reported into events,
// which is normally a gatt.EventRouter. The client's Disconnected channel is
// monitored and republished as a connection-state change, so a link dropped
// by the remote side reaches the Coordinator the same way a requested
// disconnect does.
func NewDriver(client Client, events gatt.DriverEvents, logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.New()
	}
	d := &Driver{
		client: client,
		events: events,
		logger: logger,
		chars:  make(map[gatt.CharacteristicRef]*ble.Characteristic),
		descs:  make(map[gatt.DescriptorRef]*ble.Descriptor),
	}

	groutine.Go(context.Background(), "goble-disconnect-monitor", func(ctx context.Context) {
		<-client.Disconnected()
		d.logger.Warn("Transport reported disconnection")
		d.events.OnConnectionStateChange(gatt.StateDisconnected, gatt.StatusSuccess)
	})

	return d
}

// DiscoverServices implements gatt.Driver. The discovered profile is indexed
// so later read/write requests can resolve refs to live go-ble handles.
func (d *Driver) DiscoverServices() bool {
	groutine.Go(context.Background(), "goble-discover-services", func(ctx context.Context) {
		profile, err := d.client.DiscoverProfile(true)
		if err != nil {
			d.logger.WithError(err).Error("Profile discovery failed")
			d.events.OnServicesDiscovered(gatt.StatusFailure)
			return
		}
		d.index(profile)
		d.logger.WithField("services", len(profile.Services)).Debug("Profile discovered")
		d.events.OnServicesDiscovered(gatt.StatusSuccess)
	})
	return true
}

// ReadCharacteristic implements gatt.Driver. Returns false when the ref does
// not resolve to a discovered characteristic.
func (d *Driver) ReadCharacteristic(ref gatt.CharacteristicRef) bool {
	char := d.lookupCharacteristic(ref)
	if char == nil {
		d.logger.WithFields(logrus.Fields{
			"service": ref.Service,
			"uuid":    ref.UUID,
		}).Warn("Read request for unknown characteristic")
		return false
	}

	groutine.Go(context.Background(), "goble-read-characteristic", func(ctx context.Context) {
		value, err := d.client.ReadCharacteristic(char)
		if err != nil {
			d.logger.WithError(err).WithField("uuid", ref.UUID).Warn("Characteristic read failed")
			d.events.OnCharacteristicRead(ref, nil, gatt.StatusFailure)
			return
		}
		d.events.OnCharacteristicRead(ref, value, gatt.StatusSuccess)
	})
	return true
}

// WriteCharacteristic implements gatt.Driver.
func (d *Driver) WriteCharacteristic(ref gatt.CharacteristicRef, value []byte, writeType gatt.WriteType) bool {
	char := d.lookupCharacteristic(ref)
	if char == nil {
		d.logger.WithFields(logrus.Fields{
			"service": ref.Service,
			"uuid":    ref.UUID,
		}).Warn("Write request for unknown characteristic")
		return false
	}

	noRsp := writeType == gatt.WriteWithoutResponse
	groutine.Go(context.Background(), "goble-write-characteristic", func(ctx context.Context) {
		if err := d.client.WriteCharacteristic(char, value, noRsp); err != nil {
			d.logger.WithError(err).WithField("uuid", ref.UUID).Warn("Characteristic write failed")
			d.events.OnCharacteristicWrite(ref, gatt.StatusFailure)
			return
		}
		d.events.OnCharacteristicWrite(ref, gatt.StatusSuccess)
	})
	return true
}

// WriteDescriptor implements gatt.Driver.
func (d *Driver) WriteDescriptor(ref gatt.DescriptorRef, value []byte) bool {
	desc := d.lookupDescriptor(ref)
	if desc == nil {
		d.logger.WithFields(logrus.Fields{
			"characteristic": ref.Characteristic,
			"uuid":           ref.UUID,
		}).Warn("Write request for unknown descriptor")
		return false
	}

	groutine.Go(context.Background(), "goble-write-descriptor", func(ctx context.Context) {
		if err := d.client.WriteDescriptor(desc, value); err != nil {
			d.logger.WithError(err).WithField("uuid", ref.UUID).Warn("Descriptor write failed")
			d.events.OnDescriptorWrite(ref, gatt.StatusFailure)
			return
		}
		d.events.OnDescriptorWrite(ref, gatt.StatusSuccess)
	})
	return true
}

// ReadRemoteRSSI implements gatt.Driver.
func (d *Driver) ReadRemoteRSSI() bool {
	groutine.Go(context.Background(), "goble-read-rssi", func(ctx context.Context) {
		rssi := d.client.ReadRSSI()
		d.events.OnReadRemoteRSSI(rssi, gatt.StatusSuccess)
	})
	return true
}

// Disconnect implements gatt.Driver. go-ble has no distinct disconnecting
// phase, so the transition is synthesized; Disconnected follows from the
// Disconnected() channel monitor once the link actually drops.
func (d *Driver) Disconnect() {
	d.events.OnConnectionStateChange(gatt.StateDisconnecting, gatt.StatusSuccess)
	groutine.Go(context.Background(), "goble-disconnect", func(ctx context.Context) {
		if err := d.client.CancelConnection(); err != nil {
			d.logger.WithError(err).Warn("CancelConnection failed")
		}
	})
}

// Close implements gatt.Driver.
func (d *Driver) Close() {
	d.closeOnce.Do(func() {
		d.logger.Debug("Releasing go-ble client")
		if err := d.client.CancelConnection(); err != nil {
			d.logger.WithError(err).Debug("CancelConnection during close")
		}
	})
}

// index rebuilds the ref lookup tables from a discovered profile.
func (d *Driver) index(profile *ble.Profile) {
	chars := make(map[gatt.CharacteristicRef]*ble.Characteristic)
	descs := make(map[gatt.DescriptorRef]*ble.Descriptor)

	for _, svc := range profile.Services {
		svcUUID := svc.UUID.String()
		for _, char := range svc.Characteristics {
			charUUID := char.UUID.String()
			chars[gatt.NewCharacteristicRef(svcUUID, charUUID)] = char
			for _, desc := range char.Descriptors {
				descs[gatt.NewDescriptorRef(svcUUID, charUUID, desc.UUID.String())] = desc
			}
		}
	}

	d.mu.Lock()
	d.chars = chars
	d.descs = descs
	d.mu.Unlock()
}

func (d *Driver) lookupCharacteristic(ref gatt.CharacteristicRef) *ble.Characteristic {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.chars[gatt.NewCharacteristicRef(ref.Service, ref.UUID)]
}

func (d *Driver) lookupDescriptor(ref gatt.DescriptorRef) *ble.Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.descs[gatt.NewDescriptorRef(ref.Service, ref.Characteristic, ref.UUID)]
}

var _ gatt.Driver = (*Driver)(nil)
