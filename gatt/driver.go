package gatt

import "strings"

// WriteType selects how a characteristic write is acknowledged by the remote.
type WriteType int

const (
	// WriteWithResponse requests an acknowledged write.
	WriteWithResponse WriteType = iota
	// WriteWithoutResponse requests an unacknowledged write.
	WriteWithoutResponse
)

// CharacteristicRef identifies a characteristic by service and characteristic
// UUID. UUIDs are stored normalized (lowercase, no dashes) so refs compare
// equal regardless of the format the caller used.
type CharacteristicRef struct {
	Service string
	UUID    string
}

// NewCharacteristicRef builds a normalized characteristic reference.
func NewCharacteristicRef(service, uuid string) CharacteristicRef {
	return CharacteristicRef{
		Service: NormalizeUUID(service),
		UUID:    NormalizeUUID(uuid),
	}
}

// DescriptorRef identifies a descriptor within a characteristic.
type DescriptorRef struct {
	Service        string
	Characteristic string
	UUID           string
}

// NewDescriptorRef builds a normalized descriptor reference.
func NewDescriptorRef(service, characteristic, uuid string) DescriptorRef {
	return DescriptorRef{
		Service:        NormalizeUUID(service),
		Characteristic: NormalizeUUID(characteristic),
		UUID:           NormalizeUUID(uuid),
	}
}

// Driver is the hardware transport the Coordinator drives. Implementations
// accept a request synchronously and report completion later through exactly
// one DriverEvents callback per accepted request.
//
// A false return means the request could not even be enqueued; no completion
// callback will ever arrive for that attempt.
type Driver interface {
	DiscoverServices() bool
	ReadCharacteristic(ref CharacteristicRef) bool
	WriteCharacteristic(ref CharacteristicRef, value []byte, writeType WriteType) bool
	WriteDescriptor(ref DescriptorRef, value []byte) bool
	ReadRemoteRSSI() bool

	// Disconnect asks the transport to tear the link down. Completion is
	// reported through OnConnectionStateChange, not a response callback.
	Disconnect()

	// Close releases the underlying hardware handle. Called exactly once by
	// the Coordinator.
	Close()
}

// DriverEvents is the callback sink a Driver reports into. The driver invokes
// these from its own callback goroutine, distinct from operation callers.
type DriverEvents interface {
	OnServicesDiscovered(status Status)
	OnCharacteristicRead(ref CharacteristicRef, value []byte, status Status)
	OnCharacteristicWrite(ref CharacteristicRef, status Status)
	OnDescriptorWrite(ref DescriptorRef, status Status)
	OnReadRemoteRSSI(rssi int, status Status)
	OnConnectionStateChange(state ConnState, status Status)
}

// NormalizeUUID converts a UUID string to a canonical lookup form: lowercase,
// no dashes, no 0x prefix. Full 128-bit UUIDs in the Bluetooth SIG base range
// (0000xxxx-0000-1000-8000-00805f9b34fb) collapse to their 16-bit short form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, "00001000800000805f9b34fb") {
		return u[4:8]
	}
	return u
}
