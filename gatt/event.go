package gatt

import "fmt"

// Status is the integer completion code reported by the remote GATT stack.
// Zero means success; any other value is a business-level failure carried
// inside results rather than surfaced as an error.
type Status int

const (
	// StatusSuccess is the distinguished success code.
	StatusSuccess Status = 0
	// StatusFailure is the generic failure code used when the transport
	// reports an error without a more specific status.
	StatusFailure Status = 0x85
)

// OK reports whether the status is the success code.
func (s Status) OK() bool {
	return s == StatusSuccess
}

// OpKind enumerates the hardware operations the Coordinator can have in
// flight, and doubles as the discriminator of Response values.
type OpKind int

const (
	OpDiscoverServices OpKind = iota
	OpReadCharacteristic
	OpWriteCharacteristic
	OpWriteDescriptor
	OpReadRSSI
	OpDisconnect
)

func (k OpKind) String() string {
	switch k {
	case OpDiscoverServices:
		return "discover_services"
	case OpReadCharacteristic:
		return "read_characteristic"
	case OpWriteCharacteristic:
		return "write_characteristic"
	case OpWriteDescriptor:
		return "write_descriptor"
	case OpReadRSSI:
		return "read_rssi"
	case OpDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("op_kind(%d)", int(k))
	}
}

// Response is the typed form of one request-completion callback. Kind selects
// which of the payload fields are meaningful.
type Response struct {
	Kind   OpKind
	Status Status

	Characteristic CharacteristicRef // read/write completions
	Descriptor     DescriptorRef     // descriptor write completions
	Value          []byte            // read completions
	RSSI           int               // rssi completions
}

// ConnState is the connection lifecycle state pushed by the transport.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("conn_state(%d)", int(s))
	}
}

// StateChange is one connection-state transition as reported by the driver.
type StateChange struct {
	State  ConnState
	Status Status
}

func (c StateChange) String() string {
	return fmt.Sprintf("%s (status %d)", c.State, c.Status)
}
