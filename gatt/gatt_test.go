package gatt_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/gattsync/gatt"
)

func TestNormalizeUUID(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{"short form is lowercased", "2A19", "2a19"},
		{"hex prefix is stripped", "0x2A19", "2a19"},
		{"whitespace is trimmed", " 180f ", "180f"},
		{"dashed full form keeps non-sig base", "6e400001-b5a3-f393-e0a9-e50e24dcca9e", "6e400001b5a3f393e0a9e50e24dcca9e"},
		{"sig base collapses to short form", "00002A19-0000-1000-8000-00805F9B34FB", "2a19"},
		{"sig base without dashes collapses too", "0000180f00001000800000805f9b34fb", "180f"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, gatt.NormalizeUUID(tc.input), "normalized form MUST be canonical")
		})
	}
}

func TestRefNormalization(t *testing.T) {
	a := gatt.NewCharacteristicRef("180F", "00002A19-0000-1000-8000-00805F9B34FB")
	b := gatt.NewCharacteristicRef("180f", "2a19")
	assert.Equal(t, a, b, "refs built from equivalent UUID spellings MUST compare equal")

	d := gatt.NewDescriptorRef("180F", "2A19", "0x2902")
	assert.Equal(t, "2902", d.UUID, "descriptor UUID MUST be normalized")
}

func TestErrorTaxonomy(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		err := fmt.Errorf("read_characteristic: %w",
			&gatt.RejectedError{Op: gatt.OpReadCharacteristic, Reason: "queue full"})

		assert.ErrorIs(t, err, gatt.ErrRequestRejected, "rejection MUST match its sentinel through wrapping")
		assert.NotErrorIs(t, err, gatt.ErrConnectionLost, "rejection MUST NOT match other categories")

		var rejected *gatt.RejectedError
		assert.ErrorAs(t, err, &rejected, "the typed error MUST be recoverable")
		assert.Contains(t, rejected.Error(), "queue full", "message MUST include the reason")
	})

	t.Run("out of order", func(t *testing.T) {
		err := error(&gatt.OutOfOrderError{
			Expected: gatt.OpReadCharacteristic,
			Actual:   gatt.OpWriteCharacteristic,
		})

		assert.ErrorIs(t, err, gatt.ErrOutOfOrder, "mismatch MUST match its sentinel")
		assert.Contains(t, err.Error(), "read_characteristic", "message MUST name the expected kind")
		assert.Contains(t, err.Error(), "write_characteristic", "message MUST name the actual kind")
	})

	t.Run("connection lost", func(t *testing.T) {
		err := error(&gatt.ConnectionLostError{
			Op:    gatt.OpReadRSSI,
			Event: gatt.StateChange{State: gatt.StateDisconnected, Status: gatt.StatusFailure},
		})

		assert.ErrorIs(t, err, gatt.ErrConnectionLost, "loss MUST match its sentinel")
		assert.Contains(t, err.Error(), "disconnected", "message MUST describe the transition")
	})

	t.Run("sentinels are distinct", func(t *testing.T) {
		assert.False(t, errors.Is(gatt.ErrOutOfOrder, gatt.ErrConnectionLost), "categories MUST NOT overlap")
		assert.False(t, errors.Is(gatt.ErrRequestRejected, gatt.ErrOutOfOrder), "categories MUST NOT overlap")
	})
}

func TestDefaultOptions(t *testing.T) {
	opts := gatt.DefaultOptions()
	assert.Equal(t, 4, opts.StateFeedCapacity, "state feed capacity MUST come from the struct tag default")
	assert.Equal(t, uint32(16), opts.StrayTraceCapacity, "stray trace capacity MUST come from the struct tag default")
	assert.NotNil(t, opts.Logger, "a logger MUST be provided")

	router := gatt.NewEventRouter(nil)
	_, ok := router.LastState()
	assert.False(t, ok, "a fresh router built from nil options MUST be usable and empty")
}

func TestStatusAndKindStrings(t *testing.T) {
	assert.True(t, gatt.StatusSuccess.OK(), "zero status MUST be success")
	assert.False(t, gatt.StatusFailure.OK(), "non-zero status MUST NOT be success")

	assert.Equal(t, "discover_services", gatt.OpDiscoverServices.String())
	assert.Equal(t, "read_rssi", gatt.OpReadRSSI.String())
	assert.Equal(t, "disconnected", gatt.StateDisconnected.String())
}
