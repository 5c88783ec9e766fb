package gatt

import (
	"errors"
	"fmt"
)

// Sentinel errors for the coordination fault taxonomy. The typed errors below
// match these through errors.Is, so callers can branch on the category without
// caring about the carried detail.
var (
	// ErrRequestRejected: the driver refused to enqueue the request
	// synchronously. No completion callback will arrive.
	ErrRequestRejected = errors.New("request rejected")

	// ErrOutOfOrder: a completion of an unexpected kind arrived while a
	// different operation was pending. Indicates a driver protocol breach.
	ErrOutOfOrder = errors.New("out of order callback")

	// ErrConnectionLost: the connection dropped while an operation awaited
	// its completion.
	ErrConnectionLost = errors.New("connection lost")
)

// RejectedError reports a synchronous request rejection.
type RejectedError struct {
	Op     OpKind
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: request rejected", e.Op)
	}
	return fmt.Sprintf("%s: request rejected: %s", e.Op, e.Reason)
}

// Is allows errors.Is matching against ErrRequestRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRequestRejected
}

// OutOfOrderError reports a completion whose kind does not correspond to the
// pending operation. Both kinds are carried so callers can tell "driver sent
// the wrong event" apart from "driver sent no event".
type OutOfOrderError struct {
	Expected OpKind
	Actual   OpKind
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out of order callback: expected %s, got %s", e.Expected, e.Actual)
}

// Is allows errors.Is matching against ErrOutOfOrder.
func (e *OutOfOrderError) Is(target error) bool {
	return target == ErrOutOfOrder
}

// ConnectionLostError aborts an operation whose round trip was cut short by a
// Disconnected transition. Event is the transition that caused the abort.
type ConnectionLostError struct {
	Op    OpKind
	Event StateChange
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("%s: connection lost: %s", e.Op, e.Event)
}

// Is allows errors.Is matching against ErrConnectionLost.
func (e *ConnectionLostError) Is(target error) bool {
	return target == ErrConnectionLost
}
