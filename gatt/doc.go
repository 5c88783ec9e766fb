// Package gatt turns an asynchronous, callback-only GATT transport into a
// sequential request/response API.
//
// The package is built around two components:
//   - EventRouter: classifies raw driver callbacks into typed Response values
//     and hands each one to the single operation currently awaiting it, while
//     independently broadcasting connection-state transitions to any number
//     of subscribers.
//   - Coordinator: the public-facing object. One method per hardware
//     primitive; each call acquires the single in-flight-operation slot,
//     issues the request, suspends until the matching callback arrives,
//     validates it, and returns a typed result.
//
// Status failures reported by the remote stack are normal business outcomes
// and are returned inside results, not as errors. Coordination faults
// (rejected requests, out-of-order callbacks, connection loss) are errors.
package gatt
