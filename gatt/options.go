package gatt

import (
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// Options configures the EventRouter and Coordinator.
type Options struct {
	// StateFeedCapacity is the per-subscriber buffer of the connection-state
	// broadcast. Old transitions are overwritten, so a slow subscriber always
	// sees the most recent state.
	StateFeedCapacity int `default:"4"`

	// StrayTraceCapacity bounds the diagnostic ring of discarded responses
	// (late arrivals from cancelled operations, kind mismatches).
	StrayTraceCapacity uint32 `default:"16"`

	// Logger is the structured logger. A default logger is created when nil.
	Logger *logrus.Logger
}

// DefaultOptions returns Options populated from the struct tag defaults.
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	opts.Logger = logrus.New()
	return opts
}

// normalized fills zero fields from the struct tag defaults so components can
// rely on the options being complete. Accepts nil.
func (o *Options) normalized() *Options {
	out := DefaultOptions()
	if o == nil {
		return out
	}
	if o.StateFeedCapacity > 0 {
		out.StateFeedCapacity = o.StateFeedCapacity
	}
	if o.StrayTraceCapacity > 0 {
		out.StrayTraceCapacity = o.StrayTraceCapacity
	}
	if o.Logger != nil {
		out.Logger = o.Logger
	}
	return out
}
