package vm

import (
	"time"

	"go.uber.org/zap"
)

// VerboseFlags gates per-subsystem debug logging.
type VerboseFlags struct {
	Class   bool
	GC      bool
	Execute bool
	JNI     bool
	Debug   bool
}

// Options configures a VM instance.
type Options struct {
	// ClassPath is the platform-separated list of directories and
	// archives searched by the bootstrap loader.
	ClassPath string

	// Properties pre-seeds the system property map (-D pairs).
	Properties map[string]string

	Verbose VerboseFlags

	// Logger receives VM diagnostics. Defaults to a nop logger.
	Logger *zap.Logger

	// GCInterval is the pause between collection cycles of the GC
	// thread. Zero selects the default.
	GCInterval time.Duration

	// StackSlots overrides the per-executor value-slot arena size.
	// Zero selects the default (a 256 KiB region).
	StackSlots int32
}

const defaultGCInterval = 50 * time.Millisecond

func (o *Options) normalize() {
	if o.Properties == nil {
		o.Properties = make(map[string]string)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.GCInterval == 0 {
		o.GCInterval = defaultGCInterval
	}
	if o.StackSlots == 0 {
		o.StackSlots = executorStackSlots
	}
}

// SetProperty sets a system property if it is not already set.
func (o *Options) SetProperty(key, value string) {
	if _, ok := o.Properties[key]; !ok {
		o.Properties[key] = value
	}
}
