package transport

import "time"

// Config collects every tunable the spec names as a "reference value",
// each exposed as an overridable field rather than a hardcoded constant.
type Config struct {
	// ReadBufferSize is the chunk size used for each socket read.
	ReadBufferSize int

	// SendQueueSize is the buffer depth of the async sender's channel.
	SendQueueSize int

	// StopGrace bounds how long the transport waits for the async
	// sender's stopped acknowledgement during shutdown before giving up
	// and closing the socket anyway. Reference value: 500ms (§3).
	StopGrace time.Duration

	// DialTimeout bounds a dialer-path TCP connect attempt.
	DialTimeout time.Duration

	// FailOnUnsentData changes the Send action's behavior when no
	// sender is installed: by default (false) the bytes are dropped with
	// a logged warning, matching the original semantics the spec flags as an
	// open question (§9). Setting this true makes that case terminate
	// the transport with ErrNoSender instead of dropping data.
	FailOnUnsentData bool
}

// DefaultConfig returns the reference values named throughout the spec.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:   32 * 1024,
		SendQueueSize:    64,
		StopGrace:        500 * time.Millisecond,
		DialTimeout:      30 * time.Second,
		FailOnUnsentData: false,
	}
}
