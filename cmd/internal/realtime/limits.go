package realtime

import "time"

const (
	// Max bytes per websocket frame read.
	maxFrameBytes = 16 << 10

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// The first frame must be a hello.
	helloTimeout = 10 * time.Second

	// Per-connection control message limits (events per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
	closeGrace          = 1 * time.Second

	maxPingFailures = 3
)
