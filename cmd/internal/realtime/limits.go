package realtime

import "time"

const (
	// Max bytes per inbound websocket frame.
	maxFrameBytes = 16 << 10 // 16 KiB

	defaultSendQueue = 64
	minSendQueue     = 8

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	writeTimeout    = 5 * time.Second
	readIdleTimeout = 2 * time.Minute
	closeGrace      = 1 * time.Second

	// Inbound frames per connection per window.
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
