package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit). Inbound messages are
	// small token envelopes; anything near this size is hostile.
	maxFrameBytes = 16 << 10 // 16 KiB

	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (messages per window).
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
