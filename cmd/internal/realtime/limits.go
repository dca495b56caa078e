package realtime

import "time"

// Transport defaults. GatewayConfig overrides most of them through RELAY_WS_* variables.
const (
	// maxFrameBytes is the read limit headroom on top of the largest encoded media payload.
	maxFrameBytes = 64 << 10

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32
	wsDefaultWriteTimeout  = 5 * time.Second
	wsCloseGrace           = time.Second
	wsMaxPingFailures      = 3

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// 120 inbound frames per 10s per connection.
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
