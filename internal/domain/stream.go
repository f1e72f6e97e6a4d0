package domain

import "time"

// StreamInfo describes one live stream from the catalog.
type StreamInfo struct {
	ID       string        `json:"id"`
	Channel  string        `json:"channel"`
	Interval time.Duration `json:"interval"`
}

// StreamCatalog lists the configured live streams.
type StreamCatalog interface {
	Streams() []StreamInfo
	Lookup(id string) (StreamInfo, bool)
}

// StreamGate is notified when a channel's subscriber population crosses
// zero. The registry calls these inside its own critical section, so
// implementations must not call back into the registry or block.
type StreamGate interface {
	// ChannelActive fires when a channel gains its first subscriber.
	ChannelActive(channel string)

	// ChannelIdle fires when a channel loses its last subscriber.
	ChannelIdle(channel string)
}

// ChannelBroadcaster is the fan-out dependency of the stream scheduler.
type ChannelBroadcaster interface {
	// BroadcastChannel delivers msg to every subscriber of the channel,
	// skipping the excluded connections, and returns the delivered count.
	BroadcastChannel(channel string, msg ServerMessage, exclude ...ConnectionID) int
}
