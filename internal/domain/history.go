package domain

import "context"

// HistoryRecorder keeps a bounded recent-message window per channel.
// Append sits on the broadcast hot path, so implementations must not block
// on slow backends there.
type HistoryRecorder interface {
	Append(ctx context.Context, channel string, msg ServerMessage) error

	// Recent returns up to limit messages for the channel, oldest first.
	Recent(ctx context.Context, channel string, limit int) ([]ServerMessage, error)

	Close() error
}
