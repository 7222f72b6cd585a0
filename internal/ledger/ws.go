package ledger

import "context"

// WSClient defines the ledger WebSocket subscription interface.
type WSClient interface {
	// SubscribeCreations subscribes to StreamCreated events matching the filter.
	SubscribeCreations(ctx context.Context, filter CreationFilter) (<-chan CreationNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// CreationFilter defines a subscription filter for StreamCreated events.
type CreationFilter struct {
	// Mentions filters events where any of these account addresses appears
	// as sender or recipient. Empty means all events.
	Mentions []string
}

// CreationNotification is a StreamCreated subscription message.
type CreationNotification struct {
	StreamID  string
	Sender    string
	Recipient string
	Block     int64
	TxID      string
}
