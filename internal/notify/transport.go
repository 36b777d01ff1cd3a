// Package notify renders outbox events into chat messages and defines the
// transport contract used to deliver them.
package notify

import "context"

// MediaItem is one entry of a media group. Source is a URL or a local file
// path; Caption is attached to the first item only.
type MediaItem struct {
	Source  string
	Caption string
}

// Action is an inline button attached to a message.
type Action struct {
	Label string
	URL   string
}

// Transport delivers rendered messages to a chat platform. Implementations
// must return the platform-assigned message ids in send order.
type Transport interface {
	SendMediaGroup(ctx context.Context, chat string, items []MediaItem) ([]int64, error)
	SendMessage(ctx context.Context, chat string, text string, action *Action) (int64, error)
}
