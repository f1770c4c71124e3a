package forum

import (
	"context"
	"time"
)

// EventType names a committed post mutation.
type EventType string

const (
	// EventPostCreated is emitted after a post is persisted.
	EventPostCreated EventType = "post-created"
	// EventPostVoted is emitted after a vote transition is committed.
	EventPostVoted EventType = "post-voted"
	// EventCommentAdded is emitted after a comment is appended.
	EventCommentAdded EventType = "comment-added"
)

// PostEvent is a snapshot of a post taken right after a committed mutation.
type PostEvent struct {
	Type       EventType `json:"type"`
	Post       Post      `json:"post"`
	Version    int64     `json:"version"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventPublisher receives committed post snapshots.
type EventPublisher interface {
	Publish(ctx context.Context, event PostEvent) error
}

// EventSubscriber streams committed post snapshots until the context ends or cleanup is called.
type EventSubscriber interface {
	Subscribe(ctx context.Context) (<-chan PostEvent, func())
}
