package forum

import (
	"context"
	"fmt"
)

// Mutator receives a private copy of the current post and returns its replacement.
type Mutator func(current Post) (Post, error)

// Store persists posts. UpdatePost must apply the mutator result atomically for one post and
// report ErrConflict when a concurrent writer committed first.
type Store interface {
	CreatePost(ctx context.Context, post Post) (Post, error)
	GetPost(ctx context.Context, postID string) (Post, error)
	ListPosts(ctx context.Context) ([]Post, error)
	UpdatePost(ctx context.Context, postID string, mutate Mutator) (Post, error)
}

// ProfileDirectory resolves the business name recorded in an author's profile.
// An unknown author yields an empty name and no error.
type ProfileDirectory interface {
	BusinessName(ctx context.Context, email string) (string, error)
}

// CheckedUpdate validates a mutator result against the stored post and returns the record to commit.
// Immutable fields are carried over from stored, comments must extend the stored sequence, the score
// must move exactly as the voter ledger does, and the version advances by one.
func CheckedUpdate(stored, proposed Post) (Post, error) {
	if len(proposed.Comments) < len(stored.Comments) {
		return Post{}, fmt.Errorf("%w: comments can only be appended", ErrInvalidArgument)
	}
	for index := range stored.Comments {
		if proposed.Comments[index] != stored.Comments[index] {
			return Post{}, fmt.Errorf("%w: existing comment %d changed", ErrInvalidArgument, index)
		}
	}
	for key, direction := range proposed.Voters {
		if !direction.Valid() {
			return Post{}, fmt.Errorf("%w: voter %s has invalid vote %q", ErrInvalidArgument, key, direction)
		}
	}
	scoreDelta := proposed.Upvotes - stored.Upvotes
	ledgerDelta := proposed.LedgerScore() - stored.LedgerScore()
	if scoreDelta != ledgerDelta {
		return Post{}, fmt.Errorf("%w: score delta %d does not match ledger delta %d", ErrInvalidArgument, scoreDelta, ledgerDelta)
	}

	committed := proposed.Clone()
	committed.ID = stored.ID
	committed.Title = stored.Title
	committed.Category = stored.Category
	committed.BusinessName = stored.BusinessName
	committed.Author = stored.Author
	committed.CreatedAt = stored.CreatedAt
	committed.Version = stored.Version + 1
	return committed, nil
}
