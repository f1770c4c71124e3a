// Package memory keeps forum posts in process memory. Updates use per-post compare-and-swap on the
// version so mutators run without holding the store lock.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/sustainhub/internal/forum"
)

// Store implements forum.Store.
type Store struct {
	mu    sync.RWMutex
	posts map[string]forum.Post

	// beforeCommit runs between the mutator and the version check. Tests use it to inject
	// concurrent writers.
	beforeCommit func(postID string)
}

// New creates an empty store.
func New() *Store {
	return &Store{posts: make(map[string]forum.Post)}
}

func (s *Store) CreatePost(_ context.Context, post forum.Post) (forum.Post, error) {
	if post.ID == "" {
		return forum.Post{}, fmt.Errorf("%w: empty post id", forum.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.posts[post.ID]; exists {
		return forum.Post{}, fmt.Errorf("memory: post %s already exists", post.ID)
	}
	stored := post.Clone()
	if stored.Version <= 0 {
		stored.Version = 1
	}
	s.posts[stored.ID] = stored
	return stored.Clone(), nil
}

func (s *Store) GetPost(_ context.Context, postID string) (forum.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	post, ok := s.posts[postID]
	if !ok {
		return forum.Post{}, fmt.Errorf("%w: %s", forum.ErrNotFound, postID)
	}
	return post.Clone(), nil
}

// ListPosts returns all posts, newest first.
func (s *Store) ListPosts(_ context.Context) ([]forum.Post, error) {
	s.mu.RLock()
	posts := make([]forum.Post, 0, len(s.posts))
	for _, post := range s.posts {
		posts = append(posts, post.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(posts, func(left, right int) bool {
		if posts[left].CreatedAt.Equal(posts[right].CreatedAt) {
			return posts[left].ID < posts[right].ID
		}
		return posts[left].CreatedAt.After(posts[right].CreatedAt)
	})
	return posts, nil
}

// UpdatePost runs mutate on a private snapshot and commits only if no other writer committed
// in between; otherwise it returns forum.ErrConflict.
func (s *Store) UpdatePost(_ context.Context, postID string, mutate forum.Mutator) (forum.Post, error) {
	s.mu.RLock()
	stored, ok := s.posts[postID]
	s.mu.RUnlock()
	if !ok {
		return forum.Post{}, fmt.Errorf("%w: %s", forum.ErrNotFound, postID)
	}
	snapshot := stored.Clone()

	proposed, err := mutate(snapshot.Clone())
	if err != nil {
		return forum.Post{}, err
	}
	committed, err := forum.CheckedUpdate(snapshot, proposed)
	if err != nil {
		return forum.Post{}, err
	}

	if s.beforeCommit != nil {
		s.beforeCommit(postID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.posts[postID]
	if !ok {
		return forum.Post{}, fmt.Errorf("%w: %s", forum.ErrNotFound, postID)
	}
	if current.Version != snapshot.Version {
		return forum.Post{}, fmt.Errorf("%w: post %s at version %d, expected %d", forum.ErrConflict, postID, current.Version, snapshot.Version)
	}
	s.posts[postID] = committed
	return committed.Clone(), nil
}
