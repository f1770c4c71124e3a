package forum

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

// fakeStore keeps posts in a map and can simulate preempted updates and outages.
type fakeStore struct {
	mu              sync.Mutex
	posts           map[string]Post
	conflicts       int
	updateAttempts  int
	failWith        error
	createFailsWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{posts: map[string]Post{}}
}

func (s *fakeStore) CreatePost(_ context.Context, post Post) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createFailsWith != nil {
		return Post{}, s.createFailsWith
	}
	if _, exists := s.posts[post.ID]; exists {
		return Post{}, fmt.Errorf("post %s exists", post.ID)
	}
	s.posts[post.ID] = post.Clone()
	return post.Clone(), nil
}

func (s *fakeStore) GetPost(_ context.Context, postID string) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return Post{}, s.failWith
	}
	post, ok := s.posts[postID]
	if !ok {
		return Post{}, ErrNotFound
	}
	return post.Clone(), nil
}

func (s *fakeStore) ListPosts(_ context.Context) ([]Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	posts := make([]Post, 0, len(s.posts))
	for _, post := range s.posts {
		posts = append(posts, post.Clone())
	}
	return posts, nil
}

func (s *fakeStore) UpdatePost(_ context.Context, postID string, mutate Mutator) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateAttempts++
	if s.failWith != nil {
		return Post{}, s.failWith
	}
	stored, ok := s.posts[postID]
	if !ok {
		return Post{}, ErrNotFound
	}
	proposed, err := mutate(stored.Clone())
	if err != nil {
		return Post{}, err
	}
	if s.conflicts > 0 {
		s.conflicts--
		return Post{}, ErrConflict
	}
	next, err := CheckedUpdate(stored, proposed)
	if err != nil {
		return Post{}, err
	}
	s.posts[postID] = next
	return next.Clone(), nil
}

func (s *fakeStore) put(post Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[post.ID] = post.Clone()
}

func (s *fakeStore) stored(t *testing.T, postID string) Post {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[postID]
	if !ok {
		t.Fatalf("post %s not stored", postID)
	}
	return post.Clone()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []PostEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event PostEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) recorded() []PostEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PostEvent, len(p.events))
	copy(out, p.events)
	return out
}

type staticProfiles map[string]string

func (p staticProfiles) BusinessName(_ context.Context, email string) (string, error) {
	return p[email], nil
}

type failingProfiles struct{}

func (failingProfiles) BusinessName(context.Context, string) (string, error) {
	return "", errors.New("profile store offline")
}

func fixedClock(value time.Time) func() time.Time {
	return func() time.Time { return value }
}

func seededPost(id string, upvotes int64, createdAt time.Time) Post {
	return Post{
		ID:           id,
		Title:        "Title " + id,
		Category:     "Energy",
		BusinessName: "Green Bakery",
		Author:       "owner@greenbakery.example",
		Upvotes:      upvotes,
		Voters:       map[VoterKey]VoteDirection{},
		Comments:     []Comment{},
		CreatedAt:    createdAt,
		Version:      1,
	}
}

func newTestService(t *testing.T, store Store, ids ...string) (*Service, *recordingPublisher) {
	t.Helper()
	publisher := &recordingPublisher{}
	service, err := NewService(ServiceConfig{
		Store:      store,
		Clock:      fixedClock(time.Date(2025, 4, 22, 12, 0, 0, 0, time.UTC)),
		IDProvider: &staticIDGenerator{ids: ids},
		Publisher:  publisher,
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return service, publisher
}

func mustVoterKey(t *testing.T, value string) VoterKey {
	t.Helper()
	key, err := NewVoterKey(value)
	if err != nil {
		t.Fatalf("unexpected voter key error: %v", err)
	}
	return key
}

func serviceErrorCode(t *testing.T, err error) string {
	t.Helper()
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected ServiceError, got %T: %v", err, err)
	}
	return serviceErr.Code()
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("unexpected time error: %v", err)
	}
	return parsed
}
