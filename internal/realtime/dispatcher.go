// Package realtime fans committed post snapshots out to subscribed readers.
package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/sustainhub/internal/forum"
)

const defaultBufferSize = 16

// Dispatcher delivers post events to in-process subscribers. Each subscriber sees the versions of a
// single post in increasing order; stale or duplicate versions are skipped.
type Dispatcher struct {
	mu          sync.Mutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id        int64
	stream    chan forum.PostEvent
	delivered map[string]int64
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a subscriber until ctx ends or cleanup is called. The returned channel is
// closed on cleanup.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan forum.PostEvent, func()) {
	d.mu.Lock()
	d.nextID++
	sub := &subscriber{
		id:        d.nextID,
		stream:    make(chan forum.PostEvent, d.bufferSize),
		delivered: make(map[string]int64),
	}
	d.subscribers[sub.id] = sub
	d.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, sub.id)
			close(sub.stream)
			d.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return sub.stream, cleanup
}

// Publish offers the event to every subscriber without blocking. A subscriber whose buffer is full
// misses the event; the next version of the post supersedes it.
func (d *Dispatcher) Publish(_ context.Context, event forum.PostEvent) error {
	postID := event.Post.ID
	if postID == "" || event.Type == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sub := range d.subscribers {
		if event.Version <= sub.delivered[postID] {
			continue
		}
		select {
		case sub.stream <- event:
			sub.delivered[postID] = event.Version
		default:
		}
	}
	return nil
}

// SubscriberCount reports the number of active subscribers.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscribers)
}

// Fanout publishes every event to each publisher in order and joins their errors.
type Fanout []forum.EventPublisher

func (f Fanout) Publish(ctx context.Context, event forum.PostEvent) error {
	var errs []error
	for _, publisher := range f {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
