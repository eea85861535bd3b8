package store

import (
	"context"
	"sync"
	"time"
)

// ChangeKind enumerates the notifications a subscriber can receive.
type ChangeKind string

const (
	// ChangeKindWrite reports that the value at Path was replaced.
	ChangeKindWrite ChangeKind = "write"
	// ChangeKindTick reports a transient refresh that did not modify stored data.
	ChangeKindTick ChangeKind = "tick"
)

const defaultSubscriberBuffer = 16

// Change describes one notification delivered to subscribers.
type Change struct {
	Path      string
	Kind      ChangeKind
	Revision  uint64
	Timestamp time.Time
}

// Dispatcher fans changes out to subscribers whose path overlaps the changed path.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriberGroup
	nextID      int64
	bufferSize  int
}

type subscriberGroup struct {
	path    Path
	members map[int64]*subscriber
}

type subscriber struct {
	id     int64
	stream chan Change
}

// NewDispatcher constructs a dispatcher with the provided per-subscriber buffer.
func NewDispatcher(bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	return &Dispatcher{
		subscribers: make(map[string]*subscriberGroup),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers interest in path. The subscription ends when ctx is done or cleanup is called.
func (d *Dispatcher) Subscribe(ctx context.Context, path Path) (<-chan Change, func()) {
	if len(path) == 0 {
		ch := make(chan Change)
		close(ch)
		return ch, func() {}
	}
	member := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Change, d.bufferSize),
	}
	key := path.String()
	d.registerSubscriber(key, path, member)

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			close(done)
			d.unregisterSubscriber(key, member.id)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return member.stream, cleanup
}

// Publish delivers change to every overlapping subscriber without blocking.
func (d *Dispatcher) Publish(change Change, changedPath Path) {
	if len(changedPath) == 0 || change.Kind == "" {
		return
	}
	d.mu.RLock()
	targets := make([]*subscriber, 0)
	for _, group := range d.subscribers {
		if !group.path.Overlaps(changedPath) {
			continue
		}
		for _, member := range group.members {
			targets = append(targets, member)
		}
	}
	d.mu.RUnlock()
	for _, member := range targets {
		select {
		case member.stream <- change:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	total := 0
	for _, group := range d.subscribers {
		total += len(group.members)
	}
	return total
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) registerSubscriber(key string, path Path, member *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	group, ok := d.subscribers[key]
	if !ok {
		group = &subscriberGroup{path: path, members: make(map[int64]*subscriber)}
		d.subscribers[key] = group
	}
	group.members[member.id] = member
}

func (d *Dispatcher) unregisterSubscriber(key string, subscriberID int64) {
	d.mu.Lock()
	group := d.subscribers[key]
	if group != nil {
		delete(group.members, subscriberID)
		if len(group.members) == 0 {
			delete(d.subscribers, key)
		}
	}
	d.mu.Unlock()
}
