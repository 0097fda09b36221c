// Package notify broadcasts job snapshots to any number of subscribers.
//
// Every subscriber owns a FIFO queue which absorbs slow consumption, so
// Publish never blocks on a subscriber. Snapshots of one job are delivered
// to a subscriber in the order they were published.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/CZERTAINLY/Runner/internal/model"
)

// Notifier is a multicast channel of job snapshots.
type Notifier struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	published atomic.Int64
	dropped   atomic.Int64

	bufferLimit int
}

type Option func(*Notifier)

// WithBufferLimit bounds the queue of every subscriber. When the queue is
// full the oldest snapshot is dropped. 0 means unbounded.
func WithBufferLimit(n int) Option {
	return func(nt *Notifier) {
		if n > 0 {
			nt.bufferLimit = n
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		logger: logger,
		subs:   make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Publish enqueues a deep copy of job for every current subscriber.
func (n *Notifier) Publish(job model.Job) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	n.published.Add(1)
	for _, sub := range n.subs {
		if sub.push(job.Snapshot(), n.bufferLimit) {
			n.dropped.Add(1)
		}
	}
}

// Subscribe returns a live subscription. It receives only snapshots
// published after Subscribe returned.
func (n *Notifier) Subscribe() *Subscription {
	sub := newSubscription(n)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		sub.close()
		return sub
	}
	n.nextID++
	sub.id = n.nextID
	n.subs[sub.id] = sub
	go sub.pump()
	n.logger.Debug("subscribed", "subscriber", sub.id, "subscribers", len(n.subs))
	return sub
}

func (n *Notifier) remove(sub *Subscription) {
	n.mu.Lock()
	delete(n.subs, sub.id)
	n.mu.Unlock()
	n.logger.Debug("unsubscribed", "subscriber", sub.id)
}

// Close ends every subscription. Later publications are ignored.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	subs := n.subs
	n.subs = make(map[uint64]*Subscription)
	n.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// Stats reports the current state of the notifier.
func (n *Notifier) Stats() Stats {
	n.mu.RLock()
	count := len(n.subs)
	n.mu.RUnlock()
	return Stats{
		Subscribers: count,
		Published:   n.published.Load(),
		Dropped:     n.dropped.Load(),
	}
}

type Stats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Subscription is a single subscriber of a Notifier.
type Subscription struct {
	id uint64
	n  *Notifier

	mu    sync.Mutex
	queue []model.Job
	wake  chan struct{}

	out       chan model.Job
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscription(n *Notifier) *Subscription {
	return &Subscription{
		n:    n,
		wake: make(chan struct{}, 1),
		out:  make(chan model.Job),
		done: make(chan struct{}),
	}
}

// C delivers the snapshots. It is closed when the subscription ends.
func (s *Subscription) C() <-chan model.Job {
	return s.out
}

// Close unsubscribes. Snapshots not received yet are discarded.
func (s *Subscription) Close() {
	s.n.remove(s)
	s.close()
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.id == 0 {
			// pump was never started
			close(s.out)
		}
	})
}

// push reports whether the oldest snapshot was dropped
func (s *Subscription) push(job model.Job, limit int) bool {
	s.mu.Lock()
	var dropped bool
	if limit > 0 && len(s.queue) >= limit {
		s.queue[0] = model.Job{}
		s.queue = s.queue[1:]
		dropped = true
	}
	s.queue = append(s.queue, job)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return dropped
}

func (s *Subscription) pop() (model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return model.Job{}, false
	}
	job := s.queue[0]
	s.queue[0] = model.Job{}
	s.queue = s.queue[1:]
	return job, true
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		job, ok := s.pop()
		if !ok {
			select {
			case <-s.done:
				return
			case <-s.wake:
				continue
			}
		}
		select {
		case <-s.done:
			return
		case s.out <- job:
		}
	}
}
