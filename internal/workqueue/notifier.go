// Package workqueue implements the persistent FIFO work queue over a kvs.Store.
package workqueue

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Notifier complements the queue's own polling with push notifications, so
// workers wake up near-instantly instead of waiting out a poll interval.
// Enqueue calls Notify; workers subscribe once per run.
type Notifier interface {
	Notify(ctx context.Context, runID string) error
	Subscribe(ctx context.Context, runID string) <-chan struct{}
	Close() error
}

// NoopNotifier never signals; subscribers rely purely on polling.
type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (NoopNotifier) Notify(context.Context, string) error { return nil }

func (NoopNotifier) Subscribe(ctx context.Context, _ string) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func (NoopNotifier) Close() error { return nil }

// ChannelNotifier is an in-process notifier for single-instance schedulers.
type ChannelNotifier struct {
	mu          sync.Mutex
	subscribers map[string][]chan struct{}
	closed      bool
}

func NewChannelNotifier() *ChannelNotifier {
	return &ChannelNotifier{subscribers: make(map[string][]chan struct{})}
}

func (n *ChannelNotifier) Notify(_ context.Context, runID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	for _, ch := range n.subscribers[runID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (n *ChannelNotifier) Subscribe(ctx context.Context, runID string) <-chan struct{} {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch
	}
	n.subscribers[runID] = append(n.subscribers[runID], ch)
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		subs := n.subscribers[runID]
		for i, s := range subs {
			if s == ch {
				n.subscribers[runID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}()

	return ch
}

func (n *ChannelNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for _, subs := range n.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	n.subscribers = nil
	return nil
}

const redisChannelPrefix = "fetch:queue:notify:"

// RedisNotifier broadcasts enqueue signals across engine instances sharing
// a run via Redis PUBLISH/SUBSCRIBE.
type RedisNotifier struct {
	client *redis.Client

	mu     sync.Mutex
	subs   map[string][]*redisSub
	closed bool
}

type redisSub struct {
	ch     chan struct{}
	cancel context.CancelFunc
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, subs: make(map[string][]*redisSub)}
}

func (n *RedisNotifier) Notify(ctx context.Context, runID string) error {
	return n.client.Publish(ctx, redisChannelPrefix+runID, "1").Err()
}

func (n *RedisNotifier) Subscribe(ctx context.Context, runID string) <-chan struct{} {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch
	}
	subCtx, cancel := context.WithCancel(ctx)
	rs := &redisSub{ch: ch, cancel: cancel}
	n.subs[runID] = append(n.subs[runID], rs)
	n.mu.Unlock()

	pubsub := n.client.Subscribe(subCtx, redisChannelPrefix+runID)
	go func() {
		defer pubsub.Close()
		msgCh := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				n.removeSub(runID, rs)
				return
			case _, ok := <-msgCh:
				if !ok {
					return
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()

	return ch
}

func (n *RedisNotifier) removeSub(runID string, target *redisSub) {
	n.mu.Lock()
	defer n.mu.Unlock()
	subs := n.subs[runID]
	for i, s := range subs {
		if s == target {
			n.subs[runID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for _, subs := range n.subs {
		for _, s := range subs {
			s.cancel()
			close(s.ch)
		}
	}
	n.subs = nil
	return nil
}
