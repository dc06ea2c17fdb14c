package docstore

import (
	"context"
	"errors"
	"sync"
)

const subscriberBuffer = 16

// Broker fans committed documents out to in-process watchers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Doc]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan Doc]struct{})}
}

// Subscribe registers a watcher for key until ctx is done.
func (b *Broker) Subscribe(ctx context.Context, key string) <-chan Doc {
	ch := make(chan Doc, subscriberBuffer)
	b.mu.Lock()
	set := b.subs[key]
	if set == nil {
		set = make(map[chan Doc]struct{})
		b.subs[key] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[key], ch)
		if len(b.subs[key]) == 0 {
			delete(b.subs, key)
		}
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

// Publish never blocks. A full subscriber loses its oldest pending doc.
func (b *Broker) Publish(docs ...Doc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range docs {
		for ch := range b.subs[d.Key] {
			select {
			case ch <- d:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- d:
				default:
				}
			}
		}
	}
}

type getter interface {
	Get(ctx context.Context, key string) (Doc, error)
}

// watch subscribes before reading so no commit between the two is lost, and
// drops anything not newer than what the caller already saw.
func watch(ctx context.Context, s getter, b *Broker, key string) (<-chan Doc, error) {
	in := b.Subscribe(ctx, key)
	cur, err := s.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	out := make(chan Doc, 1)
	go func() {
		defer close(out)
		var last int64
		send := func(d Doc) bool {
			if d.Version <= last {
				return true
			}
			last = d.Version
			select {
			case out <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if cur.Version > 0 && !send(cur) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-in:
				if !ok || !send(d) {
					return
				}
			}
		}
	}()
	return out, nil
}
