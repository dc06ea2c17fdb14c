package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory keeps documents in process. The lock covers a single commit only.
type Memory struct {
	mu     sync.Mutex
	docs   map[string]Doc
	broker *Broker
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Doc), broker: NewBroker()}
}

func (m *Memory) Get(_ context.Context, key string) (Doc, error) {
	m.mu.Lock()
	d, ok := m.docs[key]
	m.mu.Unlock()
	if !ok {
		return Doc{Key: key}, ErrNotFound
	}
	d.Data = append([]byte(nil), d.Data...)
	return d, nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]Doc, error) {
	m.mu.Lock()
	out := make([]Doc, 0)
	for k, d := range m.docs {
		if strings.HasPrefix(k, prefix) {
			d.Data = append([]byte(nil), d.Data...)
			out = append(out, d)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Commit(ctx context.Context, writes ...Write) error {
	if err := validateWrites(writes); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	for _, w := range writes {
		if m.docs[w.Key].Version != w.Expect {
			m.mu.Unlock()
			return ErrVersionConflict
		}
	}
	docs := committed(writes)
	for _, d := range docs {
		d.Data = append([]byte(nil), d.Data...)
		m.docs[d.Key] = d
	}
	m.mu.Unlock()
	m.broker.Publish(docs...)
	return nil
}

func (m *Memory) Watch(ctx context.Context, key string) (<-chan Doc, error) {
	return watch(ctx, m, m.broker, key)
}

func (m *Memory) Close() error { return nil }
