// Package docstore is a versioned JSON document store with multi-key
// compare-and-swap commits and change notification.
package docstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("document version conflict")
)

// Doc is a stored document. Version 0 means the key does not exist.
type Doc struct {
	Key     string
	Version int64
	Data    []byte
}

// Write replaces Key with Data if the stored version still equals Expect.
// Expect 0 requires the key to be absent.
type Write struct {
	Key    string
	Expect int64
	Data   []byte
}

type Store interface {
	// Get returns ErrNotFound along with a zero-version Doc for missing keys.
	Get(ctx context.Context, key string) (Doc, error)
	// List returns every document whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Doc, error)
	// Commit applies all writes or none. A stale Expect yields ErrVersionConflict.
	Commit(ctx context.Context, writes ...Write) error
	// Watch streams the current document followed by every later version.
	// The channel closes when ctx is done.
	Watch(ctx context.Context, key string) (<-chan Doc, error)
	Close() error
}

func validateWrites(writes []Write) error {
	seen := make(map[string]struct{}, len(writes))
	for _, w := range writes {
		if w.Key == "" {
			return fmt.Errorf("commit: empty key")
		}
		if w.Expect < 0 {
			return fmt.Errorf("commit %s: negative version", w.Key)
		}
		if _, dup := seen[w.Key]; dup {
			return fmt.Errorf("commit %s: key written twice", w.Key)
		}
		seen[w.Key] = struct{}{}
	}
	return nil
}

func keysOf(writes []Write) []string {
	out := make([]string, len(writes))
	for i, w := range writes {
		out[i] = w.Key
	}
	return out
}

// committed turns accepted writes into the docs they produced.
func committed(writes []Write) []Doc {
	out := make([]Doc, len(writes))
	for i, w := range writes {
		out[i] = Doc{Key: w.Key, Version: w.Expect + 1, Data: w.Data}
	}
	return out
}
