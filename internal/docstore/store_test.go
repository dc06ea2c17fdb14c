package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite exercises the contract every backend must honor.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("create only", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		key := uniqueKey("a")

		_, err := s.Get(ctx, key)
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.Commit(ctx, Write{Key: key, Expect: 0, Data: []byte(`{"n":1}`)}))
		err = s.Commit(ctx, Write{Key: key, Expect: 0, Data: []byte(`{"n":2}`)})
		require.ErrorIs(t, err, ErrVersionConflict)

		d, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), d.Version)
		assert.JSONEq(t, `{"n":1}`, string(d.Data))
	})

	t.Run("multi key commit is all or nothing", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		a, b := uniqueKey("pair"), uniqueKey("pair")
		require.NoError(t, s.Commit(ctx,
			Write{Key: a, Data: []byte(`{"v":"a1"}`)},
			Write{Key: b, Data: []byte(`{"v":"b1"}`)},
		))

		err := s.Commit(ctx,
			Write{Key: a, Expect: 1, Data: []byte(`{"v":"a2"}`)},
			Write{Key: b, Expect: 7, Data: []byte(`{"v":"b2"}`)},
		)
		require.ErrorIs(t, err, ErrVersionConflict)

		d, err := s.Get(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, int64(1), d.Version)
		assert.JSONEq(t, `{"v":"a1"}`, string(d.Data))
	})

	t.Run("concurrent swaps admit one winner per version", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		key := uniqueKey("race")
		require.NoError(t, s.Commit(ctx, Write{Key: key, Data: []byte(`{}`)}))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := s.Commit(ctx, Write{Key: key, Expect: 1, Data: []byte(fmt.Sprintf(`{"w":%d}`, i))})
				if err == nil {
					wins.Add(1)
				} else if !errors.Is(err, ErrVersionConflict) {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("list by prefix", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		prefix := uniqueKey("list") + "/"
		for _, k := range []string{"b", "a", "c"} {
			require.NoError(t, s.Commit(ctx, Write{Key: prefix + k, Data: []byte(`{}`)}))
		}
		require.NoError(t, s.Commit(ctx, Write{Key: prefix[:len(prefix)-1] + "x", Data: []byte(`{}`)}))

		docs, err := s.List(ctx, prefix)
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, prefix+"a", docs[0].Key)
		assert.Equal(t, prefix+"c", docs[2].Key)
	})

	t.Run("list matches multibyte and glob prefixes literally", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		base := uniqueKey("장터*[1]?")
		prefix := base + "/"
		for _, k := range []string{"u2", "u1"} {
			require.NoError(t, s.Commit(ctx, Write{Key: prefix + k, Data: []byte(`{}`)}))
		}
		decoy := strings.Replace(base, "*[1]?", "zz1q", 1) + "/u9"
		require.NoError(t, s.Commit(ctx, Write{Key: decoy, Data: []byte(`{}`)}))
		require.NoError(t, s.Commit(ctx, Write{Key: base + "x", Data: []byte(`{}`)}))

		docs, err := s.List(ctx, prefix)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, prefix+"u1", docs[0].Key)
		assert.Equal(t, prefix+"u2", docs[1].Key)
	})

	t.Run("watch sees current then later versions", func(t *testing.T) {
		s := open(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		key := uniqueKey("watch")
		require.NoError(t, s.Commit(ctx, Write{Key: key, Data: []byte(`{"n":1}`)}))

		ch, err := s.Watch(ctx, key)
		require.NoError(t, err)
		first := recv(t, ch)
		assert.Equal(t, int64(1), first.Version)

		require.NoError(t, s.Commit(ctx, Write{Key: key, Expect: 1, Data: []byte(`{"n":2}`)}))
		second := recv(t, ch)
		assert.Equal(t, int64(2), second.Version)
		assert.JSONEq(t, `{"n":2}`, string(second.Data))

		cancel()
		for range ch {
		}
	})
}

var keySeq atomic.Int64

func uniqueKey(prefix string) string {
	return fmt.Sprintf("test-%d/%s-%d", time.Now().UnixNano(), prefix, keySeq.Add(1))
}

func recv(t *testing.T, ch <-chan Doc) Doc {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "watch channel closed early")
		return d
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for document")
		return Doc{}
	}
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemory() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "docs.sqlite"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.sqlite")
	s, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Commit(context.Background(), Write{Key: "k", Data: []byte(`{"x":1}`)}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()
	d, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Version)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("ECONFAIR_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ECONFAIR_TEST_DATABASE_URL not set")
	}
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := Open(context.Background(), Options{Backend: BackendPostgres, DatabaseURL: url}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("ECONFAIR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ECONFAIR_TEST_REDIS_ADDR not set")
	}
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := OpenRedis(context.Background(), RedisOptions{Addr: addr, Namespace: "econfair-test"}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestCommitRejectsDuplicateKeys(t *testing.T) {
	s := NewMemory()
	err := s.Commit(context.Background(), Write{Key: "a"}, Write{Key: "a"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrVersionConflict)
}

func TestParseBackend(t *testing.T) {
	tests := map[string]Backend{"": BackendMemory, "SQLite": BackendSQLite, "pg": BackendPostgres, "redis": BackendRedis}
	for in, want := range tests {
		got, err := ParseBackend(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseBackend("mongo")
	assert.Error(t, err)
}

func TestBrokerKeepsLatestWhenSubscriberLags(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, "k")
	for v := int64(1); v <= subscriberBuffer+5; v++ {
		b.Publish(Doc{Key: "k", Version: v})
	}
	var last Doc
	for i := 0; i < subscriberBuffer; i++ {
		last = <-ch
	}
	assert.Equal(t, int64(subscriberBuffer+5), last.Version)
}
