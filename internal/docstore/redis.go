package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Namespace prefixes every key and the change channel.
	Namespace string
}

// Redis keeps each document in a hash {version, data}. Commits run under
// WATCH/MULTI; changes are published on one channel carrying the key.
type Redis struct {
	client *redis.Client
	ns     string
	log    *slog.Logger
	broker *Broker
	pubsub *redis.PubSub
	done   chan struct{}
}

func OpenRedis(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ns := opts.Namespace
	if ns == "" {
		ns = "econfair"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	s := &Redis{client: client, ns: ns, log: logger, broker: NewBroker(), done: make(chan struct{})}
	s.pubsub = client.Subscribe(context.Background(), s.channel())
	if _, err := s.pubsub.Receive(pingCtx); err != nil {
		_ = s.pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel(), err)
	}
	go s.relay()
	return s, nil
}

func (s *Redis) docKey(key string) string { return s.ns + ":doc:" + key }
func (s *Redis) channel() string          { return s.ns + ":changes" }

func (s *Redis) Get(ctx context.Context, key string) (Doc, error) {
	return s.read(ctx, s.client, key)
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
}

func (s *Redis) read(ctx context.Context, c hashReader, key string) (Doc, error) {
	m, err := c.HGetAll(ctx, s.docKey(key)).Result()
	if err != nil {
		return Doc{Key: key}, fmt.Errorf("get %s: %w", key, err)
	}
	if len(m) == 0 {
		return Doc{Key: key}, ErrNotFound
	}
	v, err := strconv.ParseInt(m["version"], 10, 64)
	if err != nil {
		return Doc{Key: key}, fmt.Errorf("get %s: bad version: %w", key, err)
	}
	return Doc{Key: key, Version: v, Data: []byte(m["data"])}, nil
}

// globEscaper quotes SCAN MATCH metacharacters so ids are matched literally.
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func (s *Redis) List(ctx context.Context, prefix string) ([]Doc, error) {
	pattern := globEscaper.Replace(s.docKey(prefix)) + "*"
	iter := s.client.Scan(ctx, 0, pattern, 200).Iterator()
	trim := len(s.docKey(""))
	keys := make([]string, 0)
	seen := map[string]bool{}
	for iter.Next(ctx) {
		k := iter.Val()[trim:]
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	out := make([]Doc, 0, len(keys))
	for _, k := range keys {
		d, err := s.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Redis) Commit(ctx context.Context, writes ...Write) error {
	if err := validateWrites(writes); err != nil {
		return err
	}
	keys := keysOf(writes)
	watched := make([]string, len(keys))
	for i, k := range keys {
		watched[i] = s.docKey(k)
	}
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		for _, w := range writes {
			cur, err := s.read(ctx, tx, w.Key)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if cur.Version != w.Expect {
				return ErrVersionConflict
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range writes {
				pipe.HSet(ctx, s.docKey(w.Key), "version", w.Expect+1, "data", string(w.Data))
				pipe.Publish(ctx, s.channel(), w.Key)
			}
			return nil
		})
		return err
	}, watched...)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	if err != nil {
		return err
	}
	s.broker.Publish(committed(writes)...)
	return nil
}

func (s *Redis) Watch(ctx context.Context, key string) (<-chan Doc, error) {
	return watch(ctx, s, s.broker, key)
}

// relay turns channel messages from any process into local broker events.
func (s *Redis) relay() {
	defer close(s.done)
	for msg := range s.pubsub.Channel() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		d, err := s.Get(ctx, msg.Payload)
		cancel()
		if err != nil {
			s.log.Warn("reload published document", "key", msg.Payload, "err", err)
			continue
		}
		s.broker.Publish(d)
	}
}

func (s *Redis) Close() error {
	err := s.pubsub.Close()
	<-s.done
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}
