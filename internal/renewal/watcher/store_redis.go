package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"assetdesk/pkg/platform/sentinel"
)

// DefaultSnapshotKey is used when no key is configured.
const DefaultSnapshotKey = "assetdesk:renewals:due-soon"

// saveScript stores the snapshot only when its generation is newer than the
// one held under the generation key. It returns 1 on write, 0 when stale.
var saveScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) <= current then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2])
redis.call('SET', KEYS[2], ARGV[1])
return 1
`)

// RedisSnapshotStore shares the snapshot between instances. The generation
// check and the write run as one script so a slow writer cannot replace a
// newer snapshot.
type RedisSnapshotStore struct {
	client *redis.Client
	key    string
}

// RedisSnapshotOption configures a RedisSnapshotStore.
type RedisSnapshotOption func(*RedisSnapshotStore)

// WithSnapshotKey overrides DefaultSnapshotKey.
func WithSnapshotKey(key string) RedisSnapshotOption {
	return func(s *RedisSnapshotStore) {
		if key != "" {
			s.key = key
		}
	}
}

func NewRedisSnapshotStore(client *redis.Client, opts ...RedisSnapshotOption) *RedisSnapshotStore {
	s := &RedisSnapshotStore{client: client, key: DefaultSnapshotKey}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Load returns the stored snapshot, or a zero snapshot when none exists.
func (s *RedisSnapshotStore) Load(ctx context.Context) (Snapshot, error) {
	return s.get(ctx, s.client)
}

func (s *RedisSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	keys := []string{s.key, s.generationKey()}
	written, err := saveScript.Run(ctx, s.client, keys, strconv.FormatUint(snap.Generation, 10), payload).Int()
	if err != nil {
		return fmt.Errorf("%w: save snapshot: %w", sentinel.ErrUnavailable, err)
	}
	if written == 0 {
		return sentinel.ErrStale
	}
	return nil
}

func (s *RedisSnapshotStore) generationKey() string {
	return s.key + ":generation"
}

func (s *RedisSnapshotStore) get(ctx context.Context, c redis.Cmdable) (Snapshot, error) {
	raw, err := c.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: load snapshot: %w", sentinel.ErrUnavailable, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
