package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch/transaction"
	"github.com/redis/go-redis/v9"
)

// DefaultSnapshotPrefix namespaces snapshot keys.
const DefaultSnapshotPrefix = "dispatch:tx:"

// ErrSnapshotNotFound is returned by Get for missing or expired snapshots.
var ErrSnapshotNotFound = errors.New("redis: snapshot not found")

// SnapshotStore mirrors terminal transaction snapshots so other replicas can
// read final results. It satisfies pooler.SnapshotSink.
type SnapshotStore struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewSnapshotStore stores snapshots under prefix+id. A ttl of zero keeps keys
// without expiry.
func NewSnapshotStore(client *Client, prefix string, ttl time.Duration) (*SnapshotStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	if prefix == "" {
		prefix = DefaultSnapshotPrefix
	}

	return &SnapshotStore{client: client, prefix: prefix, ttl: ttl}, nil
}

// Save writes snapshot as JSON.
func (s *SnapshotStore) Save(ctx context.Context, snapshot transaction.Snapshot) error {
	rdb, err := s.client.GetClient(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis: encode snapshot %s: %w", snapshot.ID, err)
	}

	if err := rdb.Set(ctx, s.key(snapshot.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: save snapshot %s: %w", snapshot.ID, err)
	}

	return nil
}

// Get reads the snapshot stored for id.
func (s *SnapshotStore) Get(ctx context.Context, id string) (transaction.Snapshot, error) {
	rdb, err := s.client.GetClient(ctx)
	if err != nil {
		return transaction.Snapshot{}, err
	}

	data, err := rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return transaction.Snapshot{}, ErrSnapshotNotFound
	}

	if err != nil {
		return transaction.Snapshot{}, fmt.Errorf("redis: get snapshot %s: %w", id, err)
	}

	var snapshot transaction.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return transaction.Snapshot{}, fmt.Errorf("redis: decode snapshot %s: %w", id, err)
	}

	return snapshot, nil
}

func (s *SnapshotStore) key(id string) string {
	return s.prefix + id
}
