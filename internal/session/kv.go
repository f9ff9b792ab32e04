package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// KVStore keeps sessions in a NATS JetStream key-value bucket. Session.Version
// carries the KV revision, so conflicting writers from any process are
// rejected by the server.
type KVStore struct {
	kv nats.KeyValue
}

// NewKVStore binds to bucket, creating it when it does not exist.
func NewKVStore(js nats.JetStreamContext, bucket string) (*KVStore, error) {
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "coaching sessions",
			History:     1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("binding key-value bucket %s: %w", bucket, err)
	}
	return &KVStore{kv: kv}, nil
}

func (k *KVStore) Load(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, err := k.kv.Get(id)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal(entry.Value(), &s); err != nil {
		return nil, fmt.Errorf("session %s is corrupted: %w", id, err)
	}
	s.Version = entry.Revision()
	return &s, nil
}

func (k *KVStore) Save(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", s.ID, err)
	}

	var rev uint64
	if s.Version == 0 {
		rev, err = k.kv.Create(s.ID, data)
	} else {
		rev, err = k.kv.Update(s.ID, data, s.Version)
	}
	if isRevisionMismatch(err) {
		return fmt.Errorf("%w: %s at revision %d", ErrConflict, s.ID, s.Version)
	}
	if err != nil {
		return fmt.Errorf("writing session %s: %w", s.ID, err)
	}

	s.Version = rev
	return nil
}

func (k *KVStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := k.kv.Get(id); errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return k.kv.Delete(id)
}

func isRevisionMismatch(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}
