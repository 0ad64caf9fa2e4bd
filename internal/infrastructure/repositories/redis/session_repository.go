package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/ports"
	"roomrec/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

const storeName = "redis"

type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	return keyspace{prefix: prefix}
}

func (k keyspace) session(id string) string { return k.prefix + ":session:" + id }
func (k keyspace) index() string            { return k.prefix + ":sessions" }
func (k keyspace) recording() string        { return k.prefix + ":sessions:recording" }

type RedisSessionRepository struct {
	client redis.UniversalClient
	keys   keyspace
}

func NewRedisSessionRepository(client redis.UniversalClient, keyPrefix string) ports.SessionRepository {
	return &RedisSessionRepository{
		client: client,
		keys:   newKeyspace(keyPrefix),
	}
}

func loadRecord(ctx context.Context, client redis.UniversalClient, key string) (*domain.SessionRecord, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var record domain.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &record, nil
}

func (r *RedisSessionRepository) Save(ctx context.Context, record *domain.SessionRecord) (err error) {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "save", storeName)
	defer func() { tracing.End(span, err) }()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	id := string(record.ID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.keys.session(id), data, 0)
		pipe.SAdd(ctx, r.keys.index(), id)
		if record.Active() {
			pipe.SAdd(ctx, r.keys.recording(), id)
		} else {
			pipe.SRem(ctx, r.keys.recording(), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session in Redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id domain.SessionID) (_ *domain.SessionRecord, err error) {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "get", storeName)
	defer func() { tracing.End(span, err) }()

	record, err := loadRecord(ctx, r.client, r.keys.session(string(id)))
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}
	return record, nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, id domain.SessionID) (err error) {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "delete", storeName)
	defer func() { tracing.End(span, err) }()

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.keys.session(string(id)))
		pipe.SRem(ctx, r.keys.index(), string(id))
		pipe.SRem(ctx, r.keys.recording(), string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) List(ctx context.Context) (_ []*domain.SessionRecord, err error) {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "list", storeName)
	defer func() { tracing.End(span, err) }()

	return r.members(ctx, r.keys.index())
}

func (r *RedisSessionRepository) ListRecording(ctx context.Context) (_ []*domain.SessionRecord, err error) {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "list_recording", storeName)
	defer func() { tracing.End(span, err) }()

	return r.members(ctx, r.keys.recording())
}

// members loads every record referenced by set, skipping ids whose record
// has expired or been deleted concurrently.
func (r *RedisSessionRepository) members(ctx context.Context, set string) ([]*domain.SessionRecord, error) {
	ids, err := r.client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.SessionRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.keys.session(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	records := make([]*domain.SessionRecord, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var record domain.SessionRecord
		if err := json.Unmarshal([]byte(s), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		records = append(records, &record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].OpenedAt.Before(records[j].OpenedAt) })
	return records, nil
}
