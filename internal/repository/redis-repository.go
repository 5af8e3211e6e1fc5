package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"permission_service/internal/database/redis"

	redis_v9 "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// PermissionSnapshotKey is the Redis key holding one principal's cached
// permission snapshot.
func PermissionSnapshotKey(userID bson.ObjectID) string {
	return "permissions:user:" + userID.Hex()
}

type RedisRepo struct {
	client *redis_v9.Client
}

func NewRedisRepo() *RedisRepo {
	return &RedisRepo{
		client: redis.Redis_Client,
	}
}

func (rr *RedisRepo) SaveStructCached(ctx context.Context, key string, model any, ttl time.Duration) error {
	val, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("error saving struct to cache: %w", err)
	}
	if err := rr.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("error saving struct to cache: %w", err)
	}
	return nil
}

func (rr *RedisRepo) GetStructCached(ctx context.Context, key string, model any) error {
	raw, err := rr.client.Get(ctx, key).Bytes()
	if err != nil {
		return fmt.Errorf("error getting struct from cache: %w", err)
	}
	return json.Unmarshal(raw, model)
}

func (rr *RedisRepo) DeleteKey(ctx context.Context, key string) error {
	if err := rr.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("error deleting cache key: %w", err)
	}
	return nil
}
