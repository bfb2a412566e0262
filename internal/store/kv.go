package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"miot-vitals/internal/domain"

	"github.com/go-redis/redis/v8"
)

var ErrMiss = errors.New("cache miss")

type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
}

type RedisKV struct {
	c *redis.Client
}

func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

var _ KV = (*RedisKV)(nil)

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return r.c.SetNX(ctx, key, value, ttl).Result()
}

// ---- 最新读数缓存（仪表盘实时卡片用，键形如 vitals:patient:{id}:latest）----

const latestTTL = 5 * time.Minute

func latestKey(patientID string) string {
	return "vitals:patient:" + patientID + ":latest"
}

// CacheLatestReading 提交成功后写入最新读数快照
func CacheLatestReading(ctx context.Context, kv KV, reading *domain.VitalsReading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return err
	}
	return kv.Set(ctx, latestKey(reading.PatientID), string(data), latestTTL)
}

// GetLatestReading 读取最新读数快照；无缓存时返回 ErrMiss
func GetLatestReading(ctx context.Context, kv KV, patientID string) (*domain.VitalsReading, error) {
	raw, err := kv.Get(ctx, latestKey(patientID))
	if err != nil {
		return nil, err
	}
	var reading domain.VitalsReading
	if err := json.Unmarshal([]byte(raw), &reading); err != nil {
		return nil, err
	}
	return &reading, nil
}

// ---- TOTP 已用验证码缓存（可选的单次使用约束）----

// MarkCodeUsed 以 (账户, 时间步) 为键做 SETNX；返回 false 表示该验证码
// 在本窗口内已被消费过
func MarkCodeUsed(ctx context.Context, kv KV, account string, step uint64) (bool, error) {
	key := fmt.Sprintf("totp:used:%s:%d", account, step)
	// TTL 覆盖 ±1 窗口的整个生存期
	return kv.SetNX(ctx, key, "1", 90*time.Second)
}
