package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 记忆存储的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	// MaxPerThread 限制每个线程列表的长度，0 表示使用默认值。
	MaxPerThread int
}

// RedisStore 将每个线程保存为一个 Redis list。RPUSH 与 LTRIM 在同一事务管道中执行。
type RedisStore struct {
	client *redis.Client
	prefix string
	max    int64
}

// NewRedisStore 创建 Redis 记忆存储。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.MaxPerThread), nil
}

// NewRedisStoreWithClient 复用已有的 Redis 客户端。
func NewRedisStoreWithClient(client *redis.Client, prefix string, maxPerThread int) *RedisStore {
	if prefix == "" {
		prefix = "gateway:memory"
	}
	if maxPerThread <= 0 {
		maxPerThread = maxEntriesPerThread
	}
	return &RedisStore{client: client, prefix: prefix, max: int64(maxPerThread)}
}

func (s *RedisStore) key(thread string) string {
	return s.prefix + ":" + thread
}

// Append 实现 Store 接口。
func (s *RedisStore) Append(ctx context.Context, entry Entry) error {
	entry = stamp(entry)
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化记忆失败: %w", err)
	}
	key := s.key(entry.Thread)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, encoded)
		pipe.LTrim(ctx, key, -s.max, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("Redis 写入记忆失败: %w", err)
	}
	return nil
}

// Recent 实现 Store 接口。
func (s *RedisStore) Recent(ctx context.Context, thread string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = int(s.max)
	}
	values, err := s.client.LRange(ctx, s.key(thread), -int64(limit), -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("Redis 读取记忆失败: %w", err)
	}
	entries := make([]Entry, 0, len(values))
	for _, raw := range values {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
