package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 传输的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	BlockWait time.Duration
}

// RedisTransport 使用 Redis list 为每个目标维护一个队列。
type RedisTransport struct {
	client *redis.Client
	prefix string
	wait   time.Duration
}

// NewRedisTransport 创建 Redis 传输实例。
func NewRedisTransport(ctx context.Context, cfg RedisConfig) (*RedisTransport, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "gateway:dispatch"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
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
	return &RedisTransport{client: client, prefix: prefix, wait: wait}, nil
}

// QueueName 返回目标对应的 Redis key。
func (t *RedisTransport) QueueName(target string) string {
	return t.prefix + ":" + target
}

// Publish 将消息推入目标队列。
func (t *RedisTransport) Publish(ctx context.Context, msg Message) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	if err := t.client.LPush(ctx, t.QueueName(msg.Target), body).Err(); err != nil {
		return fmt.Errorf("Redis 投递消息失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 从目标队列取消息，处理失败时重新入队。
func (t *RedisTransport) Consume(ctx context.Context, target string, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	queue := t.QueueName(target)
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := t.client.BRPop(ctx, t.wait, queue).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- fmt.Errorf("Redis 取消息失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				msg, err := decode([]byte(values[1]))
				if err != nil {
					continue
				}
				if handlerErr := handler(ctx, msg); handlerErr != nil {
					_ = t.client.RPush(ctx, queue, values[1]).Err()
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 关闭 Redis 连接。
func (t *RedisTransport) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}
