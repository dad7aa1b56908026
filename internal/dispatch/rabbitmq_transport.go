package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 传输的连接参数。
type RabbitMQConfig struct {
	URL         string
	QueuePrefix string
	Prefetch    int
	Durable     bool
}

// RabbitMQTransport 为每个目标声明一个队列，通过默认交换机投递。
type RabbitMQTransport struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	prefix   string
	durable  bool
	mu       sync.Mutex
	declared map[string]struct{}
}

// NewRabbitMQTransport 创建 RabbitMQ 传输实例。
func NewRabbitMQTransport(cfg RabbitMQConfig) (*RabbitMQTransport, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	prefix := cfg.QueuePrefix
	if prefix == "" {
		prefix = "gateway.dispatch"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("设置 RabbitMQ QOS 失败: %w", err)
		}
	}
	return &RabbitMQTransport{
		conn:     conn,
		ch:       ch,
		prefix:   prefix,
		durable:  cfg.Durable,
		declared: make(map[string]struct{}),
	}, nil
}

// QueueName 返回目标对应的队列名。
func (t *RabbitMQTransport) QueueName(target string) string {
	return t.prefix + "." + target
}

// ensureQueue 串行化 channel 上的声明操作，amqp channel 不是并发安全的。
func (t *RabbitMQTransport) ensureQueue(target string) (string, error) {
	name := t.QueueName(target)
	if _, ok := t.declared[name]; ok {
		return name, nil
	}
	if _, err := t.ch.QueueDeclare(name, t.durable, false, false, false, nil); err != nil {
		return "", fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	t.declared[name] = struct{}{}
	return name, nil
}

// Publish 将消息投递到目标队列。
func (t *RabbitMQTransport) Publish(ctx context.Context, msg Message) error {
	if t == nil || t.ch == nil {
		return errors.New("RabbitMQ 传输未初始化")
	}
	body, err := encode(msg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	queue, err := t.ensureQueue(msg.Target)
	if err != nil {
		return err
	}
	return t.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		MessageId:     msg.ID,
		CorrelationId: msg.CorrID,
		Body:          body,
	})
}

// Consume 使用手动确认模式消费目标队列。
func (t *RabbitMQTransport) Consume(ctx context.Context, target string, workerCount int, handler Handler) error {
	if t == nil || t.ch == nil {
		return errors.New("RabbitMQ 传输未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	t.mu.Lock()
	queue, err := t.ensureQueue(target)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	msgs, err := t.ch.Consume(queue, "", false, false, false, false, nil)
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case delivery, ok := <-msgs:
					if !ok {
						return
					}
					msg, err := decode(delivery.Body)
					if err != nil {
						_ = delivery.Nack(false, false)
						continue
					}
					if err := handler(ctx, msg); err != nil {
						_ = delivery.Nack(false, true)
						continue
					}
					_ = delivery.Ack(false)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭 RabbitMQ 连接。
func (t *RabbitMQTransport) Close() error {
	if t == nil {
		return nil
	}
	if t.ch != nil {
		_ = t.ch.Close()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
