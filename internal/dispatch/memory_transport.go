package dispatch

import (
	"context"
	"errors"
	"sync"
)

var errTransportClosed = errors.New("队列已关闭")

// MemoryTransport 使用 channel 模拟消息队列，每个目标一个 channel，主要用于测试。
type MemoryTransport struct {
	mu     sync.Mutex
	size   int
	queues map[string]chan Message
	// done 在 Close 时关闭；队列 channel 本身从不关闭，避免阻塞的发送方 panic。
	done chan struct{}
	once sync.Once
}

// NewMemoryTransport 创建内存传输，size 为每个目标的缓冲大小。
func NewMemoryTransport(size int) *MemoryTransport {
	if size <= 0 {
		size = 64
	}
	return &MemoryTransport{size: size, queues: make(map[string]chan Message), done: make(chan struct{})}
}

func (t *MemoryTransport) queue(target string) (chan Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return nil, errTransportClosed
	default:
	}
	ch, ok := t.queues[target]
	if !ok {
		ch = make(chan Message, t.size)
		t.queues[target] = ch
	}
	return ch, nil
}

// Publish 将消息放入目标队列。
func (t *MemoryTransport) Publish(ctx context.Context, msg Message) error {
	ch, err := t.queue(msg.Target)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return errTransportClosed
	case ch <- msg:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费目标队列，直到 ctx 结束或队列关闭。
func (t *MemoryTransport) Consume(ctx context.Context, target string, workerCount int, handler Handler) error {
	ch, err := t.queue(target)
	if err != nil {
		return err
	}
	if workerCount <= 0 {
		workerCount = 1
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
				case <-t.done:
					return
				case msg := <-ch:
					_ = handler(ctx, msg)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Pending 返回目标队列中尚未消费的消息数量。
func (t *MemoryTransport) Pending(target string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queues[target])
}

// Close 停止传输，阻塞中的 Publish 返回错误，消费协程退出。可重复调用。
func (t *MemoryTransport) Close() error {
	t.once.Do(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		close(t.done)
	})
	return nil
}
