package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message 是投递给下游消费者的一条消息。
type Message struct {
	ID        string         `json:"id"`
	Target    string         `json:"target"`
	Thread    string         `json:"thread"`
	Speaker   string         `json:"speaker"`
	CorrID    string         `json:"corr_id,omitempty"`
	Text      string         `json:"text"`
	Args      map[string]any `json:"args,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

// NewMessage 生成带 ID 与时间戳的消息。
func NewMessage(target, thread, speaker, corrID, text string, args map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Target:    target,
		Thread:    thread,
		Speaker:   speaker,
		CorrID:    corrID,
		Text:      text,
		Args:      args,
		CreatedAt: time.Now().Unix(),
	}
}

// Handler 处理消费到的消息。
type Handler func(ctx context.Context, msg Message) error

// Publisher 负责投递消息。
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Consumer 负责从某个目标的队列中消费消息。
type Consumer interface {
	Consume(ctx context.Context, target string, workerCount int, handler Handler) error
	Close() error
}

// Transport 同时具备投递与消费能力。
type Transport interface {
	Publisher
	Consumer
}

func encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("序列化投递消息失败: %w", err)
	}
	return body, nil
}

func decode(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("解析投递消息失败: %w", err)
	}
	return msg, nil
}
