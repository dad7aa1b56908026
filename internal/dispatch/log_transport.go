package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"unicode/utf8"
)

// LogTransport 只把消息写入日志，适合没有下游消费者的单机部署。
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport 创建 LogTransport。
func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger}
}

// Publish 实现 Publisher 接口。
func (t *LogTransport) Publish(_ context.Context, msg Message) error {
	t.logger.Info("投递消息",
		slog.String("id", msg.ID),
		slog.String("target", msg.Target),
		slog.String("thread", msg.Thread),
		slog.String("corr_id", msg.CorrID),
		slog.Int("chars", utf8.RuneCountInString(msg.Text)),
	)
	return nil
}

// Consume 日志传输没有可消费的队列。
func (t *LogTransport) Consume(context.Context, string, int, Handler) error {
	return errors.New("日志传输不支持消费")
}

// Close 实现 Transport 接口。
func (t *LogTransport) Close() error { return nil }
