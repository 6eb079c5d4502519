package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BootstrapConsumer makes sure the consumed topic exists before joining the
// group. A failed topic check is logged, the reader retries on its own.
func BootstrapConsumer(ctx context.Context, cfg *ConsumerConfig, log *zap.Logger) *Consumer {
	err := EnsureTopics(ctx, cfg.Brokers, []TopicSpec{{Name: cfg.Topic, NumPartitions: cfg.Partitions}}, 5*time.Second, log)
	if err != nil && log != nil {
		log.Warn("ensure consumer topic", zap.String("topic", cfg.Topic), zap.Error(err))
	}
	return NewConsumer(cfg)
}
