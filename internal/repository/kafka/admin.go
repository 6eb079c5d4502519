package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
}

var (
	ErrNoBrokers     = errors.New("kafka: no brokers configured")
	ErrTopicNotReady = errors.New("kafka: topic not ready")
)

func (s TopicSpec) config() kafka.TopicConfig {
	tc := kafka.TopicConfig{Topic: s.Name, NumPartitions: s.NumPartitions, ReplicationFactor: s.ReplicationFactor}
	if tc.NumPartitions <= 0 {
		tc.NumPartitions = 1
	}
	if tc.ReplicationFactor <= 0 {
		tc.ReplicationFactor = 1
	}
	return tc
}

// EnsureTopics creates the missing topics and waits up to maxWait until the
// cluster metadata lists every one of them with at least one partition.
// Topics that already exist are left alone.
func EnsureTopics(ctx context.Context, brokers []string, specs []TopicSpec, maxWait time.Duration, log *zap.Logger) error {
	if len(brokers) == 0 {
		return ErrNoBrokers
	}
	if len(specs) == 0 {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}

	client := &kafka.Client{Addr: kafka.TCP(brokers...), Timeout: 10 * time.Second}

	req := &kafka.CreateTopicsRequest{}
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		req.Topics = append(req.Topics, s.config())
		names = append(names, s.Name)
	}
	resp, err := client.CreateTopics(ctx, req)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for topic, terr := range resp.Errors {
		switch {
		case terr == nil:
			log.Info("topic created", zap.String("topic", topic))
		case errors.Is(terr, kafka.TopicAlreadyExists):
			log.Debug("topic exists", zap.String("topic", topic))
		default:
			return fmt.Errorf("create topic %s: %w", topic, terr)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	for {
		missing, err := missingTopics(ctx, client, names)
		if err == nil && len(missing) == 0 {
			log.Info("topics ready", zap.Strings("topics", names))
			return nil
		}
		if !sleep(ctx, 200*time.Millisecond) {
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTopicNotReady, err)
			}
			return fmt.Errorf("%w: %v", ErrTopicNotReady, missing)
		}
	}
}

func missingTopics(ctx context.Context, client *kafka.Client, names []string) ([]string, error) {
	md, err := client.Metadata(ctx, &kafka.MetadataRequest{Topics: names})
	if err != nil {
		return nil, err
	}
	ready := make(map[string]bool, len(md.Topics))
	for _, t := range md.Topics {
		ready[t.Name] = t.Error == nil && len(t.Partitions) > 0
	}
	var missing []string
	for _, n := range names {
		if !ready[n] {
			missing = append(missing, n)
		}
	}
	return missing, nil
}
