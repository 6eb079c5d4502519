package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/notifyd/internal/config/notify-service"
	"github.com/NordCoder/notifyd/internal/obs"
	"github.com/NordCoder/notifyd/internal/repository/kafka"
)

// Creates the event intake topic and one delivery topic per configured sender type.
func main() {
	configPath := flag.String("config", "../config/notify-service.yaml", "path to config file")
	replication := flag.Int("rf", 1, "replication factor")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	l, err := obs.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	in := []kafka.TopicSpec{{Name: cfg.In.Topic, NumPartitions: cfg.In.Partitions, ReplicationFactor: *replication}}
	var out []kafka.TopicSpec
	for _, sender := range cfg.Out.Senders {
		out = append(out, kafka.TopicSpec{Name: cfg.Out.TopicPrefix + "." + sender, ReplicationFactor: *replication})
	}

	if err := kafka.EnsureTopics(ctx, cfg.In.Brokers, in, 30*time.Second, l); err != nil {
		l.Fatal("ensure intake topic", zap.Error(err))
	}
	if err := kafka.EnsureTopics(ctx, cfg.Out.Brokers, out, 30*time.Second, l); err != nil {
		l.Fatal("ensure delivery topics", zap.Error(err))
	}
	l.Info("kafka-init ok", zap.Int("topics", len(in)+len(out)))
}
