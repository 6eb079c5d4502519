package notify_service_config

import (
	"time"

	"github.com/NordCoder/notifyd/internal/obs"
	pginfra "github.com/NordCoder/notifyd/internal/repository/postgres"
	redisinfra "github.com/NordCoder/notifyd/internal/repository/redis"
)

type Process struct {
	MaxAttempts      int           `mapstructure:"maxAttempts" validate:"gte=1"`
	AttemptsInterval time.Duration `mapstructure:"attemptsInterval" validate:"gte=0"`
	Workers          int           `mapstructure:"workers" validate:"gte=1"`
	BatchSize        int           `mapstructure:"batchSize" validate:"gte=1"`
	PollInterval     time.Duration `mapstructure:"pollInterval" validate:"gt=0"`
	StuckAfter       time.Duration `mapstructure:"stuckAfter" validate:"gt=0"`
}

type Hub struct {
	// Internal is the base URL of the messenger hub; empty disables web push.
	Internal               string        `mapstructure:"internal" validate:"omitempty,url"`
	MaxDegreeOfParallelism int           `mapstructure:"maxDegreeOfParallelism" validate:"gte=1"`
	PaidPercent            int           `mapstructure:"paidPercent" validate:"gte=0,lte=100"`
	RatePerSec             float64       `mapstructure:"ratePerSec" validate:"gte=0"`
	Timeout                time.Duration `mapstructure:"timeout" validate:"gt=0"`
	VerifyTLS              bool          `mapstructure:"verify_tls"`
	HubName                string        `mapstructure:"hub" validate:"required"`
	Method                 string        `mapstructure:"method" validate:"required"`
}

type Web struct {
	Hub Hub `mapstructure:"hub"`
}

type Core struct {
	MachineKey string `mapstructure:"machinekey"`
	KeyID      string `mapstructure:"keyId"`
}

type Queue struct {
	Driver string `mapstructure:"driver" validate:"oneof=postgres memory"`
	Locker string `mapstructure:"locker" validate:"oneof=advisory redis memory"`
}

type Tariffs struct {
	Source      string  `mapstructure:"source" validate:"oneof=redis static"`
	PaidTenants []int64 `mapstructure:"paid_tenants"`
}

type KafkaIn struct {
	Enable     bool     `mapstructure:"enable"`
	Brokers    []string `mapstructure:"brokers" validate:"required_if=Enable true"`
	Topic      string   `mapstructure:"topic"`
	GroupID    string   `mapstructure:"group_id"`
	Partitions int      `mapstructure:"partitions"`
}

type KafkaOut struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix" validate:"required"`
	Senders     []string `mapstructure:"senders"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr" validate:"required"`
}

type Maintenance struct {
	Schedule string `mapstructure:"schedule" validate:"required"`
}

type Notify struct {
	QueueSize     int    `mapstructure:"queue_size" validate:"gte=0"`
	DefaultSender string `mapstructure:"default_sender"`
}

type Config struct {
	Process     Process           `mapstructure:"process"`
	Web         Web               `mapstructure:"web"`
	Core        Core              `mapstructure:"core"`
	Queue       Queue             `mapstructure:"queue"`
	Tariffs     Tariffs           `mapstructure:"tariffs"`
	Notify      Notify            `mapstructure:"notify"`
	DB          pginfra.Config    `mapstructure:"db"`
	Redis       redisinfra.Config `mapstructure:"redis"`
	In          KafkaIn           `mapstructure:"kafka_in"`
	Out         KafkaOut          `mapstructure:"kafka_out"`
	OTel        obs.OTELConfig    `mapstructure:"otel"`
	Log         obs.LogConfig     `mapstructure:"log"`
	Server      Server            `mapstructure:"server"`
	Maintenance Maintenance       `mapstructure:"maintenance"`
}

// NeedsRedis reports whether any component was configured to use redis.
func (c *Config) NeedsRedis() bool {
	return c.Queue.Locker == "redis" || c.Tariffs.Source == "redis"
}
