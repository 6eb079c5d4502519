package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NordCoder/notifyd/internal/domain/notify"
	kafkax "github.com/NordCoder/notifyd/internal/repository/kafka"
)

const SenderTypeWeb = "messenger.web"

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// KafkaSender hands messages to a downstream transport service through the
// topic "<prefix>.<senderType>".
type KafkaSender struct {
	pub   Publisher
	topic string
}

func NewKafkaSender(pub Publisher, prefix, senderType string) *KafkaSender {
	return &KafkaSender{pub: pub, topic: prefix + "." + senderType}
}

func (s *KafkaSender) Topic() string { return s.topic }

func (s *KafkaSender) Send(ctx context.Context, m *notify.Message) error {
	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: marshal message %d: %v", notify.ErrPermanent, m.NotifyID, err)
	}
	return s.pub.Publish(ctx, s.topic, kafkax.KeyFromInt64(m.NotifyID), value)
}

// HubSender is satisfied by *dispatch.HubClient.
type HubSender interface {
	Send(ctx context.Context, tenantID int64, hub, method string, payload any) error
}

type webPush struct {
	NotifyID     int64     `json:"notifyId"`
	TenantID     int64     `json:"tenantId"`
	Receiver     string    `json:"receiver"`
	Sender       string    `json:"sender"`
	Subject      string    `json:"subject"`
	ContentType  string    `json:"contentType"`
	Content      string    `json:"content"`
	CreationDate time.Time `json:"creationDate"`
}

// PushSender forwards messages to the messenger hub. Success means the
// request was queued; the hub outcome is not reported back.
type PushSender struct {
	hub    HubSender
	name   string
	method string
}

func NewPushSender(hub HubSender, hubName, method string) *PushSender {
	return &PushSender{hub: hub, name: hubName, method: method}
}

func (s *PushSender) Send(ctx context.Context, m *notify.Message) error {
	return s.hub.Send(ctx, m.TenantID, s.name, s.method, webPush{
		NotifyID:     m.NotifyID,
		TenantID:     m.TenantID,
		Receiver:     m.Receiver,
		Sender:       m.Sender,
		Subject:      m.Subject,
		ContentType:  m.ContentType,
		Content:      m.Content,
		CreationDate: m.CreationDate,
	})
}
