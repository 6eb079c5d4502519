package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	kafkax "github.com/NordCoder/notifyd/internal/repository/kafka"
)

// Event is the JSON record other services publish to ask for a notification.
type Event struct {
	TenantID          int64             `json:"tenantId"`
	Action            Action            `json:"action"`
	ObjectID          string            `json:"objectId"`
	Recipients        []*Recipient      `json:"recipients"`
	SenderNames       []string          `json:"senderNames"`
	CheckSubscription bool              `json:"checkSubscription"`
	Priority          int               `json:"priority"`
	Args              map[string]any    `json:"args,omitempty"`
	Tags              map[string]string `json:"tags,omitempty"`
}

// Controller feeds notify events consumed from kafka into the builder.
type Controller struct {
	Log     *zap.Logger
	Sub     *kafkax.Consumer
	Builder *Builder
}

func (c *Controller) Run(ctx context.Context) error {
	handler := kafkax.JSONHandler(func(ctx context.Context, _ []byte, ev *Event) error {
		return c.Handle(ctx, ev)
	})
	return c.Sub.Consume(ctx, handler)
}

// Handle sends one event. Validation errors are logged and swallowed so a bad
// record does not block the partition.
func (c *Controller) Handle(ctx context.Context, ev *Event) error {
	args := make([]TagValue, 0, len(ev.Args)+len(ev.Tags))
	for k, v := range ev.Args {
		args = append(args, TagValue{Tag: k, Value: v})
	}
	for k, v := range ev.Tags {
		args = append(args, TagValue{Tag: k, Value: v})
	}

	err := c.Builder.Send(ctx, ev.Action, ev.ObjectID, ev.Recipients, SendOptions{
		TenantID:          ev.TenantID,
		SenderNames:       ev.SenderNames,
		CheckSubscription: ev.CheckSubscription,
		Priority:          ev.Priority,
	}, args...)
	if errors.Is(err, ErrRecipientsRequired) || errors.Is(err, ErrRecipientNil) || errors.Is(err, ErrActionRequired) {
		c.Log.Warn("invalid notify event", zap.String("action", ev.Action.ID), zap.Error(err))
		return nil
	}
	return err
}
