package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	domain "github.com/NordCoder/notifyd/internal/domain/notify"
)

// MessageFactory renders a request into the message persisted for one sender.
// Returning nil, nil skips the sender (no address for it, for example).
type MessageFactory interface {
	Build(ctx context.Context, r *Request, senderName string) (*domain.Message, error)
}

type SubscriptionChecker interface {
	IsSubscribed(ctx context.Context, r *Request, senderName string) (bool, error)
}

type AllowAll struct{}

func (AllowAll) IsSubscribed(context.Context, *Request, string) (bool, error) { return true, nil }

// Argument tags understood by PlainFactory.
const (
	TagSubject = "__Subject"
	TagBody    = "__Body"
	TagSender  = "__Sender"
	TagReplyTo = "__ReplyTo"
)

// PlainFactory renders text/plain messages from the request arguments. The
// recipient's first address is the receiver; with no address the recipient id is used.
type PlainFactory struct {
	DefaultSender string
}

func (f PlainFactory) Build(_ context.Context, r *Request, senderName string) (*domain.Message, error) {
	if r.Recipient == nil {
		return nil, ErrRecipientNil
	}
	receiver := r.Recipient.ID
	if len(r.Recipient.Addresses) > 0 {
		receiver = r.Recipient.Addresses[0]
	}
	if receiver == "" {
		return nil, nil
	}

	subject := r.Action.Name
	if v, ok := r.Argument(TagSubject); ok {
		subject = fmt.Sprint(v)
	}
	sender := f.DefaultSender
	if v, ok := r.Argument(TagSender); ok {
		sender = fmt.Sprint(v)
	}
	replyTo := ""
	if v, ok := r.Argument(TagReplyTo); ok {
		replyTo = fmt.Sprint(v)
	}

	var body string
	if v, ok := r.Argument(TagBody); ok {
		body = fmt.Sprint(v)
	} else {
		body = renderArguments(r)
	}

	return &domain.Message{
		TenantID:      r.TenantID,
		Sender:        sender,
		Receiver:      receiver,
		Subject:       subject,
		ContentType:   "text/plain",
		Content:       body,
		SenderType:    senderName,
		ReplyTo:       replyTo,
		AutoSubmitted: "auto-generated",
		Priority:      r.Priority,
	}, nil
}

func renderArguments(r *Request) string {
	lines := make([]string, 0, len(r.Arguments))
	for _, a := range r.Arguments {
		if strings.HasPrefix(a.Tag, "__") {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %v", a.Tag, a.Value))
	}
	sort.Strings(lines)
	head := r.Action.Name
	if r.ObjectID != "" {
		head += " (" + r.ObjectID + ")"
	}
	return strings.TrimSpace(head + "\n" + strings.Join(lines, "\n"))
}
