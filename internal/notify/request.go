package notify

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/NordCoder/notifyd/internal/domain/notify"
)

var (
	ErrRecipientsRequired = fmt.Errorf("recipients: %w", domain.ErrArgumentNull)
	ErrRecipientNil       = fmt.Errorf("recipient: %w", domain.ErrArgumentNull)
	ErrActionRequired     = fmt.Errorf("action: %w", domain.ErrArgumentNull)
	ErrClosed             = errors.New("notify builder closed")
)

type Action struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Recipient struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Addresses []string `json:"addresses,omitempty"`
}

type TagValue struct {
	Tag   string `json:"tag"`
	Value any    `json:"value"`
}

// Request is one recipient's share of a notify call. It lives until the
// transfer stage has persisted it.
type Request struct {
	TenantID          int64
	Action            Action
	ObjectID          string
	Recipient         *Recipient
	SenderNames       []string
	CheckSubscription bool
	Arguments         []TagValue
	Priority          int

	// Interceptors is the chain captured when the request was built.
	Interceptors []Interceptor
}

func (r *Request) Argument(tag string) (any, bool) {
	for _, a := range r.Arguments {
		if a.Tag == tag {
			return a.Value, true
		}
	}
	return nil, false
}

// SetArgument replaces an existing tag or appends a new one.
func (r *Request) SetArgument(tag string, value any) {
	for i := range r.Arguments {
		if r.Arguments[i].Tag == tag {
			r.Arguments[i].Value = value
			return
		}
	}
	r.Arguments = append(r.Arguments, TagValue{Tag: tag, Value: value})
}

type Place int

const (
	// PlacePrepare runs while the builder fans a call out to recipients.
	PlacePrepare Place = iota + 1
	// PlaceTransfer runs right before the request is persisted.
	PlaceTransfer
)

type Interceptor interface {
	Name() string
	Place() Place
	// PreventSend reports whether the request must be dropped.
	PreventSend(ctx context.Context, r *Request, place Place) bool
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc struct {
	InterceptorName  string
	InterceptorPlace Place
	Fn               func(ctx context.Context, r *Request, place Place) bool
}

func (f InterceptorFunc) Name() string { return f.InterceptorName }
func (f InterceptorFunc) Place() Place { return f.InterceptorPlace }
func (f InterceptorFunc) PreventSend(ctx context.Context, r *Request, place Place) bool {
	if f.Fn == nil {
		return false
	}
	return f.Fn(ctx, r, place)
}

func prevented(ctx context.Context, r *Request, place Place) (string, bool) {
	for _, i := range r.Interceptors {
		if i.Place() != place {
			continue
		}
		if i.PreventSend(ctx, r, place) {
			return i.Name(), true
		}
	}
	return "", false
}
