package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// State is the delivery state of a queued message (notify_info.state).
type State int

const (
	StateNotSended  State = 0
	StateSending    State = 1
	StateSended     State = 2
	StateError      State = 3
	StateFatalError State = 4
)

func (s State) String() string {
	switch s {
	case StateNotSended:
		return "not_sended"
	case StateSending:
		return "sending"
	case StateSended:
		return "sended"
	case StateError:
		return "error"
	case StateFatalError:
		return "fatal_error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is what a sender reports back for a claimed message.
type Outcome int

const (
	OutcomeSent Outcome = iota + 1
	OutcomeTransient
	// OutcomeFatal is reported when the sender rejects the message for good
	// (bad address, unknown sender type). The row goes straight to FatalError.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeTransient:
		return "transient_error"
	case OutcomeFatal:
		return "fatal_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

var (
	ErrNotFound       = errors.New("notify message not found")
	ErrArgumentNull   = errors.New("argument is null")
	ErrInvalidOutcome = errors.New("invalid outcome")
	// ErrPermanent marks sender errors that must not be retried.
	ErrPermanent = errors.New("permanent delivery error")
)

type Attachment struct {
	FileName  string `json:"fileName"`
	ContentID string `json:"contentId,omitempty"`
	Content   []byte `json:"content,omitempty"`
}

// Message is the persisted queue payload (notify_queue). Priority and the
// delivery fields below it live in notify_info.
type Message struct {
	NotifyID      int64        `json:"notifyId"`
	TenantID      int64        `json:"tenantId"`
	Sender        string       `json:"sender"`
	Receiver      string       `json:"receiver"`
	Subject       string       `json:"subject"`
	ContentType   string       `json:"contentType"`
	Content       string       `json:"content"`
	SenderType    string       `json:"senderType"`
	ReplyTo       string       `json:"replyTo,omitempty"`
	CreationDate  time.Time    `json:"creationDate"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	AutoSubmitted string       `json:"autoSubmitted,omitempty"`

	Priority int `json:"priority"`
}

// Info is the delivery state row (notify_info), 1:1 with Message.
type Info struct {
	NotifyID   int64
	State      State
	Attempts   int
	ModifyDate time.Time
	Priority   int
}

type Stats struct {
	NotSended  int64 `json:"notSended"`
	Sending    int64 `json:"sending"`
	Error      int64 `json:"error"`
	FatalError int64 `json:"fatalError"`
	// Stuck counts Sending rows older than the requested grace period.
	Stuck int64 `json:"stuck"`
}

func MarshalAttachments(a []Attachment) (string, error) {
	if len(a) == 0 {
		return "", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshal attachments: %w", err)
	}
	return string(b), nil
}

func UnmarshalAttachments(s string) ([]Attachment, error) {
	if s == "" {
		return nil, nil
	}
	var out []Attachment
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}
	return out, nil
}

// Validate checks the fields every sender relies on.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("message: %w", ErrArgumentNull)
	}
	if m.Receiver == "" {
		return fmt.Errorf("message receiver: %w", ErrArgumentNull)
	}
	if m.SenderType == "" {
		return fmt.Errorf("message sender type: %w", ErrArgumentNull)
	}
	return nil
}
