package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBadRecord marks a record that can never be handled. The consumer drops
// it without retrying.
var ErrBadRecord = errors.New("kafka: undecodable record")

// JSONHandler decodes each record value into a fresh M before calling handle.
func JSONHandler[M any](handle func(context.Context, []byte, *M) error) Handler {
	return func(ctx context.Context, key, value []byte) error {
		msg := new(M)
		if err := json.Unmarshal(value, msg); err != nil {
			return fmt.Errorf("%w: %T: %v", ErrBadRecord, msg, err)
		}
		return handle(ctx, key, msg)
	}
}
