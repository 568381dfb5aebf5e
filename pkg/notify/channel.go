package notify

import (
	"context"
	"errors"
)

// ErrSendFailed is wrapped by every channel delivery failure
var ErrSendFailed = errors.New("notification send failed")

// Channel delivers rendered messages to one destination
type Channel interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}
