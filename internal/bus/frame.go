// Package bus connects the relay to the publish/subscribe message bus.
package bus

import (
	"context"
	"errors"
)

const (
	// CommandMessage is the command of a frame carrying a delivered message
	CommandMessage = "MESSAGE"

	HeaderMessageID    = "message-id"
	HeaderDestination  = "destination"
	HeaderSubscription = "subscription"
)

var (
	// ErrDisconnected is returned once the bus connection is gone. The caller
	// subscribes again to reconnect.
	ErrDisconnected = errors.New("bus disconnected")

	// ErrUnknownMessage is returned when acknowledging a message id that was
	// never handed out or was already acknowledged
	ErrUnknownMessage = errors.New("unknown message id")
)

// Frame is one unit received from the bus
type Frame struct {
	Command string
	Headers map[string]string
	Body    string
}

// Header returns a header value, empty when absent
func (f *Frame) Header(name string) string {
	if f == nil || f.Headers == nil {
		return ""
	}
	return f.Headers[name]
}

// Transport is the narrow view of the bus the worker depends on
type Transport interface {
	// Subscribe connects if needed and starts delivering messages sent to
	// destination
	Subscribe(ctx context.Context, destination, subscriptionID string) error
	// NextFrame waits a short time for the next frame. ok is false when
	// nothing arrived in time.
	NextFrame(ctx context.Context) (frame *Frame, ok bool, err error)
	Send(ctx context.Context, destination, body string) error
	Ack(ctx context.Context, messageID, subscriptionID string) error
	// ConnectedTo returns the broker address, empty while disconnected
	ConnectedTo() string
	Close()
}
