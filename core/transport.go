package core

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by Receive when no message arrived in time.
	ErrTimeout = errors.New("receive timed out")
	// ErrStopped is returned once the transport (or client) is shut down.
	ErrStopped = errors.New("stopped")
)

// BundleId identifies one transmitted message.
type BundleId string

// Delivery is a message handed up by the transport together with the
// endpoint identifier of its sender.
type Delivery struct {
	Source  string
	Dest    string
	Payload []byte
}

type Transport interface {
	// Send transmits payload to a node or group endpoint. The message is
	// discarded by the transport once ttl has elapsed.
	Send(ctx context.Context, dest string, payload []byte, ttl time.Duration) (BundleId, error)

	// Receive waits for the next delivery. A timeout <= 0 waits until a
	// message arrives, the context is done or the transport is closed.
	Receive(ctx context.Context, timeout time.Duration) (Delivery, error)

	Close() error
}
