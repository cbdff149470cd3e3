package canbus

import "context"

// Driver moves raw frames on and off a bus. Read blocks until a frame
// arrives, the context ends, or the driver is closed.
type Driver interface {
	Send(ctx context.Context, frame *Frame) error
	Read(ctx context.Context) (*Frame, error)
	Close() error
}
