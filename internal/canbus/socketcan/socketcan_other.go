//go:build !linux

package socketcan

import (
	"context"
	"errors"

	"github.com/Opentrons/opentrons-sub010/internal/canbus"
)

var ErrUnsupported = errors.New("socketcan: only available on linux")

type Bus struct{}

func Open(iface string, canFD bool) (*Bus, error) {
	return nil, ErrUnsupported
}

func (b *Bus) Send(ctx context.Context, frame *canbus.Frame) error { return ErrUnsupported }

func (b *Bus) Read(ctx context.Context) (*canbus.Frame, error) { return nil, ErrUnsupported }

func (b *Bus) Close() error { return nil }
