//go:build linux

package socketcan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/Opentrons/opentrons-sub010/internal/canbus"
	"golang.org/x/sys/unix"
)

const pollIntervalMs = 100

// Bus is a raw SocketCAN socket bound to one interface.
type Bus struct {
	iface string
	fd    int
	canFD bool

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

// Open binds a raw CAN socket to the named interface (e.g. "can0").
// With canFD set the socket also accepts CAN-FD frames.
func Open(iface string, canFD bool) (*Bus, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", iface, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	if canFD {
		if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("enable CAN-FD frames: %w", err)
		}
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", iface, err)
	}

	return &Bus{iface: iface, fd: fd, canFD: canFD}, nil
}

func (b *Bus) Send(ctx context.Context, frame *canbus.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if frame.FD && !b.canFD {
		return fmt.Errorf("%s: CAN-FD frames not enabled", b.iface)
	}

	raw, err := frame.Encode()
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if _, err := unix.Write(b.fd, raw); err != nil {
		return fmt.Errorf("write %s: %w", b.iface, err)
	}
	return nil
}

// Read polls the socket so that context cancellation and Close are
// noticed within pollIntervalMs.
func (b *Bus) Read(ctx context.Context) (*canbus.Frame, error) {
	buf := make([]byte, canbus.FDFrameSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if b.isClosed() {
			return nil, net.ErrClosed
		}

		fds := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollIntervalMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, fmt.Errorf("poll %s: %w", b.iface, err)
		}
		if n == 0 {
			continue
		}

		size, err := unix.Read(b.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", b.iface, err)
		}
		return canbus.DecodeFrame(buf[:size])
	}
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return unix.Close(b.fd)
}
