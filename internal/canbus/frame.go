package canbus

import (
	"encoding/binary"
	"fmt"
)

// Linux SocketCAN frame layouts: can_frame (16 bytes) and canfd_frame
// (72 bytes). can_id is in host byte order.
const (
	ClassicFrameSize = 16
	FDFrameSize      = 72

	MaxClassicData = 8
	MaxFDData      = 64

	effFlag = 0x80000000
	rtrFlag = 0x40000000
	errFlag = 0x20000000

	fdFlagBRS = 0x01
)

// fdLengths are the payload sizes a CAN-FD DLC can express.
var fdLengths = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// Frame is one extended-id frame on the bus.
type Frame struct {
	ID   ArbitrationID
	Data []byte
	FD   bool
}

// PaddedLength rounds n up to the next length a DLC can carry.
func PaddedLength(n int) (int, error) {
	for _, l := range fdLengths {
		if n <= l {
			return l, nil
		}
	}
	return 0, fmt.Errorf("payload too long for CAN-FD: %d bytes", n)
}

// Encode builds the SocketCAN wire struct for the frame.
func (f *Frame) Encode() ([]byte, error) {
	size, maxData := ClassicFrameSize, MaxClassicData
	if f.FD {
		size, maxData = FDFrameSize, MaxFDData
	}
	if len(f.Data) > maxData {
		return nil, fmt.Errorf("payload too long: %d bytes (max %d)", len(f.Data), maxData)
	}

	length := len(f.Data)
	if f.FD {
		var err error
		if length, err = PaddedLength(length); err != nil {
			return nil, err
		}
	}

	raw := make([]byte, size)
	binary.LittleEndian.PutUint32(raw[0:4], uint32(f.ID)&ArbitrationIDMask|effFlag)
	raw[4] = uint8(length)
	if f.FD {
		raw[5] = fdFlagBRS
	}
	copy(raw[8:], f.Data)

	return raw, nil
}

// DecodeFrame parses a can_frame or canfd_frame read from the socket.
func DecodeFrame(raw []byte) (*Frame, error) {
	var fd bool
	switch len(raw) {
	case ClassicFrameSize:
	case FDFrameSize:
		fd = true
	default:
		return nil, fmt.Errorf("unexpected frame size: %d bytes", len(raw))
	}

	canID := binary.LittleEndian.Uint32(raw[0:4])
	if canID&errFlag != 0 {
		return nil, fmt.Errorf("error frame: 0x%08X", canID)
	}
	if canID&rtrFlag != 0 {
		return nil, fmt.Errorf("remote frame: 0x%08X", canID)
	}
	if canID&effFlag == 0 {
		return nil, fmt.Errorf("standard frame id not supported: 0x%03X", canID)
	}

	length := int(raw[4])
	if length > len(raw)-8 {
		return nil, fmt.Errorf("frame length %d exceeds buffer", length)
	}

	data := make([]byte, length)
	copy(data, raw[8:8+length])

	return &Frame{
		ID:   ArbitrationID(canID & ArbitrationIDMask),
		Data: data,
		FD:   fd,
	}, nil
}
