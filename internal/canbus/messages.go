package canbus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrUnknownMessage   = errors.New("canbus: unknown message id")
	ErrPayloadTooShort  = errors.New("canbus: payload too short")
	ErrRequestRejected  = errors.New("canbus: request rejected by node")
	ErrAckTimeout       = errors.New("canbus: acknowledgement timeout")
	ErrMessengerStopped = errors.New("canbus: messenger stopped")
)

// MessageID is the 11-bit message kind carried in the arbitration id.
type MessageID uint16

const (
	MessageAcknowledgement             MessageID = 0x001
	MessageError                       MessageID = 0x002
	MessageMoveCompleted               MessageID = 0x013
	MessageAddLinearMoveRequest        MessageID = 0x015
	MessageExecuteMoveGroupRequest     MessageID = 0x018
	MessageClearAllMoveGroupsRequest   MessageID = 0x019
	MessageHomeRequest                 MessageID = 0x020
	MessageTipActionRequest            MessageID = 0x024
	MessageTipActionResponse           MessageID = 0x025
	MessageGripperGripRequest          MessageID = 0x041
	MessageGripperHomeRequest          MessageID = 0x042
	MessageAddBrushedLinearMoveRequest MessageID = 0x044
)

var messageNames = map[MessageID]string{
	MessageAcknowledgement:             "acknowledgement",
	MessageError:                       "error_message",
	MessageMoveCompleted:               "move_completed",
	MessageAddLinearMoveRequest:        "add_linear_move_request",
	MessageTipActionRequest:            "tip_action_request",
	MessageTipActionResponse:           "tip_action_response",
	MessageExecuteMoveGroupRequest:     "execute_move_group_request",
	MessageClearAllMoveGroupsRequest:   "clear_all_move_groups_request",
	MessageHomeRequest:                 "home_request",
	MessageGripperGripRequest:          "gripper_grip_request",
	MessageGripperHomeRequest:          "gripper_home_request",
	MessageAddBrushedLinearMoveRequest: "add_brushed_linear_move_request",
}

func (m MessageID) String() string {
	if name, ok := messageNames[m]; ok {
		return name
	}
	return fmt.Sprintf("message(0x%03X)", uint16(m))
}

// Message is a decoded payload. Every payload starts with a message
// index which acknowledgements echo back.
type Message interface {
	ID() MessageID
	Index() uint32
	SetIndex(uint32)
}

type Header struct {
	MessageIndex uint32
}

func (h *Header) Index() uint32      { return h.MessageIndex }
func (h *Header) SetIndex(i uint32) { h.MessageIndex = i }

// AckID tells why a move ended.
type AckID uint8

const (
	AckCompleteWithoutCondition AckID = 0x1
	AckStoppedByCondition       AckID = 0x2
	AckTimeout                  AckID = 0x3
	AckPositionError            AckID = 0x4
)

func (a AckID) String() string {
	switch a {
	case AckCompleteWithoutCondition:
		return "complete_without_condition"
	case AckStoppedByCondition:
		return "stopped_by_condition"
	case AckTimeout:
		return "timeout"
	case AckPositionError:
		return "position_error"
	default:
		return fmt.Sprintf("ack(%d)", uint8(a))
	}
}

// Position flag bits reported with completions.
const (
	PositionFlagStepperOK uint8 = 0x1
	PositionFlagEncoderOK uint8 = 0x2
)

type ErrorSeverity uint16

const (
	SeverityUnknown       ErrorSeverity = 0x0
	SeverityWarning       ErrorSeverity = 0x1
	SeverityRecoverable   ErrorSeverity = 0x2
	SeverityUnrecoverable ErrorSeverity = 0x3
)

func (s ErrorSeverity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityRecoverable:
		return "recoverable"
	case SeverityUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

type ErrorCode uint16

const (
	ErrorCodeOK                ErrorCode = 0x00
	ErrorCodeHardware          ErrorCode = 0x01
	ErrorCodeInvalidSize       ErrorCode = 0x02
	ErrorCodeBadChecksum       ErrorCode = 0x03
	ErrorCodeInvalidInput      ErrorCode = 0x05
	ErrorCodeCollisionDetected ErrorCode = 0x07
	ErrorCodeLabwareDropped    ErrorCode = 0x08
	ErrorCodeEStopDetected     ErrorCode = 0x09
	ErrorCodeMotorBusy         ErrorCode = 0x0A
	ErrorCodeStopRequested     ErrorCode = 0x0B
	ErrorCodeOverPressure      ErrorCode = 0x0C
	ErrorCodeDoorOpen          ErrorCode = 0x0D
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeOK:
		return "ok"
	case ErrorCodeHardware:
		return "hardware"
	case ErrorCodeInvalidSize:
		return "invalid_size"
	case ErrorCodeBadChecksum:
		return "bad_checksum"
	case ErrorCodeInvalidInput:
		return "invalid_input"
	case ErrorCodeCollisionDetected:
		return "collision_detected"
	case ErrorCodeLabwareDropped:
		return "labware_dropped"
	case ErrorCodeEStopDetected:
		return "estop_detected"
	case ErrorCodeMotorBusy:
		return "motor_busy"
	case ErrorCodeStopRequested:
		return "stop_requested"
	case ErrorCodeOverPressure:
		return "over_pressure"
	case ErrorCodeDoorOpen:
		return "door_open"
	default:
		return fmt.Sprintf("error_code(0x%02X)", uint16(c))
	}
}

type Acknowledgement struct {
	Header
}

type ErrorMessage struct {
	Header
	Severity  ErrorSeverity
	ErrorCode ErrorCode
}

type ClearAllMoveGroupsRequest struct {
	Header
}

type AddLinearMoveRequest struct {
	Header
	GroupID              uint8
	SeqID                uint8
	Duration             uint32
	Acceleration         int32
	Velocity             int32
	RequestStopCondition uint8
}

type HomeRequest struct {
	Header
	GroupID  uint8
	SeqID    uint8
	Duration uint32
	Velocity int32
}

type TipActionRequest struct {
	Header
	GroupID              uint8
	SeqID                uint8
	Duration             uint32
	Velocity             int32
	Action               uint8
	RequestStopCondition uint8
	Acceleration         int32
}

type GripperGripRequest struct {
	Header
	GroupID           uint8
	SeqID             uint8
	Duration          uint32
	DutyCycle         uint32
	EncoderPositionUM int32
}

type GripperHomeRequest struct {
	Header
	GroupID   uint8
	SeqID     uint8
	Duration  uint32
	DutyCycle uint32
}

type AddBrushedLinearMoveRequest struct {
	Header
	GroupID              uint8
	SeqID                uint8
	Duration             uint32
	DutyCycle            uint32
	EncoderPositionUM    int32
	RequestStopCondition uint8
}

type ExecuteMoveGroupRequest struct {
	Header
	GroupID       uint8
	StartTrigger  uint8
	CancelTrigger uint8
}

type MoveCompleted struct {
	Header
	GroupID           uint8
	SeqID             uint8
	CurrentPositionUM uint32
	EncoderPositionUM int32
	PositionFlags     uint8
	AckID             AckID
}

type TipActionResponse struct {
	Header
	GroupID           uint8
	SeqID             uint8
	CurrentPositionUM uint32
	EncoderPositionUM int32
	PositionFlags     uint8
	AckID             AckID
	Action            uint8
	Success           uint8
	GearMotorID       uint8
}

func (*Acknowledgement) ID() MessageID             { return MessageAcknowledgement }
func (*ErrorMessage) ID() MessageID                { return MessageError }
func (*ClearAllMoveGroupsRequest) ID() MessageID   { return MessageClearAllMoveGroupsRequest }
func (*AddLinearMoveRequest) ID() MessageID        { return MessageAddLinearMoveRequest }
func (*HomeRequest) ID() MessageID                 { return MessageHomeRequest }
func (*TipActionRequest) ID() MessageID            { return MessageTipActionRequest }
func (*GripperGripRequest) ID() MessageID          { return MessageGripperGripRequest }
func (*GripperHomeRequest) ID() MessageID          { return MessageGripperHomeRequest }
func (*AddBrushedLinearMoveRequest) ID() MessageID { return MessageAddBrushedLinearMoveRequest }
func (*ExecuteMoveGroupRequest) ID() MessageID     { return MessageExecuteMoveGroupRequest }
func (*MoveCompleted) ID() MessageID               { return MessageMoveCompleted }
func (*TipActionResponse) ID() MessageID           { return MessageTipActionResponse }

var registry = map[MessageID]func() Message{
	MessageAcknowledgement:             func() Message { return &Acknowledgement{} },
	MessageError:                       func() Message { return &ErrorMessage{} },
	MessageClearAllMoveGroupsRequest:   func() Message { return &ClearAllMoveGroupsRequest{} },
	MessageAddLinearMoveRequest:        func() Message { return &AddLinearMoveRequest{} },
	MessageHomeRequest:                 func() Message { return &HomeRequest{} },
	MessageTipActionRequest:            func() Message { return &TipActionRequest{} },
	MessageGripperGripRequest:          func() Message { return &GripperGripRequest{} },
	MessageGripperHomeRequest:          func() Message { return &GripperHomeRequest{} },
	MessageAddBrushedLinearMoveRequest: func() Message { return &AddBrushedLinearMoveRequest{} },
	MessageExecuteMoveGroupRequest:     func() Message { return &ExecuteMoveGroupRequest{} },
	MessageMoveCompleted:               func() Message { return &MoveCompleted{} },
	MessageTipActionResponse:           func() Message { return &TipActionResponse{} },
}

// Encode serializes a message payload, big-endian, fields in declaration
// order.
func Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, msg); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.ID(), err)
	}
	return buf.Bytes(), nil
}

// Decode parses a payload for the given message id. Trailing padding is
// ignored.
func Decode(id MessageID, data []byte) (Message, error) {
	newMsg, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%03X", ErrUnknownMessage, uint16(id))
	}
	msg := newMsg()
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, msg); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrPayloadTooShort, id, binary.Size(msg), len(data))
		}
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return msg, nil
}
