package canbus

import (
	"fmt"

	"github.com/Opentrons/opentrons-sub010/internal/types"
)

// ArbitrationID is the 29-bit extended CAN identifier. From the least
// significant bit: function code (4), destination node (7), originating
// node (7), message id (11).
type ArbitrationID uint32

const (
	functionCodeBits = 4
	nodeIDBits       = 7
	messageIDBits    = 11

	functionCodeShift = 0
	nodeIDShift       = functionCodeShift + functionCodeBits
	originShift       = nodeIDShift + nodeIDBits
	messageIDShift    = originShift + nodeIDBits

	ArbitrationIDMask = 1<<(messageIDShift+messageIDBits) - 1
)

type FunctionCode uint8

const (
	FunctionNetworkManagement FunctionCode = 0x0
	FunctionSync              FunctionCode = 0x1
	FunctionError             FunctionCode = 0x2
	FunctionCommand           FunctionCode = 0x3
	FunctionStatus            FunctionCode = 0x4
)

// ArbitrationParts is the unpacked form of an ArbitrationID.
type ArbitrationParts struct {
	FunctionCode FunctionCode
	NodeID       types.NodeID
	Originating  types.NodeID
	MessageID    MessageID
}

func NewArbitrationID(p ArbitrationParts) ArbitrationID {
	id := uint32(p.FunctionCode)&(1<<functionCodeBits-1)<<functionCodeShift |
		uint32(p.NodeID)&(1<<nodeIDBits-1)<<nodeIDShift |
		uint32(p.Originating)&(1<<nodeIDBits-1)<<originShift |
		uint32(p.MessageID)&(1<<messageIDBits-1)<<messageIDShift
	return ArbitrationID(id)
}

func (a ArbitrationID) Parts() ArbitrationParts {
	v := uint32(a)
	return ArbitrationParts{
		FunctionCode: FunctionCode(v >> functionCodeShift & (1<<functionCodeBits - 1)),
		NodeID:       types.NodeID(v >> nodeIDShift & (1<<nodeIDBits - 1)),
		Originating:  types.NodeID(v >> originShift & (1<<nodeIDBits - 1)),
		MessageID:    MessageID(v >> messageIDShift & (1<<messageIDBits - 1)),
	}
}

func (a ArbitrationID) Origin() types.NodeID { return a.Parts().Originating }

func (a ArbitrationID) String() string {
	p := a.Parts()
	return fmt.Sprintf("0x%08X(%s->%s %s)", uint32(a), p.Originating, p.NodeID, p.MessageID)
}
