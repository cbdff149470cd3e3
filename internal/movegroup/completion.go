package movegroup

import (
	"github.com/Opentrons/opentrons-sub010/internal/canbus"
	"github.com/Opentrons/opentrons-sub010/internal/types"
)

// CompletionPacket pairs a completion message with the node that sent
// it. Message is a *canbus.MoveCompleted or *canbus.TipActionResponse.
type CompletionPacket struct {
	Node    types.NodeID
	Message canbus.Message
}

// NodePosition is a node's final reported state after a run.
type NodePosition struct {
	PositionMM         float64 `json:"position_mm"`
	EncoderMM          float64 `json:"encoder_mm"`
	PositionOK         bool    `json:"position_ok"`
	EncoderOK          bool    `json:"encoder_ok"`
	StoppedByCondition bool    `json:"stopped_by_condition"`
}

// NodeMap maps each moved node to its final position.
type NodeMap map[types.NodeID]NodePosition

// Accumulate folds completion packets in order; the last packet per node
// wins.
func Accumulate(packets []CompletionPacket) NodeMap {
	positions := make(NodeMap)
	for _, p := range packets {
		var (
			position uint32
			encoder  int32
			flags    uint8
			ack      canbus.AckID
		)
		switch m := p.Message.(type) {
		case *canbus.MoveCompleted:
			position, encoder, flags, ack = m.CurrentPositionUM, m.EncoderPositionUM, m.PositionFlags, m.AckID
		case *canbus.TipActionResponse:
			position, encoder, flags, ack = m.CurrentPositionUM, m.EncoderPositionUM, m.PositionFlags, m.AckID
		default:
			continue
		}
		positions[p.Node] = NodePosition{
			PositionMM:         float64(position) / 1000,
			EncoderMM:          float64(encoder) / 1000,
			PositionOK:         flags&canbus.PositionFlagStepperOK != 0,
			EncoderOK:          flags&canbus.PositionFlagEncoderOK != 0,
			StoppedByCondition: ack == canbus.AckStoppedByCondition,
		}
	}
	return positions
}
