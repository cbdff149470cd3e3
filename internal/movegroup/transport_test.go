package movegroup

import (
	"context"
	"sync"
	"time"

	"github.com/Opentrons/opentrons-sub010/internal/canbus"
	"github.com/Opentrons/opentrons-sub010/internal/motion"
	"github.com/Opentrons/opentrons-sub010/internal/types"
)

type sentMessage struct {
	node     types.NodeID
	msg      canbus.Message
	expected []types.NodeID
	ensured  bool
}

type delivery struct {
	from types.NodeID
	msg  canbus.Message
}

type fakeListener struct {
	fn     canbus.Listener
	filter canbus.Filter
}

// fakeTransport records outgoing messages and answers execute requests
// synchronously from the move groups it was built with.
type fakeTransport struct {
	groups  motion.MoveGroups
	startAt uint8

	// complete builds the replies for one (node, seq) of an executed
	// group. Defaults to defaultCompletions.
	complete func(groupID uint8, node types.NodeID, seq uint8, step motion.MoveStep) []canbus.Message
	// extra is delivered after the completions of every executed group.
	extra func(groupID uint8) []delivery
	// ensureErr fails EnsureSend for the given message kind.
	ensureErr map[canbus.MessageID]error
	// withholdAcks leaves execute acknowledgements to extra.
	withholdAcks bool

	mu        sync.Mutex
	index     uint32
	sent      []sentMessage
	listeners map[int]fakeListener
	nextID    int
}

func newFakeTransport(groups motion.MoveGroups) *fakeTransport {
	return &fakeTransport{
		groups:    groups,
		listeners: make(map[int]fakeListener),
	}
}

func (f *fakeTransport) record(node types.NodeID, msg canbus.Message, expected []types.NodeID, ensured bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index++
	msg.SetIndex(f.index)
	f.sent = append(f.sent, sentMessage{node: node, msg: msg, expected: expected, ensured: ensured})
}

func (f *fakeTransport) EnsureSend(ctx context.Context, node types.NodeID, msg canbus.Message, expected []types.NodeID, timeout time.Duration) error {
	f.record(node, msg, expected, true)
	if err, ok := f.ensureErr[msg.ID()]; ok {
		return err
	}
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, node types.NodeID, msg canbus.Message) error {
	f.record(node, msg, nil, false)

	exec, ok := msg.(*canbus.ExecuteMoveGroupRequest)
	if !ok {
		return nil
	}

	index := int(exec.GroupID) - int(f.startAt)
	var replies []delivery
	if index >= 0 && index < len(f.groups) {
		group := f.groups[index]
		for _, n := range group.Nodes() {
			if f.withholdAcks {
				break
			}
			replies = append(replies, delivery{from: n, msg: &canbus.Acknowledgement{Header: canbus.Header{MessageIndex: exec.Index()}}})
		}
		complete := f.complete
		if complete == nil {
			complete = defaultCompletions
		}
		for seq, step := range group {
			for _, n := range types.SortNodes(stepNodes(step)) {
				for _, r := range complete(exec.GroupID, n, uint8(seq), step[n]) {
					replies = append(replies, delivery{from: n, msg: r})
				}
			}
		}
	}
	if f.extra != nil {
		replies = append(replies, f.extra(exec.GroupID)...)
	}
	for _, r := range replies {
		f.deliver(r.from, r.msg)
	}
	return nil
}

func (f *fakeTransport) deliver(from types.NodeID, msg canbus.Message) {
	id := canbus.NewArbitrationID(canbus.ArbitrationParts{
		NodeID:      types.NodeHost,
		Originating: from,
		MessageID:   msg.ID(),
	})
	f.mu.Lock()
	targets := make([]fakeListener, 0, len(f.listeners))
	for _, l := range f.listeners {
		targets = append(targets, l)
	}
	f.mu.Unlock()
	for _, l := range targets {
		if l.filter == nil || l.filter(id) {
			l.fn(msg, id)
		}
	}
}

func (f *fakeTransport) AddListener(fn canbus.Listener, filter canbus.Filter) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fakeListener{fn: fn, filter: filter}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeTransport) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeTransport) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) executes() []*canbus.ExecuteMoveGroupRequest {
	var out []*canbus.ExecuteMoveGroupRequest
	for _, s := range f.messages() {
		if e, ok := s.msg.(*canbus.ExecuteMoveGroupRequest); ok {
			out = append(out, e)
		}
	}
	return out
}

// defaultCompletions reports current_position_um = distance*1000 for
// linear moves and two gear responses for tip actions.
func defaultCompletions(groupID uint8, node types.NodeID, seq uint8, step motion.MoveStep) []canbus.Message {
	flags := canbus.PositionFlagStepperOK | canbus.PositionFlagEncoderOK
	switch s := step.(type) {
	case motion.LinearStep:
		ack := canbus.AckCompleteWithoutCondition
		if s.MoveType == motion.MoveTypeHome || s.StopCondition.Has(motion.StopLimitSwitch) {
			ack = canbus.AckStoppedByCondition
		}
		return []canbus.Message{&canbus.MoveCompleted{
			GroupID:           groupID,
			SeqID:             seq,
			CurrentPositionUM: uint32(s.DistanceMM * 1000),
			EncoderPositionUM: int32(s.DistanceMM * 1000),
			PositionFlags:     flags,
			AckID:             ack,
		}}
	case motion.TipActionStep:
		return []canbus.Message{
			tipResponse(groupID, seq, 0, 5000),
			tipResponse(groupID, seq, 1, 7000),
		}
	case motion.GripperStep:
		return []canbus.Message{&canbus.MoveCompleted{
			GroupID:           groupID,
			SeqID:             seq,
			EncoderPositionUM: s.EncoderPositionUM,
			PositionFlags:     flags,
			AckID:             canbus.AckCompleteWithoutCondition,
		}}
	}
	return nil
}

func tipResponse(groupID, seq, gear uint8, positionUM uint32) *canbus.TipActionResponse {
	return &canbus.TipActionResponse{
		GroupID:           groupID,
		SeqID:             seq,
		CurrentPositionUM: positionUM,
		EncoderPositionUM: int32(positionUM),
		PositionFlags:     canbus.PositionFlagStepperOK,
		AckID:             canbus.AckCompleteWithoutCondition,
		Success:           1,
		GearMotorID:       gear,
	}
}
