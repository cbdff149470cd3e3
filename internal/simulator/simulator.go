package simulator

import (
	"context"
	"fmt"
	"math"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/Opentrons/opentrons-sub010/internal/canbus"
	"github.com/Opentrons/opentrons-sub010/internal/motion"
	"github.com/Opentrons/opentrons-sub010/internal/types"
	"go.uber.org/zap"
)

// Received is a host message as seen by the simulated bus.
type Received struct {
	Node    types.NodeID
	Message canbus.Message
}

type Option func(*Bus)

// WithTimeScale sleeps duration*scale before each completion. Zero
// completes moves immediately.
func WithTimeScale(scale float64) Option {
	return func(b *Bus) { b.timeScale = scale }
}

// WithInterruptRates sets the tick rates used to decode move requests.
func WithInterruptRates(stepper, brushed float64) Option {
	return func(b *Bus) {
		b.stepperRate = stepper
		b.brushedRate = brushed
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// Bus is an in-process stand-in for the CAN bus and the firmware nodes
// attached to it. It implements canbus.Driver.
type Bus struct {
	logger      *zap.Logger
	timeScale   float64
	stepperRate float64
	brushedRate float64

	mu       sync.Mutex
	nodes    map[types.NodeID]*node
	received []Received

	rx        chan *canbus.Frame
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(nodes []types.NodeID, opts ...Option) *Bus {
	b := &Bus{
		logger:      zap.NewNop(),
		stepperRate: motion.DefaultInterruptsPerSec,
		brushedRate: motion.DefaultBrushedInterruptsPerSec,
		nodes:       make(map[types.NodeID]*node),
		rx:          make(chan *canbus.Frame, 1024),
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, id := range nodes {
		b.nodes[id] = newNode(id)
	}
	return b
}

// Nodes lists the simulated nodes in address order.
func (b *Bus) Nodes() []types.NodeID {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]types.NodeID, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	return types.SortNodes(ids)
}

// Received returns every host message delivered so far, in order.
func (b *Bus) Received() []Received {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Received, len(b.received))
	copy(out, b.received)
	return out
}

// Position reports a node's simulated position in mm.
func (b *Bus) Position(id types.NodeID) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[id]
	if !ok {
		return 0, false
	}
	return n.positionMM, true
}

// Inject applies a fault to a node.
func (b *Bus) Inject(id types.NodeID, fault Fault) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[id]
	if !ok {
		return fmt.Errorf("no simulated node %s", id)
	}
	n.faults = append(n.faults, fault)
	return nil
}

func (b *Bus) Send(ctx context.Context, frame *canbus.Frame) error {
	select {
	case <-b.closed:
		return net.ErrClosed
	default:
	}

	parts := frame.ID.Parts()
	msg, err := canbus.Decode(parts.MessageID, frame.Data)
	if err != nil {
		return fmt.Errorf("simulator: %w", err)
	}

	b.mu.Lock()
	b.received = append(b.received, Received{Node: parts.NodeID, Message: msg})
	targets := make([]*node, 0, len(b.nodes))
	if parts.NodeID == types.NodeBroadcast {
		for _, n := range b.nodes {
			targets = append(targets, n)
		}
	} else if n, ok := b.nodes[parts.NodeID]; ok {
		targets = append(targets, n)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	b.mu.Unlock()

	for _, n := range targets {
		b.handle(n, msg)
	}
	return nil
}

func (b *Bus) Read(ctx context.Context) (*canbus.Frame, error) {
	select {
	case f := <-b.rx:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.closed:
		return nil, net.ErrClosed
	}
}

// Close stops pending completions and unblocks readers.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	b.wg.Wait()
	return nil
}

func (b *Bus) emit(from types.NodeID, msg canbus.Message) {
	data, err := canbus.Encode(msg)
	if err != nil {
		b.logger.Error("Simulator encode failed", zap.Error(err))
		return
	}
	frame := &canbus.Frame{
		ID: canbus.NewArbitrationID(canbus.ArbitrationParts{
			NodeID:      types.NodeHost,
			Originating: from,
			MessageID:   msg.ID(),
		}),
		Data: data,
		FD:   true,
	}
	select {
	case b.rx <- frame:
	case <-b.closed:
	}
}

func (b *Bus) handle(n *node, msg canbus.Message) {
	ack := func() {
		b.emit(n.id, &canbus.Acknowledgement{Header: canbus.Header{MessageIndex: msg.Index()}})
	}

	switch m := msg.(type) {
	case *canbus.ClearAllMoveGroupsRequest:
		b.mu.Lock()
		n.groups = make(map[uint8]map[uint8]canbus.Message)
		b.mu.Unlock()
		ack()
	case *canbus.AddLinearMoveRequest:
		b.store(n, m.GroupID, m.SeqID, m)
		ack()
	case *canbus.HomeRequest:
		b.store(n, m.GroupID, m.SeqID, m)
		ack()
	case *canbus.TipActionRequest:
		b.store(n, m.GroupID, m.SeqID, m)
		ack()
	case *canbus.GripperGripRequest:
		b.store(n, m.GroupID, m.SeqID, m)
		ack()
	case *canbus.GripperHomeRequest:
		b.store(n, m.GroupID, m.SeqID, m)
		ack()
	case *canbus.AddBrushedLinearMoveRequest:
		b.store(n, m.GroupID, m.SeqID, m)
		ack()
	case *canbus.ExecuteMoveGroupRequest:
		ack()
		b.execute(n, m.GroupID)
	default:
		b.logger.Debug("Simulator ignoring message",
			zap.Stringer("node", n.id),
			zap.Stringer("message", msg.ID()))
	}
}

func (b *Bus) store(n *node, group, seq uint8, msg canbus.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n.groups[group] == nil {
		n.groups[group] = make(map[uint8]canbus.Message)
	}
	n.groups[group][seq] = msg
}

func (b *Bus) execute(n *node, group uint8) {
	b.mu.Lock()
	moves := n.groups[group]
	delete(n.groups, group)
	faults := n.takeFaults()
	b.mu.Unlock()

	for _, f := range faults {
		if f.Error != nil {
			b.emit(n.id, &canbus.ErrorMessage{Severity: f.Error.Severity, ErrorCode: f.Error.Code})
		}
	}
	if len(moves) == 0 {
		return
	}

	seqs := make([]int, 0, len(moves))
	for seq := range moves {
		seqs = append(seqs, int(seq))
	}
	sort.Ints(seqs)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, seq := range seqs {
			move := moves[uint8(seq)]
			if !b.wait(b.moveDuration(move)) {
				return
			}
			replies, stopped := b.complete(n, group, uint8(seq), move, faults)
			for _, r := range replies {
				b.emit(n.id, r)
			}
			if stopped {
				return
			}
		}
	}()
}

func (b *Bus) wait(sec float64) bool {
	d := time.Duration(sec * b.timeScale * float64(time.Second))
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-b.closed:
		return false
	}
}

func (b *Bus) moveDuration(move canbus.Message) float64 {
	switch m := move.(type) {
	case *canbus.AddLinearMoveRequest:
		return motion.DurationFromWire(m.Duration, b.stepperRate)
	case *canbus.HomeRequest:
		return motion.DurationFromWire(m.Duration, b.stepperRate)
	case *canbus.TipActionRequest:
		return motion.DurationFromWire(m.Duration, b.stepperRate)
	case *canbus.GripperGripRequest:
		return motion.DurationFromWire(m.Duration, b.brushedRate)
	case *canbus.GripperHomeRequest:
		return motion.DurationFromWire(m.Duration, b.brushedRate)
	case *canbus.AddBrushedLinearMoveRequest:
		return motion.DurationFromWire(m.Duration, b.brushedRate)
	}
	return 0
}

// complete updates the node's state for one finished move and builds
// its completion messages. stopped reports that the move ended on its
// stop condition, which flushes the rest of the node's group.
func (b *Bus) complete(n *node, group, seq uint8, move canbus.Message, faults []Fault) ([]canbus.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		dropAll   = hasFault(faults, func(f Fault) bool { return f.DropCompletions })
		failHome  = hasFault(faults, func(f Fault) bool { return f.FailHome })
		dropGear1 = hasFault(faults, func(f Fault) bool { return f.DropSecondGear })
	)

	ack := canbus.AckCompleteWithoutCondition
	switch m := move.(type) {
	case *canbus.AddLinearMoveRequest:
		v := motion.VelocityFromWire(m.Velocity, b.stepperRate)
		a := motion.AccelerationFromWire(m.Acceleration, b.stepperRate)
		d := motion.DurationFromWire(m.Duration, b.stepperRate)
		if motion.StopCondition(m.RequestStopCondition).Has(motion.StopLimitSwitch) && !failHome {
			n.home()
			ack = canbus.AckStoppedByCondition
		} else {
			n.positionMM += v*d + 0.5*a*d*d
			n.encoderMM = n.positionMM
		}
	case *canbus.HomeRequest:
		if failHome {
			n.positionMM += motion.VelocityFromWire(m.Velocity, b.stepperRate) * motion.DurationFromWire(m.Duration, b.stepperRate)
			n.encoderMM = n.positionMM
		} else {
			n.home()
			ack = canbus.AckStoppedByCondition
		}
	case *canbus.TipActionRequest:
		if motion.TipAction(m.Action) == motion.TipActionHome && !failHome {
			n.home()
			if motion.StopCondition(m.RequestStopCondition).Has(motion.StopLimitSwitch) {
				ack = canbus.AckStoppedByCondition
			}
		} else {
			d := motion.DurationFromWire(m.Duration, b.stepperRate)
			n.positionMM += motion.VelocityFromWire(m.Velocity, b.stepperRate) * d
			n.encoderMM = n.positionMM
		}
		if dropAll {
			return nil, ack == canbus.AckStoppedByCondition
		}
		replies := []canbus.Message{n.tipResponse(group, seq, ack, m.Action, 0)}
		if !dropGear1 {
			replies = append(replies, n.tipResponse(group, seq, ack, m.Action, 1))
		}
		return replies, ack == canbus.AckStoppedByCondition
	case *canbus.GripperHomeRequest:
		if failHome {
			break
		}
		n.home()
		ack = canbus.AckStoppedByCondition
	case *canbus.GripperGripRequest:
		n.encoderMM = float64(m.EncoderPositionUM) / 1000
	case *canbus.AddBrushedLinearMoveRequest:
		n.positionMM = float64(m.EncoderPositionUM) / 1000
		n.encoderMM = n.positionMM
	}

	if dropAll {
		return nil, ack == canbus.AckStoppedByCondition
	}
	return []canbus.Message{n.moveCompleted(group, seq, ack)}, ack == canbus.AckStoppedByCondition
}

type node struct {
	id         types.NodeID
	positionMM float64
	encoderMM  float64
	homed      bool
	groups     map[uint8]map[uint8]canbus.Message
	faults     []Fault
}

func newNode(id types.NodeID) *node {
	return &node{
		id:     id,
		groups: make(map[uint8]map[uint8]canbus.Message),
	}
}

func (n *node) home() {
	n.positionMM = 0
	n.encoderMM = 0
	n.homed = true
}

func (n *node) takeFaults() []Fault {
	out := n.faults
	kept := n.faults[:0:0]
	for _, f := range n.faults {
		if f.Persistent {
			kept = append(kept, f)
		}
	}
	n.faults = kept
	return out
}

func (n *node) flags() uint8 {
	if !n.homed {
		return 0
	}
	return canbus.PositionFlagStepperOK | canbus.PositionFlagEncoderOK
}

func (n *node) positionUM() uint32 {
	return uint32(math.Max(0, math.Round(n.positionMM*1000)))
}

func (n *node) encoderUM() int32 {
	return int32(math.Round(n.encoderMM * 1000))
}

func (n *node) moveCompleted(group, seq uint8, ack canbus.AckID) *canbus.MoveCompleted {
	return &canbus.MoveCompleted{
		GroupID:           group,
		SeqID:             seq,
		CurrentPositionUM: n.positionUM(),
		EncoderPositionUM: n.encoderUM(),
		PositionFlags:     n.flags(),
		AckID:             ack,
	}
}

func (n *node) tipResponse(group, seq uint8, ack canbus.AckID, action uint8, gear uint8) *canbus.TipActionResponse {
	return &canbus.TipActionResponse{
		GroupID:           group,
		SeqID:             seq,
		CurrentPositionUM: n.positionUM(),
		EncoderPositionUM: n.encoderUM(),
		PositionFlags:     n.flags(),
		AckID:             ack,
		Action:            action,
		Success:           1,
		GearMotorID:       gear,
	}
}
