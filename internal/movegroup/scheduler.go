package movegroup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Opentrons/opentrons-sub010/internal/canbus"
	"github.com/Opentrons/opentrons-sub010/internal/motion"
	"github.com/Opentrons/opentrons-sub010/internal/types"
	"go.uber.org/zap"
)

type moveKey struct {
	node types.NodeID
	seq  uint8
}

type expectation struct {
	expected int
	received int
	gears    map[uint8]struct{}
	cond     motion.StopCondition
	mustStop bool
}

type inbound struct {
	msg canbus.Message
	id  canbus.ArbitrationID
}

// groupScheduler drives one move group from execute to completion. It
// lives for a single group and is discarded afterwards.
type groupScheduler struct {
	groupID uint8
	timeout time.Duration
	logger  *zap.Logger

	nodes        []types.NodeID
	expected     map[moveKey]*expectation
	acked        map[types.NodeID]bool
	executeIndex uint32

	state       GroupState
	completions []CompletionPacket
	errs        []error
	aborted     bool

	inboxMu sync.Mutex
	inbox   []inbound
	notify  chan struct{}
}

func newGroupScheduler(groupID uint8, group motion.MoveGroup, timeout time.Duration, logger *zap.Logger) *groupScheduler {
	s := &groupScheduler{
		groupID:  groupID,
		timeout:  timeout,
		logger:   logger.With(zap.Uint8("group_id", groupID)),
		nodes:    group.Nodes(),
		expected: make(map[moveKey]*expectation),
		acked:    make(map[types.NodeID]bool),
		state:    GroupIdle,
		notify:   make(chan struct{}, 1),
	}
	for seq, step := range group {
		for node, move := range step {
			s.expected[moveKey{node: node, seq: uint8(seq)}] = &expectation{
				expected: motion.ExpectedResponses(move),
				gears:    make(map[uint8]struct{}),
				cond:     move.Condition(),
				mustStop: mustStopOnCondition(move),
			}
		}
	}
	return s
}

// mustStopOnCondition reports whether a move only succeeds when its
// limit switch trips: homing moves and anything requesting limit_switch.
func mustStopOnCondition(move motion.MoveStep) bool {
	if move.Condition().Has(motion.StopLimitSwitch) {
		return true
	}
	switch m := move.(type) {
	case motion.LinearStep:
		return m.MoveType == motion.MoveTypeHome
	case *motion.LinearStep:
		return m.MoveType == motion.MoveTypeHome
	}
	return false
}

// handle is the bus listener. It never blocks the messenger; messages
// are queued for the wait loop.
func (s *groupScheduler) handle(msg canbus.Message, id canbus.ArbitrationID) {
	s.inboxMu.Lock()
	s.inbox = append(s.inbox, inbound{msg: msg, id: id})
	s.inboxMu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *groupScheduler) drain() []inbound {
	s.inboxMu.Lock()
	defer s.inboxMu.Unlock()
	out := s.inbox
	s.inbox = nil
	return out
}

// wait processes messages until every expected move has reported, a
// fatal condition occurs, or the timeout elapses.
func (s *groupScheduler) wait(ctx context.Context) ([]CompletionPacket, error) {
	s.state = GroupAwaitingAcks

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for len(s.expected) > 0 && !s.aborted {
		select {
		case <-s.notify:
			for _, in := range s.drain() {
				if err := s.process(in); err != nil {
					s.state = GroupFailed
					return nil, err
				}
			}
		case <-timer.C:
			s.state = GroupFailed
			failed := &MotionFailedError{
				GroupID:     s.groupID,
				Outstanding: s.outstanding(),
				Unacked:     s.unacked(),
				Timeout:     true,
			}
			s.logger.Error("Move group timed out",
				zap.Duration("timeout", s.timeout),
				zap.Error(failed))
			if len(s.errs) > 0 {
				return nil, newEnumeratedError(s.groupID, append(s.errs, failed)...)
			}
			return nil, failed
		case <-ctx.Done():
			s.state = GroupFailed
			return nil, &MotionFailedError{
				GroupID:     s.groupID,
				Outstanding: s.outstanding(),
				Err:         ctx.Err(),
			}
		}
	}

	if len(s.errs) > 0 {
		s.state = GroupFailed
		return nil, newEnumeratedError(s.groupID, s.errs...)
	}

	s.state = GroupSatisfied
	return s.completions, nil
}

func (s *groupScheduler) process(in inbound) error {
	node := in.id.Origin()

	switch m := in.msg.(type) {
	case *canbus.Acknowledgement:
		if m.Index() == s.executeIndex {
			s.acked[node] = true
			s.logger.Debug("Execute acknowledged", zap.Stringer("node", node))
		}
	case *canbus.MoveCompleted:
		return s.complete(node, m.GroupID, m.SeqID, m.AckID, nil, m)
	case *canbus.TipActionResponse:
		gear := m.GearMotorID
		return s.complete(node, m.GroupID, m.SeqID, m.AckID, &gear, m)
	case *canbus.ErrorMessage:
		s.recordError(node, m)
	}
	return nil
}

// complete accounts one completion. gear is set for tip-action responses.
func (s *groupScheduler) complete(node types.NodeID, groupID, seq uint8, ack canbus.AckID, gear *uint8, msg canbus.Message) error {
	if groupID != s.groupID {
		s.logger.Debug("Ignoring completion for another group",
			zap.Stringer("node", node),
			zap.Uint8("message_group_id", groupID))
		return nil
	}

	key := moveKey{node: node, seq: seq}
	exp, ok := s.expected[key]
	if !ok {
		s.logger.Warn("Ignoring unexpected completion",
			zap.Stringer("node", node),
			zap.Uint8("seq_id", seq))
		return nil
	}

	if gear != nil {
		if *gear > 1 {
			s.logger.Warn("Ignoring unknown gear motor", zap.Stringer("node", node), zap.Uint8("gear_motor_id", *gear))
			return nil
		}
		if _, seen := exp.gears[*gear]; seen {
			s.logger.Warn("Ignoring duplicate gear motor response", zap.Stringer("node", node), zap.Uint8("gear_motor_id", *gear))
			return nil
		}
		exp.gears[*gear] = struct{}{}
	}

	if exp.mustStop && ack != canbus.AckStoppedByCondition {
		err := &MoveConditionNotMetError{
			Node:      node,
			GroupID:   groupID,
			SeqID:     seq,
			Condition: exp.cond,
			AckID:     ack,
		}
		s.logger.Error("Move condition not met", zap.Error(err))
		return err
	}

	exp.received++
	if gear == nil || *gear == 0 {
		s.completions = append(s.completions, CompletionPacket{Node: node, Message: msg})
	}

	if exp.received < exp.expected {
		return nil
	}
	delete(s.expected, key)
	s.logger.Debug("Move completed",
		zap.Stringer("node", node),
		zap.Uint8("seq_id", seq),
		zap.Stringer("ack", ack))

	if ack == canbus.AckStoppedByCondition {
		for k := range s.expected {
			if k.node == node {
				delete(s.expected, k)
				s.logger.Debug("Dropping move flushed by stop condition",
					zap.Stringer("node", node),
					zap.Uint8("seq_id", k.seq))
			}
		}
	}
	return nil
}

func (s *groupScheduler) recordError(node types.NodeID, m *canbus.ErrorMessage) {
	if m.Severity == canbus.SeverityWarning {
		s.logger.Warn("Node reported warning",
			zap.Stringer("node", node),
			zap.Stringer("error_code", m.ErrorCode))
		return
	}

	err := &HardwareError{Node: node, Severity: m.Severity, Code: m.ErrorCode}
	s.errs = append(s.errs, err)
	s.logger.Error("Node reported error", zap.Error(err))

	if m.Severity == canbus.SeverityUnrecoverable {
		s.aborted = true
	}
}

func (s *groupScheduler) outstanding() []Outstanding {
	out := make([]Outstanding, 0, len(s.expected))
	for k, exp := range s.expected {
		out = append(out, Outstanding{
			Node:     k.node,
			SeqID:    k.seq,
			Received: exp.received,
			Expected: exp.expected,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Node != out[j].Node {
			return out[i].Node < out[j].Node
		}
		return out[i].SeqID < out[j].SeqID
	})
	return out
}

func (s *groupScheduler) unacked() []types.NodeID {
	var out []types.NodeID
	for _, n := range s.nodes {
		if !s.acked[n] {
			out = append(out, n)
		}
	}
	return out
}
