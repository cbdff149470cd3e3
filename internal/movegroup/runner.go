package movegroup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Opentrons/opentrons-sub010/internal/canbus"
	"github.com/Opentrons/opentrons-sub010/internal/motion"
	"github.com/Opentrons/opentrons-sub010/internal/streaming"
	"github.com/Opentrons/opentrons-sub010/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultAckTimeout        = time.Second
	DefaultGroupTimeoutSlack = 2 * time.Second

	// MaxGroupSteps is the most seq ids one group can address.
	MaxGroupSteps = 256
)

// Transport is the part of canbus.Messenger the runner needs.
type Transport interface {
	Send(ctx context.Context, node types.NodeID, msg canbus.Message) error
	EnsureSend(ctx context.Context, node types.NodeID, msg canbus.Message, expected []types.NodeID, timeout time.Duration) error
	AddListener(fn canbus.Listener, filter canbus.Filter) func()
}

// Options tune a Runner. Zero values select the defaults.
type Options struct {
	// StartAt is the group id used for the first group.
	StartAt      uint8
	IgnoreStalls bool
	Rates        Rates
	AckTimeout   time.Duration
	// GroupTimeout, when set, replaces the duration-derived timeout.
	GroupTimeout      time.Duration
	GroupTimeoutSlack time.Duration
}

// Runner uploads a sequence of move groups to the nodes and executes
// them one at a time. A Runner is not safe for concurrent Prep/Run calls.
type Runner struct {
	groups   motion.MoveGroups
	opts     Options
	streamer *streaming.EventStreamer
	logger   *zap.Logger

	mu    sync.Mutex
	state RunnerState
	nodes []types.NodeID
}

func NewRunner(groups motion.MoveGroups, opts Options, streamer *streaming.EventStreamer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Rates = opts.Rates.withDefaults()
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.GroupTimeoutSlack <= 0 {
		opts.GroupTimeoutSlack = DefaultGroupTimeoutSlack
	}
	return &Runner{
		groups:   groups,
		opts:     opts,
		streamer: streamer,
		logger:   logger,
		state:    StateNotPrepared,
	}
}

// AllNodes returns every node referenced by any step, sorted. The set is
// computed once.
func (r *Runner) AllNodes() []types.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nodes == nil {
		r.nodes = r.groups.Nodes()
	}
	out := make([]types.NodeID, len(r.nodes))
	copy(out, r.nodes)
	return out
}

func (r *Runner) State() RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) transition(to RunnerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := validateTransition(r.state, to); err != nil {
		return err
	}
	r.logger.Debug("Runner state changed",
		zap.Stringer("from", r.state),
		zap.Stringer("to", to))
	r.state = to
	return nil
}

func (r *Runner) groupID(index int) uint8 {
	return r.opts.StartAt + uint8(index)
}

// Prep clears all move groups on the involved nodes and uploads every
// step. It fails with ErrAlreadyPrepared if the moves are already loaded.
func (r *Runner) Prep(ctx context.Context, t Transport) error {
	switch r.State() {
	case StatePrepared:
		return ErrAlreadyPrepared
	case StateExecuting:
		return ErrRunnerBusy
	}

	if err := r.upload(ctx, t); err != nil {
		return err
	}
	return r.transition(StatePrepared)
}

func (r *Runner) upload(ctx context.Context, t Transport) error {
	nodes := r.AllNodes()
	if len(nodes) == 0 {
		r.logger.Debug("No moves to prepare")
		return nil
	}
	if err := r.checkLimits(); err != nil {
		return err
	}

	r.logger.Info("Clearing move groups", zap.Stringers("nodes", nodes))
	if err := t.EnsureSend(ctx, types.NodeBroadcast, &canbus.ClearAllMoveGroupsRequest{}, nodes, r.opts.AckTimeout); err != nil {
		return fmt.Errorf("failed to clear move groups: %w", err)
	}

	for gi, group := range r.groups {
		groupID := r.groupID(gi)
		for seq, step := range group {
			for _, node := range types.SortNodes(stepNodes(step)) {
				msg, err := encodeStep(step[node], groupID, uint8(seq), r.opts.Rates, r.opts.IgnoreStalls)
				if err != nil {
					return fmt.Errorf("group %d seq %d for %s: %w", groupID, seq, node, err)
				}
				if err := t.EnsureSend(ctx, node, msg, []types.NodeID{node}, r.opts.AckTimeout); err != nil {
					return fmt.Errorf("failed to upload group %d seq %d to %s: %w", groupID, seq, node, err)
				}
			}
		}
		r.logger.Debug("Uploaded move group",
			zap.Uint8("group_id", groupID),
			zap.Int("steps", len(group)))
	}
	return nil
}

// checkLimits rejects plans the firmware cannot address before anything
// is sent, so a failed upload never leaves a partial plan behind.
func (r *Runner) checkLimits() error {
	if int(r.opts.StartAt)+len(r.groups)-1 > 255 {
		return fmt.Errorf("%w: start %d with %d groups", ErrGroupIDOverflow, r.opts.StartAt, len(r.groups))
	}
	for gi, group := range r.groups {
		if len(group) > MaxGroupSteps {
			return fmt.Errorf("%w: group %d has %d steps", ErrGroupTooLarge, r.groupID(gi), len(group))
		}
	}
	return nil
}

func stepNodes(step motion.Step) []types.NodeID {
	nodes := make([]types.NodeID, 0, len(step))
	for n := range step {
		nodes = append(nodes, n)
	}
	return nodes
}

// Run executes every group in order and returns the final position of
// each moved node. It prepares first unless Prep already ran.
func (r *Runner) Run(ctx context.Context, t Transport) (NodeMap, error) {
	if r.groups.Empty() {
		r.logger.Debug("No moves to run")
		return NodeMap{}, nil
	}

	switch r.State() {
	case StateExecuting:
		return nil, ErrRunnerBusy
	case StateNotPrepared, StateDone:
		if err := r.Prep(ctx, t); err != nil {
			return nil, err
		}
	}

	if err := r.transition(StateExecuting); err != nil {
		return nil, err
	}
	defer func() {
		if err := r.transition(StateDone); err != nil {
			r.logger.Error("Failed to finish run", zap.Error(err))
		}
	}()

	runID := uuid.New()
	start := time.Now()
	logger := r.logger.With(zap.String("run_id", runID.String()))
	logger.Info("Running move groups",
		zap.Int("groups", len(r.groups)),
		zap.Uint8("start_at", r.opts.StartAt))
	r.publish(runID, streaming.EventRunStarted, -1, map[string]any{
		"groups": len(r.groups),
		"nodes":  nodeNames(r.AllNodes()),
	})

	var packets []CompletionPacket
	for gi, group := range r.groups {
		if group.Empty() {
			continue
		}
		got, err := r.move(ctx, t, runID, gi, logger)
		if err != nil {
			logger.Error("Move groups failed", zap.Error(err))
			r.publish(runID, streaming.EventRunFailed, int(r.groupID(gi)), map[string]any{
				"error": err.Error(),
			})
			return nil, err
		}
		packets = append(packets, got...)
	}

	positions := Accumulate(packets)
	logger.Info("Move groups completed", zap.Duration("duration", time.Since(start)))
	r.publish(runID, streaming.EventRunCompleted, -1, map[string]any{
		"positions": positionPayload(positions),
	})
	return positions, nil
}

func (r *Runner) move(ctx context.Context, t Transport, runID uuid.UUID, index int, logger *zap.Logger) ([]CompletionPacket, error) {
	group := r.groups[index]
	groupID := r.groupID(index)
	timeout := r.groupTimeout(group)

	sched := newGroupScheduler(groupID, group, timeout, logger)
	remove := t.AddListener(sched.handle, canbus.FromNodes(sched.nodes...))
	defer remove()

	r.publish(runID, streaming.EventGroupStarted, int(groupID), map[string]any{
		"nodes":   nodeNames(sched.nodes),
		"timeout": timeout.String(),
	})

	req := &canbus.ExecuteMoveGroupRequest{GroupID: groupID}
	if err := t.Send(ctx, types.NodeBroadcast, req); err != nil {
		err = fmt.Errorf("failed to execute group %d: %w", groupID, err)
		r.publish(runID, streaming.EventGroupFailed, int(groupID), map[string]any{"error": err.Error()})
		return nil, err
	}
	sched.executeIndex = req.Index()

	packets, err := sched.wait(ctx)
	if err != nil {
		r.publish(runID, streaming.EventGroupFailed, int(groupID), map[string]any{"error": err.Error()})
		return nil, err
	}

	r.publish(runID, streaming.EventGroupCompleted, int(groupID), map[string]any{
		"completions": len(packets),
	})
	return packets, nil
}

// groupTimeout is the configured timeout, or the longest per-node move
// time in the group plus slack.
func (r *Runner) groupTimeout(group motion.MoveGroup) time.Duration {
	if r.opts.GroupTimeout > 0 {
		return r.opts.GroupTimeout
	}
	var longest float64
	for _, d := range group.NodeDurations() {
		if d > longest {
			longest = d
		}
	}
	return time.Duration(longest*float64(time.Second)) + r.opts.GroupTimeoutSlack
}

func (r *Runner) publish(runID uuid.UUID, eventType streaming.EventType, groupID int, payload map[string]any) {
	if r.streamer == nil {
		return
	}
	r.streamer.Broadcast(streaming.NewEvent(runID, eventType, groupID, payload))
}

func nodeNames(nodes []types.NodeID) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.String()
	}
	return names
}

func positionPayload(positions NodeMap) map[string]any {
	out := make(map[string]any, len(positions))
	for node, pos := range positions {
		out[node.String()] = pos
	}
	return out
}
