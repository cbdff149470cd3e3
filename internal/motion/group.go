package motion

import (
	"github.com/Opentrons/opentrons-sub010/internal/types"
)

// Step maps each participating node to its move. All entries of a Step
// run concurrently.
type Step map[types.NodeID]MoveStep

// MoveGroup is an ordered list of steps; a step's index is its seq_id.
type MoveGroup []Step

// MoveGroups run strictly one after another.
type MoveGroups []MoveGroup

// Nodes returns the nodes with at least one move in the group, in
// address order.
func (g MoveGroup) Nodes() []types.NodeID {
	seen := make(map[types.NodeID]struct{})
	for _, step := range g {
		for node := range step {
			seen[node] = struct{}{}
		}
	}
	nodes := make([]types.NodeID, 0, len(seen))
	for node := range seen {
		nodes = append(nodes, node)
	}
	return types.SortNodes(nodes)
}

// Empty reports whether no step of the group moves any node.
func (g MoveGroup) Empty() bool {
	for _, step := range g {
		if len(step) > 0 {
			return false
		}
	}
	return true
}

// NodeDurations sums the step durations per node.
func (g MoveGroup) NodeDurations() map[types.NodeID]float64 {
	durations := make(map[types.NodeID]float64)
	for _, step := range g {
		for node, move := range step {
			durations[node] += move.Duration()
		}
	}
	return durations
}

// Nodes is the union of every node in every group, in address order.
func (gs MoveGroups) Nodes() []types.NodeID {
	seen := make(map[types.NodeID]struct{})
	for _, group := range gs {
		for _, node := range group.Nodes() {
			seen[node] = struct{}{}
		}
	}
	nodes := make([]types.NodeID, 0, len(seen))
	for node := range seen {
		nodes = append(nodes, node)
	}
	return types.SortNodes(nodes)
}

// Empty reports whether no group moves anything.
func (gs MoveGroups) Empty() bool {
	for _, group := range gs {
		if !group.Empty() {
			return false
		}
	}
	return true
}
