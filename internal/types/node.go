package types

import (
	"fmt"
	"sort"
	"strings"
)

// NodeID identifies a controller on the bus. Values are the 7-bit node
// addresses the firmware answers to.
type NodeID uint8

const (
	NodeBroadcast    NodeID = 0x00
	NodeHost         NodeID = 0x10
	NodeGripper      NodeID = 0x20
	NodeGripperZ     NodeID = 0x21
	NodeGripperG     NodeID = 0x22
	NodeGantryX      NodeID = 0x30
	NodeGantryY      NodeID = 0x40
	NodeHead         NodeID = 0x50
	NodeHeadL        NodeID = 0x51
	NodeHeadR        NodeID = 0x52
	NodePipetteLeft  NodeID = 0x60
	NodePipetteRight NodeID = 0x70
)

var nodeNames = map[NodeID]string{
	NodeBroadcast:    "broadcast",
	NodeHost:         "host",
	NodeGripper:      "gripper",
	NodeGripperZ:     "gripper_z",
	NodeGripperG:     "gripper_g",
	NodeGantryX:      "gantry_x",
	NodeGantryY:      "gantry_y",
	NodeHead:         "head",
	NodeHeadL:        "head_l",
	NodeHeadR:        "head_r",
	NodePipetteLeft:  "pipette_left",
	NodePipetteRight: "pipette_right",
}

func (n NodeID) String() string {
	if name, ok := nodeNames[n]; ok {
		return name
	}
	return fmt.Sprintf("node(0x%02X)", uint8(n))
}

// Valid reports whether n is one of the known bus addresses.
func (n NodeID) Valid() bool {
	_, ok := nodeNames[n]
	return ok
}

// ParseNodeID resolves a node name such as "gantry_x".
func ParseNodeID(name string) (NodeID, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for id, n := range nodeNames {
		if n == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown node: %q", name)
}

// SortNodes orders node ids by address so iteration over node sets is
// deterministic.
func SortNodes(nodes []NodeID) []NodeID {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}
