package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Opentrons/opentrons-sub010/internal/types"
)

type Severity string

const (
	SevError   Severity = "error"
	SevWarning Severity = "warning"
)

type Issue struct {
	Code     string         `json:"code"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Node     string         `json:"node,omitempty"`
	Path     string         `json:"path,omitempty"` // JSON Pointer-ish ("/groups/0/1/gantry_x")
	Hint     string         `json:"hint,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

type Report struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

var (
	pipetteNodes = map[types.NodeID]bool{types.NodePipetteLeft: true, types.NodePipetteRight: true}
	gripperNodes = map[types.NodeID]bool{types.NodeGripper: true, types.NodeGripperG: true}
)

// Validate runs the semantic checks the schema cannot express. Problems
// are returned in the Report; it never fails outright.
func Validate(p *Plan) Report {
	rep := Report{}

	if strings.TrimSpace(p.Name) == "" {
		rep.addWarning(Issue{
			Code:    "PLAN_001",
			Message: "Plan name is empty",
			Path:    "/name",
		})
	}

	if n := len(p.Groups); n > 0 && int(p.StartGroup)+n-1 > 255 {
		rep.addError(Issue{
			Code:    "PLAN_002",
			Message: fmt.Sprintf("Group ids overflow: start_group %d with %d groups", p.StartGroup, n),
			Path:    "/start_group",
			Hint:    "Group ids are 8 bits; split the plan or lower start_group",
		})
	}

	moving := 0
	for gi, group := range p.Groups {
		base := fmt.Sprintf("/groups/%d", gi)
		if len(group) > 256 {
			rep.addError(Issue{
				Code:    "GROUP_001",
				Message: fmt.Sprintf("Group has %d steps, at most 256 allowed", len(group)),
				Path:    base,
			})
		}

		empty := true
		for si, step := range group {
			for name, move := range step {
				empty = false
				validateMove(&rep, fmt.Sprintf("%s/%d/%s", base, si, name), name, move)
			}
		}
		if empty {
			rep.addWarning(Issue{
				Code:    "GROUP_002",
				Message: "Group moves no node and will be skipped",
				Path:    base,
				Meta:    map[string]any{"group_index": gi},
			})
			continue
		}
		moving++
	}

	if moving == 0 {
		rep.addWarning(Issue{
			Code:    "PLAN_003",
			Message: "Plan moves nothing",
			Path:    "/groups",
		})
	}

	rep.finalize()
	return rep
}

func validateMove(rep *Report, path, name string, move MoveSpec) {
	node, err := types.ParseNodeID(name)
	if err != nil {
		rep.addError(Issue{
			Code:    "NODE_001",
			Message: fmt.Sprintf("Unknown node: %s", name),
			Node:    name,
			Path:    path,
		})
		return
	}
	if node == types.NodeBroadcast || node == types.NodeHost {
		rep.addError(Issue{
			Code:    "NODE_002",
			Message: fmt.Sprintf("Node %s cannot be moved", name),
			Node:    name,
			Path:    path,
		})
		return
	}

	_, err = move.toMoveStep()
	if err != nil {
		rep.addError(Issue{
			Code:    "MOVE_001",
			Message: fmt.Sprintf("Invalid move: %v", err),
			Node:    name,
			Path:    path,
		})
		return
	}

	switch {
	case move.TipAction != nil:
		if !pipetteNodes[node] {
			rep.addWarning(Issue{
				Code:    "MOVE_010",
				Message: fmt.Sprintf("Tip action on non-pipette node %s", name),
				Node:    name,
				Path:    path + "/tip_action",
			})
		}
		if move.TipAction.Duration == 0 {
			rep.addWarning(zeroDuration(name, path+"/tip_action/duration"))
		}
	case move.Gripper != nil:
		if !gripperNodes[node] {
			rep.addWarning(Issue{
				Code:    "MOVE_011",
				Message: fmt.Sprintf("Gripper move on non-gripper node %s", name),
				Node:    name,
				Path:    path + "/gripper",
			})
		}
		if move.Gripper.Duration == 0 {
			rep.addWarning(zeroDuration(name, path+"/gripper/duration"))
		}
	case move.Linear != nil:
		if move.Linear.Duration == 0 {
			rep.addWarning(zeroDuration(name, path+"/linear/duration"))
		}
	}
}

func zeroDuration(name, path string) Issue {
	return Issue{
		Code:    "MOVE_020",
		Message: "Move has zero duration",
		Node:    name,
		Path:    path,
		Hint:    "The node completes it immediately",
	}
}

func (r *Report) addError(i Issue) {
	if i.Severity == "" {
		i.Severity = SevError
	}
	r.Errors = append(r.Errors, i)
}

func (r *Report) addWarning(i Issue) {
	if i.Severity == "" {
		i.Severity = SevWarning
	}
	r.Warnings = append(r.Warnings, i)
}

func (r *Report) finalize() {
	sortIssues(r.Errors)
	sortIssues(r.Warnings)
	r.Valid = len(r.Errors) == 0
}

func sortIssues(list []Issue) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Message < b.Message
	})
}
