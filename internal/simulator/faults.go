package simulator

import "github.com/Opentrons/opentrons-sub010/internal/canbus"

// FirmwareError is an ErrorMessage a node reports when it starts a group.
type FirmwareError struct {
	Severity canbus.ErrorSeverity
	Code     canbus.ErrorCode
}

// Fault alters how a node answers the next execute request. Persistent
// faults apply to every later group too.
type Fault struct {
	DropCompletions bool
	DropSecondGear  bool
	FailHome        bool
	Error           *FirmwareError
	Persistent      bool
}

func hasFault(faults []Fault, pred func(Fault) bool) bool {
	for _, f := range faults {
		if pred(f) {
			return true
		}
	}
	return false
}
