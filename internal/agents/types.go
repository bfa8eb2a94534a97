// Package agents provides the robot controller: the CPFA foraging state
// machine, the pheromone and site-fidelity policy, and the per-robot fault
// detection driver.
package agents

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFaultCode is returned for fault codes outside 0..5.
	ErrInvalidFaultCode = errors.New("invalid fault code")
	// ErrUnsupportedFault is returned for recognised faults the body
	// cannot emulate.
	ErrUnsupportedFault = errors.New("unsupported fault type")
	// ErrUnknownMode is returned when the dispatcher is given a mode it
	// does not know.
	ErrUnknownMode = errors.New("unknown processing mode")
	// ErrFaultDetected is returned by Step when the swarm flags this robot
	// and the run is configured to halt on detection.
	ErrFaultDetected = errors.New("fault detected")
)

// State is the foraging state.
type State uint8

const (
	StateDeparting State = iota
	StateSearching
	StateReturning
	StateSurveying
)

// NumStates is the number of foraging states.
const NumStates = 4

func (s State) String() string {
	switch s {
	case StateDeparting:
		return "DEPARTING"
	case StateSearching:
		return "SEARCHING"
	case StateReturning:
		return "RETURNING"
	case StateSurveying:
		return "SURVEYING"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// allowedTransitions lists every legal state change.
var allowedTransitions = [NumStates][NumStates]bool{
	StateDeparting: {StateSearching: true},
	StateSearching: {StateReturning: true, StateSurveying: true},
	StateSurveying: {StateReturning: true},
	StateReturning: {StateDeparting: true},
}

// CanTransition reports whether from → to is a legal state change.
func CanTransition(from, to State) bool {
	return allowedTransitions[from][to]
}

// FaultType enumerates the injectable sensor faults.
type FaultType uint8

const (
	FaultNone   FaultType = 0 // no fault
	FaultCBias  FaultType = 1 // consistent position offset
	FaultPBias  FaultType = 2 // proportional bias
	FaultFreeze FaultType = 3
	FaultTLoss  FaultType = 4 // tracking loss
	FaultDrift  FaultType = 5
)

var faultNames = [...]string{"NONE", "C_BIAS", "P_BIAS", "FREEZE", "T_LOSS", "DRIFT"}

func (f FaultType) String() string {
	if int(f) < len(faultNames) {
		return faultNames[f]
	}
	return fmt.Sprintf("FaultType(%d)", uint8(f))
}

// ParseFaultCode maps a numeric fault code to its type.
func ParseFaultCode(code int) (FaultType, error) {
	if code < 0 || code >= len(faultNames) {
		return FaultNone, fmt.Errorf("fault code %d: %w", code, ErrInvalidFaultCode)
	}
	return FaultType(code), nil
}

// Stats are a robot's cumulative foraging counters.
type Stats struct {
	RealCollected   int    `json:"real_collected"`
	FakeCollected   int    `json:"fake_collected"`
	FalsePositives  int    `json:"false_positives"`
	RealTrails      int    `json:"real_trails"`
	FakeTrails      int    `json:"fake_trails"`
	ZonesCreated    int    `json:"zones_created"`
	SearchingTicks  uint64 `json:"searching_ticks"`
	TravellingTicks uint64 `json:"travelling_ticks"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.RealCollected += o.RealCollected
	s.FakeCollected += o.FakeCollected
	s.FalsePositives += o.FalsePositives
	s.RealTrails += o.RealTrails
	s.FakeTrails += o.FakeTrails
	s.ZonesCreated += o.ZonesCreated
	s.SearchingTicks += o.SearchingTicks
	s.TravellingTicks += o.TravellingTicks
}
