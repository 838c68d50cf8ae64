package pipeline

import (
	"errors"

	"github.com/23skdu/longbow-bodkin/internal/format"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// The hardware's multi-cycle staging collapses to an explicit step
// function here: one state transition per Step call, same observable
// states and flags.

type State int

const (
	StateIdle State = iota
	StateComputing
	StateNormalizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComputing:
		return "computing"
	case StateNormalizing:
		return "normalizing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// ErrBusy is returned by Run when the machine is not idle.
var ErrBusy = errors.New("pipeline: unit busy")

// Stage is the work a unit contributes to the two active states.
// Compute unpacks operands and performs the raw arithmetic;
// Normalize renormalizes, re-quantizes and packs results. Flags from
// both stages OR into the operation's flag word.
type Stage interface {
	Compute() format.Flags
	Normalize() format.Flags
}

// Machine drives a Stage through Idle -> Computing -> Normalizing ->
// Done. Flags clear on Start and stay readable until Ack.
type Machine struct {
	name  string
	state State
	flags format.Flags
	stage Stage
}

// New returns an idle machine driving stage. The name labels metrics.
func New(name string, stage Stage) Machine {
	return Machine{name: name, stage: stage}
}

// Start arms an idle machine and clears its flags. A start while busy
// is ignored and reported false; callers must not re-start a unit
// before Ack.
func (m *Machine) Start() bool {
	if m.state != StateIdle {
		metrics.RecordBusyReject(m.name)
		return false
	}
	m.flags = format.Flags{}
	m.state = StateComputing
	return true
}

// Step advances exactly one state, running the entered state's work.
// Stepping an idle or done machine is a no-op.
func (m *Machine) Step() State {
	switch m.state {
	case StateComputing:
		m.flags.Or(m.stage.Compute())
		m.state = StateNormalizing
	case StateNormalizing:
		m.flags.Or(m.stage.Normalize())
		m.state = StateDone
	}
	return m.state
}

// Ack returns a done machine to idle, clearing flags. Result registers
// keep their values until the next operation overwrites them.
func (m *Machine) Ack() bool {
	if m.state != StateDone {
		return false
	}
	m.state = StateIdle
	m.flags = format.Flags{}
	return true
}

// Run is the single-call form: Start, Step to Done, Ack. It returns
// the operation's flags.
func (m *Machine) Run() (format.Flags, error) {
	if !m.Start() {
		return format.Flags{}, ErrBusy
	}
	for m.state != StateDone {
		m.Step()
	}
	fl := m.flags
	if fl.Any() {
		metrics.RecordUnitFlags(m.name, fl.Overflow, fl.Underflow, fl.Saturated)
	}
	m.Ack()
	return fl, nil
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Busy reports whether an operation is in flight.
func (m *Machine) Busy() bool {
	return m.state != StateIdle
}

// Done reports whether results and flags are ready to read.
func (m *Machine) Done() bool {
	return m.state == StateDone
}

// Flags returns the latched flag word.
func (m *Machine) Flags() format.Flags {
	return m.flags
}

// Name returns the unit label.
func (m *Machine) Name() string {
	return m.name
}
