package pipeline

import (
	"errors"
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/format"
)

// fakeStage records stage calls and returns canned flags.
type fakeStage struct {
	computeFlags   format.Flags
	normalizeFlags format.Flags
	computeCalls   int
	normalizeCalls int
}

func (s *fakeStage) Compute() format.Flags {
	s.computeCalls++
	return s.computeFlags
}

func (s *fakeStage) Normalize() format.Flags {
	s.normalizeCalls++
	return s.normalizeFlags
}

func TestStateWalk(t *testing.T) {
	st := &fakeStage{}
	m := New("test", st)

	if m.State() != StateIdle || m.Busy() || m.Done() {
		t.Fatalf("fresh machine: state %v busy %v done %v", m.State(), m.Busy(), m.Done())
	}
	if got := m.Step(); got != StateIdle {
		t.Fatalf("step while idle moved to %v", got)
	}

	if !m.Start() {
		t.Fatal("start on idle machine refused")
	}
	if m.State() != StateComputing || !m.Busy() {
		t.Fatalf("after start: %v", m.State())
	}
	if st.computeCalls != 0 {
		t.Fatal("start ran the compute stage")
	}

	if got := m.Step(); got != StateNormalizing {
		t.Fatalf("first step: %v", got)
	}
	if st.computeCalls != 1 || st.normalizeCalls != 0 {
		t.Fatalf("stage calls after first step: %d/%d", st.computeCalls, st.normalizeCalls)
	}

	if got := m.Step(); got != StateDone {
		t.Fatalf("second step: %v", got)
	}
	if st.normalizeCalls != 1 {
		t.Fatalf("normalize calls: %d", st.normalizeCalls)
	}
	if !m.Done() || !m.Busy() {
		t.Fatalf("done state: done %v busy %v", m.Done(), m.Busy())
	}

	// Done holds until acknowledged.
	if got := m.Step(); got != StateDone {
		t.Fatalf("step while done moved to %v", got)
	}
	if st.computeCalls != 1 || st.normalizeCalls != 1 {
		t.Fatal("extra stage calls while done")
	}

	if !m.Ack() {
		t.Fatal("ack on done machine refused")
	}
	if m.State() != StateIdle {
		t.Fatalf("after ack: %v", m.State())
	}
}

func TestStartWhileBusy(t *testing.T) {
	m := New("test", &fakeStage{})
	if !m.Start() {
		t.Fatal("first start refused")
	}
	if m.Start() {
		t.Fatal("second start accepted while computing")
	}
	m.Step()
	if m.Start() {
		t.Fatal("start accepted while normalizing")
	}
	m.Step()
	if m.Start() {
		t.Fatal("start accepted while done")
	}
	if _, err := m.Run(); !errors.Is(err, ErrBusy) {
		t.Fatalf("run while busy: %v", err)
	}
	m.Ack()
	if !m.Start() {
		t.Fatal("start after ack refused")
	}
}

func TestFlagsLatchAndClear(t *testing.T) {
	st := &fakeStage{
		computeFlags:   format.Flags{Overflow: true},
		normalizeFlags: format.Flags{Saturated: true},
	}
	m := New("test", st)

	m.Start()
	m.Step()
	m.Step()
	fl := m.Flags()
	if !fl.Overflow || !fl.Saturated || fl.Underflow {
		t.Fatalf("flags did not accumulate across stages: %+v", fl)
	}

	// Flags stay readable until Ack, then clear.
	if !m.Ack() {
		t.Fatal("ack refused")
	}
	if m.Flags().Any() {
		t.Fatalf("flags survived ack: %+v", m.Flags())
	}

	// A clean second run must not inherit anything.
	st.computeFlags = format.Flags{}
	st.normalizeFlags = format.Flags{}
	fl, err := m.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if fl.Any() {
		t.Fatalf("second run flags: %+v", fl)
	}
}

func TestAckOnlyWhenDone(t *testing.T) {
	m := New("test", &fakeStage{})
	if m.Ack() {
		t.Fatal("ack on idle machine accepted")
	}
	m.Start()
	if m.Ack() {
		t.Fatal("ack while computing accepted")
	}
	m.Step()
	if m.Ack() {
		t.Fatal("ack while normalizing accepted")
	}
}

func TestRunReturnsFlags(t *testing.T) {
	st := &fakeStage{normalizeFlags: format.Flags{Underflow: true}}
	m := New("test", st)
	fl, err := m.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !fl.Underflow || fl.Overflow || fl.Saturated {
		t.Fatalf("flags: %+v", fl)
	}
	if m.State() != StateIdle {
		t.Fatalf("run left machine in %v", m.State())
	}
	if st.computeCalls != 1 || st.normalizeCalls != 1 {
		t.Fatalf("stage calls: %d/%d", st.computeCalls, st.normalizeCalls)
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		StateIdle:        "idle",
		StateComputing:   "computing",
		StateNormalizing: "normalizing",
		StateDone:        "done",
		State(99):        "unknown",
	}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("State(%d) = %q, want %q", int(s), s.String(), w)
		}
	}
}
