package proctor

import "fmt"

// State is the escalation state of one attempt.
type State string

const (
	StateArmed      State = "armed"
	StateWarned     State = "warned"
	StateTerminated State = "terminated"
)

// EscalationMode selects how warnings in different categories combine.
type EscalationMode string

const (
	// ModeGlobal gives one free warning per attempt: the next escalating
	// signal of any category terminates.
	ModeGlobal EscalationMode = "global"
	// ModePerCategory terminates only on a second signal of an already
	// warned category.
	ModePerCategory EscalationMode = "per_category"
)

// ParseEscalationMode validates a mode string.
func ParseEscalationMode(s string) (EscalationMode, error) {
	switch EscalationMode(s) {
	case ModeGlobal, ModePerCategory:
		return EscalationMode(s), nil
	case "":
		return ModeGlobal, nil
	}
	return "", fmt.Errorf("unknown escalation mode %q", s)
}

// Transition describes one state change of the policy.
type Transition struct {
	From     State
	To       State
	Category Category
	// Warnings is the category's warning count after the transition.
	Warnings int
}

// Policy is the Armed → Warned → Terminated state machine.
// It is not safe for concurrent use; the Proctor serializes access.
type Policy struct {
	mode     EscalationMode
	state    State
	warnings map[Category]int
}

// NewPolicy creates an armed policy.
func NewPolicy(mode EscalationMode) *Policy {
	if mode == "" {
		mode = ModeGlobal
	}
	return &Policy{
		mode:     mode,
		state:    StateArmed,
		warnings: make(map[Category]int, len(EscalatingCategories)),
	}
}

// State returns the current state.
func (p *Policy) State() State {
	return p.state
}

// Mode returns the escalation mode.
func (p *Policy) Mode() EscalationMode {
	return p.mode
}

// Warnings returns the warning count of one category.
func (p *Policy) Warnings(c Category) int {
	return p.warnings[c]
}

// WarningCounts returns a copy of every non-zero per-category counter.
func (p *Policy) WarningCounts() map[Category]int {
	out := make(map[Category]int, len(p.warnings))
	for c, n := range p.warnings {
		out[c] = n
	}
	return out
}

// Escalate applies one escalating signal. It returns false when the signal
// changes nothing: the category does not escalate or the policy already
// terminated.
func (p *Policy) Escalate(c Category) (Transition, bool) {
	if p.state == StateTerminated || !c.Escalating() {
		return Transition{}, false
	}

	from := p.state
	terminate := false
	switch p.mode {
	case ModePerCategory:
		terminate = p.warnings[c] > 0
	default:
		terminate = p.state == StateWarned
	}

	if terminate {
		p.state = StateTerminated
		return Transition{From: from, To: StateTerminated, Category: c, Warnings: p.warnings[c]}, true
	}

	p.warnings[c]++
	p.state = StateWarned
	return Transition{From: from, To: StateWarned, Category: c, Warnings: p.warnings[c]}, true
}

// Reset returns the policy to Armed with zeroed counters.
func (p *Policy) Reset() {
	p.state = StateArmed
	for c := range p.warnings {
		delete(p.warnings, c)
	}
}
