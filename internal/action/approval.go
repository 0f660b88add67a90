package action

import (
	"fmt"

	"github.com/wnt/farmdash/internal/position"
)

// ApprovalState is the lifecycle of the deposit token allowance
type ApprovalState int

const (
	NotApproved ApprovalState = iota
	Approving
	Approved
)

func (s ApprovalState) String() string {
	switch s {
	case Approving:
		return "approving"
	case Approved:
		return "approved"
	default:
		return "not_approved"
	}
}

// MarshalText encodes the state by name
func (s ApprovalState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition is one recorded approval state change
type Transition struct {
	From ApprovalState `json:"from"`
	To   ApprovalState `json:"to"`
}

// allowed edges. Approved falls back to NotApproved only when the chain
// reports the allowance gone.
var approvalEdges = map[Transition]bool{
	{NotApproved, Approving}: true,
	{Approving, Approved}:    true,
	{Approving, NotApproved}: true,
	{Approved, NotApproved}:  true,
}

// Approval tracks the allowance lifecycle. Approved is only reached from
// Approving, on an allowance read that confirms it.
type Approval struct {
	state       ApprovalState
	initialized bool
	history     []Transition
}

// State returns the current approval state
func (a *Approval) State() ApprovalState {
	return a.state
}

// History returns the transitions taken so far
func (a *Approval) History() []Transition {
	out := make([]Transition, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Approval) move(to ApprovalState) error {
	edge := Transition{From: a.state, To: to}
	if !approvalEdges[edge] {
		return fmt.Errorf("%w: approval cannot move from %s to %s", ErrActionDisabled, a.state, to)
	}
	a.state = to
	a.history = append(a.history, edge)
	return nil
}

// Begin marks an approval request as dispatched
func (a *Approval) Begin() error {
	a.initialized = true
	return a.move(Approving)
}

// Fail reverts a dispatched approval that the ledger rejected
func (a *Approval) Fail() {
	if a.state == Approving {
		_ = a.move(NotApproved)
	}
}

// Observe reconciles the state with an allowance read from the chain.
//
// The first read initialises the machine. After that an Approved read
// confirms an in-flight approval; a NotApproved read never cancels one,
// since it may predate the transaction. An allowance granted outside this
// machine is taken through Approving so Approved is always confirmed.
func (a *Approval) Observe(allowance position.Allowance) {
	if !a.initialized {
		a.initialized = true
		if allowance == position.Approved {
			a.state = Approved
		}
		return
	}

	switch {
	case allowance == position.Approved && a.state == Approving:
		_ = a.move(Approved)
	case allowance == position.Approved && a.state == NotApproved:
		_ = a.move(Approving)
		_ = a.move(Approved)
	case allowance == position.NotApproved && a.state == Approved:
		_ = a.move(NotApproved)
	}
}
