package claim

import (
	"time"
)

// Lock is a window during which rewards cannot be claimed
type Lock struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Countdown is the time left until a lock ends, derived from the clock on every tick
type Countdown struct {
	Remaining time.Duration `json:"remaining"`
	// Progress is the elapsed fraction of the window in [0, 1]
	Progress float64 `json:"progress"`
}

// State is the evaluated claim gate for a position
type State struct {
	CanClaim  bool       `json:"can_claim"`
	Lock      *Lock      `json:"lock,omitempty"`
	Countdown *Countdown `json:"countdown,omitempty"`
}

// CanClaim reports whether a claim is permitted at now. Without a lock claims
// are always permitted; with one they open strictly after the window ends.
func CanClaim(now time.Time, lock *Lock) bool {
	if lock == nil {
		return true
	}
	return now.After(lock.To)
}

// Locked reports whether now falls inside the window, bounds inclusive
func (l Lock) Locked(now time.Time) bool {
	return !now.Before(l.From) && !now.After(l.To)
}

// CountdownAt computes the countdown for the window at now
func CountdownAt(now, from, to time.Time) Countdown {
	remaining := to.Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	total := to.Sub(from)
	progress := 1.0
	if total > 0 {
		progress = float64(now.Sub(from)) / float64(total)
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	return Countdown{Remaining: remaining, Progress: progress}
}

// Gate evaluates the claim gate at now
func Gate(now time.Time, lock *Lock) State {
	if CanClaim(now, lock) {
		return State{CanClaim: true}
	}
	cd := CountdownAt(now, lock.From, lock.To)
	l := *lock
	return State{CanClaim: false, Lock: &l, Countdown: &cd}
}
