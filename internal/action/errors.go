package action

import (
	"errors"
	"fmt"

	"github.com/wnt/farmdash/internal/quantity"
)

var (
	// ErrActionFailed is wrapped by every ledger-side failure
	ErrActionFailed = errors.New("action failed")
	// ErrActionInFlight is returned while another mutating action is pending for the position
	ErrActionInFlight = errors.New("another action is in flight for this position")
	// ErrActionDisabled is returned for an action the current state does not enable
	ErrActionDisabled = errors.New("action not enabled")

	ErrInsufficientBalance = fmt.Errorf("%w: exceeds available balance", quantity.ErrInvalidAmount)
	ErrBalanceUnknown      = fmt.Errorf("%w: balance not loaded", quantity.ErrInvalidAmount)
	ErrNonPositive         = fmt.Errorf("%w: must be greater than zero", quantity.ErrInvalidAmount)

	ErrClaimLocked    = fmt.Errorf("%w: rewards are locked", ErrActionDisabled)
	ErrNothingToClaim = fmt.Errorf("%w: no pending reward", ErrActionDisabled)
	ErrNotApproved    = fmt.Errorf("%w: deposit token not approved", ErrActionDisabled)
	ErrNotZappable    = fmt.Errorf("%w: deposit token is not a liquidity pair", ErrActionDisabled)
	ErrUnknownSource  = fmt.Errorf("%w: unknown zap source", ErrActionDisabled)
	ErrUnknownKind    = fmt.Errorf("%w: action kind is required", ErrActionDisabled)
)

// FailedError is an action the ledger rejected or reverted
type FailedError struct {
	Kind   Kind
	Reason string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Kind, e.Reason)
}

func (e *FailedError) Unwrap() error {
	return ErrActionFailed
}

// rejectionReason maps a local validation error to a metrics label
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrActionInFlight):
		return "in_flight"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrBalanceUnknown):
		return "balance_unknown"
	case errors.Is(err, quantity.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrClaimLocked):
		return "claim_locked"
	case errors.Is(err, ErrNothingToClaim):
		return "no_reward"
	case errors.Is(err, ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, ErrUnknownSource):
		return "unknown_source"
	case errors.Is(err, ErrActionDisabled):
		return "disabled"
	default:
		return "other"
	}
}
