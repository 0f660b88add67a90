package action

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/wnt/farmdash/internal/claim"
	"github.com/wnt/farmdash/internal/quantity"
)

// displayPlaces is the precision of balances shown next to an input
const displayPlaces = 4

// Control is the rendering state of one button. An enabled control may
// still carry a Reason: the input will be rejected when submitted.
type Control struct {
	Visible bool   `json:"visible"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

// Controls is everything a position card needs to render its actions
type Controls struct {
	Tab        string        `json:"tab"`
	Dialog     string        `json:"dialog"`
	Primary    Kind          `json:"primary"`
	Approval   ApprovalState `json:"approval"`
	Max        string        `json:"max,omitempty"`
	MaxDisplay string        `json:"max_display,omitempty"`
	ZapSources []string      `json:"zap_sources,omitempty"`
	Approve    Control       `json:"approve"`
	Deposit    Control       `json:"deposit"`
	Withdraw   Control       `json:"withdraw"`
	Zap        Control       `json:"zap"`
	Claim      Control       `json:"claim"`
	ClaimGate  claim.State   `json:"claim_gate"`
	InFlight   *Ticket       `json:"in_flight,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
}

func enabled() Control { return Control{Visible: true, Enabled: true} }

func disabled(err error) Control {
	return Control{Visible: true, Enabled: false, Reason: reasonText(err)}
}

func hidden() Control { return Control{} }

func reasonText(err error) string {
	if err == nil {
		return ""
	}
	return rejectionReason(err)
}

// Controls derives which actions are visible and enabled for view.
// It never mutates the view or the machine.
func (m *Machine) Controls(view View) Controls {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.deps.Clock.Now()
	out := Controls{
		Tab:       view.Tab.String(),
		Dialog:    view.Dialog.String(),
		Approval:  m.approval.State(),
		ClaimGate: m.snap.ClaimState(now),
		InFlight:  m.inFlight,
	}
	if m.lastErr != nil {
		out.LastError = m.lastErr.Error()
	}
	if amount, ok := maxAmount(view.Tab, m.snap); ok {
		out.Max = quantity.ToDisplay(amount)
		out.MaxDisplay = quantity.ToDisplayRounded(amount, displayPlaces)
	}

	busy := m.inFlight != nil
	guard := func(err error) Control {
		switch {
		case busy:
			return disabled(ErrActionInFlight)
		case err != nil:
			return disabled(err)
		default:
			return enabled()
		}
	}

	switch view.Tab {
	case TabDeposit:
		out.Deposit, out.Approve = m.depositControls(view, busy, guard)
		out.Withdraw = hidden()
		out.Primary = KindDeposit
		if out.Approve.Visible {
			out.Primary = KindApprove
		}
	case TabWithdraw:
		out.Withdraw = amountControl(view.Input, busy, func(input string) error {
			_, err := validateAmount(input, m.cfg.DepositToken.Decimals, m.snap.Staked)
			return err
		})
		out.Approve, out.Deposit = hidden(), hidden()
		out.Primary = KindWithdraw
	}

	out.Zap = m.zapControl(view, busy)
	if out.Zap.Visible && view.Dialog == DialogZapOpen {
		out.Primary = KindZap
		for _, t := range m.cfg.ZapSources {
			out.ZapSources = append(out.ZapSources, t.Symbol)
		}
	}
	out.Claim = guard(claimable(m.snap, now))

	return out
}

// depositControls toggles between Approve and Deposit on the approval state
func (m *Machine) depositControls(view View, busy bool, guard func(error) Control) (deposit, approve Control) {
	switch m.approval.State() {
	case Approved:
		return amountControl(view.Input, busy, func(input string) error {
			_, err := validateAmount(input, m.cfg.DepositToken.Decimals, m.snap.WalletBalance)
			return err
		}), hidden()
	case Approving:
		return hidden(), disabled(ErrActionInFlight)
	default:
		return hidden(), guard(nil)
	}
}

// zapControl covers the zap button on the deposit tab. With the dialog
// closed it opens the dialog; with it open it submits the chosen source.
// The source balance is only checked at submit time.
func (m *Machine) zapControl(view View, busy bool) Control {
	if !m.cfg.DepositToken.LP || view.Tab != TabDeposit {
		return hidden()
	}
	if busy {
		return disabled(ErrActionInFlight)
	}
	if len(m.cfg.ZapSources) == 0 {
		return disabled(ErrUnknownSource)
	}
	if view.Dialog != DialogZapOpen {
		return enabled()
	}
	if _, ok := m.zapSource(view.Source); !ok {
		return disabled(ErrUnknownSource)
	}
	return amountControl(view.Input, false, func(input string) error {
		_, _, err := m.validateZap(view.Source, input)
		return err
	})
}

// amountControl enables a submit button for any non-empty, non-zero input.
// Other problems are reported in Reason and rejected by Submit.
func amountControl(input string, busy bool, validate func(string) error) Control {
	if busy {
		return disabled(ErrActionInFlight)
	}
	if blankOrZero(input) {
		return disabled(ErrNonPositive)
	}
	c := enabled()
	c.Reason = reasonText(validate(input))
	return c
}

func blankOrZero(input string) bool {
	s := strings.TrimSpace(input)
	if s == "" {
		return true
	}
	d, err := decimal.NewFromString(s)
	return err == nil && d.IsZero()
}
