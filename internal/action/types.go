package action

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wnt/farmdash/internal/ledger"
)

// Tab is the active panel of a position card
type Tab int

const (
	TabDeposit Tab = iota
	TabWithdraw
)

func (t Tab) String() string {
	if t == TabWithdraw {
		return "withdraw"
	}
	return "deposit"
}

// ParseTab parses a tab name, defaulting to deposit
func ParseTab(s string) Tab {
	if strings.EqualFold(s, "withdraw") {
		return TabWithdraw
	}
	return TabDeposit
}

// Dialog is the modal state of a position card
type Dialog int

const (
	DialogClosed Dialog = iota
	DialogZapOpen
)

func (d Dialog) String() string {
	if d == DialogZapOpen {
		return "zap"
	}
	return "closed"
}

// View is the presentation state fed into the machine. The machine reads it, never mutates it.
type View struct {
	Tab    Tab
	Dialog Dialog
	Input  string
	// Source is the zap source symbol chosen in the zap dialog
	Source string
}

// OpenZap returns the view with the zap dialog open on the deposit tab
func (v View) OpenZap(source string) View {
	v.Tab = TabDeposit
	v.Dialog = DialogZapOpen
	v.Source = source
	return v
}

// Dismiss closes the dialog. Work already dispatched from it keeps running;
// only the machine's ledger outcome ends an in-flight action.
func (v View) Dismiss() View {
	v.Dialog = DialogClosed
	v.Source = ""
	return v
}

// Kind is the type of a user action
type Kind int

const (
	// KindUnknown is what a request that names no kind decodes to. It is always rejected.
	KindUnknown Kind = iota
	KindApprove
	KindDeposit
	KindWithdraw
	KindClaim
	KindZap
)

var kindNames = map[Kind]string{
	KindApprove:  "approve",
	KindDeposit:  "deposit",
	KindWithdraw: "withdraw",
	KindClaim:    "claim",
	KindZap:      "zap",
}

func (k Kind) String() string {
	if k == KindUnknown {
		return "unknown"
	}
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText encodes the kind by name
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name; "stake" is accepted for deposit
func (k *Kind) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	if name == "stake" {
		*k = KindDeposit
		return nil
	}
	for kind, n := range kindNames {
		if n == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown action kind %q", string(b))
}

// Request is a user's intent to act on a position
type Request struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Amount string `json:"amount,omitempty"`
	// Source is the symbol of the token being zapped
	Source string `json:"source,omitempty"`
}

// Approve requests an allowance for the farm contract
func Approve() Request { return Request{ID: uuid.NewString(), Kind: KindApprove} }

// Deposit requests staking amount of the deposit token
func Deposit(amount string) Request {
	return Request{ID: uuid.NewString(), Kind: KindDeposit, Amount: amount}
}

// Withdraw requests unstaking amount of the deposit token
func Withdraw(amount string) Request {
	return Request{ID: uuid.NewString(), Kind: KindWithdraw, Amount: amount}
}

// Claim requests harvesting the pending reward
func Claim() Request { return Request{ID: uuid.NewString(), Kind: KindClaim} }

// Zap requests converting amount of the source token into the deposit token
func Zap(source, amount string) Request {
	return Request{ID: uuid.NewString(), Kind: KindZap, Amount: amount, Source: source}
}

// Ticket tracks one dispatched action until the ledger reports its outcome
type Ticket struct {
	RequestID   string    `json:"request_id"`
	Kind        Kind      `json:"kind"`
	Amount      string    `json:"amount,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`

	result *ledger.AsyncResult
}

// Pending reports the ledger's in-flight signal for this ticket. A ticket
// whose dispatch has not returned yet is pending.
func (t *Ticket) Pending() bool {
	if t.result == nil {
		return true
	}
	return t.result.Pending()
}

// Done is closed when the ledger reports an outcome. It is nil while the
// dispatch is outstanding.
func (t *Ticket) Done() <-chan struct{} {
	if t.result == nil {
		return nil
	}
	return t.result.Done()
}

// Outcome returns the ledger outcome once known
func (t *Ticket) Outcome() (ledger.Outcome, bool) {
	if t.result == nil {
		return ledger.Outcome{}, false
	}
	return t.result.Outcome()
}
