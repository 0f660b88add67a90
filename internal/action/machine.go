package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/farmdash/internal/ledger"
	"github.com/wnt/farmdash/internal/logger"
	"github.com/wnt/farmdash/internal/metrics"
	"github.com/wnt/farmdash/internal/position"
	"github.com/wnt/farmdash/internal/quantity"
)

// confirmTimeout bounds the allowance read that confirms a settled approval
const confirmTimeout = 15 * time.Second

// Config describes the position a machine governs
type Config struct {
	PositionID   string
	Account      string
	Spender      string // farm contract that needs the allowance
	DepositToken position.Token
	EarnToken    position.Token
	ZapSources   []position.Token
}

// Recorder persists dispatched actions and their outcomes
type Recorder interface {
	RecordAction(ctx context.Context, positionID string, t Ticket) error
	FinishAction(ctx context.Context, requestID string, outcome ledger.Outcome) error
}

// Dependencies are the collaborators a machine dispatches to and reads from
type Dependencies struct {
	Approvals  ledger.ApprovalSink
	Actions    ledger.ActionSink
	Allowances ledger.AllowanceSource
	Balances   ledger.BalanceSource
	Clock      ledger.Clock
	Recorder   Recorder

	// OnSettled is called after the ledger reports an outcome, e.g. to trigger a refresh
	OnSettled func(positionID string, kind Kind, outcome ledger.Outcome)
}

// dispatchFunc delegates a validated action to the ledger
type dispatchFunc func(ctx context.Context) (*ledger.AsyncResult, error)

// Machine is the action state machine of one position. It validates every
// request locally before anything reaches the ledger and allows at most one
// mutating action in flight.
type Machine struct {
	cfg    Config
	deps   Dependencies
	logger zerolog.Logger

	mutex    sync.Mutex
	snap     position.Position
	approval Approval
	inFlight *Ticket
	lastErr  error
	settled  map[string]chan struct{}
}

// NewMachine creates a machine for cfg.PositionID
func NewMachine(cfg Config, deps Dependencies, baseLogger zerolog.Logger) *Machine {
	if deps.Clock == nil {
		deps.Clock = ledger.SystemClock{}
	}
	return &Machine{
		cfg:  cfg,
		deps: deps,
		logger: logger.WithPosition(baseLogger, cfg.PositionID).
			With().Str("component", "action_machine").Logger(),
		snap:    position.Position{ID: cfg.PositionID, DepositToken: cfg.DepositToken, EarnToken: cfg.EarnToken},
		settled: make(map[string]chan struct{}),
	}
}

// Update installs a freshly built snapshot. In-flight state is left untouched.
func (m *Machine) Update(snap position.Position) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.snap = snap
	allowance, ok := snap.Allowance.Get()
	if !ok {
		return
	}
	m.approval.Observe(allowance)

	// An unconfirmed approval with nothing in flight for it is reverted
	// once the chain reports no allowance.
	if allowance == position.NotApproved && m.approval.State() == Approving && !m.approvalPending() {
		m.approval.Fail()
	}
}

func (m *Machine) approvalPending() bool {
	return m.inFlight != nil && m.inFlight.Kind == KindApprove
}

// Snapshot returns the snapshot the machine currently validates against
func (m *Machine) Snapshot() position.Position {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.snap
}

// Approval returns the current approval state
func (m *Machine) Approval() ApprovalState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.approval.State()
}

// ApprovalHistory returns the approval transitions taken so far
func (m *Machine) ApprovalHistory() []Transition {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.approval.History()
}

// InFlight returns the action awaiting a ledger outcome, if any
func (m *Machine) InFlight() *Ticket {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.inFlight
}

// LastError returns the most recent ledger failure, cleared by the next dispatch
func (m *Machine) LastError() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.lastErr
}

// Settled returns a channel closed once the machine has processed the outcome
// of the given request. Unknown ids return a closed channel.
func (m *Machine) Settled(requestID string) <-chan struct{} {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if ch, ok := m.settled[requestID]; ok {
		return ch
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Max returns the exact amount to pre-fill for the tab's maximum, and whether it is known
func (m *Machine) Max(tab Tab) (string, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return maxFor(tab, m.snap)
}

func maxFor(tab Tab, snap position.Position) (string, bool) {
	amount, ok := maxAmount(tab, snap)
	if !ok {
		return "", false
	}
	return quantity.ToDisplay(amount), true
}

func maxAmount(tab Tab, snap position.Position) (quantity.TokenAmount, bool) {
	if tab == TabWithdraw {
		return snap.Staked.Get()
	}
	return snap.WalletBalance.Get()
}

// Submit validates req against the current snapshot and, only if it passes,
// delegates it to the ledger. The returned ticket settles asynchronously.
//
// The position's in-flight slot is reserved before the machine lock is
// released for ledger I/O, so refreshes and control reads never wait on a
// dispatch and a second request still sees ErrActionInFlight.
func (m *Machine) Submit(ctx context.Context, req Request) (*Ticket, error) {
	log := logger.WithAction(m.logger, req.Kind.String(), req.ID)

	m.mutex.Lock()
	dispatch, err := m.prepare(req)
	if err != nil {
		m.mutex.Unlock()
		return nil, m.reject(log, req, err)
	}
	reserved := &Ticket{
		RequestID:   req.ID,
		Kind:        req.Kind,
		Amount:      req.Amount,
		SubmittedAt: m.deps.Clock.Now(),
	}
	m.inFlight = reserved
	m.lastErr = nil
	m.mutex.Unlock()

	result, err := dispatch(ctx)

	m.mutex.Lock()
	if m.inFlight == reserved {
		m.inFlight = nil
	}
	if err != nil {
		if req.Kind == KindApprove {
			m.approval.Fail()
		}
		var failed *FailedError
		if !errors.As(err, &failed) {
			m.mutex.Unlock()
			return nil, m.reject(log, req, err)
		}
		m.lastErr = failed
		m.mutex.Unlock()

		metrics.RecordAction(req.Kind.String(), "failed")
		log.Warn().Err(err).Msg("Ledger rejected action")
		return nil, failed
	}

	ticket := &Ticket{
		RequestID:   reserved.RequestID,
		Kind:        reserved.Kind,
		Amount:      reserved.Amount,
		SubmittedAt: reserved.SubmittedAt,
		result:      result,
	}
	m.inFlight = ticket
	m.settled[req.ID] = make(chan struct{})
	m.mutex.Unlock()

	metrics.ActionsInFlight.Inc()
	metrics.RecordAction(req.Kind.String(), "dispatched")

	if m.deps.Recorder != nil {
		if err := m.deps.Recorder.RecordAction(ctx, m.cfg.PositionID, *ticket); err != nil {
			log.Error().Err(err).Msg("Failed to record action")
		}
	}

	log.Info().Str("amount", req.Amount).Msg("Action dispatched")
	go m.await(ticket)

	return ticket, nil
}

func (m *Machine) reject(log zerolog.Logger, req Request, err error) error {
	metrics.RecordRejection(req.Kind.String(), rejectionReason(err))
	log.Debug().Err(err).Msg("Action rejected locally")
	return err
}

// prepare performs the local validation that needs no I/O and returns the
// dispatch to run. It must be called with the mutex held. The returned
// dispatch may still reject locally (zap source balance); any other error
// it returns is a ledger failure.
func (m *Machine) prepare(req Request) (dispatchFunc, error) {
	if m.inFlight != nil {
		return nil, ErrActionInFlight
	}

	id := m.cfg.PositionID

	switch req.Kind {
	case KindApprove:
		if m.approval.State() != NotApproved {
			return nil, fmt.Errorf("%w: approval is %s", ErrActionDisabled, m.approval.State())
		}
		if err := m.approval.Begin(); err != nil {
			return nil, err
		}
		return ledgerCall(func(ctx context.Context) (*ledger.AsyncResult, error) {
			return m.deps.Approvals.RequestApproval(ctx, id, m.cfg.DepositToken, m.cfg.Spender)
		}, KindApprove), nil

	case KindDeposit:
		if m.approval.State() != Approved {
			return nil, ErrNotApproved
		}
		amount, err := validateAmount(req.Amount, m.cfg.DepositToken.Decimals, m.snap.WalletBalance)
		if err != nil {
			return nil, err
		}
		return ledgerCall(func(ctx context.Context) (*ledger.AsyncResult, error) {
			return m.deps.Actions.SubmitStake(ctx, id, amount.Raw())
		}, KindDeposit), nil

	case KindWithdraw:
		amount, err := validateAmount(req.Amount, m.cfg.DepositToken.Decimals, m.snap.Staked)
		if err != nil {
			return nil, err
		}
		return ledgerCall(func(ctx context.Context) (*ledger.AsyncResult, error) {
			return m.deps.Actions.SubmitWithdraw(ctx, id, amount.Raw())
		}, KindWithdraw), nil

	case KindClaim:
		if err := claimable(m.snap, m.deps.Clock.Now()); err != nil {
			return nil, err
		}
		return ledgerCall(func(ctx context.Context) (*ledger.AsyncResult, error) {
			return m.deps.Actions.SubmitClaim(ctx, id)
		}, KindClaim), nil

	case KindZap:
		source, amount, err := m.validateZap(req.Source, req.Amount)
		if err != nil {
			return nil, err
		}
		submit := ledgerCall(func(ctx context.Context) (*ledger.AsyncResult, error) {
			return m.deps.Actions.SubmitZap(ctx, id, source, amount.Raw())
		}, KindZap)
		return func(ctx context.Context) (*ledger.AsyncResult, error) {
			if err := m.checkSourceBalance(ctx, source, amount); err != nil {
				return nil, err
			}
			return submit(ctx)
		}, nil

	case KindUnknown:
		return nil, ErrUnknownKind
	}

	return nil, fmt.Errorf("%w: %s", ErrActionDisabled, req.Kind)
}

// ledgerCall wraps sink errors as FailedError so Submit can tell them from local rejections
func ledgerCall(call dispatchFunc, kind Kind) dispatchFunc {
	return func(ctx context.Context) (*ledger.AsyncResult, error) {
		result, err := call(ctx)
		if err != nil {
			return nil, &FailedError{Kind: kind, Reason: err.Error()}
		}
		return result, nil
	}
}

// validateZap resolves the zap source and parses the amount in its precision
func (m *Machine) validateZap(symbol, input string) (position.Token, quantity.TokenAmount, error) {
	if !m.cfg.DepositToken.LP {
		return position.Token{}, quantity.TokenAmount{}, ErrNotZappable
	}

	source, ok := m.zapSource(symbol)
	if !ok {
		return position.Token{}, quantity.TokenAmount{}, fmt.Errorf("%w %q", ErrUnknownSource, symbol)
	}

	amount, err := parsePositive(input, source.Decimals)
	if err != nil {
		return position.Token{}, quantity.TokenAmount{}, err
	}
	return source, amount, nil
}

func (m *Machine) zapSource(symbol string) (position.Token, bool) {
	for _, t := range m.cfg.ZapSources {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return position.Token{}, false
}

// checkSourceBalance reads the zap source balance. It runs outside the mutex.
func (m *Machine) checkSourceBalance(ctx context.Context, source position.Token, amount quantity.TokenAmount) error {
	balance, err := m.deps.Balances.Balance(ctx, source, m.cfg.Account)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBalanceUnknown, source.Symbol, err)
	}
	if amount.Cmp(balance) > 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// await blocks on the ledger's outcome; it is never tied to the caller's context
func (m *Machine) await(t *Ticket) {
	<-t.Done()
	outcome, _ := t.Outcome()

	var (
		confirmed    position.Allowance
		confirmedErr error
	)
	if t.Kind == KindApprove && outcome.Success {
		ctx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
		confirmed, confirmedErr = m.deps.Allowances.Allowance(ctx, m.cfg.DepositToken, m.cfg.Spender, m.cfg.Account)
		cancel()
	}

	m.settle(t, outcome, confirmed, confirmedErr)
}

func (m *Machine) settle(t *Ticket, outcome ledger.Outcome, allowance position.Allowance, allowanceErr error) {
	log := logger.WithAction(m.logger, t.Kind.String(), t.RequestID)

	m.mutex.Lock()
	if m.inFlight == t {
		m.inFlight = nil
		metrics.ActionsInFlight.Dec()
	}

	switch {
	case outcome.Success && t.Kind == KindApprove:
		switch {
		case allowanceErr != nil:
			// stays Approving until a refresh observes the allowance
			log.Warn().Err(allowanceErr).Msg("Approval settled but allowance could not be confirmed")
		case allowance == position.Approved:
			m.approval.Observe(allowance)
		default:
			m.approval.Fail()
			m.lastErr = &FailedError{Kind: KindApprove, Reason: "allowance not granted after approval"}
			log.Warn().Msg("Approval settled but allowance is still missing")
		}
	case !outcome.Success:
		if t.Kind == KindApprove {
			m.approval.Fail()
		}
		m.lastErr = &FailedError{Kind: t.Kind, Reason: outcome.Reason}
	}
	done := m.settled[t.RequestID]
	delete(m.settled, t.RequestID)
	m.mutex.Unlock()

	status := "success"
	if !outcome.Success {
		status = "failed"
	}
	metrics.RecordAction(t.Kind.String(), status)
	log.Info().Bool("success", outcome.Success).Str("reason", outcome.Reason).Str("tx_hash", outcome.TxHash).Msg("Action settled")

	if m.deps.Recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
		if err := m.deps.Recorder.FinishAction(ctx, t.RequestID, outcome); err != nil {
			log.Error().Err(err).Msg("Failed to record action outcome")
		}
		cancel()
	}

	if m.deps.OnSettled != nil {
		m.deps.OnSettled(m.cfg.PositionID, t.Kind, outcome)
	}

	if done != nil {
		close(done)
	}
}

func parsePositive(input string, decimals int32) (quantity.TokenAmount, error) {
	amount, err := quantity.ParseAmount(strings.TrimSpace(input), decimals)
	if err != nil {
		return quantity.TokenAmount{}, err
	}
	if amount.Sign() <= 0 {
		return quantity.TokenAmount{}, ErrNonPositive
	}
	return amount, nil
}

// validateAmount enforces 0 < amount <= limit
func validateAmount(input string, decimals int32, limit position.Field[quantity.TokenAmount]) (quantity.TokenAmount, error) {
	amount, err := parsePositive(input, decimals)
	if err != nil {
		return quantity.TokenAmount{}, err
	}
	available, ok := limit.Get()
	if !ok {
		return quantity.TokenAmount{}, ErrBalanceUnknown
	}
	if amount.Raw().Cmp(available.Raw()) > 0 {
		return quantity.TokenAmount{}, ErrInsufficientBalance
	}
	return amount, nil
}

func claimable(snap position.Position, now time.Time) error {
	if !snap.HasPendingReward() {
		return ErrNothingToClaim
	}
	if !snap.ClaimState(now).CanClaim {
		return ErrClaimLocked
	}
	return nil
}

// IsLocalRejection reports whether err was produced by local validation, i.e. nothing was dispatched
func IsLocalRejection(err error) bool {
	return err != nil && !errors.Is(err, ErrActionFailed)
}
