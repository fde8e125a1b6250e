package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/tradevault/settlement-router/internal/interfaces"
	"github.com/tradevault/settlement-router/internal/lib"
)

// Store persists escrow records. Implementations must return ErrNotFound for
// unknown ids and must not retain references to the passed records.
type Store interface {
	CreateEscrow(ctx context.Context, esc *Escrow) error
	GetEscrowByID(ctx context.Context, id string) (*Escrow, error)
	UpdateEscrow(ctx context.Context, esc *Escrow) error
	ListEscrows(ctx context.Context, filter Filter) ([]*Escrow, error)
}

type Filter struct {
	Statuses    []Status
	AutoRelease *bool
}

// Receipt is the result of an executed on-chain transfer
type Receipt struct {
	TxHash   string
	BlockRef uint64
}

// Gateway executes fund movement out of the custody account. Any error is
// treated as retryable and must leave no partial escrow mutation behind.
type Gateway interface {
	Release(ctx context.Context, custody, payee common.Address, amount int64, currency string, signatures [][]byte) (*Receipt, error)
	Refund(ctx context.Context, custody, payer common.Address, amount int64, currency string, signatures [][]byte) (*Receipt, error)
}

type CreateParams struct {
	Buyer   common.Address
	Seller  common.Address
	Arbiter common.Address
	Custody common.Address

	Amount   int64
	Currency string

	Policy             ReleasePolicy
	AutoRelease        bool
	RequiredSignatures int
	ExpiresAt          time.Time
}

type FundingProof struct {
	TxRef  string
	Amount int64
}

// Engine owns the escrow lifecycle. All transitions on a single escrow id are
// linearized through a keyed mutex, operations on different ids proceed
// concurrently.
type Engine struct {
	// config
	feeRateBps     int64
	gatewayTimeout time.Duration
	defaultQuorum  int

	// deps
	store      Store
	gateway    Gateway
	notifier   Notifier
	currencies *CurrencyRegistry
	locks      *lib.KeyedMutex
	now        func() time.Time
	log        interfaces.ILogger
}

func NewEngine(store Store, gateway Gateway, notifier Notifier, currencies *CurrencyRegistry, feeRateBps int64, gatewayTimeout time.Duration, log interfaces.ILogger) *Engine {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Engine{
		feeRateBps:     feeRateBps,
		gatewayTimeout: gatewayTimeout,
		defaultQuorum:  2,
		store:          store,
		gateway:        gateway,
		notifier:       notifier,
		currencies:     currencies,
		locks:          lib.NewKeyedMutex(),
		now:            time.Now,
		log:            log,
	}
}

// SetNowFunc overrides the engine time source, used by tests
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.now = now
}

// SetDefaultQuorum overrides the signature quorum applied when CreateParams
// does not set one
func (e *Engine) SetDefaultQuorum(n int) {
	if n > 0 {
		e.defaultQuorum = n
	}
}

// Locks exposes the per-escrow mutex so the quorum tracker appends signatures
// under the same lock as state transitions
func (e *Engine) Locks() *lib.KeyedMutex {
	return e.locks
}

// Create registers a new escrow in pending state. The fee split is computed
// exactly once here and never recomputed.
func (e *Engine) Create(ctx context.Context, params CreateParams) (*Escrow, error) {
	if params.Amount <= 0 {
		return nil, lib.WrapError(ErrInvalidAmount, fmt.Errorf("amount %d", params.Amount))
	}
	cur, ok := e.currencies.Get(params.Currency)
	if !ok {
		return nil, lib.WrapError(ErrUnsupportedCurrency, fmt.Errorf("currency %q", params.Currency))
	}

	fee, payee := SplitFee(params.Amount, e.feeRateBps)

	requiredSignatures := params.RequiredSignatures
	if requiredSignatures == 0 {
		requiredSignatures = e.defaultQuorum
	}
	policy := params.Policy
	if policy.Kind == "" {
		policy.Kind = PolicyManual
	}

	esc := &Escrow{
		ID:                 uuid.New().String(),
		Buyer:              params.Buyer,
		Seller:             params.Seller,
		Arbiter:            params.Arbiter,
		Custody:            params.Custody,
		Amount:             params.Amount,
		Currency:           cur.Code,
		Fee:                fee,
		PayeeAmount:        payee,
		Status:             StatusPending,
		State:              StateCreated,
		Policy:             policy,
		AutoRelease:        params.AutoRelease,
		RequiredSignatures: requiredSignatures,
		CreatedAt:          e.now(),
		ExpiresAt:          params.ExpiresAt,
	}

	if err := e.store.CreateEscrow(ctx, esc); err != nil {
		return nil, err
	}

	e.log.Infof("escrow %s created, amount %d %s, fee %d", esc.ID, esc.Amount, esc.Currency, esc.Fee)
	e.notify(EventCreated, esc)

	return esc, nil
}

// Fund records the funding transaction reference, pending -> funded
func (e *Engine) Fund(ctx context.Context, id string, proof FundingProof) (*Escrow, error) {
	unlock, err := e.locks.LockCtx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	esc, err := e.store.GetEscrowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if esc.Status != StatusPending {
		return nil, lib.WrapError(ErrInvalidStateTransition, fmt.Errorf("fund: status %s", esc.Status))
	}
	if proof.Amount != esc.Amount {
		return nil, lib.WrapError(ErrFundingMismatch, fmt.Errorf("proof %d, escrow %d", proof.Amount, esc.Amount))
	}

	now := e.now()
	esc.Status = StatusFunded
	esc.State = StateFunded
	esc.FundingTxRef = proof.TxRef
	esc.FundedAt = &now

	if err := e.update(ctx, esc); err != nil {
		return nil, err
	}

	e.log.Infof("escrow %s funded, tx %s", esc.ID, proof.TxRef)
	e.notify(EventFunded, esc)

	return esc, nil
}

// Lock activates custody, funded -> locked. Only the seller may lock.
func (e *Engine) Lock(ctx context.Context, id string, requester common.Address) (*Escrow, error) {
	unlock, err := e.locks.LockCtx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	esc, err := e.store.GetEscrowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if requester != esc.Seller {
		return nil, lib.WrapError(ErrUnauthorized, fmt.Errorf("lock: requester %s is not the seller", requester))
	}
	if esc.Status != StatusFunded {
		return nil, lib.WrapError(ErrInvalidStateTransition, fmt.Errorf("lock: status %s", esc.Status))
	}

	now := e.now()
	esc.Status = StatusLocked
	esc.State = StateLocked
	esc.LockedAt = &now

	if err := e.update(ctx, esc); err != nil {
		return nil, err
	}

	e.log.Infof("escrow %s locked", esc.ID)
	e.notify(EventLocked, esc)

	return esc, nil
}

// Release settles the payee amount to the seller. Valid only when CanRelease
// holds. Calling it on an already released escrow is a no-op returning
// success, so the scheduler tolerates double-scheduling.
func (e *Engine) Release(ctx context.Context, id string) (*Escrow, error) {
	unlock, err := e.locks.LockCtx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	esc, err := e.store.GetEscrowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if esc.Status == StatusReleased {
		return esc, nil
	}
	quorum := esc.TotalSignatures(ActionRelease) >= esc.RequiredSignatures
	if !esc.CanRelease(e.now()) && !(esc.Status == StatusDisputed && quorum) {
		return nil, lib.WrapError(ErrInvalidStateTransition, fmt.Errorf("release: status %s, signatures %d/%d", esc.Status, esc.TotalSignatures(ActionRelease), esc.RequiredSignatures))
	}

	// a full quorum reached during a dispute settles it in the seller's favor
	e.closeDisputeByQuorum(esc, OutcomeNoRefund)

	return e.settleRelease(ctx, esc)
}

// settleRelease performs the gateway transfer and moves the escrow to
// released. Caller must hold the escrow lock.
func (e *Engine) settleRelease(ctx context.Context, esc *Escrow) (*Escrow, error) {
	prevState := esc.State
	esc.State = StateReleasePending

	gwCtx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	defer cancel()

	receipt, err := e.gateway.Release(gwCtx, esc.Custody, esc.Seller, esc.PayeeAmount, esc.Currency, esc.SignaturePayloads(ActionRelease))
	if err != nil {
		// escrow stays in its prior state, retryable on the next attempt
		esc.State = prevState
		return nil, lib.WrapError(ErrSettlementFailed, err)
	}

	now := e.now()
	esc.Status = StatusReleased
	esc.State = StateReleased
	esc.SettlementTx = receipt.TxHash
	esc.ReleasedAt = &now

	if err := e.update(ctx, esc); err != nil {
		return nil, err
	}

	e.log.Infof("escrow %s released, payee amount %d %s, tx %s", esc.ID, esc.PayeeAmount, esc.Currency, receipt.TxHash)
	e.notify(EventReleased, esc)

	return esc, nil
}

// Refund returns funds to the buyer. Valid from locked with a refund quorum,
// or from disputed via ResolveDispute. Idempotent on already refunded escrows.
func (e *Engine) Refund(ctx context.Context, id string) (*Escrow, error) {
	unlock, err := e.locks.LockCtx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	esc, err := e.store.GetEscrowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if esc.Status == StatusRefunded {
		return esc, nil
	}
	validStatus := esc.Status == StatusLocked || esc.Status == StatusDisputed
	if !validStatus || esc.TotalSignatures(ActionRefund) < esc.RequiredSignatures {
		return nil, lib.WrapError(ErrInvalidStateTransition, fmt.Errorf("refund: status %s, signatures %d/%d", esc.Status, esc.TotalSignatures(ActionRefund), esc.RequiredSignatures))
	}

	// a full quorum reached during a dispute settles it in the buyer's favor
	e.closeDisputeByQuorum(esc, OutcomeRefundFull)

	return e.settleRefund(ctx, esc, esc.Amount)
}

// settleRefund performs the gateway transfer back to the buyer. Caller must
// hold the escrow lock.
func (e *Engine) settleRefund(ctx context.Context, esc *Escrow, amount int64) (*Escrow, error) {
	prevState := esc.State
	esc.State = StateReleasePending

	gwCtx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	defer cancel()

	receipt, err := e.gateway.Refund(gwCtx, esc.Custody, esc.Buyer, amount, esc.Currency, esc.SignaturePayloads(ActionRefund))
	if err != nil {
		esc.State = prevState
		return nil, lib.WrapError(ErrSettlementFailed, err)
	}

	now := e.now()
	esc.Status = StatusRefunded
	esc.State = StateRefunded
	esc.SettlementTx = receipt.TxHash
	esc.RefundedAt = &now

	if err := e.update(ctx, esc); err != nil {
		return nil, err
	}

	e.log.Infof("escrow %s refunded, amount %d %s, tx %s", esc.ID, amount, esc.Currency, receipt.TxHash)
	e.notify(EventRefunded, esc)

	return esc, nil
}

// OpenDispute moves a locked escrow to disputed. At most one open dispute per
// escrow.
func (e *Engine) OpenDispute(ctx context.Context, id string, initiator common.Address, reason, description string) (*Escrow, error) {
	unlock, err := e.locks.LockCtx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	esc, err := e.store.GetEscrowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if esc.Dispute.IsOpen() {
		return nil, lib.WrapError(ErrDisputeAlreadyOpen, fmt.Errorf("escrow %s", esc.ID))
	}
	if esc.Status != StatusLocked {
		return nil, lib.WrapError(ErrInvalidStateTransition, fmt.Errorf("dispute: status %s", esc.Status))
	}
	if initiator != esc.Buyer && initiator != esc.Seller {
		return nil, lib.WrapError(ErrUnauthorized, fmt.Errorf("dispute: initiator %s is not a party", initiator))
	}

	esc.Status = StatusDisputed
	esc.State = StateDisputeOpen
	esc.Dispute = &Dispute{
		Initiator:   initiator,
		Reason:      reason,
		Description: description,
		OpenedAt:    e.now(),
	}

	if err := e.update(ctx, esc); err != nil {
		return nil, err
	}

	e.log.Warnf("escrow %s disputed by %s: %s", esc.ID, initiator, reason)
	e.notify(EventDisputed, esc)

	return esc, nil
}

// ResolveDispute closes the open dispute and settles according to the
// outcome: refunds move funds to the buyer, no_refund releases to the seller.
// refundAmount is only meaningful for refund_partial and is clamped to the
// escrow amount.
func (e *Engine) ResolveDispute(ctx context.Context, id string, resolver common.Address, outcome DisputeOutcome, notes string, refundAmount int64) (*Escrow, error) {
	unlock, err := e.locks.LockCtx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	esc, err := e.store.GetEscrowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !esc.Dispute.IsOpen() {
		return nil, lib.WrapError(ErrNoOpenDispute, fmt.Errorf("escrow %s", esc.ID))
	}

	now := e.now()
	esc.Dispute.Outcome = outcome
	esc.Dispute.Resolver = resolver
	esc.Dispute.Notes = notes
	esc.Dispute.RefundAmount = refundAmount
	esc.Dispute.ResolvedAt = &now
	esc.State = StateDisputeResolved

	var settled *Escrow
	switch outcome {
	case OutcomeRefundFull:
		settled, err = e.settleRefund(ctx, esc, esc.Amount)
	case OutcomeRefundPartial:
		amount := esc.Dispute.RefundAmount
		if amount <= 0 || amount > esc.Amount {
			amount = esc.Amount
		}
		settled, err = e.settleRefund(ctx, esc, amount)
	case OutcomeNoRefund:
		settled, err = e.settleRelease(ctx, esc)
	default:
		return nil, lib.WrapError(ErrInvalidStateTransition, fmt.Errorf("resolve: unknown outcome %q", outcome))
	}
	if err != nil {
		// settlement failed, the stored record still has the dispute open
		// and ResolveDispute may be retried
		return nil, err
	}

	e.log.Infof("escrow %s dispute resolved by %s, outcome %s", esc.ID, resolver, outcome)
	e.notify(EventResolved, settled)

	return settled, nil
}

// SetPerformanceMetric records the latest value of the configured performance
// metric, read by the release policy on the next eligibility check
func (e *Engine) SetPerformanceMetric(ctx context.Context, id string, value float64) (*Escrow, error) {
	unlock, err := e.locks.LockCtx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	esc, err := e.store.GetEscrowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	esc.PerformanceMetric = value

	if err := e.update(ctx, esc); err != nil {
		return nil, err
	}

	return esc, nil
}

// Expire moves an overdue non-terminal escrow to expired. A no-op returning
// the current record when the escrow is already terminal, so the sweep
// tolerates re-scheduling.
func (e *Engine) Expire(ctx context.Context, id string) (*Escrow, error) {
	unlock, err := e.locks.LockCtx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	esc, err := e.store.GetEscrowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if esc.Status.IsTerminal() {
		return esc, nil
	}
	if !esc.IsExpiredWithoutDispute(e.now()) {
		return nil, lib.WrapError(ErrInvalidStateTransition, fmt.Errorf("expire: escrow %s not overdue", esc.ID))
	}

	esc.Status = StatusExpired
	esc.State = StateExpired

	if err := e.update(ctx, esc); err != nil {
		return nil, err
	}

	e.log.Warnf("escrow %s expired", esc.ID)
	e.notify(EventExpired, esc)

	return esc, nil
}

// closeDisputeByQuorum marks an open dispute resolved by party agreement. The
// mutation is only persisted when the subsequent settlement succeeds.
func (e *Engine) closeDisputeByQuorum(esc *Escrow, outcome DisputeOutcome) {
	if !esc.Dispute.IsOpen() {
		return
	}
	now := e.now()
	esc.Dispute.Outcome = outcome
	esc.Dispute.Notes = "resolved by signature quorum"
	esc.Dispute.ResolvedAt = &now
}

func (e *Engine) update(ctx context.Context, esc *Escrow) error {
	esc.Version++
	return e.store.UpdateEscrow(ctx, esc)
}

func (e *Engine) notify(kind EventKind, esc *Escrow) {
	e.notifier.Notify(Event{
		Kind:     kind,
		EscrowID: esc.ID,
		Amount:   esc.Amount,
		Currency: esc.Currency,
		At:       e.now(),
	})
}
