package escrow

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tradevault/settlement-router/internal/interfaces"
	"github.com/tradevault/settlement-router/internal/lib"
)

// SettlementTrigger is the action taken when a quorum is reached. Implemented
// by the Engine, abstracted so the tracker can be tested without settlement.
type SettlementTrigger interface {
	Release(ctx context.Context, id string) (*Escrow, error)
	Refund(ctx context.Context, id string) (*Escrow, error)
}

// QuorumTracker accumulates per-party approvals and triggers settlement once
// the quorum for an action is reached. Signature appends share the per-escrow
// lock with state transitions so "add signature" cannot race "check quorum".
type QuorumTracker struct {
	store   Store
	locks   *lib.KeyedMutex
	trigger SettlementTrigger

	notifier Notifier
	now      func() time.Time
	log      interfaces.ILogger
}

func NewQuorumTracker(store Store, locks *lib.KeyedMutex, trigger SettlementTrigger, notifier Notifier, log interfaces.ILogger) *QuorumTracker {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &QuorumTracker{
		store:    store,
		locks:    locks,
		trigger:  trigger,
		notifier: notifier,
		now:      time.Now,
		log:      log,
	}
}

// SetNowFunc overrides the tracker time source, used by tests
func (t *QuorumTracker) SetNowFunc(now func() time.Time) {
	t.now = now
}

// AddSignature verifies and records an approval for the given action. When
// the quorum is reached the settlement trigger is invoked, outside of the
// escrow lock, and its result is returned.
func (t *QuorumTracker) AddSignature(ctx context.Context, escrowID string, signer common.Address, action Action, payload []byte) (*Escrow, error) {
	reached, esc, err := t.appendSignature(ctx, escrowID, signer, action, payload)
	if err != nil {
		return nil, err
	}

	t.notifier.Notify(Event{
		Kind:     EventSigned,
		EscrowID: esc.ID,
		Amount:   esc.Amount,
		Currency: esc.Currency,
		At:       esc.Signatures[len(esc.Signatures)-1].SignedAt,
	})

	if !reached {
		return esc, nil
	}

	t.log.Infof("escrow %s reached %s quorum (%d/%d)", esc.ID, action, esc.TotalSignatures(action), esc.RequiredSignatures)

	switch action {
	case ActionRefund:
		return t.trigger.Refund(ctx, escrowID)
	default:
		return t.trigger.Release(ctx, escrowID)
	}
}

// appendSignature does the validation and persistence under the escrow lock
func (t *QuorumTracker) appendSignature(ctx context.Context, escrowID string, signer common.Address, action Action, payload []byte) (bool, *Escrow, error) {
	unlock, err := t.locks.LockCtx(ctx, escrowID)
	if err != nil {
		return false, nil, err
	}
	defer unlock()

	esc, err := t.store.GetEscrowByID(ctx, escrowID)
	if err != nil {
		return false, nil, err
	}

	if !esc.IsAuthorizedSigner(signer) {
		return false, nil, lib.WrapError(ErrUnauthorized, fmt.Errorf("signer %s is not a party of escrow %s", signer, esc.ID))
	}
	if esc.Status != StatusLocked && esc.Status != StatusDisputed {
		return false, nil, lib.WrapError(ErrInvalidStateTransition, fmt.Errorf("sign: status %s", esc.Status))
	}
	if esc.HasSigned(signer, action) {
		return false, nil, lib.WrapError(ErrDuplicateSignature, fmt.Errorf("signer %s already approved %s", signer, action))
	}

	if err := VerifyApproval(esc, action, signer, payload); err != nil {
		return false, nil, err
	}

	esc.Signatures = append(esc.Signatures, Signature{
		Signer:   signer,
		Action:   action,
		Payload:  payload,
		Approved: true,
		SignedAt: t.now(),
	})
	esc.Version++

	if err := t.store.UpdateEscrow(ctx, esc); err != nil {
		return false, nil, err
	}

	t.log.Debugf("escrow %s signed by %s for %s (%d/%d)", esc.ID, signer, action, esc.TotalSignatures(action), esc.RequiredSignatures)

	return esc.TotalSignatures(action) >= esc.RequiredSignatures, esc, nil
}

// HasQuorum reports whether distinct approved signatures for the action reach
// the required count
func (t *QuorumTracker) HasQuorum(ctx context.Context, escrowID string, action Action) (bool, error) {
	esc, err := t.store.GetEscrowByID(ctx, escrowID)
	if err != nil {
		return false, err
	}
	return esc.TotalSignatures(action) >= esc.RequiredSignatures, nil
}

// ApprovalDigest is the message a party signs to approve a fund movement:
// keccak256 over the escrow id, the action, the transfer target and the
// amount in minor units
func ApprovalDigest(esc *Escrow, action Action) []byte {
	target := esc.Seller
	amount := esc.PayeeAmount
	if action == ActionRefund {
		target = esc.Buyer
		amount = esc.Amount
	}

	amountBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(amountBytes, uint64(amount))

	return crypto.Keccak256(
		[]byte(esc.ID),
		[]byte(action),
		esc.Custody.Bytes(),
		target.Bytes(),
		amountBytes,
		[]byte(esc.Currency),
	)
}

// SignApproval produces the 65-byte recoverable signature a party submits
func SignApproval(esc *Escrow, action Action, privKey *ecdsa.PrivateKey) ([]byte, error) {
	return crypto.Sign(ApprovalDigest(esc, action), privKey)
}

// VerifyApproval recovers the signing key from the payload and checks it
// matches the claimed signer
func VerifyApproval(esc *Escrow, action Action, signer common.Address, payload []byte) error {
	pub, err := crypto.SigToPub(ApprovalDigest(esc, action), payload)
	if err != nil {
		return lib.WrapError(ErrInvalidSignature, err)
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if recovered != signer {
		return lib.WrapError(ErrInvalidSignature, fmt.Errorf("recovered %s, expected %s", recovered, signer))
	}
	return nil
}
