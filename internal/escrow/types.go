package escrow

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/exp/slices"
)

// Status is the coarse lifecycle phase of an escrow.
// pending --fund--> funded --lock--> locked --release/refund--> {released | refunded}
// locked --dispute--> disputed --resolve--> {released | refunded}
// any non-terminal --expire--> expired
type Status string

const (
	StatusPending  Status = "pending"
	StatusFunded   Status = "funded"
	StatusLocked   Status = "locked"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
	StatusDisputed Status = "disputed"
	StatusExpired  Status = "expired"
)

func (s Status) IsTerminal() bool {
	return s == StatusReleased || s == StatusRefunded || s == StatusExpired
}

// State mirrors the finer sub-phases of the lifecycle
type State string

const (
	StateCreated         State = "created"
	StateFunded          State = "funded"
	StateLocked          State = "locked"
	StateReleasePending  State = "release_pending"
	StateReleased        State = "released"
	StateRefunded        State = "refunded"
	StateDisputeOpen     State = "dispute_open"
	StateDisputeResolved State = "dispute_resolved"
	StateExpired         State = "expired"
)

// Action is the fund movement the collected signatures authorize
type Action string

const (
	ActionRelease Action = "release"
	ActionRefund  Action = "refund"
)

type PolicyKind string

const (
	PolicyManual           PolicyKind = "manual"
	PolicyTimeBased        PolicyKind = "time_based"
	PolicyPerformanceBased PolicyKind = "performance_based"
)

// ReleasePolicy configures how an escrow may settle without a full signature
// quorum. Only the field matching Kind is meaningful.
type ReleasePolicy struct {
	Kind                 PolicyKind    `json:"kind"`
	TimeDelay            time.Duration `json:"timeDelay,omitempty"`
	PerformanceThreshold float64       `json:"performanceThreshold,omitempty"`
}

type Signature struct {
	Signer   common.Address `json:"signer"`
	Action   Action         `json:"action"`
	Payload  []byte         `json:"payload"`
	Approved bool           `json:"approved"`
	SignedAt time.Time      `json:"signedAt"`
}

type DisputeOutcome string

const (
	OutcomeRefundFull    DisputeOutcome = "refund_full"
	OutcomeRefundPartial DisputeOutcome = "refund_partial"
	OutcomeNoRefund      DisputeOutcome = "no_refund"
)

// Dispute is the at-most-one open dispute attached to an escrow
type Dispute struct {
	Initiator    common.Address `json:"initiator"`
	Reason       string         `json:"reason"`
	Description  string         `json:"description"`
	Evidence     []string       `json:"evidence,omitempty"`
	Outcome      DisputeOutcome `json:"outcome,omitempty"`
	Resolver     common.Address `json:"resolver,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	RefundAmount int64          `json:"refundAmount,omitempty"`
	OpenedAt     time.Time      `json:"openedAt"`
	ResolvedAt   *time.Time     `json:"resolvedAt,omitempty"`
}

func (d *Dispute) IsOpen() bool {
	return d != nil && d.ResolvedAt == nil
}

// Escrow is a single custody arrangement from creation through terminal
// resolution. Amounts are minor units of Currency, fixed at creation.
type Escrow struct {
	ID string `json:"id"`

	Buyer   common.Address `json:"buyer"`
	Seller  common.Address `json:"seller"`
	Arbiter common.Address `json:"arbiter"`
	Custody common.Address `json:"custody"`

	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Fee         int64  `json:"fee"`
	PayeeAmount int64  `json:"payeeAmount"`

	FundingTxRef string `json:"fundingTxRef,omitempty"`
	SettlementTx string `json:"settlementTx,omitempty"`

	Status Status `json:"status"`
	State  State  `json:"state"`

	Policy             ReleasePolicy `json:"policy"`
	AutoRelease        bool          `json:"autoRelease"`
	RequiredSignatures int           `json:"requiredSignatures"`
	Signatures         []Signature   `json:"signatures,omitempty"`

	// PerformanceMetric is the latest value of the configured performance
	// metric, written by the metric pipeline, read by the release policy
	PerformanceMetric float64 `json:"performanceMetric,omitempty"`

	Dispute *Dispute `json:"dispute,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	FundedAt   *time.Time `json:"fundedAt,omitempty"`
	LockedAt   *time.Time `json:"lockedAt,omitempty"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty"`
	RefundedAt *time.Time `json:"refundedAt,omitempty"`

	Version uint64 `json:"version"`
}

func (e *Escrow) GetID() string {
	return e.ID
}

// TotalSignatures counts distinct approved signers for the action
func (e *Escrow) TotalSignatures(action Action) int {
	seen := make(map[common.Address]struct{})
	for _, sig := range e.Signatures {
		if sig.Approved && sig.Action == action {
			seen[sig.Signer] = struct{}{}
		}
	}
	return len(seen)
}

func (e *Escrow) HasSigned(signer common.Address, action Action) bool {
	for _, sig := range e.Signatures {
		if sig.Approved && sig.Action == action && sig.Signer == signer {
			return true
		}
	}
	return false
}

// SignaturePayloads returns the raw payloads approved for the action, in the
// order they were recorded
func (e *Escrow) SignaturePayloads(action Action) [][]byte {
	var payloads [][]byte
	for _, sig := range e.Signatures {
		if sig.Approved && sig.Action == action {
			payloads = append(payloads, sig.Payload)
		}
	}
	return payloads
}

// IsAuthorizedSigner reports whether the address may sign for this escrow.
// The arbiter is only authorized while a dispute is open.
func (e *Escrow) IsAuthorizedSigner(addr common.Address) bool {
	if addr == e.Buyer || addr == e.Seller {
		return true
	}
	return addr == e.Arbiter && e.Dispute.IsOpen()
}

// IsExpiredWithoutDispute reports whether the expiry deadline passed with no
// open dispute. An open dispute suspends expiry until resolution.
func (e *Escrow) IsExpiredWithoutDispute(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt) && !e.Dispute.IsOpen()
}

// AutoConditionMet evaluates the configured release policy against the
// supplied performance metric value
func (e *Escrow) AutoConditionMet(now time.Time, metric float64) bool {
	switch e.Policy.Kind {
	case PolicyTimeBased:
		if e.LockedAt == nil {
			return false
		}
		return !now.Before(e.LockedAt.Add(e.Policy.TimeDelay)) && !e.Dispute.IsOpen()
	case PolicyPerformanceBased:
		return metric >= e.Policy.PerformanceThreshold
	default:
		return false
	}
}

// CanRelease is true iff the escrow is locked, either the release quorum is
// reached or the auto-release condition holds, and the expiry deadline has
// not passed without a dispute
func (e *Escrow) CanRelease(now time.Time) bool {
	if e.Status != StatusLocked {
		return false
	}
	if e.IsExpiredWithoutDispute(now) {
		return false
	}
	if e.TotalSignatures(ActionRelease) >= e.RequiredSignatures {
		return true
	}
	return e.AutoRelease && e.AutoConditionMet(now, e.PerformanceMetric)
}

// Clone returns a deep copy, used by stores to keep callers from sharing state
func (e *Escrow) Clone() *Escrow {
	c := *e
	c.Signatures = slices.Clone(e.Signatures)
	for i := range c.Signatures {
		c.Signatures[i].Payload = slices.Clone(c.Signatures[i].Payload)
	}
	if e.Dispute != nil {
		d := *e.Dispute
		d.Evidence = slices.Clone(e.Dispute.Evidence)
		if e.Dispute.ResolvedAt != nil {
			t := *e.Dispute.ResolvedAt
			d.ResolvedAt = &t
		}
		c.Dispute = &d
	}
	c.FundedAt = cloneTime(e.FundedAt)
	c.LockedAt = cloneTime(e.LockedAt)
	c.ReleasedAt = cloneTime(e.ReleasedAt)
	c.RefundedAt = cloneTime(e.RefundedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
