package escrow_test

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/tradevault/settlement-router/internal/escrow"
	"github.com/tradevault/settlement-router/internal/lib"
	"github.com/tradevault/settlement-router/internal/repositories/chain"
	"github.com/tradevault/settlement-router/internal/repositories/ledger"
)

type testEnv struct {
	engine  *escrow.Engine
	tracker *escrow.QuorumTracker
	store   *ledger.MemoryStore
	gateway *chain.GatewayMock

	buyerKey   *ecdsa.PrivateKey
	sellerKey  *ecdsa.PrivateKey
	arbiterKey *ecdsa.PrivateKey
	buyer      common.Address
	seller     common.Address
	arbiter    common.Address
	custody    common.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	buyerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sellerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	arbiterKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	custodyKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	store := ledger.NewMemoryStore()
	gateway := chain.NewGatewayMock()
	log := lib.NewTestLogger()

	engine := escrow.NewEngine(store, gateway, nil, escrow.DefaultCurrencyRegistry(), 500, time.Second, log)
	tracker := escrow.NewQuorumTracker(store, engine.Locks(), engine, nil, log)

	return &testEnv{
		engine:     engine,
		tracker:    tracker,
		store:      store,
		gateway:    gateway,
		buyerKey:   buyerKey,
		sellerKey:  sellerKey,
		arbiterKey: arbiterKey,
		buyer:      crypto.PubkeyToAddress(buyerKey.PublicKey),
		seller:     crypto.PubkeyToAddress(sellerKey.PublicKey),
		arbiter:    crypto.PubkeyToAddress(arbiterKey.PublicKey),
		custody:    crypto.PubkeyToAddress(custodyKey.PublicKey),
	}
}

func (env *testEnv) createParams() escrow.CreateParams {
	return escrow.CreateParams{
		Buyer:    env.buyer,
		Seller:   env.seller,
		Arbiter:  env.arbiter,
		Custody:  env.custody,
		Amount:   30000,
		Currency: "USD",
	}
}

// createLocked walks a fresh escrow to the locked state
func (env *testEnv) createLocked(t *testing.T, params escrow.CreateParams) *escrow.Escrow {
	t.Helper()
	ctx := context.Background()

	esc, err := env.engine.Create(ctx, params)
	require.NoError(t, err)

	esc, err = env.engine.Fund(ctx, esc.ID, escrow.FundingProof{TxRef: "0xfund", Amount: params.Amount})
	require.NoError(t, err)

	esc, err = env.engine.Lock(ctx, esc.ID, env.seller)
	require.NoError(t, err)

	return esc
}

// sign produces and submits a party approval for the escrow's current terms
func (env *testEnv) sign(t *testing.T, escrowID string, key *ecdsa.PrivateKey, action escrow.Action) (*escrow.Escrow, error) {
	t.Helper()
	ctx := context.Background()

	esc, err := env.store.GetEscrowByID(ctx, escrowID)
	require.NoError(t, err)

	payload, err := escrow.SignApproval(esc, action, key)
	require.NoError(t, err)

	return env.tracker.AddSignature(ctx, escrowID, crypto.PubkeyToAddress(key.PublicKey), action, payload)
}

func TestCreateComputesFeeSplitOnce(t *testing.T) {
	env := newTestEnv(t)

	esc, err := env.engine.Create(context.Background(), env.createParams())
	require.NoError(t, err)

	// 5% of 300.00 in minor units
	require.Equal(t, int64(30000), esc.Amount)
	require.Equal(t, int64(1500), esc.Fee)
	require.Equal(t, int64(28500), esc.PayeeAmount)
	require.Equal(t, escrow.StatusPending, esc.Status)
	require.Equal(t, escrow.StateCreated, esc.State)
	require.Equal(t, 2, esc.RequiredSignatures)
	require.Equal(t, escrow.PolicyManual, esc.Policy.Kind)
	require.NotEmpty(t, esc.ID)
}

func TestCreateRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	params := env.createParams()
	params.Amount = 0
	_, err := env.engine.Create(ctx, params)
	require.ErrorIs(t, err, escrow.ErrInvalidAmount)

	params = env.createParams()
	params.Amount = -5
	_, err = env.engine.Create(ctx, params)
	require.ErrorIs(t, err, escrow.ErrInvalidAmount)

	params = env.createParams()
	params.Currency = "XYZ"
	_, err = env.engine.Create(ctx, params)
	require.ErrorIs(t, err, escrow.ErrUnsupportedCurrency)
}

func TestFund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	esc, err := env.engine.Create(ctx, env.createParams())
	require.NoError(t, err)

	// amount mismatch leaves the escrow pending
	_, err = env.engine.Fund(ctx, esc.ID, escrow.FundingProof{TxRef: "0xfund", Amount: 29999})
	require.ErrorIs(t, err, escrow.ErrFundingMismatch)

	funded, err := env.engine.Fund(ctx, esc.ID, escrow.FundingProof{TxRef: "0xfund", Amount: 30000})
	require.NoError(t, err)
	require.Equal(t, escrow.StatusFunded, funded.Status)
	require.Equal(t, "0xfund", funded.FundingTxRef)

	// double funding is an invalid transition
	_, err = env.engine.Fund(ctx, esc.ID, escrow.FundingProof{TxRef: "0xfund2", Amount: 30000})
	require.ErrorIs(t, err, escrow.ErrInvalidStateTransition)
}

func TestLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	esc, err := env.engine.Create(ctx, env.createParams())
	require.NoError(t, err)

	// cannot lock before funding
	_, err = env.engine.Lock(ctx, esc.ID, env.seller)
	require.ErrorIs(t, err, escrow.ErrInvalidStateTransition)

	_, err = env.engine.Fund(ctx, esc.ID, escrow.FundingProof{TxRef: "0xfund", Amount: 30000})
	require.NoError(t, err)

	// only the seller may lock
	_, err = env.engine.Lock(ctx, esc.ID, env.buyer)
	require.ErrorIs(t, err, escrow.ErrUnauthorized)

	locked, err := env.engine.Lock(ctx, esc.ID, env.seller)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusLocked, locked.Status)
	require.NotNil(t, locked.LockedAt)
}

func TestReleaseViaQuorum(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createLocked(t, env.createParams())

	// first signature does not settle
	signed, err := env.sign(t, esc.ID, env.buyerKey, escrow.ActionRelease)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusLocked, signed.Status)
	require.Equal(t, int32(0), env.gateway.ReleaseCalled.Load())

	// second signature reaches the quorum and settles
	released, err := env.sign(t, esc.ID, env.sellerKey, escrow.ActionRelease)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusReleased, released.Status)
	require.Equal(t, int32(1), env.gateway.ReleaseCalled.Load())
	require.NotEmpty(t, released.SettlementTx)
	require.NotNil(t, released.ReleasedAt)
}

func TestReleaseIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createLocked(t, env.createParams())

	_, err := env.sign(t, esc.ID, env.buyerKey, escrow.ActionRelease)
	require.NoError(t, err)
	_, err = env.sign(t, esc.ID, env.sellerKey, escrow.ActionRelease)
	require.NoError(t, err)

	// releasing an already released escrow is a no-op success
	again, err := env.engine.Release(context.Background(), esc.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusReleased, again.Status)
	require.Equal(t, int32(1), env.gateway.ReleaseCalled.Load(), "gateway must be called exactly once")
}

func TestReleaseWithoutQuorum(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createLocked(t, env.createParams())

	_, err := env.engine.Release(context.Background(), esc.ID)
	require.ErrorIs(t, err, escrow.ErrInvalidStateTransition)
	require.Equal(t, int32(0), env.gateway.ReleaseCalled.Load())
}

func TestRefundViaQuorum(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createLocked(t, env.createParams())

	_, err := env.sign(t, esc.ID, env.buyerKey, escrow.ActionRefund)
	require.NoError(t, err)
	refunded, err := env.sign(t, esc.ID, env.sellerKey, escrow.ActionRefund)
	require.NoError(t, err)

	require.Equal(t, escrow.StatusRefunded, refunded.Status)
	require.Equal(t, int32(1), env.gateway.RefundCalled.Load())
}

func TestSettlementFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createLocked(t, env.createParams())

	env.gateway.ReleaseErr = context.DeadlineExceeded

	_, err := env.sign(t, esc.ID, env.buyerKey, escrow.ActionRelease)
	require.NoError(t, err)
	_, err = env.sign(t, esc.ID, env.sellerKey, escrow.ActionRelease)
	require.ErrorIs(t, err, escrow.ErrSettlementFailed)

	// no partial mutation: the escrow is still locked with both signatures
	stored, err := env.store.GetEscrowByID(context.Background(), esc.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusLocked, stored.Status)
	require.Equal(t, escrow.StateLocked, stored.State)
	require.Empty(t, stored.SettlementTx)
	require.Equal(t, 2, stored.TotalSignatures(escrow.ActionRelease))

	// gateway recovers, a plain retry settles
	env.gateway.ReleaseErr = nil
	released, err := env.engine.Release(context.Background(), esc.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusReleased, released.Status)
}

func TestDisputeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	esc := env.createLocked(t, env.createParams())

	// only a party may open
	outsider := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	_, err := env.engine.OpenDispute(ctx, esc.ID, outsider, "not delivered", "")
	require.ErrorIs(t, err, escrow.ErrUnauthorized)

	disputed, err := env.engine.OpenDispute(ctx, esc.ID, env.buyer, "not delivered", "order never arrived")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusDisputed, disputed.Status)
	require.True(t, disputed.Dispute.IsOpen())

	// at most one open dispute
	_, err = env.engine.OpenDispute(ctx, esc.ID, env.seller, "counter", "")
	require.ErrorIs(t, err, escrow.ErrDisputeAlreadyOpen)

	// no further lifecycle transitions while disputed
	_, err = env.engine.Lock(ctx, esc.ID, env.seller)
	require.ErrorIs(t, err, escrow.ErrInvalidStateTransition)

	resolved, err := env.engine.ResolveDispute(ctx, esc.ID, env.arbiter, escrow.OutcomeRefundFull, "buyer is right", 0)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusRefunded, resolved.Status)
	require.False(t, resolved.Dispute.IsOpen())
	require.Equal(t, int32(1), env.gateway.RefundCalled.Load())

	// no second resolution
	_, err = env.engine.ResolveDispute(ctx, esc.ID, env.arbiter, escrow.OutcomeNoRefund, "", 0)
	require.ErrorIs(t, err, escrow.ErrNoOpenDispute)
}

func TestResolveNoRefundReleasesToSeller(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	esc := env.createLocked(t, env.createParams())

	_, err := env.engine.OpenDispute(ctx, esc.ID, env.seller, "payment ok", "")
	require.NoError(t, err)

	resolved, err := env.engine.ResolveDispute(ctx, esc.ID, env.arbiter, escrow.OutcomeNoRefund, "", 0)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusReleased, resolved.Status)
	require.Equal(t, int32(1), env.gateway.ReleaseCalled.Load())
}

func TestResolveFailureKeepsDisputeOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	esc := env.createLocked(t, env.createParams())

	_, err := env.engine.OpenDispute(ctx, esc.ID, env.buyer, "not delivered", "")
	require.NoError(t, err)

	env.gateway.RefundErr = context.DeadlineExceeded
	_, err = env.engine.ResolveDispute(ctx, esc.ID, env.arbiter, escrow.OutcomeRefundFull, "", 0)
	require.ErrorIs(t, err, escrow.ErrSettlementFailed)

	// the stored record still carries the open dispute, resolution is retryable
	stored, err := env.store.GetEscrowByID(ctx, esc.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusDisputed, stored.Status)
	require.True(t, stored.Dispute.IsOpen())

	env.gateway.RefundErr = nil
	resolved, err := env.engine.ResolveDispute(ctx, esc.ID, env.arbiter, escrow.OutcomeRefundFull, "", 0)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusRefunded, resolved.Status)
}

func TestPartialRefundAmount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	esc := env.createLocked(t, env.createParams())

	_, err := env.engine.OpenDispute(ctx, esc.ID, env.buyer, "partially delivered", "")
	require.NoError(t, err)

	resolved, err := env.engine.ResolveDispute(ctx, esc.ID, env.arbiter, escrow.OutcomeRefundPartial, "", 10000)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusRefunded, resolved.Status)
	require.Equal(t, int64(10000), resolved.Dispute.RefundAmount)
}

func TestExpire(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	start := time.Now()
	env.engine.SetNowFunc(func() time.Time { return start })

	params := env.createParams()
	params.ExpiresAt = start.Add(time.Hour)
	esc, err := env.engine.Create(ctx, params)
	require.NoError(t, err)

	// not yet overdue
	_, err = env.engine.Expire(ctx, esc.ID)
	require.ErrorIs(t, err, escrow.ErrInvalidStateTransition)

	env.engine.SetNowFunc(func() time.Time { return start.Add(2 * time.Hour) })

	expired, err := env.engine.Expire(ctx, esc.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusExpired, expired.Status)

	// terminal escrow: re-expiry is a no-op
	again, err := env.engine.Expire(ctx, esc.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusExpired, again.Status)
}

func TestOpenDisputeSuspendsExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	start := time.Now()
	env.engine.SetNowFunc(func() time.Time { return start })

	params := env.createParams()
	params.ExpiresAt = start.Add(time.Hour)
	esc := env.createLocked(t, params)

	_, err := env.engine.OpenDispute(ctx, esc.ID, env.buyer, "not delivered", "")
	require.NoError(t, err)

	env.engine.SetNowFunc(func() time.Time { return start.Add(2 * time.Hour) })

	_, err = env.engine.Expire(ctx, esc.ID)
	require.ErrorIs(t, err, escrow.ErrInvalidStateTransition)
}
