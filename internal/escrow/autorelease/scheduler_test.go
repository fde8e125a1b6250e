package autorelease_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/tradevault/settlement-router/internal/escrow"
	"github.com/tradevault/settlement-router/internal/escrow/autorelease"
	"github.com/tradevault/settlement-router/internal/lib"
	"github.com/tradevault/settlement-router/internal/repositories/chain"
	"github.com/tradevault/settlement-router/internal/repositories/ledger"
)

type schedulerEnv struct {
	engine    *autorelease.Scheduler
	escrows   *escrow.Engine
	store     *ledger.MemoryStore
	gateway   *chain.GatewayMock
	buyer     common.Address
	seller    common.Address
	startTime time.Time
}

func newSchedulerEnv(t *testing.T, metrics autorelease.MetricSource) *schedulerEnv {
	t.Helper()

	buyerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sellerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	store := ledger.NewMemoryStore()
	gateway := chain.NewGatewayMock()
	log := lib.NewTestLogger()

	escrows := escrow.NewEngine(store, gateway, nil, escrow.DefaultCurrencyRegistry(), 500, time.Second, log)
	scheduler := autorelease.NewScheduler(store, escrows, metrics, time.Hour, log)

	env := &schedulerEnv{
		engine:    scheduler,
		escrows:   escrows,
		store:     store,
		gateway:   gateway,
		buyer:     crypto.PubkeyToAddress(buyerKey.PublicKey),
		seller:    crypto.PubkeyToAddress(sellerKey.PublicKey),
		startTime: time.Now(),
	}
	env.setNow(env.startTime)
	return env
}

func (env *schedulerEnv) setNow(now time.Time) {
	env.escrows.SetNowFunc(func() time.Time { return now })
	env.engine.SetNowFunc(func() time.Time { return now })
}

func (env *schedulerEnv) createLocked(t *testing.T, policy escrow.ReleasePolicy, autoRelease bool, expiresAt time.Time) *escrow.Escrow {
	t.Helper()
	ctx := context.Background()

	esc, err := env.escrows.Create(ctx, escrow.CreateParams{
		Buyer:       env.buyer,
		Seller:      env.seller,
		Custody:     common.HexToAddress("0x00000000000000000000000000000000000000cc"),
		Amount:      30000,
		Currency:    "USD",
		Policy:      policy,
		AutoRelease: autoRelease,
		ExpiresAt:   expiresAt,
	})
	require.NoError(t, err)

	_, err = env.escrows.Fund(ctx, esc.ID, escrow.FundingProof{TxRef: "0xfund", Amount: 30000})
	require.NoError(t, err)
	locked, err := env.escrows.Lock(ctx, esc.ID, env.seller)
	require.NoError(t, err)

	return locked
}

func (env *schedulerEnv) status(t *testing.T, id string) escrow.Status {
	t.Helper()
	esc, err := env.store.GetEscrowByID(context.Background(), id)
	require.NoError(t, err)
	return esc.Status
}

func TestTimeBasedAutoRelease(t *testing.T) {
	env := newSchedulerEnv(t, nil)

	policy := escrow.ReleasePolicy{Kind: escrow.PolicyTimeBased, TimeDelay: 24 * time.Hour}
	esc := env.createLocked(t, policy, true, time.Time{})

	// before the delay elapses nothing happens
	env.setNow(env.startTime.Add(23 * time.Hour))
	env.engine.Tick()
	require.Equal(t, escrow.StatusLocked, env.status(t, esc.ID))
	require.Equal(t, int32(0), env.gateway.ReleaseCalled.Load())

	// past the delay the escrow is released without any signatures
	env.setNow(env.startTime.Add(25 * time.Hour))
	env.engine.Tick()
	require.Equal(t, escrow.StatusReleased, env.status(t, esc.ID))
	require.Equal(t, int32(1), env.gateway.ReleaseCalled.Load())
}

func TestTickIsIdempotent(t *testing.T) {
	env := newSchedulerEnv(t, nil)

	policy := escrow.ReleasePolicy{Kind: escrow.PolicyTimeBased, TimeDelay: time.Hour}
	esc := env.createLocked(t, policy, true, time.Time{})

	env.setNow(env.startTime.Add(2 * time.Hour))
	env.engine.Tick()
	env.engine.Tick()

	require.Equal(t, escrow.StatusReleased, env.status(t, esc.ID))
	require.Equal(t, int32(1), env.gateway.ReleaseCalled.Load(), "a released escrow must not settle twice")
}

func TestManualPolicyIgnored(t *testing.T) {
	env := newSchedulerEnv(t, nil)

	esc := env.createLocked(t, escrow.ReleasePolicy{Kind: escrow.PolicyManual}, true, time.Time{})

	env.setNow(env.startTime.Add(100 * time.Hour))
	env.engine.Tick()
	require.Equal(t, escrow.StatusLocked, env.status(t, esc.ID))
}

type stubMetricSource struct {
	value float64
}

func (s *stubMetricSource) Metric(_ context.Context, _ *escrow.Escrow) (float64, error) {
	return s.value, nil
}

func TestPerformanceBasedAutoRelease(t *testing.T) {
	metrics := &stubMetricSource{value: 0.90}
	env := newSchedulerEnv(t, metrics)

	policy := escrow.ReleasePolicy{Kind: escrow.PolicyPerformanceBased, PerformanceThreshold: 0.95}
	esc := env.createLocked(t, policy, true, time.Time{})

	// below the threshold
	env.engine.Tick()
	require.Equal(t, escrow.StatusLocked, env.status(t, esc.ID))

	// threshold reached
	metrics.value = 0.97
	env.engine.Tick()
	require.Equal(t, escrow.StatusReleased, env.status(t, esc.ID))
}

func TestFailureDoesNotAbortBatch(t *testing.T) {
	env := newSchedulerEnv(t, nil)

	policy := escrow.ReleasePolicy{Kind: escrow.PolicyTimeBased, TimeDelay: time.Hour}
	first := env.createLocked(t, policy, true, time.Time{})
	second := env.createLocked(t, policy, true, time.Time{})

	env.setNow(env.startTime.Add(2 * time.Hour))

	// every candidate is attempted even when settlement fails
	env.gateway.ReleaseErr = context.DeadlineExceeded
	env.engine.Tick()
	require.Equal(t, int32(2), env.gateway.ReleaseCalled.Load())
	require.Equal(t, escrow.StatusLocked, env.status(t, first.ID))
	require.Equal(t, escrow.StatusLocked, env.status(t, second.ID))

	// the next tick retries and settles
	env.gateway.ReleaseErr = nil
	env.engine.Tick()
	require.Equal(t, escrow.StatusReleased, env.status(t, first.ID))
	require.Equal(t, escrow.StatusReleased, env.status(t, second.ID))
}

func TestExpirySweep(t *testing.T) {
	env := newSchedulerEnv(t, nil)

	expiresAt := env.startTime.Add(time.Hour)
	esc := env.createLocked(t, escrow.ReleasePolicy{Kind: escrow.PolicyManual}, false, expiresAt)

	env.setNow(env.startTime.Add(2 * time.Hour))
	env.engine.Tick()
	require.Equal(t, escrow.StatusExpired, env.status(t, esc.ID))
}

func TestExpirySweepSkipsOpenDispute(t *testing.T) {
	env := newSchedulerEnv(t, nil)

	expiresAt := env.startTime.Add(time.Hour)
	esc := env.createLocked(t, escrow.ReleasePolicy{Kind: escrow.PolicyManual}, false, expiresAt)

	_, err := env.escrows.OpenDispute(context.Background(), esc.ID, env.buyer, "not delivered", "")
	require.NoError(t, err)

	env.setNow(env.startTime.Add(2 * time.Hour))
	env.engine.Tick()
	require.Equal(t, escrow.StatusDisputed, env.status(t, esc.ID), "an open dispute suspends expiry")
}

func TestRunStopsOnCancel(t *testing.T) {
	env := newSchedulerEnv(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- env.engine.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
