package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/tradevault/settlement-router/internal/escrow"
	"go.uber.org/atomic"
)

// GatewayMock records settlement calls and lets tests inject failures
type GatewayMock struct {
	ReleaseCalled *atomic.Int32
	RefundCalled  *atomic.Int32
	ReleaseErr    error
	RefundErr     error
}

func NewGatewayMock() *GatewayMock {
	return &GatewayMock{
		ReleaseCalled: atomic.NewInt32(0),
		RefundCalled:  atomic.NewInt32(0),
	}
}

func (m *GatewayMock) Release(_ context.Context, custody, payee common.Address, amount int64, currency string, signatures [][]byte) (*escrow.Receipt, error) {
	m.ReleaseCalled.Inc()
	if m.ReleaseErr != nil {
		return nil, m.ReleaseErr
	}
	return &escrow.Receipt{TxHash: fmt.Sprintf("0xrelease-%s", uuid.New().String()[:8]), BlockRef: 1}, nil
}

func (m *GatewayMock) Refund(_ context.Context, custody, payer common.Address, amount int64, currency string, signatures [][]byte) (*escrow.Receipt, error) {
	m.RefundCalled.Inc()
	if m.RefundErr != nil {
		return nil, m.RefundErr
	}
	return &escrow.Receipt{TxHash: fmt.Sprintf("0xrefund-%s", uuid.New().String()[:8]), BlockRef: 1}, nil
}
