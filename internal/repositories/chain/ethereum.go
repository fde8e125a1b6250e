// Package chain implements the signing & broadcast gateway against an
// ethereum-compatible node holding the custody (multisig) contracts.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/tradevault/settlement-router/internal/escrow"
	"github.com/tradevault/settlement-router/internal/interfaces"
	"github.com/tradevault/settlement-router/internal/lib"
)

// custodyABI is the settlement surface of the custody wallet contract: both
// methods verify the supplied party signatures on-chain before moving funds.
const custodyABI = `[
	{"name":"release","type":"function","inputs":[
		{"name":"payee","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"currency","type":"string"},
		{"name":"signatures","type":"bytes[]"}
	],"outputs":[]},
	{"name":"refund","type":"function","inputs":[
		{"name":"payer","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"currency","type":"string"},
		{"name":"signatures","type":"bytes[]"}
	],"outputs":[]}
]`

// EthereumGateway executes release/refund transfers by calling the custody
// contract. Any failure is surfaced as-is and treated as retryable by the
// escrow engine.
type EthereumGateway struct {
	// config
	legacyTx bool // use legacy transaction fee, for local node testing
	privKey  string

	// state
	nonce uint64
	mutex sync.Mutex

	// deps
	client     *ethclient.Client
	custodyABI *abi.ABI
	log        interfaces.ILogger
}

func NewEthereumGateway(client *ethclient.Client, privKey string, log interfaces.ILogger) *EthereumGateway {
	parsed, err := abi.JSON(strings.NewReader(custodyABI))
	if err != nil {
		panic("invalid custody ABI: " + err.Error())
	}

	return &EthereumGateway{
		privKey:    privKey,
		client:     client,
		custodyABI: &parsed,
		log:        log,
	}
}

func (g *EthereumGateway) SetLegacyTx(legacyTx bool) {
	g.legacyTx = legacyTx
}

func (g *EthereumGateway) Release(ctx context.Context, custody, payee common.Address, amount int64, currency string, signatures [][]byte) (*escrow.Receipt, error) {
	return g.settle(ctx, "release", custody, payee, amount, currency, signatures)
}

func (g *EthereumGateway) Refund(ctx context.Context, custody, payer common.Address, amount int64, currency string, signatures [][]byte) (*escrow.Receipt, error) {
	return g.settle(ctx, "refund", custody, payer, amount, currency, signatures)
}

func (g *EthereumGateway) settle(ctx context.Context, method string, custody, target common.Address, amount int64, currency string, signatures [][]byte) (*escrow.Receipt, error) {
	calldata, err := g.custodyABI.Pack(method, target, big.NewInt(amount), currency, signatures)
	if err != nil {
		return nil, lib.WrapError(fmt.Errorf("packing %s calldata", method), err)
	}

	tx, err := g.sendTransaction(ctx, custody, calldata)
	if err != nil {
		return nil, err
	}

	receipt, err := bind.WaitMined(ctx, g.client, tx)
	if err != nil {
		return nil, lib.WrapError(fmt.Errorf("waiting for %s transaction", method), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s transaction %s reverted", method, tx.Hash())
	}

	g.log.Infof("%s executed, custody %s, tx %s, block %d", method, custody, tx.Hash(), receipt.BlockNumber.Uint64())

	return &escrow.Receipt{
		TxHash:   tx.Hash().Hex(),
		BlockRef: receipt.BlockNumber.Uint64(),
	}, nil
}

func (g *EthereumGateway) sendTransaction(ctx context.Context, to common.Address, calldata []byte) (*types.Transaction, error) {
	privateKey, err := crypto.HexToECDSA(g.privKey)
	if err != nil {
		return nil, err
	}

	chainID, err := g.client.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	fromAddr, err := lib.PrivKeyToAddr(privateKey)
	if err != nil {
		return nil, err
	}

	nonce, err := g.getNonce(ctx, fromAddr)
	if err != nil {
		return nil, err
	}

	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	gasLimit, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     fromAddr,
		To:       &to,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	if err != nil {
		return nil, err
	}

	var tx *types.Transaction
	if g.legacyTx {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Gas:      gasLimit,
			GasPrice: gasPrice,
			Data:     calldata,
		})
	} else {
		tipCap, err := g.client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, err
		}
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			To:        &to,
			Gas:       gasLimit,
			GasFeeCap: gasPrice,
			GasTipCap: tipCap,
			Data:      calldata,
		})
	}

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), privateKey)
	if err != nil {
		return nil, err
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, err
	}

	return signedTx, nil
}

func (g *EthereumGateway) getNonce(ctx context.Context, from common.Address) (uint64, error) {
	// keeps a local high-water mark so queued transactions do not reuse a
	// pending nonce
	g.mutex.Lock()
	defer g.mutex.Unlock()

	blockchainNonce, err := g.client.PendingNonceAt(ctx, from)
	if err != nil {
		return 0, err
	}

	nonce := blockchainNonce
	if g.nonce > blockchainNonce {
		nonce = g.nonce
	}
	g.nonce = nonce + 1

	return nonce, nil
}
