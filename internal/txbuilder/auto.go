package txbuilder

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type AutoBuilderConfig struct {
	GasLimitMultiplier float64
}

// AutoBuilder resolves nonce, fees and gas against the node for every build.
type AutoBuilder struct {
	builder *Builder
	client  ChainClient
	oracle  *FeeOracle
	cfg     AutoBuilderConfig
	nonce   NonceProvider
}

func NewAutoBuilder(builder *Builder, client ChainClient, oracle *FeeOracle, cfg AutoBuilderConfig) *AutoBuilder {
	if cfg.GasLimitMultiplier <= 0 {
		cfg.GasLimitMultiplier = 1.2
	}
	return &AutoBuilder{builder: builder, client: client, oracle: oracle, cfg: cfg}
}

func (a *AutoBuilder) SetNonceProvider(provider NonceProvider) {
	a.nonce = provider
}

// Start runs the fee oracle refresh loop in the background until ctx is done.
func (a *AutoBuilder) Start(ctx context.Context) {
	if a.oracle == nil {
		return
	}
	go a.oracle.Start(ctx)
}

func (a *AutoBuilder) BuildCallTx(ctx context.Context, from common.Address, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	if a.builder == nil || a.client == nil {
		return nil, errors.New("builder and client are required")
	}
	if value == nil {
		value = big.NewInt(0)
	}
	fees, err := a.fees(ctx)
	if err != nil {
		return nil, err
	}
	// Estimate before taking a nonce so a reverting call does not burn one.
	gasLimit, err := a.estimateGas(ctx, from, to, value, data, fees)
	if err != nil {
		return nil, err
	}
	nonce, err := a.nextNonce(ctx, from)
	if err != nil {
		return nil, err
	}
	return a.builder.BuildCallTx(to, value, data, BuildParams{
		Nonce:    nonce,
		GasLimit: gasLimit,
		Fee:      fees,
	})
}

func (a *AutoBuilder) nextNonce(ctx context.Context, from common.Address) (uint64, error) {
	if a.nonce != nil {
		return a.nonce.Next(ctx, from)
	}
	return a.client.PendingNonceAt(ctx, from)
}

// ResetNonce drops the cached nonce for from; the next build re-reads it from
// the node's pending state.
func (a *AutoBuilder) ResetNonce(from common.Address) {
	if a.nonce != nil {
		a.nonce.Reset(from)
	}
}

func (a *AutoBuilder) ChainID() *big.Int {
	if a.builder == nil || a.builder.ChainID == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.builder.ChainID)
}

func (a *AutoBuilder) fees(ctx context.Context) (FeeParams, error) {
	if a.oracle == nil {
		return FeeParams{}, errors.New("fee oracle is not configured")
	}
	return a.oracle.Fees(ctx)
}

func (a *AutoBuilder) estimateGas(ctx context.Context, from common.Address, to common.Address, value *big.Int, data []byte, fees FeeParams) (uint64, error) {
	msg := ethereum.CallMsg{
		From:      from,
		To:        &to,
		Value:     value,
		Data:      data,
		GasFeeCap: fees.MaxFeePerGas,
		GasTipCap: fees.MaxPriorityFeePerGas,
	}
	gas, err := a.client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, &EstimateGasError{From: from, To: to, Err: err}
	}
	return applyGasMultiplier(gas, a.cfg.GasLimitMultiplier), nil
}

func applyGasMultiplier(gas uint64, mult float64) uint64 {
	if mult <= 0 {
		return gas
	}
	adjusted := uint64(float64(gas) * mult)
	if adjusted < gas {
		return gas
	}
	return adjusted
}

func GweiToWei(gwei float64) (*big.Int, error) {
	if gwei < 0 {
		return nil, errors.New("gwei must be non-negative")
	}
	v := new(big.Rat).SetFloat64(gwei)
	v.Mul(v, new(big.Rat).SetInt(big.NewInt(1_000_000_000)))
	out := new(big.Int)
	out.Div(v.Num(), v.Denom())
	return out, nil
}
