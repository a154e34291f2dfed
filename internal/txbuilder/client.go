package txbuilder

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NonceSource reports the next nonce the node expects from an account,
// counting transactions still in its pool.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// FeeSource feeds the fee oracle: the latest header for the base fee, plus
// the node's tip and legacy price suggestions.
type FeeSource interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type GasEstimator interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// ChainClient is everything AutoBuilder resolves against the node.
// *ethclient.Client satisfies it.
type ChainClient interface {
	NonceSource
	FeeSource
	GasEstimator
}
