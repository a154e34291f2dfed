package txbuilder

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type FeeParams struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

type BuildParams struct {
	Nonce    uint64
	GasLimit uint64
	Fee      FeeParams
}

type Builder struct {
	ChainID *big.Int
}

func NewBuilder(chainID *big.Int) *Builder {
	if chainID == nil {
		chainID = big.NewInt(0)
	}
	return &Builder{ChainID: new(big.Int).Set(chainID)}
}

// BuildCallTx builds an unsigned dynamic fee transaction calling to with the
// given ABI-encoded calldata.
func (b *Builder) BuildCallTx(to common.Address, value *big.Int, data []byte, p BuildParams) (*types.Transaction, error) {
	if len(data) < 4 {
		return nil, errors.New("calldata must include a 4-byte selector")
	}
	if value == nil {
		value = big.NewInt(0)
	}
	return buildDynamicTx(b.ChainID, to, value, data, p)
}

func buildDynamicTx(chainID *big.Int, to common.Address, value *big.Int, data []byte, p BuildParams) (*types.Transaction, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errors.New("chainID is required")
	}
	if value == nil {
		return nil, errors.New("value is required")
	}
	if p.GasLimit == 0 {
		return nil, errors.New("gasLimit is required")
	}
	if p.Fee.MaxFeePerGas == nil || p.Fee.MaxPriorityFeePerGas == nil {
		return nil, errors.New("maxFeePerGas and maxPriorityFeePerGas are required")
	}
	if p.Fee.MaxFeePerGas.Sign() < 0 || p.Fee.MaxPriorityFeePerGas.Sign() < 0 {
		return nil, errors.New("fee values must be non-negative")
	}
	if p.Fee.MaxFeePerGas.Cmp(p.Fee.MaxPriorityFeePerGas) < 0 {
		return nil, errors.New("maxFeePerGas must be >= maxPriorityFeePerGas")
	}
	if value.Sign() < 0 {
		return nil, errors.New("value must be non-negative")
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     p.Nonce,
		Gas:       p.GasLimit,
		GasFeeCap: p.Fee.MaxFeePerGas,
		GasTipCap: p.Fee.MaxPriorityFeePerGas,
		To:        &to,
		Value:     value,
		Data:      common.CopyBytes(data),
	}), nil
}
