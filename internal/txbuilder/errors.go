package txbuilder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// EstimateGasError reports a call the node refused to estimate, usually
// because it reverts. Err keeps the node error so revert data survives
// errors.As.
type EstimateGasError struct {
	From common.Address
	To   common.Address
	Err  error
}

func (e *EstimateGasError) Error() string {
	if e == nil || e.Err == nil {
		return "estimate gas failed"
	}
	return fmt.Sprintf("estimate gas %s -> %s: %v", e.From.Hex(), e.To.Hex(), e.Err)
}

func (e *EstimateGasError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
