package chain

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrRejectedByUser means the wallet declined to sign.
	ErrRejectedByUser = errors.New("transaction rejected by signer")
	// ErrInsufficientFunds means the sender cannot cover gas * price + value.
	ErrInsufficientFunds = errors.New("insufficient funds for transaction")
	// ErrUnknownTransaction means the node has neither a receipt nor the
	// transaction itself.
	ErrUnknownTransaction = errors.New("transaction unknown to node")
)

// NetworkError is a transient transport failure; callers may retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e == nil || e.Err == nil {
		return "network error"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RevertError is an execution failure reported by the EVM. Reason is the
// decoded Error(string) payload when the contract supplied one.
type RevertError struct {
	Reason string
	Data   []byte
	Err    error
}

func (e *RevertError) Error() string {
	if e == nil {
		return "execution reverted"
	}
	if e.Reason != "" {
		return "execution reverted: " + e.Reason
	}
	return "execution reverted"
}

func (e *RevertError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

func IsRevert(err error) bool {
	var re *RevertError
	return errors.As(err, &re)
}

// classify maps raw node errors onto the client error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRejectedByUser) || errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrUnknownTransaction) {
		return err
	}
	var re *RevertError
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Op: op, Err: err}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "insufficient funds") {
		return errors.Join(ErrInsufficientFunds, err)
	}
	if isRevert(err, msg) {
		return newRevertError(err)
	}
	return &NetworkError{Op: op, Err: err}
}

// revertCode is the JSON-RPC error code geth uses for execution reverts.
const revertCode = 3

func isRevert(err error, msg string) bool {
	var ce rpc.Error
	if errors.As(err, &ce) && ce.ErrorCode() == revertCode {
		return true
	}
	return strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "vm exception while processing transaction")
}

func newRevertError(err error) *RevertError {
	re := &RevertError{Err: err}
	var de rpc.DataError
	if !errors.As(err, &de) {
		return re
	}
	hexData, ok := de.ErrorData().(string)
	if !ok {
		return re
	}
	data, derr := hexutil.Decode(hexData)
	if derr != nil {
		return re
	}
	re.Data = data
	if reason, uerr := abi.UnpackRevert(data); uerr == nil {
		re.Reason = reason
	}
	return re
}
