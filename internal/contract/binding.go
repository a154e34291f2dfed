// Package contract binds an ABI descriptor and address to a chain client.
package contract

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"greeterd/internal/chain"
)

// Caller is satisfied by *chain.Client.
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte) (chain.CallResult, error)
	Submit(ctx context.Context, from common.Address, to common.Address, data []byte) (common.Hash, error)
}

// ContractRef is an immutable address plus interface descriptor.
type ContractRef struct {
	Address common.Address
	ABI     abi.ABI
	Version string
}

// ReadResult is a decoded value and the block height it was observed at.
// Results for the same call are ordered by height only; heights are not
// monotonic across reorgs.
type ReadResult[T any] struct {
	Value       T
	BlockNumber uint64
}

type Binding struct {
	ref    ContractRef
	caller Caller
}

func NewBinding(ref ContractRef, caller Caller) *Binding {
	return &Binding{ref: ref, caller: caller}
}

func (b *Binding) Ref() ContractRef { return b.ref }

// Read packs args, performs a read-only call and unpacks the outputs.
func (b *Binding) Read(ctx context.Context, method string, args ...interface{}) (ReadResult[[]interface{}], error) {
	m, ok := b.ref.ABI.Methods[method]
	if !ok {
		return ReadResult[[]interface{}]{}, &EncodeError{Method: method, Err: fmt.Errorf("method not in ABI %s", b.ref.Version)}
	}
	if !m.IsConstant() {
		return ReadResult[[]interface{}]{}, &EncodeError{Method: method, Err: fmt.Errorf("method is not read-only")}
	}
	data, err := b.ref.ABI.Pack(method, args...)
	if err != nil {
		return ReadResult[[]interface{}]{}, &EncodeError{Method: method, Err: err}
	}
	res, err := b.caller.Call(ctx, b.ref.Address, data)
	if err != nil {
		return ReadResult[[]interface{}]{}, err
	}
	values, err := b.ref.ABI.Unpack(method, res.Data)
	if err != nil {
		return ReadResult[[]interface{}]{}, &DecodeError{Method: method, Data: res.Data, Err: err}
	}
	return ReadResult[[]interface{}]{Value: values, BlockNumber: res.BlockNumber}, nil
}

// Write packs args and submits a transaction from the given account.
func (b *Binding) Write(ctx context.Context, from common.Address, method string, args ...interface{}) (common.Hash, error) {
	m, ok := b.ref.ABI.Methods[method]
	if !ok {
		return common.Hash{}, &EncodeError{Method: method, Err: fmt.Errorf("method not in ABI %s", b.ref.Version)}
	}
	if m.IsConstant() {
		return common.Hash{}, &EncodeError{Method: method, Err: fmt.Errorf("method is read-only")}
	}
	data, err := b.ref.ABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, &EncodeError{Method: method, Err: err}
	}
	return b.caller.Submit(ctx, from, b.ref.Address, data)
}

// ReadAs reads a single-output method and asserts its Go type.
func ReadAs[T any](ctx context.Context, b *Binding, method string, args ...interface{}) (ReadResult[T], error) {
	res, err := b.Read(ctx, method, args...)
	if err != nil {
		return ReadResult[T]{}, err
	}
	if len(res.Value) != 1 {
		return ReadResult[T]{}, &DecodeError{Method: method, Err: fmt.Errorf("expected 1 output, got %d", len(res.Value))}
	}
	v, ok := res.Value[0].(T)
	if !ok {
		var zero T
		return ReadResult[T]{}, &DecodeError{Method: method, Err: fmt.Errorf("output is %T, want %T", res.Value[0], zero)}
	}
	return ReadResult[T]{Value: v, BlockNumber: res.BlockNumber}, nil
}

func ParseABI(r io.Reader) (abi.ABI, error) {
	return abi.JSON(r)
}

func LoadABI(path string) (abi.ABI, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, err
	}
	return abi.JSON(strings.NewReader(string(b)))
}
