package contract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greeterd/internal/chain"
)

type fakeCaller struct {
	out       []byte
	block     uint64
	err       error
	lastTo    common.Address
	lastData  []byte
	lastFrom  common.Address
	submitted int
}

func (f *fakeCaller) Call(ctx context.Context, to common.Address, data []byte) (chain.CallResult, error) {
	f.lastTo = to
	f.lastData = data
	if f.err != nil {
		return chain.CallResult{}, f.err
	}
	return chain.CallResult{Data: f.out, BlockNumber: f.block}, nil
}

func (f *fakeCaller) Submit(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error) {
	f.lastFrom = from
	f.lastTo = to
	f.lastData = data
	f.submitted++
	if f.err != nil {
		return common.Hash{}, f.err
	}
	return common.HexToHash("0xabc"), nil
}

var greeterAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func packGreeting(t *testing.T, s string) []byte {
	t.Helper()
	out, err := GreeterABI().Methods[MethodGreet].Outputs.Pack(s)
	require.NoError(t, err)
	return out
}

func TestGreeterSelectors(t *testing.T) {
	parsed := GreeterABI()
	assert.Equal(t, crypto.Keccak256([]byte("greet()"))[:4], parsed.Methods[MethodGreet].ID)
	assert.Equal(t, crypto.Keccak256([]byte("setGreet(string)"))[:4], parsed.Methods[MethodSetGreet].ID)
	require.NoError(t, ValidateGreeterABI(parsed))
}

func TestGreetDecodesString(t *testing.T) {
	caller := &fakeCaller{out: packGreeting(t, "hello"), block: 42}
	g := NewGreeter(greeterAddr, caller)

	res, err := g.Greet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Value)
	assert.Equal(t, uint64(42), res.BlockNumber)
	assert.Equal(t, greeterAddr, caller.lastTo)
	assert.Equal(t, GreeterABI().Methods[MethodGreet].ID, caller.lastData)
}

func TestGreetDecodeError(t *testing.T) {
	for name, out := range map[string][]byte{
		"empty":     nil,
		"truncated": {0x00, 0x01},
	} {
		t.Run(name, func(t *testing.T) {
			g := NewGreeter(greeterAddr, &fakeCaller{out: out, block: 1})
			_, err := g.Greet(context.Background())
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, MethodGreet, de.Method)
		})
	}
}

func TestReadPassesThroughChainErrors(t *testing.T) {
	netErr := &chain.NetworkError{Op: "eth_call", Err: errors.New("connection refused")}
	g := NewGreeter(greeterAddr, &fakeCaller{err: netErr})
	_, err := g.Greet(context.Background())
	assert.True(t, chain.IsNetworkError(err))
}

func TestSetGreetEncodesCalldata(t *testing.T) {
	caller := &fakeCaller{}
	g := NewGreeter(greeterAddr, caller)
	from := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	hash, err := g.SetGreet(context.Background(), from, "world")
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xabc"), hash)
	assert.Equal(t, from, caller.lastFrom)

	expected, err := GreeterABI().Pack(MethodSetGreet, "world")
	require.NoError(t, err)
	assert.Equal(t, expected, caller.lastData)
}

func TestBindingEncodeErrors(t *testing.T) {
	caller := &fakeCaller{}
	b := NewBinding(ContractRef{Address: greeterAddr, ABI: GreeterABI(), Version: GreeterABIVersion}, caller)
	ctx := context.Background()

	var ee *EncodeError
	_, err := b.Read(ctx, "missing")
	require.ErrorAs(t, err, &ee)

	_, err = b.Read(ctx, MethodSetGreet, "x")
	require.ErrorAs(t, err, &ee)

	_, err = b.Write(ctx, common.Address{}, MethodGreet)
	require.ErrorAs(t, err, &ee)

	_, err = b.Write(ctx, common.Address{}, MethodSetGreet, 12)
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 0, caller.submitted)
}

func TestReadAsTypeMismatch(t *testing.T) {
	b := NewBinding(ContractRef{Address: greeterAddr, ABI: GreeterABI()}, &fakeCaller{out: packGreeting(t, "hi"), block: 3})
	_, err := ReadAs[uint64](context.Background(), b, MethodGreet)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestNewGreeterWithABIRejectsWrongShape(t *testing.T) {
	wrong, err := ParseABI(strings.NewReader(`[
		{"inputs":[],"name":"greet","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"name":"v","type":"string"}],"name":"setGreet","outputs":[],"stateMutability":"nonpayable","type":"function"}
	]`))
	require.NoError(t, err)
	_, err = NewGreeterWithABI(ContractRef{Address: greeterAddr, ABI: wrong, Version: "custom"}, &fakeCaller{})
	require.Error(t, err)

	_, err = NewGreeterWithABI(ContractRef{Address: greeterAddr, ABI: abi.ABI{}, Version: "empty"}, &fakeCaller{})
	require.Error(t, err)
}
