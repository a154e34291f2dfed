package contract

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	MethodGreet    = "greet"
	MethodSetGreet = "setGreet"

	GreeterABIVersion = "greeter/v1"
)

//go:embed greeter.abi.json
var greeterABIJSON string

// GreeterABI returns the embedded Greeter interface descriptor.
func GreeterABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(greeterABIJSON))
	if err != nil {
		panic(fmt.Sprintf("embedded greeter abi: %v", err))
	}
	return parsed
}

// ValidateGreeterABI checks that parsed exposes greet() view returns (string)
// and setGreet(string).
func ValidateGreeterABI(parsed abi.ABI) error {
	greet, ok := parsed.Methods[MethodGreet]
	if !ok {
		return errors.New("abi has no greet method")
	}
	if !greet.IsConstant() || len(greet.Inputs) != 0 || len(greet.Outputs) != 1 || greet.Outputs[0].Type.T != abi.StringTy {
		return errors.New("greet must be a view method with no inputs returning string")
	}
	set, ok := parsed.Methods[MethodSetGreet]
	if !ok {
		return errors.New("abi has no setGreet method")
	}
	if set.IsConstant() || len(set.Inputs) != 1 || set.Inputs[0].Type.T != abi.StringTy {
		return errors.New("setGreet must be a state-changing method taking one string")
	}
	return nil
}

// Greeter is the typed binding for the Greeter contract.
type Greeter struct {
	binding *Binding
}

func NewGreeter(address common.Address, caller Caller) *Greeter {
	ref := ContractRef{Address: address, ABI: GreeterABI(), Version: GreeterABIVersion}
	return &Greeter{binding: NewBinding(ref, caller)}
}

// NewGreeterWithABI binds a caller-supplied descriptor, e.g. one loaded from
// contract.abi_path, after checking it has the Greeter shape.
func NewGreeterWithABI(ref ContractRef, caller Caller) (*Greeter, error) {
	if err := ValidateGreeterABI(ref.ABI); err != nil {
		return nil, fmt.Errorf("abi %s: %w", ref.Version, err)
	}
	return &Greeter{binding: NewBinding(ref, caller)}, nil
}

func (g *Greeter) Address() common.Address { return g.binding.Ref().Address }

func (g *Greeter) Greet(ctx context.Context) (ReadResult[string], error) {
	return ReadAs[string](ctx, g.binding, MethodGreet)
}

func (g *Greeter) SetGreet(ctx context.Context, from common.Address, value string) (common.Hash, error) {
	return g.binding.Write(ctx, from, MethodSetGreet, value)
}
