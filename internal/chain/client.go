package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"

	"greeterd/internal/txbuilder"
)

// Backend is the subset of ethclient.Client used by the chain client.
type Backend interface {
	txbuilder.ChainClient
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// TxBuilder is satisfied by *txbuilder.AutoBuilder.
type TxBuilder interface {
	BuildCallTx(ctx context.Context, from common.Address, to common.Address, value *big.Int, data []byte) (*types.Transaction, error)
	ResetNonce(from common.Address)
	ChainID() *big.Int
}

// Signer is the wallet session's signing channel.
type Signer interface {
	SignTx(from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

type Options struct {
	ReadTimeout    time.Duration
	ReadsPerSecond float64
	ReadBurst      int
	Logger         *slog.Logger
}

// CallResult is raw return data together with the block it was read at.
type CallResult struct {
	Data        []byte
	BlockNumber uint64
}

// Client exposes read, submit and receipt primitives over a node connection.
// It never retries; callers decide. Read-side calls share one rate limiter so
// concurrent receipt pollers cannot flood the node.
type Client struct {
	backend     Backend
	builder     TxBuilder
	signer      Signer
	limiter     *rate.Limiter
	readTimeout time.Duration
	logger      *slog.Logger
}

func NewClient(backend Backend, builder TxBuilder, signer Signer, opts Options) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.ReadsPerSecond > 0 {
		burst := opts.ReadBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.ReadsPerSecond), burst)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		backend:     backend,
		builder:     builder,
		signer:      signer,
		limiter:     limiter,
		readTimeout: opts.ReadTimeout,
		logger:      logger,
	}
}

// Call executes a read-only call against the current head and reports which
// block the result belongs to.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) (CallResult, error) {
	ctx, cancel := withTimeout(ctx, c.readTimeout)
	defer cancel()
	if err := c.waitRead(ctx, "eth_call"); err != nil {
		return CallResult{}, err
	}
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return CallResult{}, classify("eth_blockNumber", err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, new(big.Int).SetUint64(head))
	if err != nil {
		return CallResult{}, classify("eth_call", err)
	}
	return CallResult{Data: out, BlockNumber: head}, nil
}

// Submit builds, signs and broadcasts a call to `to` from `from`. The cached
// nonce for from is dropped on any failure. Signer errors pass through
// unchanged, so only a signer that declines reports ErrRejectedByUser.
func (c *Client) Submit(ctx context.Context, from common.Address, to common.Address, data []byte) (common.Hash, error) {
	if c.builder == nil || c.signer == nil {
		return common.Hash{}, errors.New("chain client has no builder or signer")
	}
	tx, err := c.builder.BuildCallTx(ctx, from, to, big.NewInt(0), data)
	if err != nil {
		c.builder.ResetNonce(from)
		return common.Hash{}, classify("build tx", err)
	}
	signed, err := c.signer.SignTx(from, tx, c.builder.ChainID())
	if err != nil {
		c.builder.ResetNonce(from)
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		c.builder.ResetNonce(from)
		return common.Hash{}, classify("eth_sendRawTransaction", err)
	}
	c.logger.Debug("transaction sent",
		"hash", signed.Hash().Hex(),
		"from", from.Hex(),
		"to", to.Hex(),
		"nonce", signed.Nonce(),
		"gas", signed.Gas(),
	)
	return signed.Hash(), nil
}

// ResetNonce forgets the local nonce sequence for from. Call it when a sent
// transaction is known to have left the pool, so the next Submit does not
// leave a gap.
func (c *Client) ResetNonce(from common.Address) {
	if c.builder != nil {
		c.builder.ResetNonce(from)
	}
}

// FetchReceipt polls for a receipt without blocking on inclusion. It returns
// (nil, nil) while the transaction is known but not yet mined.
func (c *Client) FetchReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := c.waitRead(ctx, "eth_getTransactionReceipt"); err != nil {
		return nil, err
	}
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err == nil {
		return receipt, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return nil, classify("eth_getTransactionReceipt", err)
	}
	_, _, err = c.backend.TransactionByHash(ctx, hash)
	switch {
	case errors.Is(err, ethereum.NotFound):
		return nil, ErrUnknownTransaction
	case err != nil:
		return nil, classify("eth_getTransactionByHash", err)
	}
	return nil, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.waitRead(ctx, "eth_blockNumber"); err != nil {
		return 0, err
	}
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, classify("eth_blockNumber", err)
	}
	return n, nil
}

func (c *Client) waitRead(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
