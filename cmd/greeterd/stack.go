package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"greeterd/internal/chain"
	"greeterd/internal/config"
	"greeterd/internal/contract"
	"greeterd/internal/greeter"
	"greeterd/internal/journal"
	"greeterd/internal/metrics"
	"greeterd/internal/tracker"
	"greeterd/internal/txbuilder"
	"greeterd/internal/util"
	"greeterd/internal/wallet"
)

// stack is every component wired from one config.
type stack struct {
	cfg      *config.Config
	logger   *slog.Logger
	eth      *ethclient.Client
	auto     *txbuilder.AutoBuilder
	keystore *wallet.Keystore
	session  *wallet.Session
	client   *chain.Client
	contract *contract.Greeter
	journal  *journal.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func newStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	_, ethClient, err := dialHTTP(cfg, logger)
	if err != nil {
		return nil, err
	}
	st := &stack{cfg: cfg, logger: logger, eth: ethClient}

	chainID, err := resolveChainID(ctx, cfg, ethClient)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.auto, err = txbuilder.NewAutoBuilderFromConfig(ethClient, cfg, chainID, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	passphrase := os.Getenv(cfg.KeyStore.PassphraseEnv)
	if passphrase == "" {
		logger.Warn("keystore passphrase env is empty", "env", cfg.KeyStore.PassphraseEnv)
	}
	st.keystore, err = wallet.NewKeystore(cfg.KeyStore.Dir, passphrase)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.session = wallet.NewSession(st.keystore)
	if addr, ok := cfg.DefaultAccount(); ok {
		if err := st.session.Connect(addr); err != nil {
			st.Close()
			return nil, err
		}
	}

	st.client = chain.NewClient(ethClient, st.auto, st.session, chain.Options{
		ReadTimeout:    cfg.RPC.ReadTimeout.Duration,
		ReadsPerSecond: cfg.RPC.MaxReadsPerSecond,
		ReadBurst:      cfg.RPC.ReadBurst,
		Logger:         logger,
	})
	st.contract, err = bindGreeter(cfg, st.client)
	if err != nil {
		st.Close()
		return nil, err
	}

	st.journal = journal.New(cfg.Journal.Path)
	if n, err := st.journal.Load(); err != nil {
		logger.Warn("journal load failed", "path", cfg.Journal.Path, "error", err)
	} else if n > 0 {
		logger.Info("journal loaded", "dropped", n)
	}

	st.registry = prometheus.NewRegistry()
	st.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	st.metrics = metrics.New(st.registry)
	return st, nil
}

func (s *stack) newCore() *greeter.Core {
	trk := tracker.New(s.client, tracker.ConfigFrom(s.cfg), s.logger, s.metrics)
	return greeter.New(s.contract, s.session, trk, greeter.Options{
		Logger:      s.logger,
		Metrics:     s.metrics,
		ReadTimeout: s.cfg.RPC.ReadTimeout.Duration,
		Journal:     s.journal,
		JournalTTL:  s.cfg.Journal.TTL.Duration,
		Receipts:    s.client,
		Nonces:      s.client,
	})
}

func (s *stack) Close() {
	if s.eth != nil {
		s.eth.Close()
	}
}

func dialHTTP(cfg *config.Config, logger *slog.Logger) (*rpc.Client, *ethclient.Client, error) {
	httpClient := &http.Client{
		Timeout: cfg.RPC.RequestTimeout.Duration,
	}
	rpcClient, err := rpc.DialHTTPWithClient(cfg.RPC.HTTP, httpClient)
	if err != nil {
		return nil, nil, err
	}
	rpcClient.SetHeader("User-Agent", "greeterd")
	logger.Debug("rpc http connected", "url", cfg.RPC.HTTP)
	return rpcClient, ethclient.NewClient(rpcClient), nil
}

func resolveChainID(ctx context.Context, cfg *config.Config, eth *ethclient.Client) (*big.Int, error) {
	if cfg.ChainID != 0 {
		return new(big.Int).SetUint64(cfg.ChainID), nil
	}
	var id *big.Int
	err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		var err error
		id, err = eth.ChainID(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("eth_chainId: %w", err)
	}
	return id, nil
}

func bindGreeter(cfg *config.Config, client *chain.Client) (*contract.Greeter, error) {
	if cfg.Contract.ABIPath == "" {
		return contract.NewGreeter(cfg.ContractAddress(), client), nil
	}
	parsed, err := contract.LoadABI(cfg.Contract.ABIPath)
	if err != nil {
		return nil, err
	}
	return contract.NewGreeterWithABI(contract.ContractRef{
		Address: cfg.ContractAddress(),
		ABI:     parsed,
		Version: cfg.Contract.ABIPath,
	}, client)
}
