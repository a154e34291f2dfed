package txbuilder

import (
	"log/slog"
	"math/big"
	"time"

	"greeterd/internal/config"
)

func NewOracleFromConfig(client ChainClient, cfg *config.Config, logger *slog.Logger) (*FeeOracle, error) {
	minTipWei, err := GweiToWei(cfg.Tx.MinPriorityFeeGwei)
	if err != nil {
		return nil, err
	}
	oracle := NewFeeOracle(client, FeeOracleConfig{
		RefreshInterval:   time.Duration(cfg.Tx.FeeRefreshSeconds) * time.Second,
		MaxFeeMultiplier:  cfg.Tx.MaxFeeMultiplier,
		MinPriorityFeeWei: minTipWei,
	})
	oracle.SetLogger(logger)
	return oracle, nil
}

// NewAutoBuilderFromConfig wires builder, fee oracle and nonce manager for
// chainID, which the caller resolves (config or eth_chainId).
func NewAutoBuilderFromConfig(client ChainClient, cfg *config.Config, chainID *big.Int, logger *slog.Logger) (*AutoBuilder, error) {
	oracle, err := NewOracleFromConfig(client, cfg, logger)
	if err != nil {
		return nil, err
	}
	auto := NewAutoBuilder(NewBuilder(chainID), client, oracle, AutoBuilderConfig{
		GasLimitMultiplier: cfg.Tx.GasLimitMultiplier,
	})
	auto.SetNonceProvider(NewNonceManager(client, cfg.Tx.NonceSettle.Duration))
	return auto, nil
}
