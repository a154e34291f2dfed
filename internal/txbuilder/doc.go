// Package txbuilder assembles EIP-1559 contract call transactions: nonce,
// fee caps and a padded gas limit are resolved against the node before the
// transaction is handed to a signer.
//
// Usage example (not compiled):
//
//	auto, err := txbuilder.NewAutoBuilderFromConfig(client, cfg)
//	if err != nil { ... }
//	auto.Start(ctx) // background fee refresh
//
//	tx, err := auto.BuildCallTx(ctx, from, contract, big.NewInt(0), calldata)
//	// sign + send tx
package txbuilder
