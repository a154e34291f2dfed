package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
rpc:
  http: http://127.0.0.1:8545
contract:
  address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cfg.Tracker.Confirmations)
	assert.Equal(t, 5*time.Second, cfg.RPC.ReadTimeout.Duration)
	assert.Equal(t, 12*time.Second*25, cfg.Tracker.Timeout.Duration)
	assert.Equal(t, 12*time.Second, cfg.Tracker.UnknownGrace.Duration)
	assert.Equal(t, 5*time.Second, cfg.Tx.NonceSettle.Duration)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "0x5FbDB2315678afecb367f032d93F642f64180aa3", cfg.ContractAddress().Hex())
	_, ok := cfg.DefaultAccount()
	assert.False(t, ok)
}

func TestParseDurations(t *testing.T) {
	cfg, err := Parse([]byte(`
rpc:
  http: http://127.0.0.1:8545
  read_timeout: 750
contract:
  address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
tracker:
  block_time: 2s
  retry_budget: 10
  initial_backoff: 100ms
`))
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.RPC.ReadTimeout.Duration)
	assert.Equal(t, 20*time.Second, cfg.Tracker.Timeout.Duration)
	assert.Equal(t, 100*time.Millisecond, cfg.Tracker.InitialBackoff.Duration)
}

func TestParseValidation(t *testing.T) {
	cases := map[string]string{
		"missing rpc": `
contract:
  address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
`,
		"bad contract": `
rpc:
  http: http://127.0.0.1:8545
contract:
  address: nope
`,
		"bad account": `
rpc:
  http: http://127.0.0.1:8545
contract:
  address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
keystore:
  account: "0x12"
`,
		"backoff order": `
rpc:
  http: http://127.0.0.1:8545
contract:
  address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
tracker:
  initial_backoff: 5s
  max_backoff: 1s
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}
