package wallet

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greeterd/internal/chain"
)

func newTestKeystore(t *testing.T, passphrase string) (*Keystore, common.Address) {
	t.Helper()
	ks, err := NewLightKeystore(t.TempDir(), passphrase)
	require.NoError(t, err)
	addr, err := ks.CreateAccount()
	require.NoError(t, err)
	return ks, addr
}

func unsignedTx() *types.Transaction {
	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(31337),
		Nonce:     0,
		Gas:       50000,
		GasFeeCap: big.NewInt(2_000_000_000),
		GasTipCap: big.NewInt(1_000_000_000),
		To:        &to,
		Value:     big.NewInt(0),
		Data:      []byte{0x01, 0x02, 0x03, 0x04},
	})
}

func TestSessionConnectPublishesChanges(t *testing.T) {
	ks, addr := newTestKeystore(t, "secret")
	s := NewSession(ks)

	ch := make(chan AccountChange, 4)
	sub := s.SubscribeAccountChange(ch)
	defer sub.Unsubscribe()

	_, ok := s.Account()
	assert.False(t, ok)

	require.NoError(t, s.Connect(addr))
	require.NoError(t, s.Connect(addr))
	s.Disconnect()
	s.Disconnect()

	var got []AccountChange
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case c := <-ch:
			got = append(got, c)
		case <-timeout:
			require.FailNow(t, "missing account changes", "got %v", got)
		}
	}
	assert.Equal(t, AccountChange{Current: addr, Connected: true}, got[0])
	assert.Equal(t, AccountChange{Previous: addr}, got[1])
	select {
	case extra := <-ch:
		require.FailNow(t, "unexpected change", "%v", extra)
	default:
	}
}

func TestSessionConnectUnknownAccount(t *testing.T) {
	ks, _ := newTestKeystore(t, "secret")
	s := NewSession(ks)
	err := s.Connect(common.HexToAddress("0x0000000000000000000000000000000000000001"))
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSessionSignTx(t *testing.T) {
	ks, addr := newTestKeystore(t, "secret")
	s := NewSession(ks)
	chainID := big.NewInt(31337)

	_, err := s.SignTx(addr, unsignedTx(), chainID)
	require.ErrorIs(t, err, chain.ErrRejectedByUser)

	require.NoError(t, s.Connect(addr))
	signed, err := s.SignTx(addr, unsignedTx(), chainID)
	require.NoError(t, err)
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, addr, sender)

	_, err = s.SignTx(common.HexToAddress("0x0000000000000000000000000000000000000002"), unsignedTx(), chainID)
	require.ErrorIs(t, err, chain.ErrRejectedByUser)
}

func TestSessionWrongPassphraseIsRejection(t *testing.T) {
	ks, addr := newTestKeystore(t, "right")
	other, err := NewLightKeystore(ks.Dir(), "wrong")
	require.NoError(t, err)
	require.True(t, other.HasAccount(addr))

	s := NewSession(other)
	require.NoError(t, s.Connect(addr))
	_, err = s.SignTx(addr, unsignedTx(), big.NewInt(31337))
	require.ErrorIs(t, err, chain.ErrRejectedByUser)
}

func TestSessionSetupFaultsAreNotRejections(t *testing.T) {
	addr := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	bare := NewSession(nil)
	require.NoError(t, bare.Connect(addr))
	_, err := bare.SignTx(addr, unsignedTx(), big.NewInt(31337))
	require.ErrorIs(t, err, ErrNoSigner)
	assert.NotErrorIs(t, err, chain.ErrRejectedByUser)

	ks, addr := newTestKeystore(t, "secret")
	locked, err := NewLightKeystore(ks.Dir(), "")
	require.NoError(t, err)
	s := NewSession(locked)
	require.NoError(t, s.Connect(addr))
	_, err = s.SignTx(addr, unsignedTx(), big.NewInt(31337))
	require.ErrorIs(t, err, ErrPassphraseEmpty)
	assert.NotErrorIs(t, err, chain.ErrRejectedByUser)
}

func TestKeystoreAccounts(t *testing.T) {
	ks, addr := newTestKeystore(t, "secret")
	assert.Equal(t, []common.Address{addr}, ks.Accounts())
	assert.True(t, ks.PassphraseSet())

	empty, err := NewLightKeystore(t.TempDir(), "")
	require.NoError(t, err)
	_, err = empty.CreateAccount()
	require.ErrorIs(t, err, ErrPassphraseEmpty)
}
