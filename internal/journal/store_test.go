package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dropped.json")
	s := New(path)
	n, err := s.Load()
	require.NoError(t, err)
	assert.Zero(t, n)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	acct := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	require.NoError(t, s.Add(Entry{TxHash: common.HexToHash("0x02"), Account: acct, Value: "bye", DroppedAt: t0.Add(time.Minute)}))
	require.NoError(t, s.Add(Entry{TxHash: common.HexToHash("0x01"), Account: acct, Value: "hi", DroppedAt: t0}))

	reloaded := New(path)
	n, err = reloaded.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	entries := reloaded.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "hi", entries[0].Value)
	assert.Equal(t, acct, entries[1].Account)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestStoreRemoveAndPrune(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "dropped.json"))
	now := time.Now()
	require.NoError(t, s.Add(Entry{TxHash: common.HexToHash("0x01"), DroppedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, s.Add(Entry{TxHash: common.HexToHash("0x02"), DroppedAt: now}))
	require.NoError(t, s.Add(Entry{TxHash: common.HexToHash("0x03"), DroppedAt: now}))

	require.NoError(t, s.Remove(common.HexToHash("0x03")))
	require.NoError(t, s.Remove(common.HexToHash("0x03")))

	pruned, err := s.Prune(now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, common.HexToHash("0x02"), entries[0].TxHash)
}

func TestStoreMemoryOnly(t *testing.T) {
	s := New("")
	_, err := s.Load()
	require.NoError(t, err)
	require.NoError(t, s.Add(Entry{TxHash: common.HexToHash("0x01")}))
	assert.Len(t, s.Entries(), 1)
}

func TestStoreLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dropped.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := New(path).Load()
	require.Error(t, err)
}
