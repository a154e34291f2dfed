package tracker

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greeterd/internal/chain"
	"greeterd/internal/metrics"
	"greeterd/internal/util"
)

type step struct {
	receipt *types.Receipt
	err     error
	head    uint64
}

// scriptedSource replays steps per hash; the last step repeats forever.
type scriptedSource struct {
	mu      sync.Mutex
	scripts map[common.Hash][]step
	pos     map[common.Hash]int
	head    uint64
	polls   map[common.Hash]int
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		scripts: map[common.Hash][]step{},
		pos:     map[common.Hash]int{},
		polls:   map[common.Hash]int{},
	}
}

func (s *scriptedSource) set(hash common.Hash, steps ...step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[hash] = steps
}

func (s *scriptedSource) FetchReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := s.scripts[hash]
	if len(steps) == 0 {
		return nil, nil
	}
	i := s.pos[hash]
	if i < len(steps)-1 {
		s.pos[hash] = i + 1
	}
	s.polls[hash]++
	st := steps[i]
	if st.head != 0 {
		s.head = st.head
	}
	return st.receipt, st.err
}

func (s *scriptedSource) BlockNumber(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

func (s *scriptedSource) pollCount(hash common.Hash) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls[hash]
}

func okReceipt(block int64) *types.Receipt {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(block)}
}

func fastConfig() Config {
	return Config{
		Confirmations:    1,
		Timeout:          200 * time.Millisecond,
		Backoff:          util.Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond},
		MaxAttempts:      1000,
		UnknownTolerance: 2,
	}
}

func collect(t *testing.T, w *Watch) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			require.FailNow(t, "watch did not finish", "events so far: %v", out)
		}
	}
}

func statuses(events []Event) []Status {
	out := make([]Status, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Status)
	}
	return out
}

func TestTrackPendingThenConfirmed(t *testing.T) {
	src := newScriptedSource()
	hash := common.HexToHash("0xabc")
	src.set(hash,
		step{},
		step{receipt: okReceipt(10), head: 10},
		step{receipt: okReceipt(10), head: 10},
		step{receipt: okReceipt(10), head: 11},
	)
	cfg := fastConfig()
	cfg.Confirmations = 2
	m := metrics.Discard()
	tr := New(src, cfg, nil, m)

	events := collect(t, tr.Track(context.Background(), PendingTransaction{Hash: hash, Method: "setGreet"}))
	require.Equal(t, []Status{StatusPending, StatusConfirmed}, statuses(events))
	assert.Equal(t, uint64(1), events[0].Confirmations)
	assert.Equal(t, uint64(2), events[1].Confirmations)
	assert.Equal(t, uint64(10), events[1].BlockNumber)
	assert.NoError(t, events[1].Err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxOutcomes.WithLabelValues("confirmed")))
}

func TestTrackConfirmedOnFirstReceipt(t *testing.T) {
	src := newScriptedSource()
	hash := common.HexToHash("0xabc")
	src.set(hash, step{receipt: okReceipt(5), head: 5})
	events := collect(t, New(src, fastConfig(), nil, nil).Track(context.Background(), PendingTransaction{Hash: hash}))
	assert.Equal(t, []Status{StatusConfirmed}, statuses(events))
}

func TestTrackFailedReceipt(t *testing.T) {
	src := newScriptedSource()
	hash := common.HexToHash("0xdef")
	src.set(hash, step{}, step{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(7)}, head: 7})

	events := collect(t, New(src, fastConfig(), nil, nil).Track(context.Background(), PendingTransaction{Hash: hash}))
	require.Equal(t, []Status{StatusFailed}, statuses(events))
	assert.ErrorIs(t, events[0].Err, ErrFailed)
	assert.Equal(t, uint64(7), events[0].BlockNumber)
}

func TestTrackDroppedOnTimeout(t *testing.T) {
	src := newScriptedSource()
	hash := common.HexToHash("0x0b1e")
	src.set(hash, step{})
	cfg := fastConfig()
	cfg.Timeout = 30 * time.Millisecond
	m := metrics.Discard()

	w := New(src, cfg, nil, m).Track(context.Background(), PendingTransaction{Hash: hash, SubmittedAt: time.Now()})
	events := collect(t, w)
	require.Equal(t, []Status{StatusDropped}, statuses(events))
	assert.ErrorIs(t, events[0].Err, ErrDropped)

	polls := src.pollCount(hash)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, polls, src.pollCount(hash), "polling must stop after the terminal event")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxOutcomes.WithLabelValues("dropped")))
	w.Stop()
	w.Stop()
}

func TestTrackDroppedWhenUnknown(t *testing.T) {
	src := newScriptedSource()
	hash := common.HexToHash("0x404")
	src.set(hash, step{err: chain.ErrUnknownTransaction})

	events := collect(t, New(src, fastConfig(), nil, nil).Track(context.Background(), PendingTransaction{Hash: hash}))
	require.Equal(t, []Status{StatusDropped}, statuses(events))
	assert.ErrorIs(t, events[0].Err, ErrDropped)
	assert.ErrorIs(t, events[0].Err, chain.ErrUnknownTransaction)
	assert.Equal(t, 2, src.pollCount(hash))
}

func TestTrackUnknownIgnoredDuringGrace(t *testing.T) {
	src := newScriptedSource()
	hash := common.HexToHash("0x406")
	src.set(hash,
		step{err: chain.ErrUnknownTransaction},
		step{err: chain.ErrUnknownTransaction},
		step{err: chain.ErrUnknownTransaction},
		step{err: chain.ErrUnknownTransaction},
		step{receipt: okReceipt(4), head: 4},
	)
	cfg := fastConfig()
	cfg.UnknownGrace = time.Minute

	events := collect(t, New(src, cfg, nil, nil).Track(context.Background(), PendingTransaction{Hash: hash, SubmittedAt: time.Now()}))
	assert.Equal(t, []Status{StatusConfirmed}, statuses(events))
}

func TestTrackUnknownCountsAfterGrace(t *testing.T) {
	src := newScriptedSource()
	hash := common.HexToHash("0x407")
	src.set(hash, step{err: chain.ErrUnknownTransaction})
	cfg := fastConfig()
	cfg.UnknownGrace = 40 * time.Millisecond

	submitted := time.Now()
	events := collect(t, New(src, cfg, nil, nil).Track(context.Background(), PendingTransaction{Hash: hash, SubmittedAt: submitted}))
	require.Equal(t, []Status{StatusDropped}, statuses(events))
	assert.ErrorIs(t, events[0].Err, chain.ErrUnknownTransaction)
	assert.GreaterOrEqual(t, time.Since(submitted), cfg.UnknownGrace)
	assert.Greater(t, src.pollCount(hash), cfg.UnknownTolerance)
}

func TestTrackUnknownToleranceResets(t *testing.T) {
	src := newScriptedSource()
	hash := common.HexToHash("0x405")
	src.set(hash,
		step{err: chain.ErrUnknownTransaction},
		step{},
		step{err: chain.ErrUnknownTransaction},
		step{receipt: okReceipt(3), head: 3},
	)
	events := collect(t, New(src, fastConfig(), nil, nil).Track(context.Background(), PendingTransaction{Hash: hash}))
	assert.Equal(t, []Status{StatusConfirmed}, statuses(events))
}

func TestTrackDroppedAfterAttemptBudget(t *testing.T) {
	src := newScriptedSource()
	hash := common.HexToHash("0x406")
	src.set(hash, step{err: errors.New("connection reset")})
	cfg := fastConfig()
	cfg.MaxAttempts = 3
	cfg.Timeout = time.Hour

	events := collect(t, New(src, cfg, nil, nil).Track(context.Background(), PendingTransaction{Hash: hash}))
	require.Equal(t, []Status{StatusDropped}, statuses(events))
	assert.Equal(t, 3, src.pollCount(hash))
}

func TestTrackReorgDoesNotRegress(t *testing.T) {
	src := newScriptedSource()
	hash := common.HexToHash("0x407")
	src.set(hash,
		step{receipt: okReceipt(20), head: 20},
		step{},
		step{receipt: okReceipt(21), head: 21},
		step{receipt: okReceipt(21), head: 23},
	)
	cfg := fastConfig()
	cfg.Confirmations = 3

	events := collect(t, New(src, cfg, nil, nil).Track(context.Background(), PendingTransaction{Hash: hash}))
	require.Equal(t, []Status{StatusPending, StatusPending, StatusConfirmed}, statuses(events))
	assert.Equal(t, uint64(21), events[2].BlockNumber)
}

func TestWatchStopSuppressesEvents(t *testing.T) {
	src := newScriptedSource()
	hash := common.HexToHash("0x408")
	src.set(hash, step{})
	cfg := fastConfig()
	cfg.Timeout = time.Hour

	w := New(src, cfg, nil, nil).Track(context.Background(), PendingTransaction{Hash: hash})
	time.Sleep(10 * time.Millisecond)
	w.Stop()
	w.Stop()

	select {
	case <-w.Done():
	default:
		require.FailNow(t, "done must be closed after Stop")
	}
	_, ok := <-w.Events()
	assert.False(t, ok, "events must be closed without a terminal event")
}

func TestTrackersAreIndependent(t *testing.T) {
	src := newScriptedSource()
	a := common.HexToHash("0xa")
	b := common.HexToHash("0xb")
	src.set(a, step{receipt: okReceipt(1), head: 1})
	src.set(b, step{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(1)}})
	tr := New(src, fastConfig(), nil, nil)

	wa := tr.Track(context.Background(), PendingTransaction{Hash: a})
	wb := tr.Track(context.Background(), PendingTransaction{Hash: b})

	var evA, evB []Event
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); evA = collect(t, wa) }()
	go func() { defer wg.Done(); evB = collect(t, wb) }()
	wg.Wait()

	assert.Equal(t, []Status{StatusConfirmed}, statuses(evA))
	assert.Equal(t, []Status{StatusFailed}, statuses(evB))
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.True(t, StatusDropped.Terminal())
	assert.False(t, StatusPending.Terminal())
	text, err := StatusConfirmed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "confirmed", string(text))
}
