// Package greeter owns the displayed greeting and the in-flight write for the
// connected account. It reads through the contract binding, submits setGreet
// transactions, follows them with the tracker and publishes View snapshots.
package greeter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"

	"greeterd/internal/contract"
	"greeterd/internal/journal"
	"greeterd/internal/metrics"
	"greeterd/internal/tracker"
	"greeterd/internal/wallet"
)

var (
	ErrEmptyValue           = errors.New("greeting must not be empty")
	ErrNoAccount            = errors.New("no account connected")
	ErrWriteAlreadyInFlight = errors.New("a write is already in flight for this account")
	ErrClosed               = errors.New("greeter closed")
)

// Contract is satisfied by *contract.Greeter.
type Contract interface {
	Greet(ctx context.Context) (contract.ReadResult[string], error)
	SetGreet(ctx context.Context, from common.Address, value string) (common.Hash, error)
}

// AccountProvider is satisfied by *wallet.Session.
type AccountProvider interface {
	Account() (common.Address, bool)
	SubscribeAccountChange(ch chan<- wallet.AccountChange) event.Subscription
}

// Tracker is satisfied by *tracker.Tracker.
type Tracker interface {
	Track(ctx context.Context, tx tracker.PendingTransaction) *tracker.Watch
}

// ReceiptChecker looks up dropped transactions that may have landed later.
type ReceiptChecker interface {
	FetchReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// NonceResetter is satisfied by *chain.Client.
type NonceResetter interface {
	ResetNonce(from common.Address)
}

type Options struct {
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	ReadTimeout time.Duration
	// Journal records dropped writes; nil keeps them in memory only.
	Journal    *journal.Store
	JournalTTL time.Duration
	// Receipts enables dropped-write reconciliation after each read.
	Receipts ReceiptChecker
	// Nonces is told when a write was dropped so the next one reuses its
	// nonce instead of leaving a gap.
	Nonces NonceResetter
}

type flight struct {
	from  common.Address
	value string
	watch *tracker.Watch
}

type Core struct {
	contract Contract
	accounts AccountProvider
	tracker  Tracker
	receipts ReceiptChecker
	nonces   NonceResetter
	journal  *journal.Store

	logger      *slog.Logger
	metrics     *metrics.Metrics
	readTimeout time.Duration
	journalTTL  time.Duration
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	epoch      uint64
	sessionID  string
	account    common.Address
	connected  bool
	readSeq    uint64
	appliedSeq uint64
	reading    int
	read       ReadState
	write      WriteState
	notice     string
	version    uint64
	inflight   map[common.Address]*flight

	reconciling atomic.Bool

	feed   event.FeedOf[View]
	notify chan struct{}
}

func New(c Contract, accounts AccountProvider, t Tracker, opts Options) *Core {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Discard()
	}
	j := opts.Journal
	if j == nil {
		j = journal.New("")
	}
	ttl := opts.JournalTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	core := &Core{
		contract:    c,
		accounts:    accounts,
		tracker:     t,
		receipts:    opts.Receipts,
		nonces:      opts.Nonces,
		journal:     j,
		logger:      logger,
		metrics:     m,
		readTimeout: opts.ReadTimeout,
		journalTTL:  ttl,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		inflight:    map[common.Address]*flight{},
		notify:      make(chan struct{}, 1),
		sessionID:   uuid.NewString(),
	}
	core.account, core.connected = accounts.Account()
	go core.publishLoop()
	return core
}

// Run follows account changes until ctx is done, then closes the core. The
// value is read once on start and again after every account change.
func (c *Core) Run(ctx context.Context) error {
	changes := make(chan wallet.AccountChange, 8)
	sub := c.accounts.SubscribeAccountChange(changes)
	defer sub.Unsubscribe()

	addr, ok := c.accounts.Account()
	c.mu.Lock()
	changed := addr != c.account || ok != c.connected
	c.mu.Unlock()
	if changed {
		c.switchAccount(addr, ok)
	}
	c.refreshAsync()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return nil
		case <-c.ctx.Done():
			return ErrClosed
		case err := <-sub.Err():
			return err
		case ch := <-changes:
			c.logger.Info("account changed", "previous", ch.Previous.Hex(), "current", ch.Current.Hex(), "connected", ch.Connected)
			c.switchAccount(ch.Current, ch.Connected)
			c.refreshAsync()
		}
	}
}

// FollowHeads re-reads whenever a head newer than the displayed block arrives.
func (c *Core) FollowHeads(ctx context.Context, heads <-chan uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case h, ok := <-heads:
			if !ok {
				return
			}
			c.mu.Lock()
			stale := !c.read.HasValue || h > c.read.BlockNumber
			c.mu.Unlock()
			if stale {
				_, _ = c.GetGreeter(ctx)
			}
		}
	}
}

// Close stops every tracker and background read. It is idempotent.
func (c *Core) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.epoch++
	watches := c.takeFlightsLocked()
	c.mu.Unlock()

	c.cancel()
	stopAll(watches)
	c.wg.Wait()
}

// GetGreeter reads greet() and applies the result unless a later read has
// already been applied or the account session changed meanwhile. On error
// the previous value stays displayed.
func (c *Core) GetGreeter(ctx context.Context) (contract.ReadResult[string], error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return contract.ReadResult[string]{}, ErrClosed
	}
	c.readSeq++
	seq, epoch := c.readSeq, c.epoch
	c.reading++
	c.read.IsLoading = true
	c.changedLocked()
	c.mu.Unlock()

	rctx, cancel := withTimeout(ctx, c.readTimeout)
	start := c.now()
	res, err := c.contract.Greet(rctx)
	cancel()
	c.metrics.ReadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.Reads.WithLabelValues("error").Inc()
		c.logger.Warn("greet read failed", "seq", seq, "error", err)
	} else {
		c.metrics.Reads.WithLabelValues("ok").Inc()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return res, err
	}
	c.reading--
	c.read.IsLoading = c.reading > 0
	if seq > c.appliedSeq {
		c.appliedSeq = seq
		if err != nil {
			c.read.setErr(err)
		} else {
			c.read.Value = res.Value
			c.read.HasValue = true
			c.read.BlockNumber = res.BlockNumber
			c.read.setErr(nil)
		}
	} else {
		c.logger.Debug("discarding superseded read", "seq", seq, "applied", c.appliedSeq)
	}
	c.changedLocked()
	if err == nil && c.receipts != nil && !c.closed {
		c.wg.Add(1)
		go c.reconcile(res.BlockNumber)
	}
	return res, err
}

// SetGreeter submits setGreet(value) from the connected account and starts
// tracking it. At most one write per account is in flight; the slot is held
// from before submission until the transaction reaches a terminal state.
func (c *Core) SetGreeter(ctx context.Context, value string) (common.Hash, error) {
	if strings.TrimSpace(value) == "" {
		c.metrics.Writes.WithLabelValues("invalid").Inc()
		return common.Hash{}, ErrEmptyValue
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return common.Hash{}, ErrClosed
	}
	if !c.connected {
		c.mu.Unlock()
		c.metrics.Writes.WithLabelValues("no_account").Inc()
		return common.Hash{}, ErrNoAccount
	}
	from := c.account
	if _, busy := c.inflight[from]; busy {
		c.mu.Unlock()
		c.metrics.Writes.WithLabelValues("busy").Inc()
		return common.Hash{}, ErrWriteAlreadyInFlight
	}
	fl := &flight{from: from, value: value}
	c.inflight[from] = fl
	epoch := c.epoch
	c.write = WriteState{Pending: true, Value: value, Status: WriteSubmitting}
	c.changedLocked()
	c.mu.Unlock()

	hash, err := c.contract.SetGreet(ctx, from, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch || c.inflight[from] != fl {
		// The session was reset while the submission was in progress.
		if err == nil {
			c.logger.Warn("write submitted after session reset, not tracked", "hash", hash.Hex(), "from", from.Hex())
		}
		return hash, err
	}
	if err != nil {
		delete(c.inflight, from)
		c.write = WriteState{Value: value, Status: WriteRejected}
		c.write.setErr(err)
		c.changedLocked()
		c.metrics.Writes.WithLabelValues("error").Inc()
		c.logger.Warn("setGreet submit failed", "from", from.Hex(), "error", err)
		return common.Hash{}, err
	}

	c.metrics.Writes.WithLabelValues("submitted").Inc()
	c.logger.Info("setGreet submitted", "hash", hash.Hex(), "from", from.Hex())
	fl.watch = c.tracker.Track(c.ctx, tracker.PendingTransaction{
		Hash:        hash,
		From:        from,
		Method:      contract.MethodSetGreet,
		Args:        []interface{}{value},
		SubmittedAt: c.now(),
	})
	c.write = WriteState{Pending: true, TxHash: hash, Value: value, Status: tracker.StatusSubmitted.String()}
	c.changedLocked()
	c.wg.Add(1)
	go c.follow(epoch, fl)
	return hash, nil
}

// View returns the current snapshot.
func (c *Core) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// SubscribeViews delivers a snapshot after every state change. Consecutive
// changes may be coalesced; the latest state is always delivered. Each
// subscriber gets its own relay, so a reader that stops draining ch only
// falls behind itself. The subscription ends when the core closes.
func (c *Core) SubscribeViews(ch chan<- View) event.Subscription {
	relay := make(chan View)
	sub := c.feed.Subscribe(relay)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		var (
			latest View
			held   bool
		)
		for {
			var out chan<- View
			if held {
				out = ch
			}
			select {
			case v := <-relay:
				latest, held = v, true
			case out <- latest:
				held = false
			case <-quit:
				return nil
			case <-c.ctx.Done():
				return nil
			}
		}
	})
}

func (c *Core) follow(epoch uint64, fl *flight) {
	defer c.wg.Done()
	for ev := range fl.watch.Events() {
		c.mu.Lock()
		if epoch != c.epoch || c.inflight[fl.from] != fl {
			c.mu.Unlock()
			return
		}
		c.write.Status = ev.Status.String()
		c.write.Confirmations = ev.Confirmations
		if !ev.Status.Terminal() {
			c.changedLocked()
			c.mu.Unlock()
			continue
		}

		if ev.Status == tracker.StatusDropped {
			entry := journal.Entry{TxHash: ev.Hash, Account: fl.from, Value: fl.value, DroppedAt: c.now()}
			if err := c.journal.Add(entry); err != nil {
				c.logger.Error("journal write failed", "hash", ev.Hash.Hex(), "error", err)
			}
			if c.nonces != nil {
				c.nonces.ResetNonce(fl.from)
			}
		}
		delete(c.inflight, fl.from)
		c.write.Pending = false
		c.write.setErr(ev.Err)
		c.changedLocked()
		c.mu.Unlock()

		if ev.Status == tracker.StatusConfirmed {
			_, _ = c.GetGreeter(c.ctx)
		}
		return
	}
}

// reconcile checks journaled drops once. A drop that has since landed is
// removed and announced; if it landed after the displayed block the value
// is read again.
func (c *Core) reconcile(displayed uint64) {
	defer c.wg.Done()
	if !c.reconciling.CompareAndSwap(false, true) {
		return
	}
	defer c.reconciling.Store(false)

	if n, err := c.journal.Prune(c.now().Add(-c.journalTTL)); err != nil {
		c.logger.Error("journal prune failed", "error", err)
	} else if n > 0 {
		c.logger.Info("pruned dropped transactions", "count", n)
	}

	reread := false
	for _, e := range c.journal.Entries() {
		rctx, cancel := withTimeout(c.ctx, c.readTimeout)
		receipt, err := c.receipts.FetchReceipt(rctx, e.TxHash)
		cancel()
		if c.ctx.Err() != nil {
			return
		}
		if err != nil || receipt == nil {
			continue
		}
		if err := c.journal.Remove(e.TxHash); err != nil {
			c.logger.Error("journal remove failed", "hash", e.TxHash.Hex(), "error", err)
		}
		block := uint64(0)
		if receipt.BlockNumber != nil {
			block = receipt.BlockNumber.Uint64()
		}
		outcome := "succeeded"
		if receipt.Status == types.ReceiptStatusFailed {
			outcome = "failed"
		}
		c.logger.Info("dropped transaction landed", "hash", e.TxHash.Hex(), "block", block, "outcome", outcome)

		c.mu.Lock()
		if e.Account == c.account {
			c.notice = fmt.Sprintf("transaction %s reported as dropped was mined in block %d and %s", e.TxHash.Hex(), block, outcome)
			c.changedLocked()
		}
		c.mu.Unlock()
		if receipt.Status != types.ReceiptStatusFailed && block > displayed {
			reread = true
		}
	}
	if reread {
		_, _ = c.GetGreeter(c.ctx)
	}
}

func (c *Core) switchAccount(addr common.Address, connected bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.epoch++
	watches := c.takeFlightsLocked()
	c.account = addr
	c.connected = connected
	c.sessionID = uuid.NewString()
	c.reading = 0
	c.read = ReadState{}
	c.write = WriteState{}
	c.notice = ""
	c.changedLocked()
	c.mu.Unlock()

	stopAll(watches)
}

func (c *Core) refreshAsync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_, _ = c.GetGreeter(c.ctx)
	}()
}

func (c *Core) takeFlightsLocked() []*tracker.Watch {
	var watches []*tracker.Watch
	for addr, fl := range c.inflight {
		if fl.watch != nil {
			watches = append(watches, fl.watch)
		}
		delete(c.inflight, addr)
	}
	return watches
}

func stopAll(watches []*tracker.Watch) {
	for _, w := range watches {
		w.Stop()
	}
}

func (c *Core) viewLocked() View {
	return View{
		Version:   c.version,
		SessionID: c.sessionID,
		Account:   c.account,
		Connected: c.connected,
		Read:      c.read,
		Write:     c.write,
		Notice:    c.notice,
	}
}

func (c *Core) changedLocked() {
	c.version++
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Core) publishLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.notify:
			c.feed.Send(c.View())
		}
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
