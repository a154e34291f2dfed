// Package tracker follows submitted transactions to a terminal state by
// polling the node for receipts.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"greeterd/internal/chain"
	"greeterd/internal/config"
	"greeterd/internal/metrics"
	"greeterd/internal/util"
)

// ReceiptSource is satisfied by *chain.Client.
type ReceiptSource interface {
	FetchReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type Config struct {
	// Confirmations required before a successful receipt is Confirmed.
	Confirmations uint64
	// Timeout bounds how long to wait for a first receipt.
	Timeout          time.Duration
	Backoff          util.Backoff
	MaxAttempts      int
	UnknownTolerance int
	// UnknownGrace is how long after submission "unknown" answers are ignored;
	// a node behind a load balancer may not have seen the transaction yet.
	UnknownGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		Confirmations:    1,
		Timeout:          25 * 12 * time.Second,
		Backoff:          util.Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second},
		MaxAttempts:      120,
		UnknownTolerance: 2,
		UnknownGrace:     12 * time.Second,
	}
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Confirmations: cfg.Tracker.Confirmations,
		Timeout:       cfg.Tracker.Timeout.Duration,
		Backoff: util.Backoff{
			Initial: cfg.Tracker.InitialBackoff.Duration,
			Max:     cfg.Tracker.MaxBackoff.Duration,
		},
		MaxAttempts:      cfg.Tracker.MaxAttempts,
		UnknownTolerance: cfg.Tracker.UnknownTolerance,
		UnknownGrace:     cfg.Tracker.UnknownGrace.Duration,
	}
}

// Tracker starts one independent polling loop per transaction. It keeps no
// state between transactions.
type Tracker struct {
	source  ReceiptSource
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(source ReceiptSource, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Tracker {
	def := DefaultConfig()
	if cfg.Confirmations == 0 {
		cfg.Confirmations = def.Confirmations
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.UnknownTolerance <= 0 {
		cfg.UnknownTolerance = def.UnknownTolerance
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Tracker{source: source, cfg: cfg, logger: logger, metrics: m, now: time.Now}
}

// Watch is the handle for one tracked transaction. Events is closed after the
// terminal event or after Stop.
type Watch struct {
	tx       PendingTransaction
	events   chan Event
	done     chan struct{}
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func (w *Watch) Transaction() PendingTransaction { return w.tx }

func (w *Watch) Events() <-chan Event { return w.events }

func (w *Watch) Done() <-chan struct{} { return w.done }

// Stop cancels polling and waits for the loop to exit. It is safe to call
// more than once; no event is delivered after Stop returns.
func (w *Watch) Stop() {
	w.stopOnce.Do(w.cancel)
	<-w.done
}

// Track begins polling for tx. Cancelling ctx has the same effect as Stop.
func (t *Tracker) Track(ctx context.Context, tx PendingTransaction) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		tx:     tx,
		events: make(chan Event),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go t.run(ctx, w)
	return w
}

func (t *Tracker) run(ctx context.Context, w *Watch) {
	defer close(w.done)
	defer close(w.events)
	defer w.cancel()

	t.metrics.Inflight.Inc()
	defer t.metrics.Inflight.Dec()

	hash := w.tx.Hash
	logger := t.logger.With("hash", hash.Hex(), "method", w.tx.Method)
	start := w.tx.SubmittedAt
	if start.IsZero() {
		start = t.now()
	}

	state := StatusSubmitted
	var lastConf uint64
	unknown := 0

	for attempt := 0; ; attempt++ {
		if attempt >= t.cfg.MaxAttempts {
			t.finish(ctx, w, logger, Event{Hash: hash, Status: StatusDropped,
				Err: fmt.Errorf("%w: gave up after %d polls", ErrDropped, attempt)})
			return
		}
		if state == StatusSubmitted && t.now().Sub(start) > t.cfg.Timeout {
			t.finish(ctx, w, logger, Event{Hash: hash, Status: StatusDropped,
				Err: fmt.Errorf("%w: no receipt after %s", ErrDropped, t.cfg.Timeout)})
			return
		}

		receipt, err := t.source.FetchReceipt(ctx, hash)
		t.metrics.ReceiptPolls.Inc()
		if ctx.Err() != nil {
			return
		}
		switch {
		case errors.Is(err, chain.ErrUnknownTransaction):
			if t.now().Sub(start) < t.cfg.UnknownGrace {
				logger.Debug("transaction not visible yet", "attempt", attempt)
				break
			}
			unknown++
			if unknown >= t.cfg.UnknownTolerance {
				t.finish(ctx, w, logger, Event{Hash: hash, Status: StatusDropped,
					Err: fmt.Errorf("%w: %w", ErrDropped, err)})
				return
			}
		case err != nil:
			logger.Debug("receipt poll failed", "attempt", attempt, "error", err)
		case receipt == nil:
			unknown = 0
			if state == StatusPending {
				// Receipt vanished: the inclusion block was reorged out.
				logger.Warn("receipt disappeared, waiting for re-inclusion")
				state = StatusSubmitted
				lastConf = 0
			}
		default:
			unknown = 0
			block := receiptBlock(receipt)
			if receipt.Status == types.ReceiptStatusFailed {
				t.finish(ctx, w, logger, Event{Hash: hash, Status: StatusFailed, BlockNumber: block, Receipt: receipt,
					Err: fmt.Errorf("%w in block %d", ErrFailed, block)})
				return
			}
			head, herr := t.source.BlockNumber(ctx)
			if herr != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Debug("head poll failed", "error", herr)
				break
			}
			conf := confirmations(head, block)
			if conf >= t.cfg.Confirmations {
				t.finish(ctx, w, logger, Event{Hash: hash, Status: StatusConfirmed, Confirmations: conf, BlockNumber: block, Receipt: receipt})
				return
			}
			if state != StatusPending || conf != lastConf {
				state = StatusPending
				lastConf = conf
				if !emit(ctx, w, Event{Hash: hash, Status: StatusPending, Confirmations: conf, BlockNumber: block, Receipt: receipt}) {
					return
				}
			}
		}

		if err := util.Sleep(ctx, t.cfg.Backoff.Delay(attempt)); err != nil {
			return
		}
	}
}

func (t *Tracker) finish(ctx context.Context, w *Watch, logger *slog.Logger, ev Event) {
	if !emit(ctx, w, ev) {
		return
	}
	t.metrics.TxOutcomes.WithLabelValues(ev.Status.String()).Inc()
	switch ev.Status {
	case StatusConfirmed:
		logger.Info("transaction confirmed", "block", ev.BlockNumber, "confirmations", ev.Confirmations)
	default:
		logger.Warn("transaction "+ev.Status.String(), "block", ev.BlockNumber, "error", ev.Err)
	}
}

func emit(ctx context.Context, w *Watch, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case w.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func receiptBlock(r *types.Receipt) uint64 {
	if r == nil || r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}

// confirmations counts the inclusion block itself as the first confirmation.
func confirmations(head, included uint64) uint64 {
	if included == 0 || head < included {
		return 0
	}
	return head - included + 1
}
