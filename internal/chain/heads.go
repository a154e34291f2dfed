package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"greeterd/internal/util"
)

type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// HeadWatcher reports new chain heads. It polls over HTTP and, when a
// websocket endpoint is configured, also subscribes to newHeads with
// reconnect backoff. Only strictly increasing heights are forwarded.
type HeadWatcher struct {
	source   HeadSource
	wsURL    string
	interval time.Duration
	logger   *slog.Logger
	backoff  util.Backoff

	stream func(ctx context.Context, out chan<- uint64) (bool, error)
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewHeadWatcher(source HeadSource, wsURL string, interval time.Duration, logger *slog.Logger) *HeadWatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &HeadWatcher{
		source:   source,
		wsURL:    wsURL,
		interval: interval,
		logger:   logger,
		backoff:  util.Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second},
		sleep:    util.Sleep,
	}
	w.stream = w.streamHeads
	return w
}

// Run blocks until ctx is done, sending each new head height to out.
func (w *HeadWatcher) Run(ctx context.Context, out chan<- uint64) error {
	raw := make(chan uint64, 16)
	go w.pollHeads(ctx, raw)
	if w.wsURL != "" {
		go w.subscribeHeads(ctx, raw)
	}
	var last uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case h := <-raw:
			if h <= last {
				continue
			}
			last = h
			select {
			case out <- h:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (w *HeadWatcher) pollHeads(ctx context.Context, out chan<- uint64) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		head, err := w.source.BlockNumber(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("poll head failed", "error", err)
		} else {
			select {
			case out <- head:
			default:
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// subscribeHeads keeps a websocket subscription alive. The backoff restarts
// from Initial after any stream that got as far as subscribing.
func (w *HeadWatcher) subscribeHeads(ctx context.Context, out chan<- uint64) {
	failures := 0
	for ctx.Err() == nil {
		subscribed, err := w.stream(ctx, out)
		if ctx.Err() != nil {
			return
		}
		if subscribed {
			failures = 0
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("ws head subscription failed", "error", err, "attempt", failures+1)
		}
		_ = w.sleep(ctx, w.backoff.Delay(failures))
		failures++
	}
}

// streamHeads holds one websocket subscription open until it fails. The bool
// reports whether the subscription was established.
func (w *HeadWatcher) streamHeads(ctx context.Context, out chan<- uint64) (bool, error) {
	rpcClient, err := rpc.DialWebsocket(ctx, w.wsURL, "")
	if err != nil {
		return false, err
	}
	client := ethclient.NewClient(rpcClient)
	defer client.Close()

	headers := make(chan *types.Header, 16)
	sub, err := client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return false, err
	}
	defer sub.Unsubscribe()
	w.logger.Info("ws subscribed to newHeads")

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-sub.Err():
			return true, err
		case h := <-headers:
			if h == nil || h.Number == nil {
				continue
			}
			select {
			case out <- h.Number.Uint64():
			default:
			}
		}
	}
}
