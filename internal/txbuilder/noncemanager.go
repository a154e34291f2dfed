package txbuilder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type NonceProvider interface {
	Next(ctx context.Context, addr common.Address) (uint64, error)
	Reset(addr common.Address)
}

type senderNonce struct {
	next     uint64
	issuedAt time.Time
}

// NonceManager tracks the next nonce per sender and reconciles it against the
// node's pending nonce on every issue. The node wins when it is ahead (the
// account was used elsewhere) and when the local sequence has been ahead for
// longer than the settle window (an issued transaction never reached, or left,
// the pool).
type NonceManager struct {
	client  NonceSource
	settle  time.Duration
	now     func() time.Time
	mu      sync.Mutex
	senders map[common.Address]*senderNonce
}

func NewNonceManager(client NonceSource, settle time.Duration) *NonceManager {
	if settle < 0 {
		settle = 0
	}
	return &NonceManager{
		client:  client,
		settle:  settle,
		now:     time.Now,
		senders: make(map[common.Address]*senderNonce),
	}
}

func (m *NonceManager) Next(ctx context.Context, addr common.Address) (uint64, error) {
	if m.client == nil {
		return 0, errors.New("nonce manager client is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pending, err := m.client.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, err
	}
	now := m.now()
	s, ok := m.senders[addr]
	n := pending
	if ok && s.next > pending && now.Sub(s.issuedAt) < m.settle {
		n = s.next
	}
	m.senders[addr] = &senderNonce{next: n + 1, issuedAt: now}
	return n, nil
}

// Reset forgets the local sequence for addr so the next issue starts from the
// node's pending nonce.
func (m *NonceManager) Reset(addr common.Address) {
	m.mu.Lock()
	delete(m.senders, addr)
	m.mu.Unlock()
}
