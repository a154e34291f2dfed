// Package wallet provides the connected-account capability: a keystore
// backed signer plus connect/disconnect lifecycle with change notifications.
package wallet

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"greeterd/internal/chain"
)

// ErrNoSigner means the session was built without a key source.
var ErrNoSigner = errors.New("session has no signer")

// AccountChange is published whenever the connected account changes.
type AccountChange struct {
	Previous  common.Address
	Current   common.Address
	Connected bool
}

type TxSigner interface {
	HasAccount(addr common.Address) bool
	SignTx(addr common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Session tracks which account is connected and serializes signing.
type Session struct {
	signer TxSigner

	mu        sync.RWMutex
	current   common.Address
	connected bool
	feed      event.FeedOf[AccountChange]

	signMu sync.Mutex
}

func NewSession(signer TxSigner) *Session {
	return &Session{signer: signer}
}

func (s *Session) Account() (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.connected
}

// Connect switches the session to addr. Reconnecting the current account is
// a no-op and publishes nothing.
func (s *Session) Connect(addr common.Address) error {
	if s.signer != nil && !s.signer.HasAccount(addr) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, addr.Hex())
	}
	s.mu.Lock()
	if s.connected && s.current == addr {
		s.mu.Unlock()
		return nil
	}
	change := AccountChange{Previous: s.current, Current: addr, Connected: true}
	s.current = addr
	s.connected = true
	s.mu.Unlock()

	s.feed.Send(change)
	return nil
}

func (s *Session) Disconnect() {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	change := AccountChange{Previous: s.current}
	s.current = common.Address{}
	s.connected = false
	s.mu.Unlock()

	s.feed.Send(change)
}

func (s *Session) SubscribeAccountChange(ch chan<- AccountChange) event.Subscription {
	return s.feed.Subscribe(ch)
}

// SignTx signs on behalf of the connected account only. Refusing another
// account and failing to unlock the key count as a decline; anything else is a
// setup fault and is returned as is.
func (s *Session) SignTx(from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	cur, ok := s.Account()
	if !ok {
		return nil, fmt.Errorf("%w: no account connected", chain.ErrRejectedByUser)
	}
	if cur != from {
		return nil, fmt.Errorf("%w: %s is not the connected account", chain.ErrRejectedByUser, from.Hex())
	}
	if s.signer == nil {
		return nil, ErrNoSigner
	}
	s.signMu.Lock()
	defer s.signMu.Unlock()
	signed, err := s.signer.SignTx(from, tx, chainID)
	switch {
	case err == nil:
		return signed, nil
	case declined(err):
		return nil, fmt.Errorf("%w: %v", chain.ErrRejectedByUser, err)
	default:
		return nil, fmt.Errorf("sign with %s: %w", from.Hex(), err)
	}
}

func declined(err error) bool {
	return errors.Is(err, chain.ErrRejectedByUser) ||
		errors.Is(err, keystore.ErrDecrypt) ||
		errors.Is(err, keystore.ErrLocked)
}
