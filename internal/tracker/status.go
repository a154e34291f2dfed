package tracker

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type Status int

const (
	StatusSubmitted Status = iota
	StatusPending
	StatusConfirmed
	StatusFailed
	StatusDropped
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	case StatusDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions can follow s.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusDropped
}

var (
	// ErrFailed wraps the error of a Failed event: the transaction was mined
	// but execution reverted.
	ErrFailed = errors.New("transaction execution failed")
	// ErrDropped wraps the error of a Dropped event. The outcome is
	// ambiguous; the transaction may still be mined later.
	ErrDropped = errors.New("transaction dropped")
)

// PendingTransaction is a submitted write awaiting a terminal state.
type PendingTransaction struct {
	Hash        common.Hash
	From        common.Address
	Method      string
	Args        []interface{}
	SubmittedAt time.Time
}

// Event is one state transition of a tracked transaction.
type Event struct {
	Hash          common.Hash
	Status        Status
	Confirmations uint64
	BlockNumber   uint64
	Receipt       *types.Receipt
	Err           error
}
