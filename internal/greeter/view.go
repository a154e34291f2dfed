package greeter

import (
	"github.com/ethereum/go-ethereum/common"
)

// Write phases that have no tracker counterpart.
const (
	WriteSubmitting = "submitting"
	WriteRejected   = "rejected"
)

type ReadState struct {
	Value       string `json:"value"`
	HasValue    bool   `json:"has_value"`
	BlockNumber uint64 `json:"block_number"`
	IsLoading   bool   `json:"is_loading"`
	Err         error  `json:"-"`
	Error       string `json:"error,omitempty"`
}

// WriteState describes the most recent write of the current session. Status
// is one of the tracker status names, WriteSubmitting or WriteRejected.
type WriteState struct {
	Pending       bool        `json:"pending"`
	TxHash        common.Hash `json:"tx_hash"`
	Value         string      `json:"value,omitempty"`
	Status        string      `json:"status,omitempty"`
	Confirmations uint64      `json:"confirmations"`
	Err           error       `json:"-"`
	Error         string      `json:"error,omitempty"`
}

// View is the snapshot handed to the presentation layer.
type View struct {
	Version   uint64         `json:"version"`
	SessionID string         `json:"session_id"`
	Account   common.Address `json:"account"`
	Connected bool           `json:"connected"`
	Read      ReadState      `json:"read"`
	Write     WriteState     `json:"write"`
	Notice    string         `json:"notice,omitempty"`
}

func (r *ReadState) setErr(err error) {
	r.Err = err
	r.Error = errString(err)
}

func (w *WriteState) setErr(err error) {
	w.Err = err
	w.Error = errString(err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
