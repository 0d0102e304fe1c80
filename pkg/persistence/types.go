package persistence

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNonceMismatch means the request nonce is not the originator's next nonce
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrNonceExhausted means the originator's nonce space is used up
	ErrNonceExhausted = errors.New("nonce space exhausted")

	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("persistence layer is closed")
)

// NewNonceMismatchError reports the ledger's expectation alongside the offered nonce
func NewNonceMismatchError(from common.Address, expected, got uint64) error {
	return fmt.Errorf("%w: %s expected %d, got %d", ErrNonceMismatch, from.Hex(), expected, got)
}

// CheckNonceAdvance validates a consume against the current value and returns the next value
func CheckNonceAdvance(from common.Address, current, expected uint64) (uint64, error) {
	if current != expected {
		return 0, NewNonceMismatchError(from, current, expected)
	}
	if current == math.MaxUint64 {
		return 0, fmt.Errorf("%w: %s", ErrNonceExhausted, from.Hex())
	}
	return current + 1, nil
}

// CopyRelayRecord deep copies a relay record so callers cannot mutate stored state
func CopyRelayRecord(r *types.RelayRecord) *types.RelayRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Request = r.Request.Copy()
	cp.Signature = common.CopyBytes(r.Signature)
	cp.ReturnData = common.CopyBytes(r.ReturnData)
	return &cp
}

// RecordMatches reports whether a record passes the optional originator filter
func RecordMatches(r *types.RelayRecord, from *common.Address) bool {
	if from == nil {
		return true
	}
	return r.Request != nil && r.Request.From == *from
}

// SortRelayRecords orders records by creation time, then ID for a stable order
func SortRelayRecords(records []*types.RelayRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
