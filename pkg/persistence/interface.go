package persistence

import (
	"context"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

// INonceLedger tracks the next expected nonce per originator.
// All implementations must be thread-safe; ConsumeNonce is the single serialization
// point between concurrent executions for the same originator.
type INonceLedger interface {
	// GetNonce returns the next nonce expected for from.
	// Originators that never executed anything are at 0.
	GetNonce(ctx context.Context, from common.Address) (uint64, error)

	// ConsumeNonce atomically checks that expected equals the current nonce for from
	// and advances it by one.
	// On mismatch it returns an error wrapping ErrNonceMismatch and changes nothing.
	// Of any number of concurrent calls with the same (from, expected) at most one succeeds.
	ConsumeNonce(ctx context.Context, from common.Address, expected uint64) error
}

// IRelayJournal records meta-transactions the relayer submitted.
type IRelayJournal interface {
	// SaveRelayRecord persists a relay record keyed by its ID.
	// Overwrites any existing record with the same ID.
	SaveRelayRecord(record *types.RelayRecord) error

	// LoadRelayRecord retrieves a relay record by ID.
	// Returns nil if the record doesn't exist, error only on storage failure.
	LoadRelayRecord(id string) (*types.RelayRecord, error)

	// ListRelayRecords returns records sorted by creation time (ascending).
	// If from is non-nil only records whose request originator matches are returned.
	// Returns empty slice if nothing matches, error only on storage failure.
	ListRelayRecords(from *common.Address) ([]*types.RelayRecord, error)
}

// IForwarderPersistence is the full storage surface of a forwarder deployment.
type IForwarderPersistence interface {
	INonceLedger
	IRelayJournal

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations should return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	// Returns nil if healthy, error describing the problem if not.
	HealthCheck() error
}
