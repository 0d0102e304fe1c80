package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

// MemoryPersistence is an in-memory implementation of IForwarderPersistence.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// originator -> next expected nonce
	nonces map[common.Address]uint64

	// relay ID -> record
	relays map[string]*types.RelayRecord

	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
// Prints a loud warning since this should only be used for testing.
func NewMemoryPersistence() *MemoryPersistence {
	fmt.Println("⚠️  WARNING: Using in-memory persistence - ALL NONCES WILL BE LOST ON RESTART")
	fmt.Println("⚠️  A restarted forwarder accepts replays of every request it already executed. Set METATX_PERSISTENCE_TYPE=badger for production")

	return &MemoryPersistence{
		nonces: make(map[common.Address]uint64),
		relays: make(map[string]*types.RelayRecord),
	}
}

// GetNonce returns the next expected nonce for from.
func (m *MemoryPersistence) GetNonce(_ context.Context, from common.Address) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, persistence.ErrClosed
	}
	return m.nonces[from], nil
}

// ConsumeNonce compares and increments under the write lock.
func (m *MemoryPersistence) ConsumeNonce(_ context.Context, from common.Address, expected uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	next, err := persistence.CheckNonceAdvance(from, m.nonces[from], expected)
	if err != nil {
		return err
	}
	m.nonces[from] = next
	return nil
}

// SaveRelayRecord persists a relay record.
func (m *MemoryPersistence) SaveRelayRecord(record *types.RelayRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil RelayRecord")
	}
	if record.ID == "" {
		return fmt.Errorf("cannot save RelayRecord without ID")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.relays[record.ID] = persistence.CopyRelayRecord(record)
	return nil
}

// LoadRelayRecord retrieves a relay record by ID.
func (m *MemoryPersistence) LoadRelayRecord(id string) (*types.RelayRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	record, exists := m.relays[id]
	if !exists {
		return nil, nil // Not found is not an error
	}
	return persistence.CopyRelayRecord(record), nil
}

// ListRelayRecords returns matching relay records sorted by creation time.
func (m *MemoryPersistence) ListRelayRecords(from *common.Address) ([]*types.RelayRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	result := make([]*types.RelayRecord, 0, len(m.relays))
	for _, record := range m.relays {
		if persistence.RecordMatches(record, from) {
			result = append(result, persistence.CopyRelayRecord(record))
		}
	}
	persistence.SortRelayRecords(result)
	return result, nil
}

// Close marks the persistence layer as closed.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}
	return nil
}
