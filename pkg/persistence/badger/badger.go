package badger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Key prefixes for namespacing
const (
	keyPrefixNonce       = "nonce:"
	keyPrefixRelay       = "relay:"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"

	gcInterval     = 5 * time.Minute
	gcDiscardRatio = 0.5
)

// BadgerPersistence is a durable persistence implementation using Badger.
// Nonces survive restarts, so a restarted forwarder still rejects replays.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool

	// consumeMu serializes compare-and-increment so concurrent consumes in this
	// process never surface as transaction conflicts
	consumeMu sync.Mutex
}

// NewBadgerPersistence opens (or creates) the database at dataPath with SyncWrites enabled.
// A background goroutine is started for value log garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = newBadgerLogger(logger)
	opts.SyncWrites = true // a consumed nonce must hit disk before Execute returns
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		if err := item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		}); err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}
		return nil
	})
}

func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(gcDiscardRatio)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func nonceKey(from common.Address) []byte {
	return []byte(keyPrefixNonce + strings.ToLower(from.Hex()))
}

func relayKey(id string) []byte {
	return []byte(keyPrefixRelay + id)
}

func readNonce(txn *badgerdb.Txn, from common.Address) (uint64, error) {
	item, err := txn.Get(nonceKey(from))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		n, err = persistence.DecodeNonce(val)
		return err
	})
	return n, err
}

// GetNonce returns the next expected nonce for from
func (b *BadgerPersistence) GetNonce(_ context.Context, from common.Address) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, persistence.ErrClosed
	}

	var n uint64
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		n, err = readNonce(txn, from)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read nonce for %s: %w", from.Hex(), err)
	}
	return n, nil
}

// ConsumeNonce compares and increments inside one read-write transaction
func (b *BadgerPersistence) ConsumeNonce(_ context.Context, from common.Address, expected uint64) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	b.consumeMu.Lock()
	defer b.consumeMu.Unlock()

	err := b.db.Update(func(txn *badgerdb.Txn) error {
		current, err := readNonce(txn, from)
		if err != nil {
			return err
		}
		next, err := persistence.CheckNonceAdvance(from, current, expected)
		if err != nil {
			return err
		}
		return txn.Set(nonceKey(from), persistence.EncodeNonce(next))
	})
	if err != nil {
		if errors.Is(err, persistence.ErrNonceMismatch) || errors.Is(err, persistence.ErrNonceExhausted) {
			return err
		}
		return fmt.Errorf("failed to consume nonce for %s: %w", from.Hex(), err)
	}
	return nil
}

// SaveRelayRecord persists a relay record
func (b *BadgerPersistence) SaveRelayRecord(record *types.RelayRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil RelayRecord")
	}
	if record.ID == "" {
		return fmt.Errorf("cannot save RelayRecord without ID")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalRelayRecord(record)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(relayKey(record.ID), data)
	})
}

// LoadRelayRecord retrieves a relay record by ID
func (b *BadgerPersistence) LoadRelayRecord(id string) (*types.RelayRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(relayKey(id))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil // Not found is not an error
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load RelayRecord: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	return persistence.UnmarshalRelayRecord(data)
}

// ListRelayRecords scans the relay prefix and returns matching records by creation time
func (b *BadgerPersistence) ListRelayRecords(from *common.Address) ([]*types.RelayRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	records := make([]*types.RelayRecord, 0)
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixRelay)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				record, err := persistence.UnmarshalRelayRecord(val)
				if err != nil {
					return err
				}
				if persistence.RecordMatches(record, from) {
					records = append(records, record)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", string(item.Key()), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list RelayRecords: %w", err)
	}

	persistence.SortRelayRecords(records)
	return records, nil
}

// Close stops GC and closes the database
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, idempotent
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
