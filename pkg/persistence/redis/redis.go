package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixNonce       = "metatx:nonce:"
	keyPrefixRelay       = "metatx:relay:"
	keyPrefixRelaysFrom  = "metatx:relays:from:"
	keySchemaVersion     = "metatx:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Key set for listing operations (Redis doesn't support prefix iteration natively)
	keySetRelays = "metatx:relays:index"

	operationTimeout = 5 * time.Second
)

// consumeNonceScript is the compare-and-increment executed atomically by the server.
// Returns {1, next} on success and {0, current} on mismatch.
var consumeNonceScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
  current = '0'
end
if current ~= ARGV[1] then
  return {0, current}
end
return {1, redis.call('INCR', KEYS[1])}
`)

// RedisPersistence shares one nonce ledger between every relayer pointed at the same server.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant setups).
	// If set, "tenant:" results in keys like "tenant:metatx:nonce:0xabc...".
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.KeyPrefix != "" {
		logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	} else {
		logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB)
	}

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) nonceKey(from common.Address) string {
	return r.prefixKey(keyPrefixNonce + strings.ToLower(from.Hex()))
}

func (r *RedisPersistence) relayKey(id string) string {
	return r.prefixKey(keyPrefixRelay + id)
}

func (r *RedisPersistence) relaysFromKey(from common.Address) string {
	return r.prefixKey(keyPrefixRelaysFrom + strings.ToLower(from.Hex()))
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if errors.Is(err, redis.Nil) {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}
	return nil
}

// GetNonce returns the next expected nonce for from
func (r *RedisPersistence) GetNonce(ctx context.Context, from common.Address) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0, persistence.ErrClosed
	}

	val, err := r.client.Get(ctx, r.nonceKey(from)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read nonce for %s: %w", from.Hex(), err)
	}

	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt nonce for %s: %w", from.Hex(), err)
	}
	return n, nil
}

// ConsumeNonce runs the compare-and-increment script so the check and the write
// happen in one server-side step, even across relayer processes
func (r *RedisPersistence) ConsumeNonce(ctx context.Context, from common.Address, expected uint64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	// INCR is bounded by int64
	if expected >= uint64(1<<63-1) {
		return fmt.Errorf("%w: %s", persistence.ErrNonceExhausted, from.Hex())
	}

	res, err := consumeNonceScript.Run(ctx, r.client, []string{r.nonceKey(from)}, strconv.FormatUint(expected, 10)).Slice()
	if err != nil {
		return fmt.Errorf("failed to consume nonce for %s: %w", from.Hex(), err)
	}
	if len(res) != 2 {
		return fmt.Errorf("unexpected consume result for %s: %v", from.Hex(), res)
	}

	ok, _ := res[0].(int64)
	if ok == 1 {
		return nil
	}

	current, err := strconv.ParseUint(fmt.Sprint(res[1]), 10, 64)
	if err != nil {
		return fmt.Errorf("corrupt nonce for %s: %w", from.Hex(), err)
	}
	return persistence.NewNonceMismatchError(from, current, expected)
}

// SaveRelayRecord stores the record and indexes it globally and by originator
func (r *RedisPersistence) SaveRelayRecord(record *types.RelayRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil RelayRecord")
	}
	if record.ID == "" {
		return fmt.Errorf("cannot save RelayRecord without ID")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalRelayRecord(record)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.relayKey(record.ID), data, 0)
	pipe.SAdd(ctx, r.prefixKey(keySetRelays), record.ID)
	if record.Request != nil {
		pipe.SAdd(ctx, r.relaysFromKey(record.Request.From), record.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save RelayRecord: %w", err)
	}
	return nil
}

// LoadRelayRecord retrieves a relay record by ID
func (r *RedisPersistence) LoadRelayRecord(id string) (*types.RelayRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.relayKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load RelayRecord: %w", err)
	}
	return persistence.UnmarshalRelayRecord(data)
}

// ListRelayRecords reads the relevant index set and fetches records with MGET
func (r *RedisPersistence) ListRelayRecords(from *common.Address) ([]*types.RelayRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	indexKey := r.prefixKey(keySetRelays)
	if from != nil {
		indexKey = r.relaysFromKey(*from)
	}

	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list RelayRecord ids: %w", err)
	}
	if len(ids) == 0 {
		return []*types.RelayRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.relayKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch RelayRecords: %w", err)
	}

	records := make([]*types.RelayRecord, 0, len(values))
	for i, val := range values {
		if val == nil {
			// Key was in index but doesn't exist - clean up index
			if err := r.client.SRem(ctx, indexKey, ids[i]).Err(); err != nil {
				r.logger.Sugar().Warnw("Failed to drop stale RelayRecord id from index", "index", indexKey, "id", ids[i], "error", err)
			}
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for RelayRecord", "key", keys[i])
			continue
		}

		record, err := persistence.UnmarshalRelayRecord([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to decode RelayRecord", "key", keys[i], "error", err)
			continue
		}
		if persistence.RecordMatches(record, from) {
			records = append(records, record)
		}
	}

	persistence.SortRelayRecords(records)
	return records, nil
}

// Close closes the Redis client
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // Already closed, idempotent
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck pings Redis and checks the schema marker
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	return nil
}
