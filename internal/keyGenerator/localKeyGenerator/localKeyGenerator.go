package localKeyGenerator

import (
	"context"
	"fmt"
	"sync"

	"github.com/Layr-Labs/crypto-libs/pkg/ecdsa"
	"github.com/Layr-Labs/eigenx-metatx-go/internal/keyGenerator"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/signature"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type keyEntry struct {
	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
	keyName    string
	aliasName  string
	address    common.Address
}

// LocalKeyGenerator keeps originator keys in process memory. Development and tests only.
type LocalKeyGenerator struct {
	logger   *zap.Logger
	keyStore map[string]*keyEntry // keyId -> keyEntry
	mu       sync.RWMutex
}

func NewLocalKeyGenerator(logger *zap.Logger) *LocalKeyGenerator {
	return &LocalKeyGenerator{
		logger:   logger,
		keyStore: make(map[string]*keyEntry),
	}
}

func (l *LocalKeyGenerator) GenerateECDSAKey(ctx context.Context, keyName string, aliasName string) (*keyGenerator.GeneratedECDSAKey, error) {
	privateKey, _, err := ecdsa.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	keyId := fmt.Sprintf("local-key-%s", uuid.New().String())
	if err := l.LoadPrivateKey(keyId, privateKey, keyName, aliasName); err != nil {
		return nil, err
	}
	return l.GetECDSAKeyById(ctx, keyId)
}

func (l *LocalKeyGenerator) GetECDSAKeyById(_ context.Context, keyId string) (*keyGenerator.GeneratedECDSAKey, error) {
	entry, err := l.entry(keyId)
	if err != nil {
		return nil, err
	}

	return &keyGenerator.GeneratedECDSAKey{
		PublicKey: entry.publicKey,
		Address:   entry.address.Hex(),
		KeyId:     keyId,
	}, nil
}

// SignDigest signs digest and canonicalizes the result for the forwarder's verifier
func (l *LocalKeyGenerator) SignDigest(_ context.Context, keyId string, digest common.Hash) ([]byte, error) {
	entry, err := l.entry(keyId)
	if err != nil {
		return nil, err
	}

	sig, err := entry.privateKey.Sign(digest.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest with key %s: %w", keyId, err)
	}

	canonical, err := signature.Canonicalize(digest, sig.Bytes(), entry.address)
	if err != nil {
		return nil, fmt.Errorf("key %s produced an unusable signature: %w", keyId, err)
	}

	l.logger.Debug("Signed digest with local key",
		zap.String("keyId", keyId),
		zap.String("address", entry.address.Hex()),
		zap.String("digest", digest.Hex()),
	)
	return canonical, nil
}

func (l *LocalKeyGenerator) entry(keyId string) (*keyEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, exists := l.keyStore[keyId]
	if !exists {
		return nil, fmt.Errorf("key with ID %s not found", keyId)
	}
	return entry, nil
}

// LoadPrivateKey loads a pre-existing private key into the key store.
func (l *LocalKeyGenerator) LoadPrivateKey(keyId string, privateKey *ecdsa.PrivateKey, keyName string, aliasName string) error {
	if privateKey == nil {
		return fmt.Errorf("private key cannot be nil")
	}

	address, err := privateKey.DeriveAddress()
	if err != nil {
		return fmt.Errorf("failed to derive Ethereum address from private key: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.keyStore[keyId]; exists {
		return fmt.Errorf("key with ID %s already exists", keyId)
	}

	l.keyStore[keyId] = &keyEntry{
		privateKey: privateKey,
		publicKey:  privateKey.Public(),
		keyName:    keyName,
		aliasName:  aliasName,
		address:    common.HexToAddress(address.String()),
	}

	l.logger.Info("Loaded originator key",
		zap.String("keyId", keyId),
		zap.String("keyName", keyName),
		zap.String("aliasName", aliasName),
		zap.String("address", address.String()),
	)
	return nil
}

// LoadPrivateKeyFromHex loads a private key from a hex string into the key store.
// The hex string can optionally start with "0x".
func (l *LocalKeyGenerator) LoadPrivateKeyFromHex(keyId string, privateKeyHex string, keyName string, aliasName string) error {
	privateKey, err := ecdsa.NewPrivateKeyFromHexString(privateKeyHex)
	if err != nil {
		return fmt.Errorf("failed to parse private key from hex: %w", err)
	}
	return l.LoadPrivateKey(keyId, privateKey, keyName, aliasName)
}

// KeyIdByAlias returns the ID of the first key registered under alias
func (l *LocalKeyGenerator) KeyIdByAlias(alias string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for id, entry := range l.keyStore {
		if entry.aliasName == alias {
			return id, true
		}
	}
	return "", false
}
