package keyGenerator

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/crypto-libs/pkg/ecdsa"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// GeneratedECDSAKey describes a secp256k1 key held by a key generator.
// The private half never leaves the generator.
type GeneratedECDSAKey struct {
	PublicKey *ecdsa.PublicKey
	Address   string
	KeyId     string
}

// EthAddress returns the key's address as a typed value
func (gek *GeneratedECDSAKey) EthAddress() common.Address {
	return common.HexToAddress(gek.Address)
}

func (gek *GeneratedECDSAKey) GetPublicKeyHex() (string, error) {
	if gek.PublicKey == nil {
		return "", fmt.Errorf("public key is nil")
	}
	return hexutil.Encode(gek.PublicKey.Bytes()), nil
}

// IKeyGenerator creates originator keys and signs 32 byte digests with them.
type IKeyGenerator interface {
	GenerateECDSAKey(ctx context.Context, keyName string, aliasName string) (*GeneratedECDSAKey, error)
	GetECDSAKeyById(ctx context.Context, keyId string) (*GeneratedECDSAKey, error)

	// SignDigest signs a prehashed 32 byte digest and returns r || s || v with v in {27, 28}
	// and s in the lower half of the curve order.
	SignDigest(ctx context.Context, keyId string, digest common.Hash) ([]byte, error)
}
