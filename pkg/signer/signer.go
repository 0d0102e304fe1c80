// Package signer produces originator signatures over forward requests.
// Every implementation returns signatures the forwarder's verifier accepts as is.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/Layr-Labs/eigenx-metatx-go/internal/keyGenerator"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/clients/web3signer"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/eip712"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/signature"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ISigner signs forward requests on behalf of a single originator
type ISigner interface {
	Address() common.Address
	SignForwardRequest(ctx context.Context, domain *types.DomainDescriptor, req *types.ForwardRequest) ([]byte, error)
}

func checkRequest(expected common.Address, domain *types.DomainDescriptor, req *types.ForwardRequest) (common.Hash, error) {
	if req == nil {
		return common.Hash{}, fmt.Errorf("%w: request is nil", types.ErrMalformedRequest)
	}
	if req.From != expected {
		return common.Hash{}, fmt.Errorf("request from %s cannot be signed by %s", req.From.Hex(), expected.Hex())
	}
	return eip712.Digest(domain, req)
}

// InMemorySigner holds the originator key in process memory
type InMemorySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewInMemorySigner(key *ecdsa.PrivateKey) (*InMemorySigner, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	return &InMemorySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewInMemorySignerFromHex accepts a hex key with or without the 0x prefix
func NewInMemorySignerFromHex(keyHex string) (*InMemorySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewInMemorySigner(key)
}

func (s *InMemorySigner) Address() common.Address {
	return s.address
}

func (s *InMemorySigner) SignForwardRequest(_ context.Context, domain *types.DomainDescriptor, req *types.ForwardRequest) ([]byte, error) {
	digest, err := checkRequest(s.address, domain, req)
	if err != nil {
		return nil, err
	}
	raw, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign forward request: %w", err)
	}
	return signature.Normalize(raw)
}

// KeyGeneratorSigner signs with a key held by a key generator (local or AWS KMS)
type KeyGeneratorSigner struct {
	generator keyGenerator.IKeyGenerator
	keyId     string
	address   common.Address
}

// NewKeyGeneratorSigner resolves keyId's address once up front
func NewKeyGeneratorSigner(ctx context.Context, generator keyGenerator.IKeyGenerator, keyId string) (*KeyGeneratorSigner, error) {
	key, err := generator.GetECDSAKeyById(ctx, keyId)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve key %s: %w", keyId, err)
	}
	return &KeyGeneratorSigner{generator: generator, keyId: keyId, address: key.EthAddress()}, nil
}

func (s *KeyGeneratorSigner) Address() common.Address {
	return s.address
}

func (s *KeyGeneratorSigner) SignForwardRequest(ctx context.Context, domain *types.DomainDescriptor, req *types.ForwardRequest) ([]byte, error) {
	digest, err := checkRequest(s.address, domain, req)
	if err != nil {
		return nil, err
	}
	sig, err := s.generator.SignDigest(ctx, s.keyId, digest)
	if err != nil {
		return nil, err
	}
	return signature.Canonicalize(digest, sig, s.address)
}

// Web3Signer delegates to a remote signer through eth_signTypedData_v4.
// The remote side sees the full typed request, not just a digest.
type Web3Signer struct {
	client  web3signer.IWeb3Signer
	address common.Address
}

func NewWeb3Signer(client web3signer.IWeb3Signer, address common.Address) *Web3Signer {
	return &Web3Signer{client: client, address: address}
}

func (s *Web3Signer) Address() common.Address {
	return s.address
}

func (s *Web3Signer) SignForwardRequest(ctx context.Context, domain *types.DomainDescriptor, req *types.ForwardRequest) ([]byte, error) {
	digest, err := checkRequest(s.address, domain, req)
	if err != nil {
		return nil, err
	}
	sig, err := s.client.EthSignTypedData(ctx, s.address, eip712.TypedData(domain, req))
	if err != nil {
		return nil, err
	}
	return signature.Canonicalize(digest, sig, s.address)
}
