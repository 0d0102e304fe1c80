// Package eip712 builds the domain-separated digest a forward request is signed over.
//
// The digest is keccak256(0x19 0x01 ‖ domainSeparator ‖ hashStruct(request)) where
//
//	domainSeparator = keccak256(typeHash(EIP712Domain) ‖ keccak256(name) ‖ keccak256(version) ‖ chainId ‖ verifyingContract)
//	hashStruct      = keccak256(typeHash(ForwardRequest) ‖ from ‖ to ‖ value ‖ gas ‖ nonce ‖ keccak256(data))
//
// Every field occupies one 32 byte word in schema order. Dynamic values (strings, bytes)
// are replaced by their keccak256 so an empty payload still fills its slot.
package eip712

import (
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
)

const (
	DomainTypeName      = "EIP712Domain"
	RequestTypeName     = "ForwardRequest"
	DomainTypeSchema    = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
	RequestTypeSchema   = "ForwardRequest(address from,address to,uint256 value,uint256 gas,uint256 nonce,bytes data)"
	digestPrefixVersion = 0x01
)

var (
	DomainTypeHash  = crypto.Keccak256Hash([]byte(DomainTypeSchema))
	RequestTypeHash = crypto.Keccak256Hash([]byte(RequestTypeSchema))
)

// DomainSeparator hashes the domain descriptor
func DomainSeparator(domain *types.DomainDescriptor) (common.Hash, error) {
	if domain == nil {
		return common.Hash{}, fmt.Errorf("domain is nil")
	}
	if err := domain.Validate(); err != nil {
		return common.Hash{}, err
	}

	chainId, err := uint256Word(domain.ChainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chainId: %w", err)
	}

	return crypto.Keccak256Hash(
		DomainTypeHash.Bytes(),
		crypto.Keccak256([]byte(domain.Name)),
		crypto.Keccak256([]byte(domain.Version)),
		chainId,
		addressWord(domain.VerifyingContract),
	), nil
}

// HashForwardRequest computes hashStruct(request)
func HashForwardRequest(req *types.ForwardRequest) (common.Hash, error) {
	if err := req.Validate(); err != nil {
		return common.Hash{}, err
	}

	// Validate guarantees these fit, so the errors are unreachable
	value, _ := uint256Word(req.Value)
	gas, _ := uint256Word(req.Gas)
	nonce, _ := uint256Word(req.Nonce)

	return crypto.Keccak256Hash(
		RequestTypeHash.Bytes(),
		addressWord(req.From),
		addressWord(req.To),
		value,
		gas,
		nonce,
		crypto.Keccak256(req.Data),
	), nil
}

// Digest is the 32 byte value the originator signs and the forwarder recovers from
func Digest(domain *types.DomainDescriptor, req *types.ForwardRequest) (common.Hash, error) {
	separator, err := DomainSeparator(domain)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := HashForwardRequest(req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash request: %w", err)
	}
	return DigestFromHashes(separator, structHash), nil
}

// DigestFromHashes combines a precomputed domain separator with a struct hash
func DigestFromHashes(domainSeparator, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(
		[]byte{0x19, digestPrefixVersion},
		domainSeparator.Bytes(),
		structHash.Bytes(),
	)
}

// TypedData renders domain and request as the eth_signTypedData_v4 payload wallets sign
func TypedData(domain *types.DomainDescriptor, req *types.ForwardRequest) apitypes.TypedData {
	data := req.Data
	if data == nil {
		data = []byte{}
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			DomainTypeName: []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			RequestTypeName: []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "gas", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "data", Type: "bytes"},
			},
		},
		PrimaryType: RequestTypeName,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":  req.From.Hex(),
			"to":    req.To.Hex(),
			"value": bigString(req.Value),
			"gas":   bigString(req.Gas),
			"nonce": bigString(req.Nonce),
			"data":  hexutil.Encode(data),
		},
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func uint256Word(v *big.Int) ([]byte, error) {
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("value exceeds uint256")
	}
	word := u.Bytes32()
	return word[:], nil
}

func addressWord(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}
