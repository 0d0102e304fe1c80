package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
)

// ErrMalformedRequest is returned when a request cannot be encoded under the typed schema
var ErrMalformedRequest = errors.New("malformed forward request")

// SignatureLength is the size of an r || s || v secp256k1 signature
const SignatureLength = 65

// ForwardRequest is the unit of authorization an originator signs off-chain.
// Value, Gas and Nonce are uint256 quantities.
type ForwardRequest struct {
	From  common.Address // originator whose authority is being exercised
	To    common.Address // recipient contract
	Value *big.Int       // native value forwarded with the call
	Gas   *big.Int       // gas budget for the inner call
	Nonce *big.Int       // must equal the ledger's next nonce for From
	Data  []byte         // opaque call payload
}

type forwardRequestJSON struct {
	From  common.Address        `json:"from"`
	To    common.Address        `json:"to"`
	Value *math.HexOrDecimal256 `json:"value"`
	Gas   *math.HexOrDecimal256 `json:"gas"`
	Nonce *math.HexOrDecimal256 `json:"nonce"`
	Data  hexutil.Bytes         `json:"data"`
}

func (r ForwardRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(forwardRequestJSON{
		From:  r.From,
		To:    r.To,
		Value: (*math.HexOrDecimal256)(r.Value),
		Gas:   (*math.HexOrDecimal256)(r.Gas),
		Nonce: (*math.HexOrDecimal256)(r.Nonce),
		Data:  r.Data,
	})
}

func (r *ForwardRequest) UnmarshalJSON(input []byte) error {
	var dec forwardRequestJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	r.From = dec.From
	r.To = dec.To
	r.Value = (*big.Int)(dec.Value)
	r.Gas = (*big.Int)(dec.Gas)
	r.Nonce = (*big.Int)(dec.Nonce)
	r.Data = dec.Data
	return nil
}

// Validate checks that every integer field is present and representable as uint256
func (r *ForwardRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: request is nil", ErrMalformedRequest)
	}
	fields := []struct {
		name string
		v    *big.Int
	}{
		{"value", r.Value},
		{"gas", r.Gas},
		{"nonce", r.Nonce},
	}
	for _, f := range fields {
		if f.v == nil {
			return fmt.Errorf("%w: %s is required", ErrMalformedRequest, f.name)
		}
		if f.v.Sign() < 0 {
			return fmt.Errorf("%w: %s is negative", ErrMalformedRequest, f.name)
		}
		if _, overflow := uint256.FromBig(f.v); overflow {
			return fmt.Errorf("%w: %s exceeds uint256", ErrMalformedRequest, f.name)
		}
	}
	return nil
}

// Copy returns a deep copy of the request
func (r *ForwardRequest) Copy() *ForwardRequest {
	if r == nil {
		return nil
	}
	cp := &ForwardRequest{
		From: r.From,
		To:   r.To,
		Data: common.CopyBytes(r.Data),
	}
	if r.Value != nil {
		cp.Value = new(big.Int).Set(r.Value)
	}
	if r.Gas != nil {
		cp.Gas = new(big.Int).Set(r.Gas)
	}
	if r.Nonce != nil {
		cp.Nonce = new(big.Int).Set(r.Nonce)
	}
	return cp
}

// DomainDescriptor scopes a signature to exactly one deployment of one forwarder on one chain
type DomainDescriptor struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	ChainID           *big.Int       `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

type domainDescriptorJSON struct {
	Name              string                `json:"name"`
	Version           string                `json:"version"`
	ChainID           *math.HexOrDecimal256 `json:"chainId"`
	VerifyingContract common.Address        `json:"verifyingContract"`
}

func (d DomainDescriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(domainDescriptorJSON{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           (*math.HexOrDecimal256)(d.ChainID),
		VerifyingContract: d.VerifyingContract,
	})
}

func (d *DomainDescriptor) UnmarshalJSON(input []byte) error {
	var dec domainDescriptorJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	d.Name = dec.Name
	d.Version = dec.Version
	d.ChainID = (*big.Int)(dec.ChainID)
	d.VerifyingContract = dec.VerifyingContract
	return nil
}

// Validate checks that the domain can be hashed
func (d *DomainDescriptor) Validate() error {
	if d.ChainID == nil || d.ChainID.Sign() < 0 {
		return fmt.Errorf("domain chainId must be a non-negative integer")
	}
	if _, overflow := uint256.FromBig(d.ChainID); overflow {
		return fmt.Errorf("domain chainId exceeds uint256")
	}
	return nil
}

// ExecutionResult is what the forwarder reports after the inner call ran
type ExecutionResult struct {
	Success    bool          `json:"success"`
	ReturnData hexutil.Bytes `json:"returnData"`
	GasUsed    uint64        `json:"gasUsed"`
}

type RelayStatus string

const (
	// RelayStatusSucceeded means the inner call succeeded
	RelayStatusSucceeded RelayStatus = "succeeded"
	// RelayStatusReverted means the nonce was consumed but the target reverted
	RelayStatusReverted RelayStatus = "reverted"
	// RelayStatusFailed means the outer transaction failed on chain
	RelayStatusFailed RelayStatus = "failed"
)

// RelayRecord is the relayer's journal entry for one submitted meta-transaction
type RelayRecord struct {
	ID         string          `json:"id"`
	Request    *ForwardRequest `json:"request"`
	Signature  hexutil.Bytes   `json:"signature"`
	Digest     common.Hash     `json:"digest"`
	Relayer    common.Address  `json:"relayer"`
	TxHash     common.Hash     `json:"txHash"`
	Block      uint64          `json:"block"`
	Status     RelayStatus     `json:"status"`
	ReturnData hexutil.Bytes   `json:"returnData,omitempty"`
	GasUsed    uint64          `json:"gasUsed"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// RelayRequest is the body of POST /relay and POST /verify
type RelayRequest struct {
	Request   *ForwardRequest `json:"request"`
	Signature hexutil.Bytes   `json:"signature"`
}

// NonceResponse is the body of GET /nonce/{address}
type NonceResponse struct {
	Address common.Address        `json:"address"`
	Nonce   *math.HexOrDecimal256 `json:"nonce"`
}

// VerifyResponse is the body of POST /verify
type VerifyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ErrorResponse is returned by the relayer API on failure
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
