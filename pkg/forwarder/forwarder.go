package forwarder

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/eip712"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/signature"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

/*
Forwarder execution

A request moves through these states; any rejection stops it with no side effects
until NonceConsumed is reached:

	Received -> Verified -> NonceConsumed -> Executed -> Success | Reverted

1. Received:      the request is checked for well-formed uint256 fields
2. Verified:      the digest is rebuilt with this forwarder's own domain and the
                  signature must recover to request.from (ErrInvalidSignature)
3. Gas check:     the caller must leave request.gas plus the cost of making the call
                  itself (ErrInsufficientGas), so the target always gets its full budget
4. NonceConsumed: compare-and-increment on the ledger (ErrNonceMismatch)
5. Executed:      request.to is called with request.data ‖ request.from, forwarding
                  request.value and at most request.gas
6. The result reports the target's success flag and return data. A revert does not
   restore the nonce; the originator has to sign a fresh request.
*/

var (
	// ErrInvalidSignature is returned when the signature does not authorize the request
	ErrInvalidSignature = signature.ErrInvalidSignature

	// ErrNonceMismatch is returned when the request nonce is not the originator's next nonce
	ErrNonceMismatch = persistence.ErrNonceMismatch

	// ErrInsufficientGas is returned when the caller cannot fund request.gas for the inner call
	ErrInsufficientGas = errors.New("insufficient gas for forwarded call")
)

// ICallExecutor is the execution environment's inner-call capability.
// The shape follows the EVM's Call: a non-nil error means the callee reverted.
type ICallExecutor interface {
	// Call invokes to with input, transferring value from the forwarder and granting at most gas.
	Call(ctx context.Context, to common.Address, input []byte, gas uint64, value *big.Int) (ret []byte, leftOverGas uint64, err error)

	// GasLeft reports the gas still available to the forwarder's own frame.
	GasLeft() uint64

	// CallCost is what Call charges the forwarder's frame on top of the gas it grants.
	CallCost(value *big.Int) uint64
}

// Config identifies one forwarder deployment
type Config struct {
	Name    string
	Version string
	ChainID *big.Int
	// Address is the forwarder's own address, the domain's verifyingContract
	Address common.Address
}

// Forwarder verifies signed forward requests and executes them on behalf of their originators
type Forwarder struct {
	domain          types.DomainDescriptor
	domainSeparator common.Hash
	ledger          persistence.INonceLedger
	logger          *zap.Logger
}

// NewForwarder builds a forwarder bound to a single domain. The ledger must not be
// shared with anything that consumes nonces outside this forwarder.
func NewForwarder(cfg Config, ledger persistence.INonceLedger, logger *zap.Logger) (*Forwarder, error) {
	if ledger == nil {
		return nil, fmt.Errorf("nonce ledger is required")
	}
	if cfg.ChainID == nil {
		return nil, fmt.Errorf("chain id is required")
	}

	domain := types.DomainDescriptor{
		Name:              cfg.Name,
		Version:           cfg.Version,
		ChainID:           new(big.Int).Set(cfg.ChainID),
		VerifyingContract: cfg.Address,
	}
	separator, err := eip712.DomainSeparator(&domain)
	if err != nil {
		return nil, fmt.Errorf("invalid forwarder domain: %w", err)
	}

	return &Forwarder{
		domain:          domain,
		domainSeparator: separator,
		ledger:          ledger,
		logger:          logger,
	}, nil
}

// Domain returns a copy of the domain signatures must be produced under
func (f *Forwarder) Domain() types.DomainDescriptor {
	d := f.domain
	d.ChainID = new(big.Int).Set(f.domain.ChainID)
	return d
}

// Address returns the forwarder's own address
func (f *Forwarder) Address() common.Address {
	return f.domain.VerifyingContract
}

// GetNonce returns the next nonce from must sign with
func (f *Forwarder) GetNonce(ctx context.Context, from common.Address) (uint64, error) {
	return f.ledger.GetNonce(ctx, from)
}

// Digest returns the value an originator signs for req under this forwarder's domain
func (f *Forwarder) Digest(req *types.ForwardRequest) (common.Hash, error) {
	structHash, err := eip712.HashForwardRequest(req)
	if err != nil {
		return common.Hash{}, err
	}
	return eip712.DigestFromHashes(f.domainSeparator, structHash), nil
}

// Verify reports whether Execute would accept the pair right now, without changing state
func (f *Forwarder) Verify(ctx context.Context, req *types.ForwardRequest, sig []byte) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := f.verifySignature(req, sig); err != nil {
		return err
	}

	current, err := f.ledger.GetNonce(ctx, req.From)
	if err != nil {
		return fmt.Errorf("failed to read nonce: %w", err)
	}
	if !req.Nonce.IsUint64() || req.Nonce.Uint64() != current {
		return fmt.Errorf("%w: %s expected %d, got %s", ErrNonceMismatch, req.From.Hex(), current, req.Nonce.String())
	}
	return nil
}

func (f *Forwarder) verifySignature(req *types.ForwardRequest, sig []byte) error {
	digest, err := f.Digest(req)
	if err != nil {
		return err
	}
	return signature.Verify(digest, sig, req.From)
}

// Execute runs a signed request through the forwarder state machine.
// A returned error means nothing changed; a returned result means the nonce was consumed.
func (f *Forwarder) Execute(ctx context.Context, executor ICallExecutor, req *types.ForwardRequest, sig []byte) (*types.ExecutionResult, error) {
	sugar := f.logger.Sugar()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := f.verifySignature(req, sig); err != nil {
		sugar.Debugw("Rejected forward request", "from", req.From.Hex(), "to", req.To.Hex(), "error", err)
		return nil, err
	}

	needed := new(big.Int).Add(req.Gas, new(big.Int).SetUint64(executor.CallCost(req.Value)))
	if gasLeft := executor.GasLeft(); needed.Cmp(new(big.Int).SetUint64(gasLeft)) > 0 {
		sugar.Debugw("Rejected forward request", "from", req.From.Hex(), "gas", req.Gas.String(), "needed", needed.String(), "gasLeft", gasLeft)
		return nil, fmt.Errorf("%w: request needs %s, %d available", ErrInsufficientGas, needed.String(), gasLeft)
	}
	gas := req.Gas.Uint64()

	if !req.Nonce.IsUint64() {
		current, err := f.ledger.GetNonce(ctx, req.From)
		if err != nil {
			return nil, fmt.Errorf("failed to read nonce: %w", err)
		}
		return nil, fmt.Errorf("%w: %s expected %d, got %s", ErrNonceMismatch, req.From.Hex(), current, req.Nonce.String())
	}
	if err := f.ledger.ConsumeNonce(ctx, req.From, req.Nonce.Uint64()); err != nil {
		sugar.Debugw("Rejected forward request", "from", req.From.Hex(), "nonce", req.Nonce.String(), "error", err)
		return nil, err
	}

	input := AppendOriginator(req.Data, req.From)
	ret, leftOver, callErr := executor.Call(ctx, req.To, input, gas, req.Value)

	result := &types.ExecutionResult{
		Success:    callErr == nil,
		ReturnData: ret,
		GasUsed:    gas - leftOver,
	}

	if callErr != nil {
		sugar.Infow("Forwarded call reverted",
			"from", req.From.Hex(),
			"to", req.To.Hex(),
			"nonce", req.Nonce.String(),
			"gasUsed", result.GasUsed,
			"error", callErr,
		)
	} else {
		sugar.Infow("Forwarded call executed",
			"from", req.From.Hex(),
			"to", req.To.Hex(),
			"nonce", req.Nonce.String(),
			"gasUsed", result.GasUsed,
		)
	}
	return result, nil
}

// AppendOriginator builds the inner call payload: data followed by the 20 byte originator
func AppendOriginator(data []byte, from common.Address) []byte {
	out := make([]byte, 0, len(data)+common.AddressLength)
	out = append(out, data...)
	return append(out, from.Bytes()...)
}
