package contracts

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/chain"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/config"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/forwarder"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"
)

const (
	// ExecuteOverheadGas covers the forwarder's own work around the inner call
	ExecuteOverheadGas = 100_000

	// verificationGas is charged before a request is checked: hashing, ecrecover and the nonce write
	verificationGas = params.EcrecoverGas + params.Keccak256Gas*4 + params.SstoreResetGasEIP2200
)

// ForwarderContract exposes a forwarder.Forwarder on the devnet under the MinimalForwarder ABI
type ForwarderContract struct {
	fwd    *forwarder.Forwarder
	logger *zap.Logger
}

// NewForwarderFactory returns a factory that binds a forwarder to whatever address it is deployed at.
// The created contract is reported through onCreate.
func NewForwarderFactory(
	chainID *big.Int,
	ledger persistence.INonceLedger,
	logger *zap.Logger,
	onCreate func(*ForwarderContract),
) chain.ContractFactory {
	return func(address common.Address) (chain.Contract, error) {
		fwd, err := forwarder.NewForwarder(forwarder.Config{
			Name:    config.ForwarderDomainName,
			Version: config.ForwarderDomainVersion,
			ChainID: chainID,
			Address: address,
		}, ledger, logger)
		if err != nil {
			return nil, err
		}
		contract := &ForwarderContract{fwd: fwd, logger: logger}
		if onCreate != nil {
			onCreate(contract)
		}
		return contract, nil
	}
}

// DeployForwarder deploys a forwarder contract from deployer
func DeployForwarder(
	ctx context.Context,
	c *chain.Chain,
	deployer *ecdsa.PrivateKey,
	ledger persistence.INonceLedger,
	logger *zap.Logger,
) (*ForwarderContract, error) {
	var created *ForwarderContract
	factory := NewForwarderFactory(c.ChainID(), ledger, logger, func(fc *ForwarderContract) {
		created = fc
	})

	addr, receipt, err := c.DeployContract(ctx, deployer, factory, nil, chain.IntrinsicGas(nil, true))
	if err != nil {
		return nil, fmt.Errorf("failed to deploy forwarder: %w", err)
	}
	if receipt.Status != ethTypes.ReceiptStatusSuccessful || created == nil {
		return nil, fmt.Errorf("forwarder deployment failed: %v", c.TransactionError(receipt.TxHash))
	}

	logger.Sugar().Infow("Deployed forwarder",
		"address", addr.Hex(),
		"chainId", c.ChainID().String(),
		"tx", receipt.TxHash.Hex(),
	)
	return created, nil
}

func (f *ForwarderContract) Address() common.Address {
	return f.fwd.Address()
}

// Forwarder returns the off-chain view of the same forwarder, for pre-flight checks
func (f *ForwarderContract) Forwarder() *forwarder.Forwarder {
	return f.fwd
}

func (f *ForwarderContract) Run(ctx context.Context, call *chain.CallContext, input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, chain.Revert("MinimalForwarder: missing selector")
	}
	method, err := ForwarderABI.MethodById(input[:4])
	if err != nil {
		return nil, chain.Revert("MinimalForwarder: unknown selector %x", input[:4])
	}
	if !method.IsPayable() && call.Value().Sign() > 0 {
		return nil, chain.Revert("MinimalForwarder: %s is not payable", method.Name)
	}

	switch method.Name {
	case "getNonce":
		return f.getNonce(ctx, call, method, input[4:])
	case "verify":
		return f.verify(ctx, call, method, input[4:])
	case "execute":
		return f.execute(ctx, call, method, input[4:])
	}
	return nil, chain.Revert("MinimalForwarder: unhandled method %s", method.Name)
}

func (f *ForwarderContract) getNonce(ctx context.Context, call *chain.CallContext, method *abi.Method, args []byte) ([]byte, error) {
	values, err := method.Inputs.Unpack(args)
	if err != nil {
		return nil, chain.Revert("MinimalForwarder: bad getNonce arguments")
	}
	if err := call.UseGas(params.ColdSloadCostEIP2929); err != nil {
		return nil, err
	}
	from, _ := values[0].(common.Address)
	nonce, err := f.fwd.GetNonce(ctx, from)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(new(big.Int).SetUint64(nonce))
}

func (f *ForwarderContract) verify(ctx context.Context, call *chain.CallContext, method *abi.Method, args []byte) ([]byte, error) {
	req, sig, err := UnpackRequestArgs(method, args)
	if err != nil {
		return nil, chain.Revert("MinimalForwarder: %v", err)
	}
	if err := call.UseGas(verificationGas); err != nil {
		return nil, err
	}

	err = f.fwd.Verify(ctx, req, sig)
	switch {
	case err == nil:
		return method.Outputs.Pack(true)
	case isProtocolError(err):
		return method.Outputs.Pack(false)
	default:
		return nil, err
	}
}

func (f *ForwarderContract) execute(ctx context.Context, call *chain.CallContext, method *abi.Method, args []byte) ([]byte, error) {
	if call.ReadOnly() {
		return nil, chain.ErrWriteProtection
	}
	req, sig, err := UnpackRequestArgs(method, args)
	if err != nil {
		return nil, chain.Revert("MinimalForwarder: %v", err)
	}
	if err := call.UseGas(verificationGas); err != nil {
		return nil, err
	}

	result, err := f.fwd.Execute(ctx, call, req, sig)
	if err != nil {
		if isProtocolError(err) {
			return nil, chain.Revert("MinimalForwarder: %v", err)
		}
		return nil, err
	}
	return method.Outputs.Pack(result.Success, []byte(result.ReturnData))
}

func isProtocolError(err error) bool {
	return errors.Is(err, forwarder.ErrInvalidSignature) ||
		errors.Is(err, forwarder.ErrNonceMismatch) ||
		errors.Is(err, forwarder.ErrInsufficientGas) ||
		errors.Is(err, types.ErrMalformedRequest)
}

// ExecuteGasLimit is the transaction gas a relayer should provide for execute(req, sig)
func ExecuteGasLimit(req *types.ForwardRequest, calldata []byte) uint64 {
	return chain.IntrinsicGas(calldata, false) + ExecuteOverheadGas + req.Gas.Uint64() + req.Gas.Uint64()/63
}
