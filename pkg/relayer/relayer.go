package relayer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/chain"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/contracts"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/transactionSigner"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrGasLimitTooHigh is returned for requests whose gas budget the relayer will not fund
var ErrGasLimitTooHigh = errors.New("request gas exceeds relayer limit")

// Config wires a relayer to a deployed forwarder
type Config struct {
	Chain     *chain.Chain
	Forwarder *contracts.ForwarderContract
	TxSigner  transactionSigner.ITransactionSigner
	Journal   persistence.IRelayJournal

	// MaxRequestGas caps request.gas; zero means whatever fits in a block
	MaxRequestGas uint64
}

// Relayer submits signed forward requests to the forwarder and pays for them
type Relayer struct {
	chain         *chain.Chain
	forwarder     *contracts.ForwarderContract
	txSigner      transactionSigner.ITransactionSigner
	address       common.Address
	journal       persistence.IRelayJournal
	maxRequestGas uint64
	logger        *zap.Logger

	// submitMu keeps the relayer account's transactions in nonce order
	submitMu sync.Mutex
	now      func() time.Time
}

func NewRelayer(cfg *Config, logger *zap.Logger) (*Relayer, error) {
	if cfg.Chain == nil || cfg.Forwarder == nil {
		return nil, fmt.Errorf("chain and forwarder are required")
	}
	if cfg.TxSigner == nil {
		return nil, fmt.Errorf("transaction signer is required")
	}
	if cfg.Journal == nil {
		return nil, fmt.Errorf("relay journal is required")
	}

	maxGas := cfg.MaxRequestGas
	if maxGas == 0 {
		// leave room for the forwarder's overhead and the 1/64 reserve
		maxGas = (chain.DefaultBlockGasLimit - contracts.ExecuteOverheadGas) * 63 / 64
	}

	return &Relayer{
		chain:         cfg.Chain,
		forwarder:     cfg.Forwarder,
		txSigner:      cfg.TxSigner,
		address:       cfg.TxSigner.GetFromAddress(),
		journal:       cfg.Journal,
		maxRequestGas: maxGas,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Address is the account that pays for relayed transactions
func (r *Relayer) Address() common.Address {
	return r.address
}

func (r *Relayer) ForwarderAddress() common.Address {
	return r.forwarder.Address()
}

func (r *Relayer) Domain() types.DomainDescriptor {
	return r.forwarder.Forwarder().Domain()
}

func (r *Relayer) Balance() *big.Int {
	return r.chain.BalanceOf(r.address)
}

// GetNonce reads the forwarder's getNonce view on chain
func (r *Relayer) GetNonce(ctx context.Context, from common.Address) (*big.Int, error) {
	input, err := contracts.PackGetNonce(from)
	if err != nil {
		return nil, err
	}
	ret, err := r.chain.CallStatic(ctx, r.address, r.forwarder.Address(), input)
	if err != nil {
		return nil, fmt.Errorf("getNonce call failed: %w", err)
	}
	return contracts.UnpackGetNonce(ret)
}

// Verify runs the forwarder's checks without submitting anything
func (r *Relayer) Verify(ctx context.Context, req *types.ForwardRequest, sig []byte) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if !req.Gas.IsUint64() || req.Gas.Uint64() > r.maxRequestGas {
		return fmt.Errorf("%w: %s > %d", ErrGasLimitTooHigh, req.Gas.String(), r.maxRequestGas)
	}
	return r.forwarder.Forwarder().Verify(ctx, req, sig)
}

// Relay pre-flights the request, submits execute(req, sig) from the relayer account and
// journals the outcome. Requests that would be rejected on chain are refused before any
// fee is spent and are not journaled.
func (r *Relayer) Relay(ctx context.Context, req *types.ForwardRequest, sig []byte) (*types.RelayRecord, error) {
	if err := r.Verify(ctx, req, sig); err != nil {
		r.logger.Sugar().Debugw("Refusing relay", "error", err)
		return nil, err
	}

	digest, err := r.forwarder.Forwarder().Digest(req)
	if err != nil {
		return nil, err
	}
	input, err := contracts.PackExecute(req, sig)
	if err != nil {
		return nil, err
	}

	receipt, err := r.submit(ctx, req, sig, input)
	if err != nil {
		return nil, err
	}

	record := &types.RelayRecord{
		ID:        uuid.NewString(),
		Request:   req.Copy(),
		Signature: common.CopyBytes(sig),
		Digest:    digest,
		Relayer:   r.address,
		TxHash:    receipt.TxHash,
		Block:     receipt.BlockNumber.Uint64(),
		GasUsed:   receipt.GasUsed,
		CreatedAt: r.now().UTC(),
	}

	if receipt.Status == ethTypes.ReceiptStatusSuccessful {
		success, ret, err := contracts.UnpackExecuteResult(r.chain.ReturnData(receipt.TxHash))
		if err != nil {
			return nil, err
		}
		record.ReturnData = ret
		record.Status = types.RelayStatusReverted
		if success {
			record.Status = types.RelayStatusSucceeded
		}
	} else {
		record.Status = types.RelayStatusFailed
		if txErr := r.chain.TransactionError(receipt.TxHash); txErr != nil {
			record.Error = txErr.Error()
		}
	}

	if err := r.journal.SaveRelayRecord(record); err != nil {
		return nil, fmt.Errorf("relayed in %s but failed to journal: %w", receipt.TxHash.Hex(), err)
	}

	r.logger.Sugar().Infow("Relayed meta-transaction",
		"id", record.ID,
		"from", req.From.Hex(),
		"to", req.To.Hex(),
		"nonce", req.Nonce.String(),
		"tx", receipt.TxHash.Hex(),
		"status", record.Status,
		"gasUsed", record.GasUsed,
	)
	return record, nil
}

func (r *Relayer) submit(ctx context.Context, req *types.ForwardRequest, sig, input []byte) (*ethTypes.Receipt, error) {
	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	// a concurrent relay of the same pair may have consumed the nonce since pre-flight
	if err := r.forwarder.Forwarder().Verify(ctx, req, sig); err != nil {
		r.logger.Sugar().Debugw("Refusing relay after nonce changed", "from", req.From.Hex(), "error", err)
		return nil, err
	}

	to := r.forwarder.Address()
	tx := r.chain.NewTransaction(r.address, &to, req.Value, contracts.ExecuteGasLimit(req, input), input)
	signed, err := r.txSigner.SignTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign relay transaction: %w", err)
	}
	receipt, err := r.chain.SendTransaction(ctx, signed)
	if err != nil {
		return nil, fmt.Errorf("failed to submit relay transaction: %w", err)
	}
	return receipt, nil
}

// HealthCheck reports whether the journal backing the relayer is usable
func (r *Relayer) HealthCheck() error {
	if hc, ok := r.journal.(interface{ HealthCheck() error }); ok {
		return hc.HealthCheck()
	}
	return nil
}

// GetRelay returns a journaled relay, or nil if id is unknown
func (r *Relayer) GetRelay(id string) (*types.RelayRecord, error) {
	return r.journal.LoadRelayRecord(id)
}

// ListRelays returns journaled relays, optionally only those for from
func (r *Relayer) ListRelays(from *common.Address) ([]*types.RelayRecord, error) {
	return r.journal.ListRelayRecords(from)
}
