package transactionSigner

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/clients/web3signer"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// ITransactionSigner signs the transactions an account submits to the chain
type ITransactionSigner interface {
	// GetFromAddress returns the address that will be used for signing
	GetFromAddress() common.Address

	// SignTransaction signs an unsigned legacy transaction.
	// The result must recover to GetFromAddress under the signer's chain id.
	SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

type SignerConfig struct {
	PrivateKey   string                     `json:"privateKey" yaml:"privateKey"`
	RemoteSigner *config.RemoteSignerConfig `json:"remoteSigner" yaml:"remoteSigner"`
}

// NewTransactionSigner builds a private key signer, or a remote signer when no key is configured
func NewTransactionSigner(cfg *SignerConfig, chainID *big.Int, logger *zap.Logger) (ITransactionSigner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("signer config cannot be nil")
	}
	if cfg.PrivateKey != "" && cfg.RemoteSigner != nil {
		return nil, fmt.Errorf("configure either a private key or a remote signer, not both")
	}

	if cfg.PrivateKey != "" {
		s, err := NewPrivateKeySigner(cfg.PrivateKey, chainID, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	if cfg.RemoteSigner == nil {
		return nil, fmt.Errorf("private key cannot be empty")
	}

	if err := cfg.RemoteSigner.Validate(); err != nil {
		return nil, fmt.Errorf("invalid remote signer config: %w", err)
	}
	client, err := web3signer.NewWeb3SignerClientFromRemoteSignerConfig(cfg.RemoteSigner, logger)
	if err != nil {
		return nil, err
	}
	s, err := NewWeb3TransactionSigner(client, common.HexToAddress(cfg.RemoteSigner.FromAddress), chainID, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

// checkSender makes sure a signed transaction really comes from the expected account
func checkSender(signed *types.Transaction, chainID *big.Int, expected common.Address) error {
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		return fmt.Errorf("failed to recover transaction sender: %w", err)
	}
	if sender != expected {
		return fmt.Errorf("transaction signed by %s, expected %s", sender.Hex(), expected.Hex())
	}
	return nil
}
