package transactionSigner

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// PrivateKeySigner signs with a key held in process memory
type PrivateKeySigner struct {
	privateKey  *ecdsa.PrivateKey
	fromAddress common.Address
	signer      types.Signer
	logger      *zap.Logger
}

// NewPrivateKeySigner parses a hex private key (0x prefix optional)
func NewPrivateKeySigner(privateKeyHex string, chainID *big.Int, logger *zap.Logger) (*PrivateKeySigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewPrivateKeySignerFromKey(privateKey, chainID, logger)
}

func NewPrivateKeySignerFromKey(privateKey *ecdsa.PrivateKey, chainID *big.Int, logger *zap.Logger) (*PrivateKeySigner, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key cannot be nil")
	}
	if chainID == nil {
		return nil, fmt.Errorf("chain ID is required")
	}
	return &PrivateKeySigner{
		privateKey:  privateKey,
		fromAddress: crypto.PubkeyToAddress(privateKey.PublicKey),
		signer:      types.LatestSignerForChainID(chainID),
		logger:      logger,
	}, nil
}

func (p *PrivateKeySigner) GetFromAddress() common.Address {
	return p.fromAddress
}

func (p *PrivateKeySigner) SignTransaction(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, p.signer, p.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	p.logger.Sugar().Debugw("Signed transaction",
		"from", p.fromAddress.Hex(),
		"nonce", signed.Nonce(),
		"txHash", signed.Hash().Hex(),
	)
	return signed, nil
}
