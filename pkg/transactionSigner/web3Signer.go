package transactionSigner

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/clients/web3signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Web3TransactionSigner implements ITransactionSigner using a Web3Signer service
type Web3TransactionSigner struct {
	logger           *zap.Logger
	chainID          *big.Int
	web3SignerClient web3signer.IWeb3Signer
	fromAddress      common.Address
}

// NewWeb3TransactionSigner creates a new Web3TransactionSigner
func NewWeb3TransactionSigner(web3SignerClient web3signer.IWeb3Signer, fromAddress common.Address, chainID *big.Int, logger *zap.Logger) (*Web3TransactionSigner, error) {
	if web3SignerClient == nil {
		return nil, fmt.Errorf("web3signer client cannot be nil")
	}
	if chainID == nil {
		return nil, fmt.Errorf("chain ID is required")
	}
	return &Web3TransactionSigner{
		logger:           logger,
		chainID:          new(big.Int).Set(chainID),
		web3SignerClient: web3SignerClient,
		fromAddress:      fromAddress,
	}, nil
}

// SignTransaction has the remote signer sign tx and checks who signed it
func (w3s *Web3TransactionSigner) SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	if tx.Type() != types.LegacyTxType {
		return nil, fmt.Errorf("unsupported transaction type %d", tx.Type())
	}

	args := &web3signer.SignTransactionArgs{
		From:     w3s.fromAddress,
		To:       tx.To(),
		Gas:      hexutil.Uint64(tx.Gas()),
		GasPrice: (*hexutil.Big)(tx.GasPrice()),
		Value:    (*hexutil.Big)(tx.Value()),
		Nonce:    hexutil.Uint64(tx.Nonce()),
		Data:     tx.Data(),
		ChainID:  (*hexutil.Big)(w3s.chainID),
	}

	w3s.logger.Info("SignTransaction: requesting remote signature",
		zap.String("from", w3s.fromAddress.Hex()),
		zap.Uint64("nonce", tx.Nonce()),
		zap.Uint64("gasLimit", tx.Gas()),
	)

	signedTxBytes, err := w3s.web3SignerClient.EthSignTransaction(ctx, w3s.fromAddress, args)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction with Web3Signer: %w", err)
	}

	var signedTx types.Transaction
	if err := signedTx.UnmarshalBinary(signedTxBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signed transaction: %w", err)
	}

	// the remote side could have signed something other than what we asked for
	if signedTx.Nonce() != tx.Nonce() || signedTx.Gas() != tx.Gas() || signedTx.Value().Cmp(tx.Value()) != 0 ||
		!sameRecipient(signedTx.To(), tx.To()) || !bytesEqual(signedTx.Data(), tx.Data()) {
		return nil, fmt.Errorf("remote signer returned a different transaction")
	}
	if err := checkSender(&signedTx, w3s.chainID, w3s.fromAddress); err != nil {
		return nil, err
	}

	w3s.logger.Info("SignTransaction: transaction signed",
		zap.String("txHash", signedTx.Hash().Hex()),
	)
	return &signedTx, nil
}

// GetFromAddress returns the address that will be used for signing
func (w3s *Web3TransactionSigner) GetFromAddress() common.Address {
	return w3s.fromAddress
}

func sameRecipient(a, b *common.Address) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func bytesEqual(a, b []byte) bool {
	return string(a) == string(b)
}
