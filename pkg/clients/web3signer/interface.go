package web3signer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// IWeb3Signer defines the interface for interacting with a remote signer that speaks
// the Ethereum JSON-RPC signing methods (Web3Signer, Clef, or a wallet bridge).
type IWeb3Signer interface {
	// EthAccounts returns a list of accounts available for signing.
	// This corresponds to the eth_accounts JSON-RPC method.
	EthAccounts(ctx context.Context) ([]common.Address, error)

	// EthSignTypedData signs typed data with the specified account.
	// This corresponds to the eth_signTypedData_v4 JSON-RPC method.
	EthSignTypedData(ctx context.Context, account common.Address, typedData apitypes.TypedData) ([]byte, error)

	// EthSignTransaction signs a transaction with the specified account and returns the
	// RLP encoded signed transaction. This corresponds to the eth_signTransaction JSON-RPC method.
	EthSignTransaction(ctx context.Context, account common.Address, tx *SignTransactionArgs) ([]byte, error)

	// Close releases the underlying connection.
	Close()
}

// SignTransactionArgs is the transaction object of eth_signTransaction.
// Only legacy transactions are produced, so gasPrice is always set.
type SignTransactionArgs struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to,omitempty"`
	Gas      hexutil.Uint64  `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Nonce    hexutil.Uint64  `json:"nonce"`
	Data     hexutil.Bytes   `json:"data"`
	ChainID  *hexutil.Big    `json:"chainId"`
}

// Compile-time check to ensure Client implements IWeb3Signer
var _ IWeb3Signer = (*Client)(nil)
