package web3signer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"
)

const (
	methodAccounts      = "eth_accounts"
	methodSignTypedData = "eth_signTypedData_v4"
	methodSignTx        = "eth_signTransaction"
)

// Config holds the connection settings for the remote signer
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns the Web3Signer defaults
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:9000",
		Timeout: 30 * time.Second,
	}
}

// Client is a JSON-RPC client for remote signing
type Client struct {
	config    *Config
	logger    *zap.Logger
	rpcClient *rpc.Client
}

// NewClient creates a client for cfg. No connection is made until the first call.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote signer url is required")
	}

	rpcClient, err := rpc.DialOptions(context.Background(), cfg.BaseURL,
		rpc.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote signer client for %s: %w", cfg.BaseURL, err)
	}

	return &Client{
		config:    cfg,
		logger:    logger,
		rpcClient: rpcClient,
	}, nil
}

// NewWeb3SignerClientFromRemoteSignerConfig creates a client from the application's remote signer config
func NewWeb3SignerClientFromRemoteSignerConfig(cfg *config.RemoteSignerConfig, logger *zap.Logger) (*Client, error) {
	clientCfg := DefaultConfig()
	if cfg != nil && cfg.Url != "" {
		clientCfg.BaseURL = cfg.Url
	}
	return NewClient(clientCfg, logger)
}

func (c *Client) EthAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := c.rpcClient.CallContext(ctx, &accounts, methodAccounts); err != nil {
		return nil, fmt.Errorf("%s failed: %w", methodAccounts, err)
	}
	return accounts, nil
}

func (c *Client) EthSignTypedData(ctx context.Context, account common.Address, typedData apitypes.TypedData) ([]byte, error) {
	c.logger.Sugar().Debugw("Requesting typed data signature",
		"account", account.Hex(),
		"primaryType", typedData.PrimaryType,
		"url", c.config.BaseURL,
	)

	var sig hexutil.Bytes
	if err := c.rpcClient.CallContext(ctx, &sig, methodSignTypedData, account, typedData); err != nil {
		return nil, fmt.Errorf("%s failed for %s: %w", methodSignTypedData, account.Hex(), err)
	}
	return sig, nil
}

func (c *Client) EthSignTransaction(ctx context.Context, account common.Address, tx *SignTransactionArgs) ([]byte, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction cannot be nil")
	}
	c.logger.Sugar().Debugw("Requesting transaction signature",
		"account", account.Hex(),
		"nonce", uint64(tx.Nonce),
		"url", c.config.BaseURL,
	)

	args := *tx
	args.From = account
	var raw hexutil.Bytes
	if err := c.rpcClient.CallContext(ctx, &raw, methodSignTx, args); err != nil {
		return nil, fmt.Errorf("%s failed for %s: %w", methodSignTx, account.Hex(), err)
	}
	return raw, nil
}

func (c *Client) Close() {
	c.rpcClient.Close()
}
