package relayerClient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sync"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/eip712"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/forwarder"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/relayer"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/signer"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/transport"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"
)

// DefaultRequestGas is the gas budget requests get when the caller names none
const DefaultRequestGas = 1_000_000

// ClientConfig holds the configuration for the relayer client
type ClientConfig struct {
	RelayerURL string
	Logger     *zap.Logger

	// optional
	HTTPClient  *http.Client
	RetryConfig *transport.RetryConfig
}

// Client is the originator side of the relayer API: it builds, signs and submits forward requests
type Client struct {
	transport *transport.Client
	logger    *zap.Logger

	domainMu sync.Mutex
	domain   *types.DomainDescriptor
}

// NewClient creates a new relayer client
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.RelayerURL == "" {
		return nil, fmt.Errorf("relayer URL is required")
	}
	if _, err := url.ParseRequestURI(config.RelayerURL); err != nil {
		return nil, fmt.Errorf("invalid relayer URL: %w", err)
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	retry := transport.DefaultRetryConfig
	if config.RetryConfig != nil {
		retry = *config.RetryConfig
	}

	return &Client{
		transport: transport.NewClient(config.RelayerURL, config.HTTPClient, retry, config.Logger),
		logger:    config.Logger,
	}, nil
}

// MetaTxInput describes a call an originator wants relayed. Nil Value and Gas get defaults;
// a nil Nonce is fetched from the relayer.
type MetaTxInput struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   *big.Int
	Nonce *big.Int
}

// GetDomain returns the forwarder's domain. The first successful answer is cached.
func (c *Client) GetDomain(ctx context.Context) (*types.DomainDescriptor, error) {
	c.domainMu.Lock()
	defer c.domainMu.Unlock()

	if c.domain == nil {
		var domain types.DomainDescriptor
		if err := c.transport.Do(ctx, http.MethodGet, "/domain", nil, &domain); err != nil {
			return nil, fmt.Errorf("failed to fetch domain: %w", asProtocolError(err))
		}
		if err := domain.Validate(); err != nil {
			return nil, fmt.Errorf("relayer returned an unusable domain: %w", err)
		}
		c.domain = &domain
	}

	cp := *c.domain
	cp.ChainID = new(big.Int).Set(c.domain.ChainID)
	return &cp, nil
}

// GetNonce returns the nonce the next request from `from` must carry
func (c *Client) GetNonce(ctx context.Context, from common.Address) (*big.Int, error) {
	var resp types.NonceResponse
	if err := c.transport.Do(ctx, http.MethodGet, "/nonce/"+from.Hex(), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", asProtocolError(err))
	}
	if resp.Nonce == nil {
		return nil, fmt.Errorf("relayer returned no nonce for %s", from.Hex())
	}
	return new(big.Int).Set((*big.Int)(resp.Nonce)), nil
}

// BuildRequest fills in defaults and the current nonce
func (c *Client) BuildRequest(ctx context.Context, input *MetaTxInput) (*types.ForwardRequest, error) {
	if input == nil {
		return nil, fmt.Errorf("input cannot be nil")
	}

	req := &types.ForwardRequest{
		From:  input.From,
		To:    input.To,
		Value: big.NewInt(0),
		Gas:   big.NewInt(DefaultRequestGas),
		Data:  common.CopyBytes(input.Data),
	}
	if input.Value != nil {
		req.Value = new(big.Int).Set(input.Value)
	}
	if input.Gas != nil {
		req.Gas = new(big.Int).Set(input.Gas)
	}
	if input.Nonce != nil {
		req.Nonce = new(big.Int).Set(input.Nonce)
	} else {
		nonce, err := c.GetNonce(ctx, input.From)
		if err != nil {
			return nil, err
		}
		req.Nonce = nonce
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// BuildTypedData returns the eth_signTypedData_v4 payload for req under domain
func BuildTypedData(domain *types.DomainDescriptor, req *types.ForwardRequest) apitypes.TypedData {
	return eip712.TypedData(domain, req)
}

// SignMetaTxRequest builds a request from s's address and signs it under the relayer's domain
func (c *Client) SignMetaTxRequest(ctx context.Context, s signer.ISigner, input *MetaTxInput) (*types.RelayRequest, error) {
	if s == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if input == nil {
		return nil, fmt.Errorf("input cannot be nil")
	}

	in := *input
	in.From = s.Address()

	domain, err := c.GetDomain(ctx)
	if err != nil {
		return nil, err
	}
	req, err := c.BuildRequest(ctx, &in)
	if err != nil {
		return nil, err
	}
	sig, err := s.SignForwardRequest(ctx, domain, req)
	if err != nil {
		return nil, fmt.Errorf("failed to sign forward request: %w", err)
	}

	c.logger.Sugar().Debugw("Signed meta-transaction",
		"from", req.From.Hex(),
		"to", req.To.Hex(),
		"nonce", req.Nonce.String(),
		"forwarder", domain.VerifyingContract.Hex(),
	)
	return &types.RelayRequest{Request: req, Signature: hexutil.Bytes(sig)}, nil
}

// Verify asks the relayer whether the forwarder would accept the pair right now
func (c *Client) Verify(ctx context.Context, req *types.ForwardRequest, sig []byte) (*types.VerifyResponse, error) {
	var resp types.VerifyResponse
	body := types.RelayRequest{Request: req, Signature: sig}
	if err := c.transport.Do(ctx, http.MethodPost, "/verify", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to verify: %w", asProtocolError(err))
	}
	return &resp, nil
}

// Relay submits a signed request; the relayer pays for the transaction
func (c *Client) Relay(ctx context.Context, req *types.ForwardRequest, sig []byte) (*types.RelayRecord, error) {
	var record types.RelayRecord
	body := types.RelayRequest{Request: req, Signature: sig}
	if err := c.transport.Do(ctx, http.MethodPost, "/relay", body, &record); err != nil {
		return nil, fmt.Errorf("failed to relay: %w", asProtocolError(err))
	}

	c.logger.Sugar().Infow("Meta-transaction relayed",
		"id", record.ID,
		"tx", record.TxHash.Hex(),
		"status", record.Status,
	)
	return &record, nil
}

// GetRelay returns a journaled relay, or nil if the relayer doesn't know id
func (c *Client) GetRelay(ctx context.Context, id string) (*types.RelayRecord, error) {
	var record types.RelayRecord
	if err := c.transport.Do(ctx, http.MethodGet, "/relay/"+url.PathEscape(id), nil, &record); err != nil {
		if transport.IsStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch relay: %w", asProtocolError(err))
	}
	return &record, nil
}

// ListRelays returns journaled relays, optionally only those originated by from
func (c *Client) ListRelays(ctx context.Context, from *common.Address) ([]*types.RelayRecord, error) {
	path := "/relays"
	if from != nil {
		path += "?from=" + from.Hex()
	}
	var records []*types.RelayRecord
	if err := c.transport.Do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, fmt.Errorf("failed to list relays: %w", asProtocolError(err))
	}
	return records, nil
}

// asProtocolError turns the relayer's error codes back into the sentinel errors they came from
func asProtocolError(err error) error {
	var se *transport.StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code {
	case "invalid_signature":
		return fmt.Errorf("%w: %s", forwarder.ErrInvalidSignature, se.Message)
	case "nonce_mismatch":
		return fmt.Errorf("%w: %s", forwarder.ErrNonceMismatch, se.Message)
	case "malformed_request":
		return fmt.Errorf("%w: %s", types.ErrMalformedRequest, se.Message)
	case "gas_limit_too_high":
		return fmt.Errorf("%w: %s", relayer.ErrGasLimitTooHigh, se.Message)
	case "insufficient_gas":
		return fmt.Errorf("%w: %s", forwarder.ErrInsufficientGas, se.Message)
	case "nonce_exhausted":
		return fmt.Errorf("%w: %s", persistence.ErrNonceExhausted, se.Message)
	}
	return err
}
