package testutil

import (
	"context"
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/Layr-Labs/eigenx-metatx-go/internal/tests"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/chain"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/config"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/contracts"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/logHandler"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/relayer"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/signer"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/transactionSigner"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// TestGreeting is what the stack's greeter is deployed with
const TestGreeting = "Hello, World!"

// TestStack is a devnet with a forwarder, a trusting greeter and a relayer serving HTTP
type TestStack struct {
	Chain       *chain.Chain
	Logs        *logHandler.LogHandler
	Persistence *memory.MemoryPersistence
	Forwarder   *contracts.ForwarderContract
	Greeter     common.Address
	Relayer     *relayer.Relayer
	Server      *relayer.Server
	HTTPServer  *httptest.Server
	EndUser     *signer.InMemorySigner
}

// NewTestStack deploys everything from tests.Deployer and relays from tests.Relayer.
// The HTTP server is closed when the test ends.
func NewTestStack(t *testing.T) *TestStack {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	logs := logHandler.NewLogHandler(logger)
	cfg := chain.DefaultConfig(config.ChainId_EthereumAnvil)
	cfg.Alloc = tests.GenesisAlloc(tests.Deployer, tests.EndUser, tests.Relayer)
	c, err := chain.NewChain(cfg, logs, logger)
	require.NoError(t, err)

	store := memory.NewMemoryPersistence()
	fwd, err := contracts.DeployForwarder(ctx, c, tests.Deployer.Key(), store, logger)
	require.NoError(t, err)

	greeter, err := contracts.DeployGreeter(ctx, c, tests.Deployer.Key(), TestGreeting, fwd.Address(), logger)
	require.NoError(t, err)

	txSigner, err := transactionSigner.NewPrivateKeySignerFromKey(tests.Relayer.Key(), c.ChainID(), logger)
	require.NoError(t, err)

	r, err := relayer.NewRelayer(&relayer.Config{
		Chain:     c,
		Forwarder: fwd,
		TxSigner:  txSigner,
		Journal:   store,
	}, logger)
	require.NoError(t, err)

	server := relayer.NewServer(r, logs, &relayer.ServerConfig{}, logger)
	httpServer := httptest.NewServer(server.GetHandler())
	t.Cleanup(httpServer.Close)

	endUser, err := signer.NewInMemorySigner(tests.EndUser.Key())
	require.NoError(t, err)

	return &TestStack{
		Chain:       c,
		Logs:        logs,
		Persistence: store,
		Forwarder:   fwd,
		Greeter:     greeter,
		Relayer:     r,
		Server:      server,
		HTTPServer:  httpServer,
		EndUser:     endUser,
	}
}

// URL is the base URL of the relayer API
func (s *TestStack) URL() string {
	return s.HTTPServer.URL
}

// Domain is the forwarder's typed-data domain
func (s *TestStack) Domain() *types.DomainDescriptor {
	domain := s.Forwarder.Forwarder().Domain()
	return &domain
}

// SignedRequest builds a request from the end user to `to` at the given nonce and signs it
func (s *TestStack) SignedRequest(t *testing.T, to common.Address, data []byte, nonce int64) (*types.ForwardRequest, []byte) {
	t.Helper()
	req := &types.ForwardRequest{
		From:  s.EndUser.Address(),
		To:    to,
		Value: big.NewInt(0),
		Gas:   big.NewInt(1_000_000),
		Nonce: big.NewInt(nonce),
		Data:  data,
	}
	sig, err := s.EndUser.SignForwardRequest(context.Background(), s.Domain(), req)
	require.NoError(t, err)
	return req, sig
}

// SignedGreet is SignedRequest for greet() on the stack's greeter
func (s *TestStack) SignedGreet(t *testing.T, nonce int64) (*types.ForwardRequest, []byte) {
	t.Helper()
	data, err := contracts.PackGreet()
	require.NoError(t, err)
	return s.SignedRequest(t, s.Greeter, data, nonce)
}
