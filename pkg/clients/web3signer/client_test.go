package web3signer

import (
	"context"
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeEth struct {
	account common.Address
	sigHex  hexutil.Bytes
	seen    *apitypes.TypedData
	seenTx  *SignTransactionArgs
}

func (f *fakeEth) Accounts() []common.Address {
	return []common.Address{f.account}
}

func (f *fakeEth) SignTypedData_v4(account common.Address, data apitypes.TypedData) (hexutil.Bytes, error) {
	f.seen = &data
	return f.sigHex, nil
}

func (f *fakeEth) SignTransaction(args SignTransactionArgs) (hexutil.Bytes, error) {
	f.seenTx = &args
	return hexutil.Bytes{0xf8, 0x01}, nil
}

func newFakeServer(t *testing.T, eth *fakeEth) *httptest.Server {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", eth))
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		server.Stop()
	})
	return ts
}

func Test_ClientImplementsInterface(t *testing.T) {
	client, err := NewClient(DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer client.Close()

	var signer IWeb3Signer = client
	assert.NotNil(t, signer)
}

func Test_NewWeb3SignerClientFromRemoteSignerConfig(t *testing.T) {
	client, err := NewWeb3SignerClientFromRemoteSignerConfig(nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().BaseURL, client.config.BaseURL)
	client.Close()

	client, err = NewWeb3SignerClientFromRemoteSignerConfig(&config.RemoteSignerConfig{Url: "http://signer:9000"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "http://signer:9000", client.config.BaseURL)
	client.Close()

	_, err = NewClient(&Config{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func Test_ClientCallsRemoteSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	account := crypto.PubkeyToAddress(key.PublicKey)

	eth := &fakeEth{account: account, sigHex: hexutil.Bytes{0x01, 0x02}}
	ts := newFakeServer(t, eth)

	client, err := NewClient(&Config{BaseURL: ts.URL, Timeout: DefaultConfig().Timeout}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()

	accounts, err := client.EthAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{account}, accounts)

	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{{Name: "chainId", Type: "uint256"}},
			"Ping":         []apitypes.Type{{Name: "value", Type: "uint256"}},
		},
		PrimaryType: "Ping",
		Domain:      apitypes.TypedDataDomain{ChainId: math.NewHexOrDecimal256(1337)},
		Message:     apitypes.TypedDataMessage{"value": "7"},
	}
	sig, err := client.EthSignTypedData(ctx, account, typed)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, sig)

	require.NotNil(t, eth.seen)
	assert.Equal(t, "Ping", eth.seen.PrimaryType)
	assert.Equal(t, "7", eth.seen.Message["value"])
}

func Test_ClientSignsTransactions(t *testing.T) {
	account := common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	eth := &fakeEth{account: account}
	ts := newFakeServer(t, eth)

	client, err := NewClient(&Config{BaseURL: ts.URL, Timeout: DefaultConfig().Timeout}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer client.Close()

	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	raw, err := client.EthSignTransaction(context.Background(), account, &SignTransactionArgs{
		From:     common.Address{0x01}, // replaced by the account argument
		To:       &to,
		Gas:      21000,
		GasPrice: (*hexutil.Big)(big.NewInt(1_000_000_000)),
		Value:    (*hexutil.Big)(big.NewInt(5)),
		Nonce:    3,
		ChainID:  (*hexutil.Big)(big.NewInt(31337)),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xf8, 0x01}, raw)

	require.NotNil(t, eth.seenTx)
	assert.Equal(t, account, eth.seenTx.From)
	assert.Equal(t, to, *eth.seenTx.To)
	assert.Equal(t, uint64(3), uint64(eth.seenTx.Nonce))
	assert.Equal(t, int64(31337), eth.seenTx.ChainID.ToInt().Int64())

	_, err = client.EthSignTransaction(context.Background(), account, nil)
	assert.Error(t, err)
}
