package contracts

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/Layr-Labs/eigenx-metatx-go/internal/tests"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/chain"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/config"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/forwarder"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/signer"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const helloWorld = "Hello, World!"

type scenario struct {
	chain     *chain.Chain
	forwarder *ForwarderContract
	greeter   common.Address
	endUser   *signer.InMemorySigner
}

func newScenario(t *testing.T) *scenario {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	cfg := chain.DefaultConfig(config.ChainId_EthereumAnvil)
	cfg.Alloc = tests.GenesisAlloc(tests.Deployer, tests.EndUser, tests.Relayer)
	c, err := chain.NewChain(cfg, nil, logger)
	require.NoError(t, err)

	fwd, err := DeployForwarder(ctx, c, tests.Deployer.Key(), memory.NewMemoryPersistence(), logger)
	require.NoError(t, err)

	greeter, err := DeployGreeter(ctx, c, tests.Deployer.Key(), helloWorld, fwd.Address(), logger)
	require.NoError(t, err)

	endUser, err := signer.NewInMemorySigner(tests.EndUser.Key())
	require.NoError(t, err)

	return &scenario{chain: c, forwarder: fwd, greeter: greeter, endUser: endUser}
}

// signGreet mirrors signMetaTxRequest: read the nonce, fill defaults, sign the typed data
func (s *scenario) signGreet(t *testing.T) (*types.ForwardRequest, []byte) {
	t.Helper()
	data, err := PackGreet()
	require.NoError(t, err)

	nonce := s.getNonce(t, s.endUser.Address())
	req := &types.ForwardRequest{
		From:  s.endUser.Address(),
		To:    s.greeter,
		Value: big.NewInt(0),
		Gas:   big.NewInt(1_000_000),
		Nonce: nonce,
		Data:  data,
	}
	domain := s.forwarder.Forwarder().Domain()
	sig, err := s.endUser.SignForwardRequest(context.Background(), &domain, req)
	require.NoError(t, err)
	return req, sig
}

func (s *scenario) getNonce(t *testing.T, from common.Address) *big.Int {
	t.Helper()
	input, err := PackGetNonce(from)
	require.NoError(t, err)
	ret, err := s.chain.CallStatic(context.Background(), from, s.forwarder.Address(), input)
	require.NoError(t, err)
	nonce, err := UnpackGetNonce(ret)
	require.NoError(t, err)
	return nonce
}

func (s *scenario) execute(t *testing.T, req *types.ForwardRequest, sig []byte) *ethTypes.Receipt {
	t.Helper()
	input, err := PackExecute(req, sig)
	require.NoError(t, err)
	receipt, err := s.chain.Transact(context.Background(), tests.Relayer.Key(), s.forwarder.Address(), req.Value, ExecuteGasLimit(req, input), input)
	require.NoError(t, err)
	return receipt
}

func requireGreatings(t *testing.T, receipt *ethTypes.Receipt, sender common.Address, greeting string) {
	t.Helper()
	require.Len(t, receipt.Logs, 1)
	event, err := UnpackGreatings(receipt.Logs[0])
	require.NoError(t, err)
	assert.Equal(t, sender, event.Sender)
	assert.Equal(t, greeting, event.Greeting)
}

func Test_EndUserPaysForDirectCall(t *testing.T) {
	s := newScenario(t)
	before := s.chain.BalanceOf(tests.EndUser.Address)

	data, err := PackGreet()
	require.NoError(t, err)
	receipt, err := s.chain.Transact(context.Background(), tests.EndUser.Key(), s.greeter, nil, 100_000, data)
	require.NoError(t, err)
	require.Equal(t, ethTypes.ReceiptStatusSuccessful, receipt.Status)

	requireGreatings(t, receipt, tests.EndUser.Address, helloWorld)
	assert.Equal(t, -1, s.chain.BalanceOf(tests.EndUser.Address).Cmp(before))
}

func Test_RelayerPaysForMetaTransaction(t *testing.T) {
	s := newScenario(t)
	endUserBefore := s.chain.BalanceOf(tests.EndUser.Address)
	relayerBefore := s.chain.BalanceOf(tests.Relayer.Address)

	req, sig := s.signGreet(t)
	receipt := s.execute(t, req, sig)
	require.Equal(t, ethTypes.ReceiptStatusSuccessful, receipt.Status)

	// the greeter saw the end user, not the forwarder or the relayer
	requireGreatings(t, receipt, tests.EndUser.Address, helloWorld)
	assert.Equal(t, endUserBefore, s.chain.BalanceOf(tests.EndUser.Address))
	assert.Equal(t, -1, s.chain.BalanceOf(tests.Relayer.Address).Cmp(relayerBefore))
	assert.Equal(t, big.NewInt(1), s.getNonce(t, tests.EndUser.Address))

	success, _, err := UnpackExecuteResult(s.chain.ReturnData(receipt.TxHash))
	require.NoError(t, err)
	assert.True(t, success)
}

func Test_ReplayRevertsOuterTransaction(t *testing.T) {
	s := newScenario(t)
	req, sig := s.signGreet(t)
	require.Equal(t, ethTypes.ReceiptStatusSuccessful, s.execute(t, req, sig).Status)

	receipt := s.execute(t, req, sig)
	assert.Equal(t, ethTypes.ReceiptStatusFailed, receipt.Status)
	assert.Empty(t, receipt.Logs)

	txErr := s.chain.TransactionError(receipt.TxHash)
	assert.True(t, chain.IsRevert(txErr))
	assert.Contains(t, txErr.Error(), forwarder.ErrNonceMismatch.Error())
	assert.Equal(t, big.NewInt(1), s.getNonce(t, tests.EndUser.Address))
}

func Test_BadSignatureRevertsOuterTransaction(t *testing.T) {
	s := newScenario(t)
	req, sig := s.signGreet(t)

	forged := req.Copy()
	forged.From = tests.Stranger.Address
	receipt := s.execute(t, forged, sig)
	assert.Equal(t, ethTypes.ReceiptStatusFailed, receipt.Status)
	assert.Contains(t, s.chain.TransactionError(receipt.TxHash).Error(), forwarder.ErrInvalidSignature.Error())
	assert.Zero(t, s.getNonce(t, tests.Stranger.Address).Sign())
}

func Test_InnerRevertStillConsumesNonce(t *testing.T) {
	s := newScenario(t)

	req := &types.ForwardRequest{
		From:  s.endUser.Address(),
		To:    s.greeter,
		Value: big.NewInt(0),
		Gas:   big.NewInt(1_000_000),
		Nonce: big.NewInt(0),
		Data:  common.FromHex("0xdeadbeef"),
	}
	domain := s.forwarder.Forwarder().Domain()
	sig, err := s.endUser.SignForwardRequest(context.Background(), &domain, req)
	require.NoError(t, err)

	receipt := s.execute(t, req, sig)
	require.Equal(t, ethTypes.ReceiptStatusSuccessful, receipt.Status)
	assert.Empty(t, receipt.Logs)

	success, _, err := UnpackExecuteResult(s.chain.ReturnData(receipt.TxHash))
	require.NoError(t, err)
	assert.False(t, success)
	assert.Equal(t, big.NewInt(1), s.getNonce(t, tests.EndUser.Address))
}

func Test_TightGasLimitCannotBurnNonce(t *testing.T) {
	s := newScenario(t)
	ctx := context.Background()

	data, err := PackGreet()
	require.NoError(t, err)
	req := &types.ForwardRequest{
		From:  s.endUser.Address(),
		To:    s.greeter,
		Value: big.NewInt(0),
		Gas:   big.NewInt(7_000),
		Nonce: big.NewInt(0),
		Data:  data,
	}
	domain := s.forwarder.Forwarder().Domain()
	sig, err := s.endUser.SignForwardRequest(ctx, &domain, req)
	require.NoError(t, err)
	input, err := PackExecute(req, sig)
	require.NoError(t, err)

	// enough for verification and request.gas, but not for making the inner call
	tight := chain.IntrinsicGas(input, false) + verificationGas + req.Gas.Uint64()
	receipt, err := s.chain.Transact(ctx, tests.Relayer.Key(), s.forwarder.Address(), nil, tight, input)
	require.NoError(t, err)
	assert.Equal(t, ethTypes.ReceiptStatusFailed, receipt.Status)
	assert.Empty(t, receipt.Logs)
	assert.Contains(t, s.chain.TransactionError(receipt.TxHash).Error(), forwarder.ErrInsufficientGas.Error())
	assert.Zero(t, s.getNonce(t, tests.EndUser.Address).Sign())

	// the same signature still works once the call overhead is paid for
	receipt, err = s.chain.Transact(ctx, tests.Relayer.Key(), s.forwarder.Address(), nil, tight+params.ColdAccountAccessCostEIP2929, input)
	require.NoError(t, err)
	require.Equal(t, ethTypes.ReceiptStatusSuccessful, receipt.Status)
	requireGreatings(t, receipt, tests.EndUser.Address, helloWorld)

	success, _, err := UnpackExecuteResult(s.chain.ReturnData(receipt.TxHash))
	require.NoError(t, err)
	assert.True(t, success)
	assert.Equal(t, big.NewInt(1), s.getNonce(t, tests.EndUser.Address))
}

func Test_ForwardsValue(t *testing.T) {
	s := newScenario(t)
	target := tests.Stranger.Address

	req := &types.ForwardRequest{
		From:  s.endUser.Address(),
		To:    target,
		Value: big.NewInt(12345),
		Gas:   big.NewInt(50_000),
		Nonce: big.NewInt(0),
	}
	domain := s.forwarder.Forwarder().Domain()
	sig, err := s.endUser.SignForwardRequest(context.Background(), &domain, req)
	require.NoError(t, err)

	receipt := s.execute(t, req, sig)
	require.Equal(t, ethTypes.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, big.NewInt(12345), s.chain.BalanceOf(target))
	assert.Zero(t, s.chain.BalanceOf(s.forwarder.Address()).Sign())
}

func Test_VerifyView(t *testing.T) {
	s := newScenario(t)
	req, sig := s.signGreet(t)

	verify := func(req *types.ForwardRequest, sig []byte) bool {
		input, err := PackVerify(req, sig)
		require.NoError(t, err)
		ret, err := s.chain.CallStatic(context.Background(), tests.Relayer.Address, s.forwarder.Address(), input)
		require.NoError(t, err)
		valid, err := UnpackVerify(ret)
		require.NoError(t, err)
		return valid
	}

	assert.True(t, verify(req, sig))

	tampered := req.Copy()
	tampered.Gas = big.NewInt(1)
	assert.False(t, verify(tampered, sig))

	// verify never consumes the nonce
	assert.Zero(t, s.getNonce(t, tests.EndUser.Address).Sign())

	// execute cannot run in a static context
	input, err := PackExecute(req, sig)
	require.NoError(t, err)
	_, err = s.chain.CallStatic(context.Background(), tests.Relayer.Address, s.forwarder.Address(), input)
	assert.ErrorIs(t, err, chain.ErrWriteProtection)
	assert.Zero(t, s.getNonce(t, tests.EndUser.Address).Sign())
}

func Test_GreeterViews(t *testing.T) {
	s := newScenario(t)
	ctx := context.Background()

	call := func(input []byte) []byte {
		ret, err := s.chain.CallStatic(ctx, tests.Stranger.Address, s.greeter, input)
		require.NoError(t, err)
		return ret
	}

	input, err := PackGreeting()
	require.NoError(t, err)
	greeting, err := UnpackGreeting(call(input))
	require.NoError(t, err)
	assert.Equal(t, helloWorld, greeting)

	input, err = PackIsTrustedForwarder(s.forwarder.Address())
	require.NoError(t, err)
	trusted, err := UnpackIsTrustedForwarder(call(input))
	require.NoError(t, err)
	assert.True(t, trusted)

	input, err = PackIsTrustedForwarder(tests.Relayer.Address)
	require.NoError(t, err)
	trusted, err = UnpackIsTrustedForwarder(call(input))
	require.NoError(t, err)
	assert.False(t, trusted)

	// setGreeting through the forwarder
	data, err := PackSetGreeting("gm")
	require.NoError(t, err)
	req := &types.ForwardRequest{
		From: s.endUser.Address(), To: s.greeter,
		Value: big.NewInt(0), Gas: big.NewInt(200_000), Nonce: big.NewInt(0), Data: data,
	}
	domain := s.forwarder.Forwarder().Domain()
	sig, err := s.endUser.SignForwardRequest(ctx, &domain, req)
	require.NoError(t, err)
	require.Equal(t, ethTypes.ReceiptStatusSuccessful, s.execute(t, req, sig).Status)

	input, err = PackGreeting()
	require.NoError(t, err)
	greeting, err = UnpackGreeting(call(input))
	require.NoError(t, err)
	assert.Equal(t, "gm", greeting)
}

func Test_ForwarderRejectsGarbage(t *testing.T) {
	s := newScenario(t)
	ctx := context.Background()

	receipt, err := s.chain.Transact(ctx, tests.Relayer.Key(), s.forwarder.Address(), nil, 100_000, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, ethTypes.ReceiptStatusFailed, receipt.Status)

	receipt, err = s.chain.Transact(ctx, tests.Relayer.Key(), s.forwarder.Address(), nil, 100_000, common.FromHex("0xdeadbeef"))
	require.NoError(t, err)
	assert.Equal(t, ethTypes.ReceiptStatusFailed, receipt.Status)
	assert.True(t, strings.Contains(s.chain.TransactionError(receipt.TxHash).Error(), "unknown selector"))
}

func Test_UnpackGreatingsRejectsOtherLogs(t *testing.T) {
	_, err := UnpackGreatings(&ethTypes.Log{Topics: []common.Hash{{0x01}}})
	assert.Error(t, err)
	_, err = UnpackGreatings(nil)
	assert.Error(t, err)
}
