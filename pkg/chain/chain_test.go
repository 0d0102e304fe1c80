package chain

import (
	"context"
	"crypto/ecdsa"
	"math"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/config"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/logHandler"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	opIncrement byte = iota + 1
	opRevert
	opBurn
	opRead
	opCall
	opCallAll
)

var (
	counterSlot  = common.Hash{0x01}
	counterTopic = crypto.Keccak256Hash([]byte("Incremented(uint256)"))
	oneEther     = big.NewInt(params.Ether)
)

// counter is a small native contract driven by a one byte opcode
type counter struct{}

func (counter) Init(_ context.Context, call *CallContext, args []byte) error {
	if len(args) == 0 {
		return nil
	}
	if args[0] == opRevert {
		return Revert("constructor refused")
	}
	return call.SetState(counterSlot, args)
}

func (counter) Run(ctx context.Context, call *CallContext, input []byte) ([]byte, error) {
	if len(input) == 0 {
		return nil, nil
	}
	switch input[0] {
	case opIncrement:
		raw, err := call.GetState(counterSlot)
		if err != nil {
			return nil, err
		}
		next := new(big.Int).Add(new(big.Int).SetBytes(raw), big.NewInt(1))
		if err := call.SetState(counterSlot, next.Bytes()); err != nil {
			return nil, err
		}
		if err := call.Emit([]common.Hash{counterTopic}, common.LeftPadBytes(next.Bytes(), 32)); err != nil {
			return nil, err
		}
		return next.Bytes(), nil
	case opRevert:
		if err := call.SetState(counterSlot, []byte{0xff}); err != nil {
			return nil, err
		}
		return nil, Revert("counter: refused")
	case opBurn:
		return nil, call.UseGas(math.MaxUint64)
	case opRead:
		return call.GetState(counterSlot)
	case opCall:
		// opCall || target (20 bytes) || inner input
		target := common.BytesToAddress(input[1:21])
		if _, err := (counter{}).Run(ctx, call, []byte{opIncrement}); err != nil {
			return nil, err
		}
		_, _, err := call.Call(ctx, target, input[21:], call.GasLeft()/2, nil)
		if err != nil {
			return []byte{0}, nil
		}
		return []byte{1}, nil
	case opCallAll:
		// hands the callee everything, leaving nothing for the call itself
		target := common.BytesToAddress(input[1:21])
		_, _, err := call.Call(ctx, target, input[21:], call.GasLeft(), nil)
		return nil, err
	}
	return nil, Revert("unknown op %d", input[0])
}

type testEnv struct {
	chain *Chain
	logs  *logHandler.LogHandler
	alice *ecdsa.PrivateKey
	bob   *ecdsa.PrivateKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	alice, err := crypto.GenerateKey()
	require.NoError(t, err)
	bob, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := DefaultConfig(config.ChainId_EthereumAnvil)
	cfg.Alloc = types.GenesisAlloc{
		crypto.PubkeyToAddress(alice.PublicKey): {Balance: new(big.Int).Mul(oneEther, big.NewInt(10))},
	}

	logs := logHandler.NewLogHandler(zaptest.NewLogger(t))
	c, err := NewChain(cfg, logs, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &testEnv{chain: c, logs: logs, alice: alice, bob: bob}
}

func (e *testEnv) deployCounter(t *testing.T, args []byte) common.Address {
	t.Helper()
	addr, receipt, err := e.chain.DeployContract(context.Background(), e.alice, func(common.Address) (Contract, error) {
		return counter{}, nil
	}, args, 200_000)
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	require.Equal(t, addr, receipt.ContractAddress)
	return addr
}

func addr(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

func Test_NewChain(t *testing.T) {
	_, err := NewChain(&Config{}, nil, zaptest.NewLogger(t))
	assert.Error(t, err)

	env := newTestEnv(t)
	assert.Equal(t, big.NewInt(31337), env.chain.ChainID())
	assert.Zero(t, env.chain.BlockNumber())
	assert.Equal(t, new(big.Int).Mul(oneEther, big.NewInt(10)), env.chain.BalanceOf(addr(env.alice)))
}

func Test_ValueTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	before := env.chain.BalanceOf(addr(env.alice))

	receipt, err := env.chain.Transact(ctx, env.alice, addr(env.bob), oneEther, params.TxGas, nil)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, params.TxGas, receipt.GasUsed)
	assert.Equal(t, uint64(1), receipt.BlockNumber.Uint64())

	fee := new(big.Int).Mul(big.NewInt(int64(params.TxGas)), env.chain.GasPrice())
	expected := new(big.Int).Sub(before, oneEther)
	expected.Sub(expected, fee)
	assert.Equal(t, expected, env.chain.BalanceOf(addr(env.alice)))
	assert.Equal(t, oneEther, env.chain.BalanceOf(addr(env.bob)))
	assert.Equal(t, uint64(1), env.chain.NonceAt(addr(env.alice)))
	assert.Same(t, receipt, env.chain.Receipt(receipt.TxHash))
}

func Test_TransactionValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := addr(env.bob)

	t.Run("nonce too high", func(t *testing.T) {
		tx := types.NewTx(&types.LegacyTx{Nonce: 5, GasPrice: env.chain.GasPrice(), Gas: params.TxGas, To: &bob, Value: big.NewInt(1)})
		signed, err := types.SignTx(tx, env.chain.Signer(), env.alice)
		require.NoError(t, err)
		_, err = env.chain.SendTransaction(ctx, signed)
		assert.ErrorIs(t, err, ErrNonceTooHigh)
	})

	t.Run("nonce too low", func(t *testing.T) {
		signed, err := env.chain.SignTx(env.alice, &bob, big.NewInt(1), params.TxGas, nil)
		require.NoError(t, err)
		_, err = env.chain.SendTransaction(ctx, signed)
		require.NoError(t, err)
		_, err = env.chain.SendTransaction(ctx, signed)
		assert.ErrorIs(t, err, ErrNonceTooLow)
	})

	t.Run("intrinsic gas", func(t *testing.T) {
		_, err := env.chain.Transact(ctx, env.alice, bob, nil, params.TxGas-1, nil)
		assert.ErrorIs(t, err, ErrIntrinsicGas)
		_, err = env.chain.Transact(ctx, env.alice, bob, nil, params.TxGas, []byte{1})
		assert.ErrorIs(t, err, ErrIntrinsicGas)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := env.chain.Transact(ctx, env.bob, addr(env.alice), nil, params.TxGas, nil)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("block gas limit", func(t *testing.T) {
		_, err := env.chain.Transact(ctx, env.alice, bob, nil, DefaultBlockGasLimit+1, nil)
		assert.ErrorIs(t, err, ErrGasLimitExceeded)
	})

	t.Run("wrong chain", func(t *testing.T) {
		tx := types.NewTx(&types.LegacyTx{Nonce: env.chain.NonceAt(addr(env.alice)), GasPrice: env.chain.GasPrice(), Gas: params.TxGas, To: &bob})
		signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(1)), env.alice)
		require.NoError(t, err)
		_, err = env.chain.SendTransaction(ctx, signed)
		assert.ErrorIs(t, err, ErrWrongChain)
	})

	t.Run("contract creation needs Deploy", func(t *testing.T) {
		tx, err := env.chain.SignTx(env.alice, nil, nil, 100_000, nil)
		require.NoError(t, err)
		_, err = env.chain.SendTransaction(ctx, tx)
		assert.Error(t, err)
	})
}

func Test_ContractExecution(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.logs.Subscribe()
	defer sub.Unsubscribe()

	contract := env.deployCounter(t, []byte{0x05})
	assert.True(t, env.chain.HasContract(contract))
	assert.Equal(t, crypto.CreateAddress(addr(env.alice), 0), contract)

	ret, err := env.chain.CallStatic(ctx, addr(env.bob), contract, []byte{opRead})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05}, ret)

	receipt, err := env.chain.Transact(ctx, env.alice, contract, nil, 100_000, []byte{opIncrement})
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	require.Len(t, receipt.Logs, 1)

	log := receipt.Logs[0]
	assert.Equal(t, contract, log.Address)
	assert.Equal(t, counterTopic, log.Topics[0])
	assert.Equal(t, receipt.TxHash, log.TxHash)
	assert.Equal(t, receipt.BlockHash, log.BlockHash)
	assert.Equal(t, big.NewInt(6), new(big.Int).SetBytes(log.Data))

	select {
	case got := <-sub.LogChan:
		assert.Equal(t, log, got)
	case <-time.After(time.Second):
		t.Fatal("log was not delivered to subscribers")
	}

	ret, err = env.chain.CallStatic(ctx, addr(env.bob), contract, []byte{opRead})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x06}, ret)
}

func Test_RevertDiscardsState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	contract := env.deployCounter(t, nil)
	before := env.chain.BalanceOf(addr(env.alice))
	nonce := env.chain.NonceAt(addr(env.alice))

	receipt, err := env.chain.Transact(ctx, env.alice, contract, nil, 100_000, []byte{opRevert})
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	assert.Empty(t, receipt.Logs)
	assert.True(t, IsRevert(env.chain.TransactionError(receipt.TxHash)))

	// the sender still pays for the gas used and the nonce moves on
	assert.Equal(t, nonce+1, env.chain.NonceAt(addr(env.alice)))
	assert.Equal(t, -1, env.chain.BalanceOf(addr(env.alice)).Cmp(before))

	ret, err := env.chain.CallStatic(ctx, addr(env.alice), contract, []byte{opRead})
	require.NoError(t, err)
	assert.Empty(t, ret)
}

func Test_OutOfGasForfeitsAllGas(t *testing.T) {
	env := newTestEnv(t)
	contract := env.deployCounter(t, nil)

	receipt, err := env.chain.Transact(context.Background(), env.alice, contract, nil, 50_000, []byte{opBurn})
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	assert.Equal(t, uint64(50_000), receipt.GasUsed)
	assert.ErrorIs(t, env.chain.TransactionError(receipt.TxHash), ErrOutOfGas)
}

func Test_NestedCallFailureIsContained(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	outer := env.deployCounter(t, nil)
	inner := env.deployCounter(t, nil)

	input := append([]byte{opCall}, inner.Bytes()...)
	input = append(input, opRevert)

	receipt, err := env.chain.Transact(ctx, env.alice, outer, nil, 300_000, input)
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)

	// the outer increment survives, the inner write is rolled back
	ret, err := env.chain.CallStatic(ctx, addr(env.alice), outer, []byte{opRead})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, ret)
	ret, err = env.chain.CallStatic(ctx, addr(env.alice), inner, []byte{opRead})
	require.NoError(t, err)
	assert.Empty(t, ret)
	assert.Len(t, receipt.Logs, 1)
}

func Test_NestedCallNeverCapsGas(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	outer := env.deployCounter(t, nil)
	inner := env.deployCounter(t, nil)

	input := append([]byte{opCallAll}, inner.Bytes()...)
	input = append(input, opIncrement)

	receipt, err := env.chain.Transact(ctx, env.alice, outer, nil, 300_000, input)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	assert.Equal(t, uint64(300_000), receipt.GasUsed)
	assert.ErrorIs(t, env.chain.TransactionError(receipt.TxHash), ErrOutOfGas)

	ret, err := env.chain.CallStatic(ctx, addr(env.alice), inner, []byte{opRead})
	require.NoError(t, err)
	assert.Empty(t, ret)
}

func Test_CallStaticIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	contract := env.deployCounter(t, nil)

	_, err := env.chain.CallStatic(context.Background(), addr(env.alice), contract, []byte{opIncrement})
	assert.ErrorIs(t, err, ErrWriteProtection)
	assert.Equal(t, uint64(1), env.chain.BlockNumber())
}

func Test_DeployRevert(t *testing.T) {
	env := newTestEnv(t)
	contract, receipt, err := env.chain.DeployContract(context.Background(), env.alice, func(common.Address) (Contract, error) {
		return counter{}, nil
	}, []byte{opRevert}, 200_000)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	assert.Equal(t, common.Address{}, receipt.ContractAddress)
	assert.False(t, env.chain.HasContract(contract))
}

func Test_BlocksAdvance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := addr(env.bob)

	var hashes []common.Hash
	for i := 0; i < 3; i++ {
		receipt, err := env.chain.Transact(ctx, env.alice, bob, big.NewInt(1), params.TxGas, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), receipt.BlockNumber.Uint64())
		hashes = append(hashes, receipt.BlockHash)
	}
	assert.NotEqual(t, hashes[0], hashes[1])
	assert.NotEqual(t, hashes[1], hashes[2])
	assert.Equal(t, uint64(3), env.chain.BlockNumber())
}

func Test_ConcurrentTransfers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	senders := make([]*ecdsa.PrivateKey, 8)
	for i := range senders {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		senders[i] = key
		env.chain.Fund(addr(key), oneEther)
	}

	var wg sync.WaitGroup
	for _, key := range senders {
		wg.Add(1)
		go func(key *ecdsa.PrivateKey) {
			defer wg.Done()
			_, err := env.chain.Transact(ctx, key, addr(env.bob), big.NewInt(1), params.TxGas, nil)
			assert.NoError(t, err)
		}(key)
	}
	wg.Wait()

	assert.Equal(t, big.NewInt(int64(len(senders))), env.chain.BalanceOf(addr(env.bob)))
	assert.Equal(t, uint64(len(senders)), env.chain.BlockNumber())
}

func Test_IntrinsicGas(t *testing.T) {
	assert.Equal(t, params.TxGas, IntrinsicGas(nil, false))
	assert.Equal(t, params.TxGasContractCreation, IntrinsicGas(nil, true))
	assert.Equal(t, params.TxGas+params.TxDataZeroGas+params.TxDataNonZeroGasEIP2028, IntrinsicGas([]byte{0, 1}, false))
}

func Test_ReturnData(t *testing.T) {
	env := newTestEnv(t)
	contract := env.deployCounter(t, []byte{0x09})

	receipt, err := env.chain.Transact(context.Background(), env.alice, contract, nil, 100_000, []byte{opIncrement})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a}, env.chain.ReturnData(receipt.TxHash))
	assert.Nil(t, env.chain.ReturnData(common.Hash{}))
}
