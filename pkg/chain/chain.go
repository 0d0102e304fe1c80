package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/config"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/logHandler"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rlp"
	"go.uber.org/zap"
)

const (
	DefaultBlockGasLimit = 30_000_000
	DefaultGasPrice      = params.GWei
)

// Config describes a devnet chain
type Config struct {
	ChainID       *big.Int
	GasPrice      *big.Int
	BlockGasLimit uint64
	BlockTime     time.Duration
	GenesisTime   time.Time
	Alloc         types.GenesisAlloc
}

// DefaultConfig returns a devnet config for chainId with block timing taken from the chain config
func DefaultConfig(chainId config.ChainId) *Config {
	return &Config{
		ChainID:       new(big.Int).SetUint64(uint64(chainId)),
		GasPrice:      big.NewInt(DefaultGasPrice),
		BlockGasLimit: DefaultBlockGasLimit,
		BlockTime:     config.GetBlockTimeForChain(chainId),
		GenesisTime:   time.Unix(1700000000, 0).UTC(),
		Alloc:         types.GenesisAlloc{},
	}
}

type blockHeader struct {
	Number     uint64
	ParentHash common.Hash
	Time       uint64
	TxHash     common.Hash
}

// Chain is an automining single-node chain that hosts native Go contracts.
// Every accepted transaction is mined into its own block.
type Chain struct {
	mu sync.Mutex

	config     *Config
	signer     types.Signer
	state      *stateDB
	head       uint64
	headHash   common.Hash
	receipts   map[common.Hash]*types.Receipt
	txErrors   map[common.Hash]error
	txReturns  map[common.Hash][]byte
	logHandler logHandler.ILogHandler
	logger     *zap.Logger
}

// NewChain creates a devnet from cfg. logs may be nil when nobody listens for logs.
func NewChain(cfg *Config, logs logHandler.ILogHandler, logger *zap.Logger) (*Chain, error) {
	if cfg == nil || cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id is required")
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = big.NewInt(DefaultGasPrice)
	}
	if cfg.BlockGasLimit == 0 {
		cfg.BlockGasLimit = DefaultBlockGasLimit
	}

	state := newStateDB()
	for addr, acct := range cfg.Alloc {
		if acct.Balance != nil {
			state.setBalance(addr, acct.Balance)
		}
	}
	state.finalize()

	c := &Chain{
		config:     cfg,
		signer:     types.LatestSignerForChainID(cfg.ChainID),
		state:      state,
		receipts:   make(map[common.Hash]*types.Receipt),
		txErrors:   make(map[common.Hash]error),
		txReturns:  make(map[common.Hash][]byte),
		logHandler: logs,
		logger:     logger,
	}
	c.headHash = c.hashBlock(blockHeader{Number: 0, Time: c.blockTime(0)})

	logger.Sugar().Infow("Devnet chain started",
		"chainId", cfg.ChainID.String(),
		"blockTime", cfg.BlockTime,
		"accounts", len(cfg.Alloc),
	)
	return c, nil
}

func (c *Chain) ChainID() *big.Int {
	return new(big.Int).Set(c.config.ChainID)
}

func (c *Chain) GasPrice() *big.Int {
	return new(big.Int).Set(c.config.GasPrice)
}

// Signer returns the transaction signer for this chain
func (c *Chain) Signer() types.Signer {
	return c.signer
}

func (c *Chain) BlockNumber() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

func (c *Chain) BalanceOf(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.balance(addr)
}

func (c *Chain) NonceAt(addr common.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.nonce(addr)
}

// HasContract reports whether a contract is installed at addr
func (c *Chain) HasContract(addr common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	acct := c.state.get(addr)
	return acct != nil && acct.contract != nil
}

// Fund credits addr out of thin air; devnet faucet
func (c *Chain) Fund(addr common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.addBalance(addr, amount)
	c.state.finalize()
}

// Receipt returns the receipt of a mined transaction, or nil
func (c *Chain) Receipt(hash common.Hash) *types.Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receipts[hash]
}

// TransactionError returns why a mined transaction failed, or nil if it succeeded
func (c *Chain) TransactionError(hash common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txErrors[hash]
}

// ReturnData returns what the top-level call of a mined transaction returned
func (c *Chain) ReturnData(hash common.Hash) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return common.CopyBytes(c.txReturns[hash])
}

// SendTransaction validates and mines tx. Rejected transactions return an error and no receipt;
// a mined transaction whose execution failed returns a receipt with a failed status.
func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if tx.To() == nil {
		return nil, fmt.Errorf("contract creation must go through Deploy")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, _, err := c.applyTransaction(ctx, tx, nil)
	return receipt, err
}

// Deploy mines a contract creation transaction and installs the contract factory builds.
// tx.Data() is handed to the contract's Init as constructor arguments.
func (c *Chain) Deploy(ctx context.Context, tx *types.Transaction, factory ContractFactory) (common.Address, *types.Receipt, error) {
	if tx.To() != nil {
		return common.Address{}, nil, fmt.Errorf("deployment transaction must not have a recipient")
	}
	if factory == nil {
		return common.Address{}, nil, fmt.Errorf("contract factory is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, addr, err := c.applyTransaction(ctx, tx, factory)
	return addr, receipt, err
}

// CallStatic runs a read-only call against the head state and discards every effect
func (c *Chain) CallStatic(ctx context.Context, from common.Address, to common.Address, input []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	exec := c.newExecution(from, c.head)
	snap := c.state.snapshot()
	defer func() {
		c.state.revertTo(snap)
		c.state.finalize()
	}()

	ret, _, err := exec.call(ctx, from, to, input, c.config.BlockGasLimit, new(big.Int), 0, true)
	return ret, err
}

func (c *Chain) newExecution(origin common.Address, block uint64) *execution {
	return &execution{
		state:     c.state,
		chainID:   c.config.ChainID,
		block:     block,
		timestamp: c.blockTime(block),
		origin:    origin,
	}
}

func (c *Chain) blockTime(number uint64) uint64 {
	return uint64(c.config.GenesisTime.Unix()) + number*uint64(c.config.BlockTime/time.Second)
}

func (c *Chain) hashBlock(header blockHeader) common.Hash {
	encoded, err := rlp.EncodeToBytes(&header)
	if err != nil {
		// only fixed-size fields are encoded
		panic(fmt.Sprintf("failed to encode block header: %v", err))
	}
	return crypto.Keccak256Hash(encoded)
}

// IntrinsicGas is the gas charged before any contract code runs
func IntrinsicGas(data []byte, isCreate bool) uint64 {
	gas := params.TxGas
	if isCreate {
		gas = params.TxGasContractCreation
	}
	for _, b := range data {
		if b == 0 {
			gas += params.TxDataZeroGas
		} else {
			gas += params.TxDataNonZeroGasEIP2028
		}
	}
	return gas
}

func (c *Chain) validateTransaction(tx *types.Transaction) (common.Address, error) {
	if tx.ChainId().Cmp(c.config.ChainID) != 0 {
		return common.Address{}, fmt.Errorf("%w: got %s, want %s", ErrWrongChain, tx.ChainId(), c.config.ChainID)
	}
	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid transaction signature: %w", err)
	}

	switch nonce := c.state.nonce(from); {
	case tx.Nonce() < nonce:
		return from, fmt.Errorf("%w: %s has nonce %d, tx has %d", ErrNonceTooLow, from.Hex(), nonce, tx.Nonce())
	case tx.Nonce() > nonce:
		return from, fmt.Errorf("%w: %s has nonce %d, tx has %d", ErrNonceTooHigh, from.Hex(), nonce, tx.Nonce())
	}

	if tx.Gas() > c.config.BlockGasLimit {
		return from, fmt.Errorf("%w: %d > %d", ErrGasLimitExceeded, tx.Gas(), c.config.BlockGasLimit)
	}
	if intrinsic := IntrinsicGas(tx.Data(), tx.To() == nil); tx.Gas() < intrinsic {
		return from, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, tx.Gas(), intrinsic)
	}

	cost := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasPrice())
	cost.Add(cost, tx.Value())
	if c.state.balance(from).Cmp(cost) < 0 {
		return from, fmt.Errorf("%w: address %s have %s want %s", ErrInsufficientFunds, from.Hex(), c.state.balance(from), cost)
	}
	return from, nil
}

func (c *Chain) applyTransaction(ctx context.Context, tx *types.Transaction, factory ContractFactory) (*types.Receipt, common.Address, error) {
	from, err := c.validateTransaction(tx)
	if err != nil {
		return nil, common.Address{}, err
	}

	number := c.head + 1
	exec := c.newExecution(from, number)

	// buy gas and bump the nonce; these survive an execution failure
	upfront := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasPrice())
	if err := c.state.subBalance(from, upfront); err != nil {
		return nil, common.Address{}, err
	}
	nonce := c.state.nonce(from)
	c.state.incrementNonce(from)

	gas := tx.Gas() - IntrinsicGas(tx.Data(), tx.To() == nil)
	var (
		contractAddr common.Address
		ret          []byte
		leftOver     uint64
		execErr      error
	)
	if tx.To() == nil {
		contractAddr = crypto.CreateAddress(from, nonce)
		leftOver, execErr = c.create(ctx, exec, from, contractAddr, tx.Data(), gas, tx.Value(), factory)
	} else {
		ret, leftOver, execErr = exec.call(ctx, from, *tx.To(), tx.Data(), gas, tx.Value(), 0, false)
	}

	// refund what was not used
	gasUsed := tx.Gas() - leftOver
	c.state.addBalance(from, new(big.Int).Mul(new(big.Int).SetUint64(leftOver), tx.GasPrice()))
	logs := c.state.finalize()

	header := blockHeader{Number: number, ParentHash: c.headHash, Time: exec.timestamp, TxHash: tx.Hash()}
	blockHash := c.hashBlock(header)
	c.head = number
	c.headHash = blockHash

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: gasUsed,
		TxHash:            tx.Hash(),
		GasUsed:           gasUsed,
		EffectiveGasPrice: tx.GasPrice(),
		BlockHash:         blockHash,
		BlockNumber:       new(big.Int).SetUint64(number),
		TransactionIndex:  0,
	}
	if execErr != nil {
		receipt.Status = types.ReceiptStatusFailed
		logs = nil
		c.txErrors[tx.Hash()] = execErr
	} else if tx.To() == nil {
		receipt.ContractAddress = contractAddr
	}
	for i, log := range logs {
		log.BlockNumber = number
		log.BlockHash = blockHash
		log.TxHash = tx.Hash()
		log.TxIndex = 0
		log.Index = uint(i)
	}
	receipt.Logs = logs
	c.receipts[tx.Hash()] = receipt
	c.txReturns[tx.Hash()] = ret

	c.logger.Sugar().Debugw("Mined transaction",
		"block", number,
		"tx", tx.Hash().Hex(),
		"from", from.Hex(),
		"gasUsed", gasUsed,
		"status", receipt.Status,
		"logs", len(logs),
	)
	if execErr != nil {
		c.logger.Sugar().Debugw("Transaction execution failed", "tx", tx.Hash().Hex(), "error", execErr)
	}

	if c.logHandler != nil && len(logs) > 0 {
		c.logHandler.HandleLogs(ctx, logs)
	}
	return receipt, contractAddr, nil
}

func (c *Chain) create(
	ctx context.Context,
	exec *execution,
	from common.Address,
	addr common.Address,
	args []byte,
	gas uint64,
	value *big.Int,
	factory ContractFactory,
) (uint64, error) {
	if acct := c.state.get(addr); acct != nil && acct.contract != nil {
		return 0, ErrContractExists
	}
	contract, err := factory(addr)
	if err != nil {
		return 0, fmt.Errorf("contract factory failed: %w", err)
	}

	snap := c.state.snapshot()
	if err := c.state.transfer(from, addr, value); err != nil {
		return gas, err
	}
	c.state.setContract(addr, contract)

	initializer, ok := contract.(Initializer)
	if !ok {
		return gas, nil
	}
	frame := &CallContext{exec: exec, caller: from, self: addr, value: new(big.Int).Set(value), gas: gas}
	if err := initializer.Init(ctx, frame, args); err != nil {
		c.state.revertTo(snap)
		if !IsRevert(err) {
			frame.gas = 0
		}
		return frame.gas, err
	}
	return frame.gas, nil
}

// Transact signs and mines a call from key. It is a convenience for tooling and tests.
func (c *Chain) Transact(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, gas uint64, data []byte) (*types.Receipt, error) {
	tx, err := c.SignTx(key, &to, value, gas, data)
	if err != nil {
		return nil, err
	}
	return c.SendTransaction(ctx, tx)
}

// DeployContract signs and mines a deployment from key
func (c *Chain) DeployContract(ctx context.Context, key *ecdsa.PrivateKey, factory ContractFactory, args []byte, gas uint64) (common.Address, *types.Receipt, error) {
	tx, err := c.SignTx(key, nil, nil, gas, args)
	if err != nil {
		return common.Address{}, nil, err
	}
	return c.Deploy(ctx, tx, factory)
}

// NewTransaction builds an unsigned legacy transaction at from's next nonce and the chain's gas price
func (c *Chain) NewTransaction(from common.Address, to *common.Address, value *big.Int, gas uint64, data []byte) *types.Transaction {
	if value == nil {
		value = new(big.Int)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    c.NonceAt(from),
		GasPrice: c.GasPrice(),
		Gas:      gas,
		To:       to,
		Value:    value,
		Data:     data,
	})
}

// SignTx is NewTransaction signed with key
func (c *Chain) SignTx(key *ecdsa.PrivateKey, to *common.Address, value *big.Int, gas uint64, data []byte) (*types.Transaction, error) {
	tx := c.NewTransaction(crypto.PubkeyToAddress(key.PublicKey), to, value, gas, data)
	signed, err := types.SignTx(tx, c.signer, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}
