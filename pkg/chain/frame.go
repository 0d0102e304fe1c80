package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

const maxCallDepth = 1024

// Contract is native Go code installed at a devnet address
type Contract interface {
	// Run executes input in the frame described by call. A returned error aborts the frame
	// and discards its state changes and logs.
	Run(ctx context.Context, call *CallContext, input []byte) ([]byte, error)
}

// Initializer is implemented by contracts that take constructor arguments
type Initializer interface {
	Init(ctx context.Context, call *CallContext, args []byte) error
}

// ContractFactory builds the contract that will live at address
type ContractFactory func(address common.Address) (Contract, error)

// CallContext is one call frame: who called, with what value, and how much gas is left
type CallContext struct {
	exec     *execution
	caller   common.Address
	self     common.Address
	value    *big.Int
	gas      uint64
	depth    int
	readOnly bool
}

// execution is the state shared by every frame of one transaction or static call
type execution struct {
	state     *stateDB
	chainID   *big.Int
	block     uint64
	timestamp uint64
	origin    common.Address
}

func (c *CallContext) Caller() common.Address  { return c.caller }
func (c *CallContext) Address() common.Address { return c.self }
func (c *CallContext) Origin() common.Address  { return c.exec.origin }
func (c *CallContext) ChainID() *big.Int       { return new(big.Int).Set(c.exec.chainID) }
func (c *CallContext) BlockNumber() uint64     { return c.exec.block }
func (c *CallContext) Timestamp() uint64       { return c.exec.timestamp }
func (c *CallContext) ReadOnly() bool          { return c.readOnly }

func (c *CallContext) Value() *big.Int {
	return new(big.Int).Set(c.value)
}

// GasLeft reports the gas remaining in this frame
func (c *CallContext) GasLeft() uint64 {
	return c.gas
}

// UseGas charges amount against the frame. On failure the frame is out of gas.
func (c *CallContext) UseGas(amount uint64) error {
	if c.gas < amount {
		c.gas = 0
		return ErrOutOfGas
	}
	c.gas -= amount
	return nil
}

// Balance returns addr's balance
func (c *CallContext) Balance(addr common.Address) *big.Int {
	return c.exec.state.balance(addr)
}

// GetState reads a storage slot of the executing contract
func (c *CallContext) GetState(key common.Hash) ([]byte, error) {
	if err := c.UseGas(params.ColdSloadCostEIP2929); err != nil {
		return nil, err
	}
	return c.exec.state.storage(c.self, key), nil
}

// SetState writes a storage slot of the executing contract. An empty value clears the slot.
func (c *CallContext) SetState(key common.Hash, value []byte) error {
	if c.readOnly {
		return ErrWriteProtection
	}
	cost := params.SstoreResetGasEIP2200
	if len(c.exec.state.storage(c.self, key)) == 0 && len(value) > 0 {
		cost = params.SstoreSetGasEIP2200
	}
	if err := c.UseGas(cost); err != nil {
		return err
	}
	c.exec.state.setStorage(c.self, key, value)
	return nil
}

// Emit records a log from the executing contract
func (c *CallContext) Emit(topics []common.Hash, data []byte) error {
	if c.readOnly {
		return ErrWriteProtection
	}
	cost := params.LogGas + uint64(len(topics))*params.LogTopicGas + uint64(len(data))*params.LogDataGas
	if err := c.UseGas(cost); err != nil {
		return err
	}
	c.exec.state.addLog(&types.Log{
		Address: c.self,
		Topics:  append([]common.Hash(nil), topics...),
		Data:    common.CopyBytes(data),
	})
	return nil
}

// CallCost is the gas Call charges this frame before granting gas to the callee
func (c *CallContext) CallCost(value *big.Int) uint64 {
	cost := params.ColdAccountAccessCostEIP2929
	if value != nil && value.Sign() > 0 {
		cost += params.CallValueTransferGas
	}
	return cost
}

// Call makes a nested call from this contract, granting exactly gas to the callee.
// The frame must hold CallCost(value) + gas or the call fails with ErrOutOfGas.
// A non-nil error means the callee failed and its effects were rolled back; the callee's
// unused gas is returned to this frame either way.
func (c *CallContext) Call(ctx context.Context, to common.Address, input []byte, gas uint64, value *big.Int) ([]byte, uint64, error) {
	if value == nil {
		value = new(big.Int)
	}
	if err := c.UseGas(c.CallCost(value)); err != nil {
		return nil, 0, err
	}
	if err := c.UseGas(gas); err != nil {
		return nil, 0, err
	}

	ret, leftOver, err := c.exec.call(ctx, c.self, to, input, gas, value, c.depth+1, c.readOnly)
	c.gas += leftOver
	return ret, leftOver, err
}

// call runs one frame. State changes are rolled back when the callee fails.
func (e *execution) call(
	ctx context.Context,
	caller common.Address,
	to common.Address,
	input []byte,
	gas uint64,
	value *big.Int,
	depth int,
	readOnly bool,
) ([]byte, uint64, error) {
	if depth > maxCallDepth {
		return nil, gas, ErrDepth
	}
	if readOnly && value.Sign() > 0 {
		return nil, gas, ErrWriteProtection
	}
	if err := ctx.Err(); err != nil {
		return nil, gas, err
	}

	snap := e.state.snapshot()
	if err := e.state.transfer(caller, to, value); err != nil {
		return nil, gas, err
	}

	acct := e.state.get(to)
	if acct == nil || acct.contract == nil {
		// plain value transfer to an externally owned account
		return nil, gas, nil
	}

	frame := &CallContext{
		exec:     e,
		caller:   caller,
		self:     to,
		value:    new(big.Int).Set(value),
		gas:      gas,
		depth:    depth,
		readOnly: readOnly,
	}
	ret, err := acct.contract.Run(ctx, frame, input)
	if err != nil {
		e.state.revertTo(snap)
		if !IsRevert(err) {
			frame.gas = 0
		}
		return nil, frame.gas, err
	}
	return ret, frame.gas, nil
}
