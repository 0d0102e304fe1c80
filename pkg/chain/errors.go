package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfGas is returned when a frame exhausts its gas; the frame's remaining gas is forfeited
	ErrOutOfGas = errors.New("out of gas")

	ErrInsufficientBalance = errors.New("insufficient balance for transfer")
	ErrInsufficientFunds   = errors.New("insufficient funds for gas * price + value")
	ErrIntrinsicGas        = errors.New("intrinsic gas too low")
	ErrGasLimitExceeded    = errors.New("gas limit exceeds block gas limit")
	ErrNonceTooLow         = errors.New("nonce too low")
	ErrNonceTooHigh        = errors.New("nonce too high")
	ErrWrongChain          = errors.New("transaction signed for a different chain")
	ErrWriteProtection     = errors.New("write protection")
	ErrDepth               = errors.New("max call depth exceeded")
	ErrContractExists      = errors.New("contract address collision")
)

// RevertError is a deliberate revert raised by contract code
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("execution reverted: %s", e.Reason)
}

// Revert builds the error a contract returns to abort its frame
func Revert(format string, args ...any) error {
	return &RevertError{Reason: fmt.Sprintf(format, args...)}
}

// IsRevert reports whether err is a contract revert rather than a chain failure
func IsRevert(err error) bool {
	var revertErr *RevertError
	return errors.As(err, &revertErr)
}
