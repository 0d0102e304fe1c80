package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type account struct {
	balance  *big.Int
	nonce    uint64
	contract Contract
	storage  map[common.Hash][]byte
}

// stateDB is the devnet world state. Every mutation records an undo entry so a failed
// call frame can be rolled back to the snapshot taken when it was entered.
type stateDB struct {
	accounts map[common.Address]*account
	journal  []func()
	logs     []*types.Log
}

type snapshot struct {
	journal int
	logs    int
}

func newStateDB() *stateDB {
	return &stateDB{accounts: make(map[common.Address]*account)}
}

func (s *stateDB) get(addr common.Address) *account {
	return s.accounts[addr]
}

func (s *stateDB) getOrCreate(addr common.Address) *account {
	if acct, ok := s.accounts[addr]; ok {
		return acct
	}
	acct := &account{balance: new(big.Int), storage: make(map[common.Hash][]byte)}
	s.accounts[addr] = acct
	s.journal = append(s.journal, func() { delete(s.accounts, addr) })
	return acct
}

func (s *stateDB) balance(addr common.Address) *big.Int {
	if acct := s.get(addr); acct != nil {
		return new(big.Int).Set(acct.balance)
	}
	return new(big.Int)
}

func (s *stateDB) setBalance(addr common.Address, amount *big.Int) {
	acct := s.getOrCreate(addr)
	prev := acct.balance
	acct.balance = new(big.Int).Set(amount)
	s.journal = append(s.journal, func() { acct.balance = prev })
}

func (s *stateDB) addBalance(addr common.Address, amount *big.Int) {
	s.setBalance(addr, new(big.Int).Add(s.balance(addr), amount))
}

func (s *stateDB) subBalance(addr common.Address, amount *big.Int) error {
	current := s.balance(addr)
	if current.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	s.setBalance(addr, current.Sub(current, amount))
	return nil
}

func (s *stateDB) transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := s.subBalance(from, amount); err != nil {
		return err
	}
	s.addBalance(to, amount)
	return nil
}

func (s *stateDB) nonce(addr common.Address) uint64 {
	if acct := s.get(addr); acct != nil {
		return acct.nonce
	}
	return 0
}

func (s *stateDB) incrementNonce(addr common.Address) {
	acct := s.getOrCreate(addr)
	acct.nonce++
	s.journal = append(s.journal, func() { acct.nonce-- })
}

func (s *stateDB) setContract(addr common.Address, contract Contract) {
	acct := s.getOrCreate(addr)
	prev := acct.contract
	acct.contract = contract
	s.journal = append(s.journal, func() { acct.contract = prev })
}

func (s *stateDB) storage(addr common.Address, key common.Hash) []byte {
	if acct := s.get(addr); acct != nil {
		return common.CopyBytes(acct.storage[key])
	}
	return nil
}

func (s *stateDB) setStorage(addr common.Address, key common.Hash, value []byte) {
	acct := s.getOrCreate(addr)
	prev, existed := acct.storage[key]
	if len(value) == 0 {
		delete(acct.storage, key)
	} else {
		acct.storage[key] = common.CopyBytes(value)
	}
	s.journal = append(s.journal, func() {
		if existed {
			acct.storage[key] = prev
		} else {
			delete(acct.storage, key)
		}
	})
}

func (s *stateDB) addLog(log *types.Log) {
	s.logs = append(s.logs, log)
}

func (s *stateDB) snapshot() snapshot {
	return snapshot{journal: len(s.journal), logs: len(s.logs)}
}

func (s *stateDB) revertTo(snap snapshot) {
	for i := len(s.journal) - 1; i >= snap.journal; i-- {
		s.journal[i]()
	}
	s.journal = s.journal[:snap.journal]
	s.logs = s.logs[:snap.logs]
}

// finalize drops the journal and hands back the logs produced since the last finalize
func (s *stateDB) finalize() []*types.Log {
	logs := s.logs
	s.journal = nil
	s.logs = nil
	return logs
}
