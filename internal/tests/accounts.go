package tests

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
)

// Account is a well-known development account. Never fund these anywhere real.
type Account struct {
	Address    common.Address
	PrivateKey string
}

// Key parses the account's private key; the keys are constants so failure is a programming error
func (a Account) Key() *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(a.PrivateKey)
	if err != nil {
		panic(err)
	}
	return key
}

// The first accounts of the standard anvil/hardhat mnemonic
var (
	Deployer = Account{
		Address:    common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		PrivateKey: "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	}
	EndUser = Account{
		Address:    common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		PrivateKey: "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	}
	Relayer = Account{
		Address:    common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
		PrivateKey: "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
	}
	Stranger = Account{
		Address:    common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906"),
		PrivateKey: "7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6",
	}
)

// DefaultBalance is what GenesisAlloc gives each account
var DefaultBalance = new(big.Int).Mul(big.NewInt(10_000), big.NewInt(params.Ether))

// GenesisAlloc funds accounts with DefaultBalance
func GenesisAlloc(accounts ...Account) types.GenesisAlloc {
	alloc := types.GenesisAlloc{}
	for _, a := range accounts {
		alloc[a.Address] = types.Account{Balance: new(big.Int).Set(DefaultBalance)}
	}
	return alloc
}
