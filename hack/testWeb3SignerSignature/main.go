package main

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/Layr-Labs/eigenx-metatx-go/internal/tests"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/clients/web3signer"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/config"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/eip712"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/signature"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/signer"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

// Signs the same forward request through a remote signer and with the local
// copy of the key it holds. Run against a signer loaded with tests.EndUser.
func main() {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	ctx := context.Background()

	url := os.Getenv(config.EnvClientRemoteSignerURL)
	if url == "" {
		url = "http://localhost:9100"
	}
	account := tests.EndUser

	signerCfg := &config.RemoteSignerConfig{
		Url:         url,
		FromAddress: account.Address.Hex(),
	}
	web3SignerClient, err := web3signer.NewWeb3SignerClientFromRemoteSignerConfig(signerCfg, l)
	if err != nil {
		l.Sugar().Fatalw("failed to create Web3Signer client", "error", err)
	}
	defer web3SignerClient.Close()

	pkSigner, err := signer.NewInMemorySigner(account.Key())
	if err != nil {
		l.Sugar().Fatalw("failed to create private key signer", "error", err)
	}
	remoteSigner := signer.NewWeb3Signer(web3SignerClient, account.Address)

	domain := &types.DomainDescriptor{
		Name:              config.ForwarderDomainName,
		Version:           config.ForwarderDomainVersion,
		ChainID:           big.NewInt(int64(config.ChainId_EthereumAnvil)),
		VerifyingContract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	}
	req := &types.ForwardRequest{
		From:  account.Address,
		To:    common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
		Value: big.NewInt(0),
		Gas:   big.NewInt(1_000_000),
		Nonce: big.NewInt(0),
		Data:  common.FromHex("0xcfae3217"),
	}
	digest, err := eip712.Digest(domain, req)
	if err != nil {
		l.Sugar().Fatalw("failed to hash request", "error", err)
	}

	signatureWeb3, err := remoteSigner.SignForwardRequest(ctx, domain, req)
	if err != nil {
		l.Sugar().Fatalw("failed to sign request with Web3Signer", "error", err)
	}
	signaturePK, err := pkSigner.SignForwardRequest(ctx, domain, req)
	if err != nil {
		l.Sugar().Fatalw("failed to sign request with private key signer", "error", err)
	}

	fmt.Printf("Digest: %s\n", digest.Hex())
	fmt.Printf("Signature (Web3Signer):  %s\n", common.Bytes2Hex(signatureWeb3))
	fmt.Printf("Signature (Private Key): %s\n", common.Bytes2Hex(signaturePK))

	if err := signature.Verify(digest, signatureWeb3, account.Address); err != nil {
		fmt.Printf("Web3Signer signature does not verify: %v\n", err)
		os.Exit(1)
	}
	if common.Bytes2Hex(signatureWeb3) == common.Bytes2Hex(signaturePK) {
		fmt.Println("Signatures match!")
	} else {
		fmt.Println("Signatures do not match!")
	}
}
