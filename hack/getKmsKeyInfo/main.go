package main

import (
	"context"
	"math/big"
	"os"

	"github.com/Layr-Labs/eigenx-metatx-go/internal/aws"
	"github.com/Layr-Labs/eigenx-metatx-go/internal/keyGenerator/awsKms"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/config"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/eip712"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/signature"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/signer"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

// Prints the originator address of a KMS key and proves the key can sign
// forward requests that recover to it.
func main() {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	ctx := context.Background()

	awsCfg, err := aws.LoadAWSConfig(ctx, os.Getenv("AWS_REGION"))
	if err != nil {
		panic(err)
	}

	keyId := os.Getenv("KEY_ID")
	if keyId == "" {
		l.Sugar().Fatal("KEY_ID environment variable is not set")
	}

	keyGen := awsKms.NewAWSKMSKeyGenerator(awsCfg, "debug", l)

	key, err := keyGen.GetECDSAKeyById(ctx, keyId)
	if err != nil {
		l.Sugar().Fatalw("failed to fetch ECDSA key", "error", err)
	}
	pubKeyHex, err := key.GetPublicKeyHex()
	if err != nil {
		l.Sugar().Fatalw("failed to get public key hex", "error", err)
	}

	s, err := signer.NewKeyGeneratorSigner(ctx, keyGen, keyId)
	if err != nil {
		l.Sugar().Fatalw("failed to create signer", "error", err)
	}

	domain := &types.DomainDescriptor{
		Name:              config.ForwarderDomainName,
		Version:           config.ForwarderDomainVersion,
		ChainID:           big.NewInt(int64(config.ChainId_EthereumAnvil)),
		VerifyingContract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	}
	req := &types.ForwardRequest{
		From:  s.Address(),
		To:    common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
		Value: big.NewInt(0),
		Gas:   big.NewInt(100_000),
		Nonce: big.NewInt(0),
		Data:  []byte{},
	}
	digest, err := eip712.Digest(domain, req)
	if err != nil {
		l.Sugar().Fatalw("failed to hash request", "error", err)
	}
	sig, err := s.SignForwardRequest(ctx, domain, req)
	if err != nil {
		l.Sugar().Fatalw("failed to sign sample request", "error", err)
	}
	recovered, err := signature.Recover(digest, sig)
	if err != nil {
		l.Sugar().Fatalw("failed to recover signer", "error", err)
	}

	l.Sugar().Infow("KMS key",
		"keyId", key.KeyId,
		"publicKeyHex", pubKeyHex,
		"address", key.Address,
		"sampleDigest", digest.Hex(),
		"recovered", recovered.Hex(),
		"matches", recovered == s.Address(),
	)
}
