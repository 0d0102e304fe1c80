package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"os"

	"github.com/Layr-Labs/eigenx-metatx-go/internal/aws"
	"github.com/Layr-Labs/eigenx-metatx-go/internal/keyGenerator"
	"github.com/Layr-Labs/eigenx-metatx-go/internal/keyGenerator/awsKms"
	"github.com/Layr-Labs/eigenx-metatx-go/internal/keyGenerator/localKeyGenerator"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/clients/web3signer"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/config"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/contracts"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/relayerClient"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/signer"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const cliKeyId = "cli"

func main() {
	requestFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "value",
			Usage: "Wei forwarded with the call (decimal or 0x hex)",
		},
		&cli.StringFlag{
			Name:  "gas",
			Usage: fmt.Sprintf("Gas budget for the forwarded call (default %d)", relayerClient.DefaultRequestGas),
		},
		&cli.StringFlag{
			Name:  "nonce",
			Usage: "Override the nonce instead of asking the relayer",
		},
	}

	app := &cli.App{
		Name:  "metatx-client",
		Usage: "Sign and relay EIP-2771 meta-transactions",
		Description: `A client for originators of meta-transactions.

This client can:
- Read the forwarder domain and an originator's current nonce
- Sign forward requests with a raw key, an AWS KMS key or a remote JSON-RPC signer
- Submit signed requests to a relayer, which pays for the transaction`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "relayer-url",
				Usage:   "Relayer API URL",
				Value:   "http://localhost:8080",
				EnvVars: []string{config.EnvClientRelayerURL},
			},
			&cli.StringFlag{
				Name:    "private-key",
				Usage:   "Originator private key (hex)",
				EnvVars: []string{config.EnvClientPrivateKey},
			},
			&cli.StringFlag{
				Name:    "aws-kms-key-id",
				Usage:   "Sign with this AWS KMS key instead of a raw private key",
				EnvVars: []string{config.EnvClientAWSKMSKeyID},
			},
			&cli.StringFlag{
				Name:  "aws-region",
				Usage: "AWS region override for KMS",
			},
			&cli.StringFlag{
				Name:    "remote-signer-url",
				Usage:   "Sign through eth_signTypedData_v4 on this JSON-RPC signer",
				EnvVars: []string{config.EnvClientRemoteSignerURL},
			},
			&cli.StringFlag{
				Name:    "remote-signer-from",
				Usage:   "Account the remote signer signs with",
				EnvVars: []string{config.EnvClientRemoteSignerFrom},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "domain",
				Usage:  "Print the forwarder's EIP-712 domain",
				Action: domainCommand,
			},
			{
				Name:  "nonce",
				Usage: "Print the next nonce for an address (default: the signer's)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "address",
						Usage: "Originator address",
					},
				},
				Action: nonceCommand,
			},
			{
				Name:  "sign",
				Usage: "Sign a forward request and print it without submitting",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "to", Usage: "Target contract", Required: true},
					&cli.StringFlag{Name: "data", Usage: "Calldata (hex)", Value: "0x"},
					&cli.StringFlag{Name: "output", Usage: "Write the signed request to this file"},
				}, requestFlags...),
				Action: signCommand,
			},
			{
				Name:  "relay",
				Usage: "Sign and relay a forward request, or relay a previously signed one",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "to", Usage: "Target contract"},
					&cli.StringFlag{Name: "data", Usage: "Calldata (hex)", Value: "0x"},
					&cli.StringFlag{Name: "input", Usage: "Relay the signed request in this file (output of sign)"},
				}, requestFlags...),
				Action: relayCommand,
			},
			{
				Name:  "greet",
				Usage: "Call greet() on a trusting greeter through the relayer",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "greeter", Usage: "Greeter address", Required: true},
				}, requestFlags...),
				Action: greetCommand,
			},
			{
				Name:  "status",
				Usage: "Look up a relayed request by id",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Relay id", Required: true},
				},
				Action: statusCommand,
			},
			{
				Name:  "history",
				Usage: "List relayed requests, optionally for one originator",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "from", Usage: "Originator address"},
				},
				Action: historyCommand,
			},
			{
				Name:  "create-kms-key",
				Usage: "Create a secp256k1 signing key in AWS KMS for use as an originator",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Key description", Required: true},
					&cli.StringFlag{Name: "alias", Usage: "Alias name (without the alias/ prefix)", Required: true},
					&cli.StringFlag{Name: "environment", Usage: "Environment tag", Value: "dev"},
				},
				Action: createKMSKeyCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l, nil
}

// createClient creates a relayer client from CLI context
func createClient(c *cli.Context, l *zap.Logger) (*relayerClient.Client, error) {
	client, err := relayerClient.NewClient(&relayerClient.ClientConfig{
		RelayerURL: c.String("relayer-url"),
		Logger:     l,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create relayer client: %w", err)
	}
	return client, nil
}

// createSigner picks exactly one key source from the global flags
func createSigner(c *cli.Context, l *zap.Logger) (signer.ISigner, error) {
	ctx := c.Context
	sources := 0
	for _, f := range []string{"private-key", "aws-kms-key-id", "remote-signer-url"} {
		if c.String(f) != "" {
			sources++
		}
	}
	if sources != 1 {
		return nil, fmt.Errorf("exactly one of --private-key, --aws-kms-key-id or --remote-signer-url is required")
	}

	switch {
	case c.String("private-key") != "":
		if err := config.ValidatePrivateKeyHex(c.String("private-key")); err != nil {
			return nil, err
		}
		generator := localKeyGenerator.NewLocalKeyGenerator(l)
		if err := generator.LoadPrivateKeyFromHex(cliKeyId, c.String("private-key"), "cli", "cli"); err != nil {
			return nil, err
		}
		return keyGeneratorSigner(ctx, generator, cliKeyId)

	case c.String("aws-kms-key-id") != "":
		awsCfg, err := aws.LoadAWSConfig(ctx, c.String("aws-region"))
		if err != nil {
			return nil, errors.Wrap(err, "failed to load AWS config")
		}
		generator := awsKms.NewAWSKMSKeyGenerator(awsCfg, "", l)
		return keyGeneratorSigner(ctx, generator, c.String("aws-kms-key-id"))

	default:
		remoteCfg := &config.RemoteSignerConfig{
			Url:         c.String("remote-signer-url"),
			FromAddress: c.String("remote-signer-from"),
		}
		if err := remoteCfg.Validate(); err != nil {
			return nil, errors.Wrap(err, "invalid remote signer config")
		}
		client, err := web3signer.NewWeb3SignerClientFromRemoteSignerConfig(remoteCfg, l)
		if err != nil {
			return nil, err
		}
		from := common.HexToAddress(remoteCfg.FromAddress)
		if err := checkRemoteAccount(ctx, client, from); err != nil {
			client.Close()
			return nil, err
		}
		return signer.NewWeb3Signer(client, from), nil
	}
}

func keyGeneratorSigner(ctx context.Context, generator keyGenerator.IKeyGenerator, keyId string) (signer.ISigner, error) {
	s, err := signer.NewKeyGeneratorSigner(ctx, generator, keyId)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func checkRemoteAccount(ctx context.Context, client web3signer.IWeb3Signer, from common.Address) error {
	accounts, err := client.EthAccounts(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list remote signer accounts")
	}
	for _, a := range accounts {
		if a == from {
			return nil
		}
	}
	return fmt.Errorf("remote signer does not hold %s", from.Hex())
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := math.ParseBig256(s)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func parseInput(c *cli.Context, to common.Address, data []byte) (*relayerClient.MetaTxInput, error) {
	input := &relayerClient.MetaTxInput{To: to, Data: data}
	var err error
	if input.Value, err = parseBig(c.String("value")); err != nil {
		return nil, err
	}
	if input.Gas, err = parseBig(c.String("gas")); err != nil {
		return nil, err
	}
	if input.Nonce, err = parseBig(c.String("nonce")); err != nil {
		return nil, err
	}
	return input, nil
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("--%s must be a hex address, got %q", name, s)
	}
	return common.HexToAddress(s), nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// domainCommand handles the domain subcommand
func domainCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	client, err := createClient(c, l)
	if err != nil {
		return err
	}

	domain, err := client.GetDomain(c.Context)
	if err != nil {
		return err
	}
	return printJSON(domain)
}

// nonceCommand handles the nonce subcommand
func nonceCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	client, err := createClient(c, l)
	if err != nil {
		return err
	}

	var address common.Address
	if raw := c.String("address"); raw != "" {
		if address, err = parseAddress("address", raw); err != nil {
			return err
		}
	} else {
		s, err := createSigner(c, l)
		if err != nil {
			return err
		}
		address = s.Address()
	}

	nonce, err := client.GetNonce(c.Context, address)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", address.Hex(), nonce.String())
	return nil
}

func signFromFlags(c *cli.Context, l *zap.Logger, client *relayerClient.Client) (*types.RelayRequest, error) {
	to, err := parseAddress("to", c.String("to"))
	if err != nil {
		return nil, err
	}
	data, err := hexutil.Decode(c.String("data"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode --data: %w", err)
	}
	input, err := parseInput(c, to, data)
	if err != nil {
		return nil, err
	}
	s, err := createSigner(c, l)
	if err != nil {
		return nil, err
	}
	return client.SignMetaTxRequest(c.Context, s, input)
}

// signCommand handles the sign subcommand
func signCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	client, err := createClient(c, l)
	if err != nil {
		return err
	}

	signed, err := signFromFlags(c, l, client)
	if err != nil {
		return err
	}

	if output := c.String("output"); output != "" {
		data, err := json.MarshalIndent(signed, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, data, 0600); err != nil {
			return fmt.Errorf("failed to write to file: %w", err)
		}
		fmt.Printf("✅ Signed request written to: %s\n", output)
		return nil
	}
	return printJSON(signed)
}

// relayCommand handles the relay subcommand
func relayCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	client, err := createClient(c, l)
	if err != nil {
		return err
	}

	var signed *types.RelayRequest
	if input := c.String("input"); input != "" {
		raw, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("failed to read signed request: %w", err)
		}
		signed = &types.RelayRequest{}
		if err := json.Unmarshal(raw, signed); err != nil {
			return fmt.Errorf("failed to parse signed request: %w", err)
		}
	} else {
		if c.String("to") == "" {
			return fmt.Errorf("either --input or --to is required")
		}
		if signed, err = signFromFlags(c, l, client); err != nil {
			return err
		}
	}

	record, err := client.Relay(c.Context, signed.Request, signed.Signature)
	if err != nil {
		return err
	}
	return printJSON(record)
}

// greetCommand handles the greet subcommand
func greetCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	client, err := createClient(c, l)
	if err != nil {
		return err
	}

	greeter, err := parseAddress("greeter", c.String("greeter"))
	if err != nil {
		return err
	}
	data, err := contracts.PackGreet()
	if err != nil {
		return err
	}
	input, err := parseInput(c, greeter, data)
	if err != nil {
		return err
	}
	s, err := createSigner(c, l)
	if err != nil {
		return err
	}

	fmt.Printf("👋 Greeting %s as %s\n", greeter.Hex(), s.Address().Hex())
	signed, err := client.SignMetaTxRequest(c.Context, s, input)
	if err != nil {
		return err
	}
	record, err := client.Relay(c.Context, signed.Request, signed.Signature)
	if err != nil {
		return err
	}

	fmt.Printf("✅ Relayed in %s (%s, gas %d)\n", record.TxHash.Hex(), record.Status, record.GasUsed)
	return nil
}

// statusCommand handles the status subcommand
func statusCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	client, err := createClient(c, l)
	if err != nil {
		return err
	}

	record, err := client.GetRelay(c.Context, c.String("id"))
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("relay %s not found", c.String("id"))
	}
	return printJSON(record)
}

// historyCommand handles the history subcommand
func historyCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	client, err := createClient(c, l)
	if err != nil {
		return err
	}

	var from *common.Address
	if raw := c.String("from"); raw != "" {
		addr, err := parseAddress("from", raw)
		if err != nil {
			return err
		}
		from = &addr
	}
	records, err := client.ListRelays(c.Context, from)
	if err != nil {
		return err
	}
	return printJSON(records)
}

// createKMSKeyCommand handles the create-kms-key subcommand
func createKMSKeyCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}

	awsCfg, err := aws.LoadAWSConfig(c.Context, c.String("aws-region"))
	if err != nil {
		return errors.Wrap(err, "failed to load AWS config")
	}
	identity, err := aws.GetCallerIdentity(c.Context, awsCfg)
	if err != nil {
		return errors.Wrap(err, "failed to resolve AWS caller identity")
	}
	l.Sugar().Infow("Using AWS identity", "arn", *identity.Arn, "region", awsCfg.Region)

	generator := awsKms.NewAWSKMSKeyGenerator(awsCfg, c.String("environment"), l)
	key, err := generator.GenerateECDSAKey(c.Context, c.String("name"), c.String("alias"))
	if err != nil {
		return err
	}

	fmt.Printf("🔑 Created KMS key\n")
	fmt.Printf("  key id:  %s\n", key.KeyId)
	fmt.Printf("  address: %s\n", key.Address)
	return nil
}
