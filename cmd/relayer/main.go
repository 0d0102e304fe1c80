package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/chain"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/config"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/contracts"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/logHandler"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence/badger"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence/redis"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/relayer"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/transactionSigner"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// 1000 ETH
var defaultFundingWei = new(big.Int).Mul(big.NewInt(1000), big.NewInt(params.Ether)).String()

func main() {
	app := &cli.App{
		Name:  "relayer",
		Usage: "EIP-2771 meta-transaction relayer",
		Description: `Runs a devnet with a trusted forwarder and a sample recipient, and relays
signed forward requests on behalf of their originators.

The relayer account pays for every relayed transaction. Originators only sign.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8080,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvRelayerPort},
			},
			&cli.Uint64Flag{
				Name:    "chain-id",
				Aliases: []string{"chain"},
				Value:   uint64(config.ChainId_EthereumAnvil),
				Usage:   fmt.Sprintf("Chain ID the devnet identifies as: %s", config.GetSupportedChainIDsString()),
				EnvVars: []string{config.EnvRelayerChainID},
			},
			&cli.StringFlag{
				Name:    "relayer-private-key",
				Aliases: []string{"key"},
				Usage:   "Private key (hex) of the account that pays for relays",
				EnvVars: []string{config.EnvRelayerPrivateKey},
			},
			&cli.StringFlag{
				Name:    "relayer-remote-signer-url",
				Usage:   "JSON-RPC signer that signs relay transactions (instead of --relayer-private-key)",
				EnvVars: []string{config.EnvRelayerSignerURL},
			},
			&cli.StringFlag{
				Name:    "relayer-remote-signer-from",
				Usage:   "Relayer account held by the remote signer",
				EnvVars: []string{config.EnvRelayerSignerFrom},
			},
			&cli.StringFlag{
				Name:    "relayer-funding-wei",
				Value:   defaultFundingWei,
				Usage:   "Genesis balance of the relayer account in wei",
				EnvVars: []string{config.EnvRelayerFunding},
			},
			&cli.StringFlag{
				Name:    "greeting",
				Value:   "Hello, World!",
				Usage:   "Greeting the sample recipient is deployed with",
				EnvVars: []string{config.EnvRelayerGreeting},
			},
			&cli.StringFlag{
				Name:    "persistence",
				Value:   string(config.PersistenceType_Memory),
				Usage:   "Nonce ledger and relay journal backend: memory, badger or redis",
				EnvVars: []string{config.EnvPersistenceType},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Usage:   "Badger data directory",
				EnvVars: []string{config.EnvPersistenceDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port)",
				EnvVars: []string{config.EnvRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix for every Redis key",
				EnvVars: []string{config.EnvRedisKeyPrefix},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Usage:   "Requests per second accepted by the HTTP API (0 disables)",
				EnvVars: []string{config.EnvRateLimitPerSecond},
			},
			&cli.IntFlag{
				Name:    "rate-burst",
				Value:   10,
				Usage:   "Burst size for the HTTP API rate limit",
				EnvVars: []string{config.EnvRateLimitBurst},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvRelayerDebug},
			},
		},
		Action: runRelayer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runRelayer(c *cli.Context) error {
	cfg := parseRelayerConfig(c)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	txSigner, err := transactionSigner.NewTransactionSigner(&transactionSigner.SignerConfig{
		PrivateKey:   cfg.RelayerPrivateKey,
		RemoteSigner: cfg.RelayerRemoteSigner,
	}, new(big.Int).SetUint64(uint64(cfg.ChainID)), l)
	if err != nil {
		return fmt.Errorf("failed to create relayer transaction signer: %w", err)
	}
	relayerAddress := txSigner.GetFromAddress()

	// contracts are deployed by a throwaway account so the relayer key never has to be local
	deployerKey, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate deployer key: %w", err)
	}

	funding, ok := new(big.Int).SetString(cfg.RelayerFundingWei, 10)
	if !ok || funding.Sign() <= 0 {
		return fmt.Errorf("relayer funding must be a positive decimal wei amount, got %q", cfg.RelayerFundingWei)
	}

	l.Sugar().Infow("Using chain", "name", cfg.ChainName, "chain_id", cfg.ChainID)

	logs := logHandler.NewLogHandler(l)
	chainCfg := chain.DefaultConfig(cfg.ChainID)
	chainCfg.Alloc = ethTypes.GenesisAlloc{
		relayerAddress: ethTypes.Account{Balance: funding},
		crypto.PubkeyToAddress(deployerKey.PublicKey): ethTypes.Account{Balance: big.NewInt(params.Ether)},
	}
	devnet, err := chain.NewChain(chainCfg, logs, l)
	if err != nil {
		return fmt.Errorf("failed to start devnet: %w", err)
	}

	store, err := openPersistence(&cfg.Persistence, l)
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Warnw("Failed to close persistence", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fwd, err := contracts.DeployForwarder(ctx, devnet, deployerKey, store, l)
	if err != nil {
		return fmt.Errorf("failed to deploy forwarder: %w", err)
	}
	greeter, err := contracts.DeployGreeter(ctx, devnet, deployerKey, cfg.Greeting, fwd.Address(), l)
	if err != nil {
		return fmt.Errorf("failed to deploy greeter: %w", err)
	}

	r, err := relayer.NewRelayer(&relayer.Config{
		Chain:     devnet,
		Forwarder: fwd,
		TxSigner:  txSigner,
		Journal:   store,
	}, l)
	if err != nil {
		return fmt.Errorf("failed to create relayer: %w", err)
	}

	server := relayer.NewServer(r, logs, &relayer.ServerConfig{
		Port:               cfg.Port,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	}, l)
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.Sugar().Infow("Relayer running",
		"relayer", relayerAddress.Hex(),
		"balance", r.Balance().String(),
		"forwarder", fwd.Address().Hex(),
		"greeter", greeter.Hex(),
		"persistence", cfg.Persistence.Type,
		"port", cfg.Port,
	)
	l.Sugar().Infow("Available endpoints",
		"relay", "POST /relay",
		"verify", "POST /verify",
		"nonce", "GET /nonce/{address}",
		"events", "GET /events")
	l.Sugar().Info("Press Ctrl+C to stop")

	<-ctx.Done()
	l.Sugar().Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

func parseRelayerConfig(c *cli.Context) *config.RelayerServerConfig {
	var remote *config.RemoteSignerConfig
	if c.String("relayer-remote-signer-url") != "" || c.String("relayer-remote-signer-from") != "" {
		remote = &config.RemoteSignerConfig{
			Url:         c.String("relayer-remote-signer-url"),
			FromAddress: c.String("relayer-remote-signer-from"),
		}
	}
	return &config.RelayerServerConfig{
		RelayerRemoteSigner: remote,
		Port:                c.Int("port"),
		ChainID:             config.ChainId(c.Uint64("chain-id")),
		RelayerPrivateKey:   c.String("relayer-private-key"),
		RelayerFundingWei:   c.String("relayer-funding-wei"),
		Greeting:            c.String("greeting"),
		Persistence: config.PersistenceConfig{
			Type:           config.PersistenceType(c.String("persistence")),
			DataPath:       c.String("data-path"),
			RedisAddress:   c.String("redis-address"),
			RedisPassword:  c.String("redis-password"),
			RedisDB:        c.Int("redis-db"),
			RedisKeyPrefix: c.String("redis-key-prefix"),
		},
		RateLimitPerSecond: c.Float64("rate-limit"),
		RateLimitBurst:     c.Int("rate-burst"),
		Debug:              c.Bool("verbose"),
	}
}

func openPersistence(cfg *config.PersistenceConfig, l *zap.Logger) (persistence.IForwarderPersistence, error) {
	switch cfg.Type {
	case config.PersistenceType_Badger:
		return badger.NewBadgerPersistence(cfg.DataPath, l)
	case config.PersistenceType_Redis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, l)
	case config.PersistenceType_Memory:
		return memory.NewMemoryPersistence(), nil
	}
	return nil, fmt.Errorf("unsupported persistence type %q", cfg.Type)
}
