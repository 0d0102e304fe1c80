package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for relayer configuration
const (
	EnvRelayerPort            = "METATX_PORT"
	EnvRelayerChainID         = "METATX_CHAIN_ID"
	EnvRelayerPrivateKey      = "METATX_RELAYER_PRIVATE_KEY"
	EnvRelayerSignerURL       = "METATX_RELAYER_REMOTE_SIGNER_URL"
	EnvRelayerSignerFrom      = "METATX_RELAYER_REMOTE_SIGNER_FROM"
	EnvRelayerFunding         = "METATX_RELAYER_FUNDING_WEI"
	EnvRelayerGreeting        = "METATX_GREETING"
	EnvPersistenceType        = "METATX_PERSISTENCE_TYPE"
	EnvPersistenceDataPath    = "METATX_DATA_PATH"
	EnvRedisAddress           = "METATX_REDIS_ADDRESS"
	EnvRedisPassword          = "METATX_REDIS_PASSWORD"
	EnvRedisDB                = "METATX_REDIS_DB"
	EnvRedisKeyPrefix         = "METATX_REDIS_KEY_PREFIX"
	EnvRateLimitPerSecond     = "METATX_RATE_LIMIT"
	EnvRateLimitBurst         = "METATX_RATE_BURST"
	EnvRelayerDebug           = "METATX_DEBUG"
	EnvClientRelayerURL       = "METATX_RELAYER_URL"
	EnvClientPrivateKey       = "METATX_PRIVATE_KEY"
	EnvClientAWSKMSKeyID      = "METATX_AWS_KMS_KEY_ID"
	EnvClientRemoteSignerURL  = "METATX_REMOTE_SIGNER_URL"
	EnvClientRemoteSignerFrom = "METATX_REMOTE_SIGNER_FROM"
)

// Forwarder domain identity. Signatures are only valid for this name/version pair.
const (
	ForwarderDomainName    = "MinimalForwarder"
	ForwarderDomainVersion = "0.0.1"
)

type ChainId uint

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
)

type ChainName string

const (
	ChainName_EthereumMainnet ChainName = "mainnet"
	ChainName_EthereumSepolia ChainName = "sepolia"
	ChainName_EthereumAnvil   ChainName = "devnet"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_EthereumMainnet: ChainName_EthereumMainnet,
	ChainId_EthereumSepolia: ChainName_EthereumSepolia,
	ChainId_EthereumAnvil:   ChainName_EthereumAnvil,
}
var ChainNameToId = map[ChainName]ChainId{
	ChainName_EthereumMainnet: ChainId_EthereumMainnet,
	ChainName_EthereumSepolia: ChainId_EthereumSepolia,
	ChainName_EthereumAnvil:   ChainId_EthereumAnvil,
}

// GetSupportedChainIDs returns all supported chain IDs
func GetSupportedChainIDs() []ChainId {
	return []ChainId{
		ChainId_EthereumMainnet,
		ChainId_EthereumSepolia,
		ChainId_EthereumAnvil,
	}
}

// GetSupportedChainIDsString returns supported chain IDs as strings for CLI help
func GetSupportedChainIDsString() string {
	return fmt.Sprintf("%d (mainnet), %d (sepolia), %d (anvil)",
		ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil)
}

// GetBlockTimeForChain returns the block period used by the devnet when it simulates a given chain
func GetBlockTimeForChain(chainId ChainId) time.Duration {
	switch chainId {
	case ChainId_EthereumMainnet, ChainId_EthereumSepolia:
		return 12 * time.Second
	case ChainId_EthereumAnvil:
		return 2 * time.Second
	default:
		return 12 * time.Second
	}
}

type PersistenceType string

const (
	PersistenceType_Memory PersistenceType = "memory"
	PersistenceType_Badger PersistenceType = "badger"
	PersistenceType_Redis  PersistenceType = "redis"
)

// PersistenceConfig selects and configures the nonce ledger / relay journal backend
type PersistenceConfig struct {
	Type     PersistenceType `json:"type"`
	DataPath string          `json:"data_path"` // badger only

	RedisAddress   string `json:"redis_address"`
	RedisPassword  string `json:"redis_password"`
	RedisDB        int    `json:"redis_db"`
	RedisKeyPrefix string `json:"redis_key_prefix"`
}

func (pc *PersistenceConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch pc.Type {
	case PersistenceType_Memory:
	case PersistenceType_Badger:
		if pc.DataPath == "" {
			allErrors = append(allErrors, field.Required(path.Child("dataPath"), "dataPath is required for badger persistence"))
		}
	case PersistenceType_Redis:
		if pc.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(path.Child("redisAddress"), "redisAddress is required for redis persistence"))
		}
		if pc.RedisDB < 0 || pc.RedisDB > 15 {
			allErrors = append(allErrors, field.Invalid(path.Child("redisDB"), pc.RedisDB, "must be between 0-15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), pc.Type, []string{
			string(PersistenceType_Memory), string(PersistenceType_Badger), string(PersistenceType_Redis),
		}))
	}
	return allErrors
}

// RelayerServerConfig represents the complete configuration for a relayer server
type RelayerServerConfig struct {
	Port int `json:"port"`

	// Chain configuration
	ChainID   ChainId   `json:"chain_id"`
	ChainName ChainName `json:"chain_name"`

	// RelayerPrivateKey funds and signs the outer execute transactions
	RelayerPrivateKey string `json:"relayer_private_key"`
	// RelayerRemoteSigner signs the outer transactions instead of a local key
	RelayerRemoteSigner *RemoteSignerConfig `json:"relayer_remote_signer"`
	// RelayerFundingWei is credited to the relayer account at devnet genesis
	RelayerFundingWei string `json:"relayer_funding_wei"`

	// Greeting the sample recipient is deployed with
	Greeting string `json:"greeting"`

	Persistence PersistenceConfig `json:"persistence"`

	// Request rate limiting for the HTTP API (0 disables)
	RateLimitPerSecond float64 `json:"rate_limit_per_second"`
	RateLimitBurst     int     `json:"rate_limit_burst"`

	Debug bool `json:"debug"`
}

// Validate validates the relayer server configuration and fills derived fields
func (c *RelayerServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}

	chainName, exists := ChainIdToName[c.ChainID]
	if !exists {
		allErrors = append(allErrors, field.Invalid(field.NewPath("chainId"), c.ChainID,
			fmt.Sprintf("unsupported chain ID. Supported: %s", GetSupportedChainIDsString())))
	} else {
		c.ChainName = chainName
	}

	switch {
	case c.RelayerPrivateKey != "" && c.RelayerRemoteSigner != nil:
		allErrors = append(allErrors, field.Forbidden(field.NewPath("relayerRemoteSigner"), "cannot be combined with relayerPrivateKey"))
	case c.RelayerRemoteSigner != nil:
		if err := c.RelayerRemoteSigner.Validate(); err != nil {
			allErrors = append(allErrors, field.Invalid(field.NewPath("relayerRemoteSigner"), c.RelayerRemoteSigner.Url, err.Error()))
		}
	case c.RelayerPrivateKey == "":
		allErrors = append(allErrors, field.Required(field.NewPath("relayerPrivateKey"), "relayerPrivateKey or relayerRemoteSigner is required"))
	}
	if c.RelayerPrivateKey != "" {
		if err := ValidatePrivateKeyHex(c.RelayerPrivateKey); err != nil {
			allErrors = append(allErrors, field.Invalid(field.NewPath("relayerPrivateKey"), "<redacted>", err.Error()))
		}
	}

	if c.RateLimitPerSecond < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimitPerSecond"), c.RateLimitPerSecond, "must not be negative"))
	}
	if c.RateLimitPerSecond > 0 && c.RateLimitBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimitBurst"), c.RateLimitBurst, "must be at least 1 when rate limiting is enabled"))
	}

	allErrors = append(allErrors, c.Persistence.validate(field.NewPath("persistence"))...)

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// ValidatePrivateKeyHex checks that a hex string (with or without 0x) holds 32 bytes
func ValidatePrivateKeyHex(key string) error {
	key = strings.TrimPrefix(key, "0x")
	if len(key) != 64 {
		return fmt.Errorf("private key must be 32 bytes (64 hex chars), got %d chars", len(key))
	}
	for _, c := range key {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return fmt.Errorf("private key contains non-hex character %q", c)
		}
	}
	return nil
}

// RemoteSignerConfig points at a JSON-RPC signer that holds the originator key
type RemoteSignerConfig struct {
	Url         string `json:"url" yaml:"url"`
	FromAddress string `json:"fromAddress" yaml:"fromAddress"`
}

func (rsc *RemoteSignerConfig) Validate() error {
	var allErrors field.ErrorList
	if rsc.Url == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("url"), "url is required"))
	}
	if rsc.FromAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("fromAddress"), "fromAddress is required"))
	} else if !common.IsHexAddress(rsc.FromAddress) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("fromAddress"), rsc.FromAddress, "must be a hex address"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}
