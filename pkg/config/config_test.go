package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func validRelayerConfig() *RelayerServerConfig {
	return &RelayerServerConfig{
		Port:              8080,
		ChainID:           ChainId_EthereumAnvil,
		RelayerPrivateKey: "0x" + testKey,
		Persistence:       PersistenceConfig{Type: PersistenceType_Memory},
	}
}

func TestRelayerServerConfig_Validate(t *testing.T) {
	t.Run("valid config fills chain name", func(t *testing.T) {
		cfg := validRelayerConfig()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, ChainName_EthereumAnvil, cfg.ChainName)
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := validRelayerConfig()
		cfg.Port = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port")
	})

	t.Run("unsupported chain", func(t *testing.T) {
		cfg := validRelayerConfig()
		cfg.ChainID = 42
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chainId")
	})

	t.Run("missing relayer key", func(t *testing.T) {
		cfg := validRelayerConfig()
		cfg.RelayerPrivateKey = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "relayerPrivateKey")
	})

	t.Run("remote signer instead of key", func(t *testing.T) {
		cfg := validRelayerConfig()
		cfg.RelayerPrivateKey = ""
		cfg.RelayerRemoteSigner = &RemoteSignerConfig{Url: "http://localhost:9000", FromAddress: "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"}
		require.NoError(t, cfg.Validate())
	})

	t.Run("key and remote signer are exclusive", func(t *testing.T) {
		cfg := validRelayerConfig()
		cfg.RelayerRemoteSigner = &RemoteSignerConfig{Url: "http://localhost:9000", FromAddress: "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "relayerRemoteSigner")
	})

	t.Run("incomplete remote signer", func(t *testing.T) {
		cfg := validRelayerConfig()
		cfg.RelayerPrivateKey = ""
		cfg.RelayerRemoteSigner = &RemoteSignerConfig{Url: "http://localhost:9000"}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fromAddress")
	})

	t.Run("badger requires data path", func(t *testing.T) {
		cfg := validRelayerConfig()
		cfg.Persistence.Type = PersistenceType_Badger
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dataPath")
	})

	t.Run("redis requires address", func(t *testing.T) {
		cfg := validRelayerConfig()
		cfg.Persistence.Type = PersistenceType_Redis
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redisAddress")
	})

	t.Run("unknown persistence type", func(t *testing.T) {
		cfg := validRelayerConfig()
		cfg.Persistence.Type = "sqlite"
		require.Error(t, cfg.Validate())
	})

	t.Run("rate limit needs burst", func(t *testing.T) {
		cfg := validRelayerConfig()
		cfg.RateLimitPerSecond = 10
		cfg.RateLimitBurst = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rateLimitBurst")
	})

	t.Run("errors are aggregated", func(t *testing.T) {
		cfg := validRelayerConfig()
		cfg.Port = -1
		cfg.RelayerPrivateKey = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port")
		assert.Contains(t, err.Error(), "relayerPrivateKey")
	})
}

func TestValidatePrivateKeyHex(t *testing.T) {
	assert.NoError(t, ValidatePrivateKeyHex(testKey))
	assert.NoError(t, ValidatePrivateKeyHex("0x"+testKey))
	assert.Error(t, ValidatePrivateKeyHex("0x1234"))
	assert.Error(t, ValidatePrivateKeyHex("zz"+testKey[2:]))
}

func TestRemoteSignerConfig_Validate(t *testing.T) {
	rsc := &RemoteSignerConfig{Url: "http://localhost:9000", FromAddress: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"}
	require.NoError(t, rsc.Validate())

	rsc.FromAddress = "not-an-address"
	require.Error(t, rsc.Validate())

	err := (&RemoteSignerConfig{}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
	assert.Contains(t, err.Error(), "fromAddress")
}

func TestChainIdMaps(t *testing.T) {
	for _, id := range GetSupportedChainIDs() {
		name, ok := ChainIdToName[id]
		require.True(t, ok)
		assert.Equal(t, id, ChainNameToId[name])
	}
}
