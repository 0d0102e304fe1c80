package signature

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signDigest(t *testing.T, digest common.Hash) ([]byte, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	raw, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)
	sig, err := Normalize(raw)
	require.NoError(t, err)
	return sig, crypto.PubkeyToAddress(key.PublicKey)
}

// highSTwin returns the (r, n-s, v^1) encoding that recovers to the same key
func highSTwin(sig []byte) []byte {
	twin := make([]byte, len(sig))
	copy(twin, sig)
	s := new(big.Int).SetBytes(sig[32:64])
	s.Sub(secp256k1N, s)
	copy(twin[32:64], common.LeftPadBytes(s.Bytes(), 32))
	twin[64] = 55 - sig[64]
	return twin
}

func TestVerify(t *testing.T) {
	digest := crypto.Keccak256Hash([]byte("forward request"))
	sig, signer := signDigest(t, digest)

	t.Run("valid signature", func(t *testing.T) {
		require.NoError(t, Verify(digest, sig, signer))
	})

	t.Run("wrong claimed signer", func(t *testing.T) {
		err := Verify(digest, sig, common.HexToAddress("0x1234"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("different digest", func(t *testing.T) {
		err := Verify(crypto.Keccak256Hash([]byte("other")), sig, signer)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("does not mutate input", func(t *testing.T) {
		before := common.CopyBytes(sig)
		_ = Verify(digest, sig, signer)
		assert.Equal(t, before, sig)
	})
}

func TestRecover_RejectsNonCanonical(t *testing.T) {
	digest := crypto.Keccak256Hash([]byte("forward request"))
	sig, signer := signDigest(t, digest)

	recovered, err := Recover(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, signer, recovered)

	tests := []struct {
		name string
		sig  []byte
	}{
		{"empty", nil},
		{"short", sig[:64]},
		{"long", append(common.CopyBytes(sig), 0)},
		{"v zero", func() []byte { s := common.CopyBytes(sig); s[64] -= 27; return s }()},
		{"v 29", func() []byte { s := common.CopyBytes(sig); s[64] = 29; return s }()},
		{"upper half s", highSTwin(sig)},
		{"r zero", func() []byte { s := common.CopyBytes(sig); copy(s[:32], make([]byte, 32)); return s }()},
		{"s zero", func() []byte { s := common.CopyBytes(sig); copy(s[32:64], make([]byte, 32)); return s }()},
		{"r above order", func() []byte {
			s := common.CopyBytes(sig)
			copy(s[:32], common.LeftPadBytes(new(big.Int).Add(secp256k1N, big.NewInt(1)).Bytes(), 32))
			return s
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Recover(digest, tt.sig)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestRecover_GarbageNeverPanics(t *testing.T) {
	digest := crypto.Keccak256Hash([]byte("x"))
	for i := 0; i < 64; i++ {
		garbage := make([]byte, 65)
		for j := range garbage {
			garbage[j] = byte(i*31 + j*7)
		}
		garbage[64] = 27 + byte(i%2)
		assert.NotPanics(t, func() { _, _ = Recover(digest, garbage) })
	}
}

func TestNormalize(t *testing.T) {
	digest := crypto.Keccak256Hash([]byte("normalize"))
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	raw, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	t.Run("lifts recovery id", func(t *testing.T) {
		out, err := Normalize(raw)
		require.NoError(t, err)
		assert.Contains(t, []byte{27, 28}, out[64])
		require.NoError(t, Verify(digest, out, addr))
	})

	t.Run("folds upper half s", func(t *testing.T) {
		canonical, err := Normalize(raw)
		require.NoError(t, err)
		out, err := Normalize(highSTwin(canonical))
		require.NoError(t, err)
		assert.Equal(t, canonical, out)
		require.NoError(t, Verify(digest, out, addr))
	})

	t.Run("rejects bad input", func(t *testing.T) {
		_, err := Normalize(raw[:10])
		require.Error(t, err)

		bad := common.CopyBytes(raw)
		bad[64] = 5
		_, err = Normalize(bad)
		require.Error(t, err)
	})
}

func TestCanonicalize(t *testing.T) {
	digest := crypto.Keccak256Hash([]byte("canonicalize"))
	sig, signer := signDigest(t, digest)

	wrongV := make([]byte, len(sig))
	copy(wrongV, sig)
	wrongV[64] = 55 - wrongV[64]

	for name, input := range map[string][]byte{
		"canonical":      sig,
		"high s":         highSTwin(sig),
		"wrong recovery": wrongV,
	} {
		t.Run(name, func(t *testing.T) {
			out, err := Canonicalize(digest, input, signer)
			require.NoError(t, err)
			assert.Equal(t, sig, out)
		})
	}

	_, err := Canonicalize(digest, sig, common.HexToAddress("0x1"))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
