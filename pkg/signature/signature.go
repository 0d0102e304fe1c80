package signature

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

/*
Signature verification for forward requests.

Accepted form:
  - 65 bytes laid out as r (32) || s (32) || v (1)
  - v is 27 or 28
  - r and s are in [1, n-1] and s is in the lower half of the curve order

Anything else is rejected with ErrInvalidSignature. The upper-half s twin of every
valid signature recovers to the same key, so only one of the pair is accepted and a
relayer cannot mint a second valid encoding of a signature it has already seen.

Recover never panics on attacker controlled bytes; every failure path returns an error
wrapping ErrInvalidSignature.
*/

// ErrInvalidSignature means the signature is malformed or does not match the claimed signer
var ErrInvalidSignature = errors.New("invalid signature")

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// Recover returns the address whose key produced sig over digest
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != types.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, types.SignatureLength, len(sig))
	}

	v := sig[64]
	if v != 27 && v != 28 {
		return common.Address{}, fmt.Errorf("%w: recovery id must be 27 or 28, got %d", ErrInvalidSignature, v)
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(v-27, r, s, true) {
		return common.Address{}, fmt.Errorf("%w: r or s out of range", ErrInvalidSignature)
	}

	// Work on a copy so the caller's bytes are never rewritten
	raw := make([]byte, types.SignatureLength)
	copy(raw, sig)
	raw[64] = v - 27

	pub, err := crypto.SigToPub(digest.Bytes(), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify succeeds only if sig over digest recovers to claimed
func Verify(digest common.Hash, sig []byte, claimed common.Address) error {
	recovered, err := Recover(digest, sig)
	if err != nil {
		return err
	}
	if recovered != claimed {
		return fmt.Errorf("%w: signer %s does not match %s", ErrInvalidSignature, recovered.Hex(), claimed.Hex())
	}
	return nil
}

// Normalize converts signer output into the accepted form.
// Recovery ids 0/1 become 27/28 and an upper-half s is folded into the lower half.
func Normalize(sig []byte) ([]byte, error) {
	if len(sig) != types.SignatureLength {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", types.SignatureLength, len(sig))
	}
	out := make([]byte, types.SignatureLength)
	copy(out, sig)

	switch out[64] {
	case 0, 1:
		out[64] += 27
	case 27, 28:
	default:
		return nil, fmt.Errorf("unexpected recovery id %d", out[64])
	}

	s := new(big.Int).SetBytes(out[32:64])
	if s.Cmp(secp256k1HalfN) > 0 {
		s.Sub(secp256k1N, s)
		copy(out[32:64], common.LeftPadBytes(s.Bytes(), 32))
		out[64] = 55 - out[64] // 27 <-> 28
	}
	return out, nil
}

// Canonicalize normalizes sig and settles the recovery id against expected.
// Some signers report a recovery id that does not match the s they return, so both
// ids are tried before giving up.
func Canonicalize(digest common.Hash, sig []byte, expected common.Address) ([]byte, error) {
	out, err := Normalize(sig)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < 2; attempt++ {
		if recovered, err := Recover(digest, out); err == nil && recovered == expected {
			return out, nil
		}
		out[64] = 55 - out[64]
	}
	return nil, fmt.Errorf("%w: signature does not recover to %s", ErrInvalidSignature, expected.Hex())
}
