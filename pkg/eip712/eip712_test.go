package eip712

import (
	"math/big"
	"testing"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDomain() *types.DomainDescriptor {
	return &types.DomainDescriptor{
		Name:              "MinimalForwarder",
		Version:           "0.0.1",
		ChainID:           big.NewInt(31337),
		VerifyingContract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	}
}

func testRequest() *types.ForwardRequest {
	return &types.ForwardRequest{
		From:  common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		To:    common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
		Value: big.NewInt(0),
		Gas:   big.NewInt(1_000_000),
		Nonce: big.NewInt(0),
		Data:  common.FromHex("0xcfae3217"),
	}
}

func TestTypeHashes(t *testing.T) {
	assert.Equal(t,
		common.HexToHash("0x8b73c3c69bb8fe3d512ecc4cf759cc79239f7b179b0ffacaa9a75d522b39400f"),
		DomainTypeHash,
	)
	assert.NotEqual(t, DomainTypeHash, RequestTypeHash)
}

func TestDigest_MatchesTypedDataHash(t *testing.T) {
	cases := map[string]*types.ForwardRequest{
		"greet call": testRequest(),
		"empty data": func() *types.ForwardRequest {
			r := testRequest()
			r.Data = nil
			return r
		}(),
		"large values": func() *types.ForwardRequest {
			r := testRequest()
			r.Value = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
			r.Nonce = big.NewInt(1 << 40)
			return r
		}(),
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			digest, err := Digest(testDomain(), req)
			require.NoError(t, err)

			expected, _, err := apitypes.TypedDataAndHash(TypedData(testDomain(), req))
			require.NoError(t, err)
			assert.Equal(t, common.BytesToHash(expected), digest)
		})
	}
}

func TestDigest_Deterministic(t *testing.T) {
	d1, err := Digest(testDomain(), testRequest())
	require.NoError(t, err)
	d2, err := Digest(testDomain(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestDigest_EveryFieldChangesDigest(t *testing.T) {
	base, err := Digest(testDomain(), testRequest())
	require.NoError(t, err)

	requestMutations := map[string]func(r *types.ForwardRequest){
		"from":  func(r *types.ForwardRequest) { r.From = common.HexToAddress("0x01") },
		"to":    func(r *types.ForwardRequest) { r.To = common.HexToAddress("0x02") },
		"value": func(r *types.ForwardRequest) { r.Value = big.NewInt(1) },
		"gas":   func(r *types.ForwardRequest) { r.Gas = big.NewInt(999_999) },
		"nonce": func(r *types.ForwardRequest) { r.Nonce = big.NewInt(1) },
		"data":  func(r *types.ForwardRequest) { r.Data = common.FromHex("0xcfae3218") },
		"empty": func(r *types.ForwardRequest) { r.Data = nil },
	}
	for name, mutate := range requestMutations {
		t.Run("request "+name, func(t *testing.T) {
			req := testRequest()
			mutate(req)
			d, err := Digest(testDomain(), req)
			require.NoError(t, err)
			assert.NotEqual(t, base, d)
		})
	}

	domainMutations := map[string]func(d *types.DomainDescriptor){
		"name":              func(d *types.DomainDescriptor) { d.Name = "OtherForwarder" },
		"version":           func(d *types.DomainDescriptor) { d.Version = "0.0.2" },
		"chainId":           func(d *types.DomainDescriptor) { d.ChainID = big.NewInt(1) },
		"verifyingContract": func(d *types.DomainDescriptor) { d.VerifyingContract = common.HexToAddress("0x03") },
	}
	for name, mutate := range domainMutations {
		t.Run("domain "+name, func(t *testing.T) {
			domain := testDomain()
			mutate(domain)
			d, err := Digest(domain, testRequest())
			require.NoError(t, err)
			assert.NotEqual(t, base, d)
		})
	}
}

func TestHashForwardRequest_EmptyDataIsPositional(t *testing.T) {
	// nil and zero-length payloads are the same value under the schema
	a := testRequest()
	a.Data = nil
	b := testRequest()
	b.Data = []byte{}

	ha, err := HashForwardRequest(a)
	require.NoError(t, err)
	hb, err := HashForwardRequest(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	// a single zero byte is not the empty payload
	c := testRequest()
	c.Data = []byte{0}
	hc, err := HashForwardRequest(c)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestDigest_RejectsMalformedInputs(t *testing.T) {
	req := testRequest()
	req.Gas = nil
	_, err := Digest(testDomain(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrMalformedRequest)

	domain := testDomain()
	domain.ChainID = nil
	_, err = Digest(domain, testRequest())
	require.Error(t, err)

	_, err = DomainSeparator(nil)
	require.Error(t, err)
}

func TestDigestFromHashes(t *testing.T) {
	sep, err := DomainSeparator(testDomain())
	require.NoError(t, err)
	sh, err := HashForwardRequest(testRequest())
	require.NoError(t, err)
	d, err := Digest(testDomain(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, d, DigestFromHashes(sep, sh))
}
