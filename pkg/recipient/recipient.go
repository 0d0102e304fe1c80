package recipient

import (
	"github.com/ethereum/go-ethereum/common"
)

// Source says which path resolved the originator
type Source int

const (
	// SourceDirect means the immediate caller is the originator
	SourceDirect Source = iota
	// SourceForwarded means the originator was read from the payload suffix a trusted forwarder appended
	SourceForwarded
)

func (s Source) String() string {
	switch s {
	case SourceDirect:
		return "direct"
	case SourceForwarded:
		return "forwarded"
	default:
		return "unknown"
	}
}

// Resolution is the caller identity a recipient acts on
type Resolution struct {
	Originator common.Address
	// Payload is the call data with any originator suffix removed
	Payload []byte
	Source  Source
}

// ResolveCaller recovers the true originator of a call.
//
// When rawCaller is the trusted forwarder, the last 20 bytes of payload are the originator
// and the rest is the effective payload. Any other caller is taken at face value and the
// payload is returned untouched. A payload from the forwarder that is too short to carry
// a suffix falls back to the direct path.
func ResolveCaller(rawCaller common.Address, payload []byte, trustedForwarder common.Address) Resolution {
	if rawCaller != trustedForwarder || len(payload) < common.AddressLength {
		return Resolution{Originator: rawCaller, Payload: payload, Source: SourceDirect}
	}

	split := len(payload) - common.AddressLength
	return Resolution{
		Originator: common.BytesToAddress(payload[split:]),
		Payload:    payload[:split],
		Source:     SourceForwarded,
	}
}

// TrustingRecipient is embedded by callees that accept calls through a forwarder
type TrustingRecipient struct {
	trustedForwarder common.Address
}

func NewTrustingRecipient(trustedForwarder common.Address) TrustingRecipient {
	return TrustingRecipient{trustedForwarder: trustedForwarder}
}

func (r TrustingRecipient) TrustedForwarder() common.Address {
	return r.trustedForwarder
}

func (r TrustingRecipient) IsTrustedForwarder(addr common.Address) bool {
	return addr == r.trustedForwarder
}

// Resolve applies ResolveCaller with the recipient's trusted forwarder
func (r TrustingRecipient) Resolve(rawCaller common.Address, payload []byte) Resolution {
	return ResolveCaller(rawCaller, payload, r.trustedForwarder)
}
