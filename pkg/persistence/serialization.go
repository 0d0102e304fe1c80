package persistence

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
)

// MarshalRelayRecord serializes a RelayRecord to JSON bytes.
func MarshalRelayRecord(r *types.RelayRecord) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("cannot marshal nil RelayRecord")
	}

	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RelayRecord to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalRelayRecord deserializes a RelayRecord from JSON bytes.
func UnmarshalRelayRecord(data []byte) (*types.RelayRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var r types.RelayRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to RelayRecord: %w", err)
	}

	return &r, nil
}

// EncodeNonce stores a nonce as 8 big-endian bytes.
func EncodeNonce(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// DecodeNonce reads a nonce written by EncodeNonce.
func DecodeNonce(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid nonce encoding: expected 8 bytes, got %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
