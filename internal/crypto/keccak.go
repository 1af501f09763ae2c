package crypto

import (
	"hash"

	"golang.org/x/crypto/sha3"

	"github.com/OfficialDeepSwap/A2A/internal/models"
)

// KeccakState wraps sha3.state. Read is faster than Sum because it doesn't
// copy the internal state.
type KeccakState interface {
	hash.Hash
	Read([]byte) (int, error)
}

// NewKeccakState creates a new legacy Keccak-256 state.
func NewKeccakState() KeccakState {
	return sha3.NewLegacyKeccak256().(KeccakState)
}

// Keccak256 calculates and returns the Keccak256 hash of the input data.
func Keccak256(data ...[]byte) []byte {
	b := make([]byte, 32)
	d := NewKeccakState()
	for _, b := range data {
		d.Write(b)
	}
	d.Read(b)
	return b
}

// Keccak256Hash calculates the Keccak256 hash of the input data as a Hash.
func Keccak256Hash(data ...[]byte) (h models.Hash) {
	d := NewKeccakState()
	for _, b := range data {
		d.Write(b)
	}
	d.Read(h[:])
	return h
}
