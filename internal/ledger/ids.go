package ledger

import (
	"encoding/binary"

	"github.com/OfficialDeepSwap/A2A/internal/crypto"
	"github.com/OfficialDeepSwap/A2A/internal/models"
)

// nameHash keys the name index.
func nameHash(name string) models.Hash {
	return crypto.Keccak256Hash([]byte(name))
}

// messageID derives keccak256(sender ‖ recipient ‖ content ‖ be64(ts) ‖ be64(counter)).
// The counter is the global message count before the send, which keeps ids
// unique for identical sends within the same second.
func messageID(sender, recipient models.Address, content []byte, ts int64, counter uint64) models.Hash {
	return crypto.Keccak256Hash(sender[:], recipient[:], content, be64(uint64(ts)), be64(counter))
}

// threadID derives keccak256(lo ‖ hi ‖ be64(ts)) from the sorted pair.
func threadID(a, b models.Address, ts int64) models.Hash {
	lo, hi := sortPair(a, b)
	return crypto.Keccak256Hash(lo[:], hi[:], be64(uint64(ts)))
}

func sortPair(a, b models.Address) (models.Address, models.Address) {
	if b.Less(a) {
		return b, a
	}
	return a, b
}

func be64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
