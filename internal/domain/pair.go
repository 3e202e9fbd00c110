package domain

import (
	"hash/fnv"
	"strconv"
)

// PairKey identifies a directed (sender, receiver) account pair.
// A->B and B->A are different keys.
type PairKey struct {
	Sender   string
	Receiver string
}

// String returns "sender-receiver".
func (k PairKey) String() string {
	return k.Sender + "-" + k.Receiver
}

// Hash returns a stable 64-bit FNV-1a hash of the key.
func (k PairKey) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(k.Sender))
	h.Write([]byte{0})
	h.Write([]byte(k.Receiver))
	return h.Sum64()
}

// ShardHash hashes the receiver only. All pairs sharing a receiver map to
// the same shard, so trades into one account are processed in arrival order.
func (k PairKey) ShardHash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(k.Receiver))
	return h.Sum64()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
