package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairKey_ShardHashFollowsReceiver(t *testing.T) {
	child := PairKey{Sender: "rChild", Receiver: "rR"}
	parent := PairKey{Sender: "rParent", Receiver: "rR"}

	assert.Equal(t, child.ShardHash(), parent.ShardHash())
	assert.NotEqual(t, child.Hash(), parent.Hash())

	for workers := uint64(1); workers <= 16; workers++ {
		assert.Equal(t, child.ShardHash()%workers, parent.ShardHash()%workers, "workers=%d", workers)
	}
}

func TestPairKey_HashIsDirected(t *testing.T) {
	ab := PairKey{Sender: "rA", Receiver: "rB"}
	ba := PairKey{Sender: "rB", Receiver: "rA"}

	assert.Equal(t, "rA-rB", ab.String())
	assert.NotEqual(t, ab.Hash(), ba.Hash())
	assert.Equal(t, ab.Hash(), PairKey{Sender: "rA", Receiver: "rB"}.Hash())
}
