package cellcall

import (
	"math/rand"

	farm "github.com/dgryski/go-farm"
)

// PartitionRand returns the random source for the partition named key in a
// run seeded with seed. Sources for different keys are independent, so a
// partition's result does not depend on the order partitions run in.
func PartitionRand(seed int64, key string) *rand.Rand {
	return rand.New(rand.NewSource(int64(farm.Hash64WithSeed([]byte(key), uint64(seed)))))
}
