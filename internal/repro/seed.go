// Package repro implements the C9 reproducibility envelope: deterministic
// seed derivation, environment capture, and the atomic RunMetadata writer.
package repro

import (
	"encoding/binary"
	"hash/fnv"
)

// DeriveSeed computes a stable child seed from a parent seed and a stable
// name. The same (parent, stableName) pair always yields the same child
// seed, independent of process, platform, or call order — every component
// that needs a sub-stream (per-path draws in C2, the GarchT innovation
// recursion in C1, matched-episode resampling in C6) derives its seed this
// way instead of reusing the parent seed directly.
func DeriveSeed(parent int64, stableName string) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(parent))
	h.Write(buf[:])
	h.Write([]byte(stableName))
	return int64(h.Sum64())
}
