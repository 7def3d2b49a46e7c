package core

import "hash/fnv"

// StringID64 returns the stable 64-bit identifier for s (FNV-1a).
// IDs are opaque and not reversible; equal strings always map to equal IDs
// and the mapping never changes between tool and runtime builds.
func StringID64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// StringID32 returns the stable 32-bit identifier for s (FNV-1a).
// Used for names that live inside a resource, e.g. material uniforms.
func StringID32(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
