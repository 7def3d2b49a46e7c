// Package resource implements the data pipeline core: the per-type
// compilers that turn source assets into versioned binary blobs, the
// registry that dispatches on resource type, the compile-time toolchain
// context, and the runtime manager that loads blobs and moves them through
// the online/offline lifecycle.
package resource

import (
	"encoding/binary"
	"fmt"

	"github.com/Janders1800/crown/engine/core"
)

// Type identifies a resource type on the wire. The value is baked into every
// compiled blob as the high half of the header tag, so values are append-only
// and never reused.
type Type uint16

const (
	TypeTexture  Type = 1
	TypeMaterial Type = 2
	TypeFont     Type = 3
)

// Tag packs a type and its schema revision into the 32-bit value stored in
// the first word of every compiled blob.
func Tag(t Type, revision uint16) uint32 {
	return uint32(t)<<16 | uint32(revision)
}

// SplitTag is the inverse of Tag.
func SplitTag(tag uint32) (Type, uint16) {
	return Type(tag >> 16), uint16(tag)
}

// ID is the 64-bit identity of a resource instance, the hash of
// "<name>.<type-name>". Opaque and not reversible.
type ID uint64

// MakeID derives the identity of the resource name of type typeName.
func MakeID(typeName, name string) ID {
	return ID(core.StringID64(name + "." + typeName))
}

// String formats the ID the way compiled files are named on disk.
func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// HeaderSize is the length of the generic header that prefixes every
// compiled blob: u32 tag, u32 payload size, little-endian.
const HeaderSize = 8

// EncodeHeader returns the generic header for a payload of size bytes.
func EncodeHeader(tag uint32, size uint32) []byte {
	var h [HeaderSize]byte
	binary.LittleEndian.PutUint32(h[0:4], tag)
	binary.LittleEndian.PutUint32(h[4:8], size)
	return h[:]
}

// ReadTag returns the header tag of a compiled blob.
func ReadTag(data []byte) (uint32, error) {
	if len(data) < HeaderSize {
		return 0, &Error{Code: ErrCorrupt, Msg: fmt.Sprintf("blob is %d bytes, want at least %d", len(data), HeaderSize)}
	}
	return binary.LittleEndian.Uint32(data[0:4]), nil
}

// Payload returns the payload of a compiled blob after checking that the
// recorded size matches the bytes actually present. A short or long payload
// is corruption, never tolerated.
func Payload(data []byte) ([]byte, error) {
	if len(data) < HeaderSize {
		return nil, &Error{Code: ErrCorrupt, Msg: fmt.Sprintf("blob is %d bytes, want at least %d", len(data), HeaderSize)}
	}
	size := binary.LittleEndian.Uint32(data[4:8])
	if uint64(size) != uint64(len(data)-HeaderSize) {
		return nil, &Error{Code: ErrCorrupt, Msg: fmt.Sprintf("payload size %d recorded, %d present", size, len(data)-HeaderSize)}
	}
	return data[HeaderSize:], nil
}
