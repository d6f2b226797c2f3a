package mem

import (
	"fmt"
	"math/bits"
)

// Geometry describes how a 32-bit byte address decomposes into cache
// coordinates. All widths are derived from the configured sizes, which must
// be powers of two.
type Geometry struct {
	lineSize   uint32
	numSets    uint32
	offsetBits uint32
	setBits    uint32
	numBanks   uint32
}

// NewGeometry derives the address layout for a cache of totalSize bytes with
// the given line size and associativity.
func NewGeometry(
	totalSize, lineSize, associativity, numBanks uint32,
) (Geometry, error) {
	if lineSize == 0 || !isPowerOfTwo(lineSize) {
		return Geometry{}, fmt.Errorf(
			"cache line size must be a power of two, got %d", lineSize)
	}

	if associativity == 0 {
		return Geometry{}, fmt.Errorf("associativity must be positive")
	}

	if totalSize == 0 || totalSize%(lineSize*associativity) != 0 {
		return Geometry{}, fmt.Errorf(
			"cache size %d is not divisible by line size %d x associativity %d",
			totalSize, lineSize, associativity)
	}

	numSets := totalSize / (lineSize * associativity)
	if !isPowerOfTwo(numSets) {
		return Geometry{}, fmt.Errorf(
			"number of sets must be a power of two, got %d", numSets)
	}

	if numBanks == 0 {
		return Geometry{}, fmt.Errorf("number of banks must be positive")
	}

	return Geometry{
		lineSize:   lineSize,
		numSets:    numSets,
		offsetBits: uint32(bits.TrailingZeros32(lineSize)),
		setBits:    uint32(bits.TrailingZeros32(numSets)),
		numBanks:   numBanks,
	}, nil
}

// LineSize returns the cache line size in bytes.
func (g Geometry) LineSize() uint32 {
	return g.lineSize
}

// NumSets returns the number of cache sets.
func (g Geometry) NumSets() uint32 {
	return g.numSets
}

// WordsPerLine returns the number of 32-bit words a line holds.
func (g Geometry) WordsPerLine() uint32 {
	return g.lineSize / 4
}

// Offset returns the byte offset of the address within its line.
func (g Geometry) Offset(address uint32) uint32 {
	return address & (g.lineSize - 1)
}

// SetIndex returns the set the address maps to.
func (g Geometry) SetIndex(address uint32) uint32 {
	return (address >> g.offsetBits) & (g.numSets - 1)
}

// Tag returns the tag portion of the address.
func (g Geometry) Tag(address uint32) uint32 {
	return address >> (g.offsetBits + g.setBits)
}

// BankIndex returns the memory bank the address falls in, assuming 4-byte
// interleaving across banks.
func (g Geometry) BankIndex(address uint32) uint32 {
	return (address >> 2) % g.numBanks
}

// LineBase returns the address of the first byte of the line that contains
// the address.
func (g Geometry) LineBase(address uint32) uint32 {
	return address &^ (g.lineSize - 1)
}

// WritebackBase reconstructs the base address of a resident line from its
// tag and set index.
func (g Geometry) WritebackBase(tag, setIndex uint32) uint32 {
	return (tag << (g.offsetBits + g.setBits)) | (setIndex << g.offsetBits)
}

func isPowerOfTwo(v uint32) bool {
	return v&(v-1) == 0
}
