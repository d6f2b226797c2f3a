package mem

import (
	"encoding/binary"
	"log"

	akitamem "github.com/sarchlab/akita/v4/mem/mem"
)

// mainMemoryCapacity covers the full 32-bit physical address space. The
// backing storage allocates pages lazily, so the capacity is not committed
// up front.
const mainMemoryCapacity = uint64(1) << 32

// MainMemory is the flat word-addressed backing store behind the cache.
// Words that were never written read as zero.
type MainMemory struct {
	storage *akitamem.Storage
}

// NewMainMemory creates an empty main memory.
func NewMainMemory() *MainMemory {
	return &MainMemory{storage: akitamem.NewStorage(mainMemoryCapacity)}
}

// ReadWord returns the 32-bit word at a 4-byte-aligned byte address.
func (m *MainMemory) ReadWord(address uint32) uint32 {
	data, err := m.storage.Read(uint64(address), 4)
	if err != nil {
		log.Panicf("main memory read at 0x%08x: %v", address, err)
	}

	return binary.LittleEndian.Uint32(data)
}

// WriteWord stores a 32-bit word at a 4-byte-aligned byte address.
func (m *MainMemory) WriteWord(address, data uint32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, data)

	err := m.storage.Write(uint64(address), buf)
	if err != nil {
		log.Panicf("main memory write at 0x%08x: %v", address, err)
	}
}

// Clear drops all stored contents.
func (m *MainMemory) Clear() {
	m.storage = akitamem.NewStorage(mainMemoryCapacity)
}
