// Package mem models the memory subsystem of the simulator: a bank-aware,
// set-associative, write-back/write-allocate cache in front of a flat main
// memory. Access latencies computed here drive the event times of the
// simulation engine.
package mem

import (
	"fmt"
	"io"
	"log"

	"github.com/fatih/color"
)

// Compile-time cache organization. The address layout and the replacement
// logic derive everything else from the configured sizes.
const (
	// Associativity is the number of ways per cache set.
	Associativity = 8

	// NumBanks is the number of 4-byte-interleaved memory banks.
	NumBanks = 8

	// MaxHistorySize bounds the access history kept for debugging and
	// post-run recording.
	MaxHistorySize = 1000
)

// HitLatency is the cycle cost of a cache hit before bank conflicts.
const HitLatency = 1

// fillBytesPerCycle is the line fill transfer rate used for miss latency.
const fillBytesPerCycle = 16

// CacheConfig captures the cache organization of a Model.
type CacheConfig struct {
	TotalSize     uint32
	LineSize      uint32
	Associativity uint32
	NumBanks      uint32
	MemoryLatency uint32
}

// CacheStats are the monotone access counters of the model. At any point,
// Hits+Misses equals Reads+Writes.
type CacheStats struct {
	Reads         uint64
	Writes        uint64
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	BankConflicts uint64
}

// An Access is one entry of the bounded access history.
type Access struct {
	Address uint32
	Data    uint32
	IsWrite bool
	Cycle   uint64
}

// Model orchestrates cache lookup, miss handling, replacement, writeback,
// latency computation, and statistics for a single cache level backed by
// main memory.
type Model struct {
	config CacheConfig
	geom   Geometry

	sets       []Set
	mainMemory *MainMemory

	stats        CacheStats
	currentCycle uint64
	history      []Access

	coherence CoherenceHandler
}

// NewModel builds a memory model for a cache of cacheSize bytes with
// lineSize-byte lines and the given main memory latency in cycles.
func NewModel(cacheSize, lineSize, memoryLatency uint32) (*Model, error) {
	geom, err := NewGeometry(cacheSize, lineSize, Associativity, NumBanks)
	if err != nil {
		return nil, fmt.Errorf("invalid cache configuration: %w", err)
	}

	m := &Model{
		config: CacheConfig{
			TotalSize:     cacheSize,
			LineSize:      lineSize,
			Associativity: Associativity,
			NumBanks:      NumBanks,
			MemoryLatency: memoryLatency,
		},
		geom:       geom,
		mainMemory: NewMainMemory(),
		history:    make([]Access, 0, MaxHistorySize),
		coherence:  NopCoherence{},
	}

	m.sets = make([]Set, geom.NumSets())
	for i := range m.sets {
		m.sets[i] = newSet(Associativity, geom.WordsPerLine())
	}

	return m, nil
}

// SetCoherenceHandler replaces the coherence hook. Passing nil restores the
// default no-op handler.
func (m *Model) SetCoherenceHandler(h CoherenceHandler) {
	if h == nil {
		h = NopCoherence{}
	}

	m.coherence = h
}

// Initialize clears all cache lines, main memory, statistics, the access
// history, and the internal cycle counter. It is idempotent.
func (m *Model) Initialize() {
	for i := range m.sets {
		m.sets[i].reset()
	}

	m.mainMemory.Clear()
	m.stats = CacheStats{}
	m.currentCycle = 0
	m.history = m.history[:0]
}

// ProcessRequest performs one 4-byte access and returns the model cycle at
// which it completes. The address must be 4-byte aligned.
func (m *Model) ProcessRequest(
	address, data uint32,
	isWrite bool,
) uint64 {
	if address%4 != 0 {
		log.Panicf("memory access at 0x%08x is not 4-byte aligned", address)
	}

	if len(m.history) < MaxHistorySize {
		m.history = append(m.history, Access{
			Address: address,
			Data:    data,
			IsWrite: isWrite,
			Cycle:   m.currentCycle,
		})
	}

	if isWrite {
		m.stats.Writes++
	} else {
		m.stats.Reads++
	}

	physical := m.translateAddress(address)
	setIndex := m.geom.SetIndex(physical)
	tag := m.geom.Tag(physical)
	wordIndex := m.geom.Offset(physical) / 4

	set := &m.sets[setIndex]
	way := set.probe(tag)

	var latency uint64
	if way >= 0 {
		m.stats.Hits++
		latency = HitLatency + m.bankConflictPenalty(physical)

		line := &set.Ways[way]
		line.LastAccess = m.currentCycle
		if isWrite {
			line.Data[wordIndex] = data
			line.Dirty = true
		}
	} else {
		m.stats.Misses++
		latency = uint64(m.config.MemoryLatency) +
			uint64(m.config.LineSize/fillBytesPerCycle) +
			m.bankConflictPenalty(physical)

		way = set.selectVictim()
		victim := &set.Ways[way]
		if victim.Valid && victim.Dirty {
			m.writeBack(victim, setIndex)
			m.stats.Evictions++
		}

		base := m.geom.LineBase(physical)
		for i := uint32(0); i < m.geom.WordsPerLine(); i++ {
			victim.Data[i] = m.mainMemory.ReadWord(base + i*4)
		}

		victim.Tag = tag
		victim.Valid = true
		victim.Dirty = isWrite
		victim.LastAccess = m.currentCycle
		if isWrite {
			victim.Data[wordIndex] = data
		}
	}

	m.coherence.AccessCompleted(m.sets, tag, setIndex, way)

	m.currentCycle += latency

	return m.currentCycle
}

// ReadInstruction fetches the instruction word at the address, going
// through the cache. A resident word is returned directly, counted as a
// read hit. A miss issues a read request and retries the probe.
func (m *Model) ReadInstruction(address uint32) uint32 {
	setIndex := m.geom.SetIndex(address)
	tag := m.geom.Tag(address)
	wordIndex := m.geom.Offset(address) / 4

	set := &m.sets[setIndex]
	if way := set.probe(tag); way >= 0 {
		m.stats.Reads++
		m.stats.Hits++

		line := &set.Ways[way]
		line.LastAccess = m.currentCycle

		return line.Data[wordIndex]
	}

	m.ProcessRequest(address, 0, false)
	data, _ := m.LookupCache(address)

	return data
}

// LookupCache probes the cache for the word at the address without updating
// LRU state or statistics.
func (m *Model) LookupCache(address uint32) (uint32, bool) {
	setIndex := m.geom.SetIndex(address)
	tag := m.geom.Tag(address)
	wordIndex := m.geom.Offset(address) / 4

	set := &m.sets[setIndex]
	way := set.probe(tag)
	if way < 0 {
		return 0, false
	}

	return set.Ways[way].Data[wordIndex], true
}

// UpdateCache writes the word into a resident line, marking it dirty. If the
// line is absent, the write goes through ProcessRequest instead.
func (m *Model) UpdateCache(address, data uint32) {
	setIndex := m.geom.SetIndex(address)
	tag := m.geom.Tag(address)
	wordIndex := m.geom.Offset(address) / 4

	set := &m.sets[setIndex]
	if way := set.probe(tag); way >= 0 {
		line := &set.Ways[way]
		line.Data[wordIndex] = data
		line.Dirty = true
		line.LastAccess = m.currentCycle

		return
	}

	m.ProcessRequest(address, data, true)
}

// InvalidateLine drops the line holding the address, writing it back first
// if dirty.
func (m *Model) InvalidateLine(address uint32) {
	setIndex := m.geom.SetIndex(address)
	tag := m.geom.Tag(address)

	set := &m.sets[setIndex]
	for i := range set.Ways {
		line := &set.Ways[i]
		if line.Valid && line.Tag == tag {
			if line.Dirty {
				m.writeBack(line, setIndex)
			}

			line.Valid = false
			line.Dirty = false
		}
	}
}

// EvictLine forcibly evicts one way, writing it back if dirty, and counts
// the eviction.
func (m *Model) EvictLine(setIndex uint32, way int) {
	if setIndex >= uint32(len(m.sets)) {
		log.Panicf("set index %d out of range", setIndex)
	}

	if way < 0 || way >= int(m.config.Associativity) {
		log.Panicf("way %d out of range", way)
	}

	line := &m.sets[setIndex].Ways[way]
	if line.Valid && line.Dirty {
		m.writeBack(line, setIndex)
	}

	line.Valid = false
	line.Dirty = false
	m.stats.Evictions++
}

// writeBack copies a dirty line's words to main memory at the line's base
// physical address.
func (m *Model) writeBack(line *Line, setIndex uint32) {
	base := m.geom.WritebackBase(line.Tag, setIndex)
	for i := range line.Data {
		m.mainMemory.WriteWord(base+uint32(i)*4, line.Data[i])
	}
}

// bankConflictPenalty returns the extra cycles caused by bank contention.
// The current policy reports no conflicts; the bank index computation stays
// on this path so a contention model can be substituted without touching
// callers.
func (m *Model) bankConflictPenalty(address uint32) uint64 {
	_ = m.geom.BankIndex(address)

	return 0
}

// translateAddress maps a simulated address to a physical address. The
// mapping is identity; virtual memory is not modeled.
func (m *Model) translateAddress(address uint32) uint32 {
	return address
}

// HitMissCounts returns the hit and miss counters.
func (m *Model) HitMissCounts() (hits, misses uint64) {
	return m.stats.Hits, m.stats.Misses
}

// Stats returns a copy of all access counters.
func (m *Model) Stats() CacheStats {
	return m.stats
}

// CurrentCycle returns the model's internal cycle counter.
func (m *Model) CurrentCycle() uint64 {
	return m.currentCycle
}

// AccessHistory returns the recorded accesses, oldest first.
func (m *Model) AccessHistory() []Access {
	return m.history
}

// Config returns the cache organization.
func (m *Model) Config() CacheConfig {
	return m.config
}

// Geometry returns the derived address layout.
func (m *Model) Geometry() Geometry {
	return m.geom
}

// ReadWord reads a word directly from main memory, bypassing the cache.
func (m *Model) ReadWord(address uint32) uint32 {
	return m.mainMemory.ReadWord(address)
}

// WriteWord writes a word directly to main memory, bypassing the cache.
// This is the writer interface handed to the program loader.
func (m *Model) WriteWord(address, data uint32) {
	m.mainMemory.WriteWord(address, data)
}

// VerifyState asserts the structural invariants of the cache: the set and
// way counts match the configuration, every line holds LineSize/4 words,
// invalid lines are clean, the history is bounded, and the statistics are
// consistent.
func (m *Model) VerifyState() {
	expectedSets := m.config.TotalSize /
		(m.config.LineSize * m.config.Associativity)
	if uint32(len(m.sets)) != expectedSets {
		log.Panicf("expected %d sets, have %d", expectedSets, len(m.sets))
	}

	for si := range m.sets {
		if uint32(len(m.sets[si].Ways)) != m.config.Associativity {
			log.Panicf("set %d has %d ways, want %d",
				si, len(m.sets[si].Ways), m.config.Associativity)
		}

		for wi := range m.sets[si].Ways {
			line := &m.sets[si].Ways[wi]
			if uint32(len(line.Data)) != m.config.LineSize/4 {
				log.Panicf("set %d way %d holds %d words, want %d",
					si, wi, len(line.Data), m.config.LineSize/4)
			}

			if !line.Valid && line.Dirty {
				log.Panicf("set %d way %d is invalid but dirty", si, wi)
			}
		}
	}

	if len(m.history) > MaxHistorySize {
		log.Panicf("access history overflow: %d entries", len(m.history))
	}

	if m.stats.Hits+m.stats.Misses != m.stats.Reads+m.stats.Writes {
		log.Panicf("hit/miss total %d does not match access total %d",
			m.stats.Hits+m.stats.Misses, m.stats.Reads+m.stats.Writes)
	}
}

// Line returns a copy of one cache line for inspection.
func (m *Model) Line(setIndex uint32, way int) Line {
	src := m.sets[setIndex].Ways[way]
	cp := src
	cp.Data = append([]uint32(nil), src.Data...)

	return cp
}

// PrintState writes the cache configuration, counters, and the state of the
// first few sets to w.
func (m *Model) PrintState(w io.Writer) {
	header := color.New(color.FgCyan, color.Bold)

	header.Fprintln(w, "\nCache State:")
	header.Fprintln(w, "============")
	fmt.Fprintf(w, "Configuration:\n")
	fmt.Fprintf(w, "  Size: %d bytes\n", m.config.TotalSize)
	fmt.Fprintf(w, "  Line Size: %d bytes\n", m.config.LineSize)
	fmt.Fprintf(w, "  Associativity: %d-way\n", m.config.Associativity)
	fmt.Fprintf(w, "  Number of Banks: %d\n\n", m.config.NumBanks)

	fmt.Fprintf(w, "Statistics:\n")
	fmt.Fprintf(w, "  Reads: %d\n", m.stats.Reads)
	fmt.Fprintf(w, "  Writes: %d\n", m.stats.Writes)
	fmt.Fprintf(w, "  Hits: %d\n", m.stats.Hits)
	fmt.Fprintf(w, "  Misses: %d\n", m.stats.Misses)
	fmt.Fprintf(w, "  Evictions: %d\n", m.stats.Evictions)
	fmt.Fprintf(w, "  Bank Conflicts: %d\n", m.stats.BankConflicts)

	hitRate := 0.0
	if m.stats.Hits+m.stats.Misses > 0 {
		hitRate = float64(m.stats.Hits) /
			float64(m.stats.Hits+m.stats.Misses)
	}
	fmt.Fprintf(w, "  Hit Rate: %.2f%%\n\n", hitRate*100)

	numSets := len(m.sets)
	if numSets > 4 {
		numSets = 4
	}

	fmt.Fprintf(w, "Cache Line State (first %d sets):\n", numSets)
	for si := 0; si < numSets; si++ {
		fmt.Fprintf(w, "Set %d:\n", si)
		for wi := range m.sets[si].Ways {
			line := &m.sets[si].Ways[wi]
			if line.Valid {
				fmt.Fprintf(w,
					"  Way %d: Valid, Tag: 0x%x, Dirty: %v, Last Access: %d\n",
					wi, line.Tag, line.Dirty, line.LastAccess)
			} else {
				fmt.Fprintf(w, "  Way %d: Invalid\n", wi)
			}
		}
	}
}
