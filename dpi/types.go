package dpi

// Status is the code every boundary operation returns. The taxonomy is
// fixed; internal failures of any kind map onto one of these six values
// and never escape as panics.
type Status int32

const (
	// StatusSuccess reports a completed operation.
	StatusSuccess Status = 0

	// StatusInvalidAddress reports a misaligned address.
	StatusInvalidAddress Status = -1

	// StatusInvalidWarp reports a warp id at or beyond the configured
	// warp count.
	StatusInvalidWarp Status = -2

	// StatusInvalidThread reports a thread index beyond the warp width.
	StatusInvalidThread Status = -3

	// StatusMemoryError reports a memory-plane failure, including an
	// empty response queue on GetMemoryResponse.
	StatusMemoryError Status = -4

	// StatusSimulationError reports an engine-plane failure, including
	// configuration mistakes caught at initialization.
	StatusSimulationError Status = -5
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidAddress:
		return "INVALID_ADDRESS"
	case StatusInvalidWarp:
		return "INVALID_WARP"
	case StatusInvalidThread:
		return "INVALID_THREAD"
	case StatusMemoryError:
		return "MEMORY_ERROR"
	case StatusSimulationError:
		return "SIMULATION_ERROR"
	default:
		return "UNKNOWN"
	}
}

// MemoryTransaction is the boundary form of a memory access request.
type MemoryTransaction struct {
	Address    uint32
	Data       uint32
	IsWrite    bool
	Size       uint32
	WarpID     uint32
	ThreadMask uint32
}

// InstructionRecord is the boundary form of a completed or fetched
// instruction.
type InstructionRecord struct {
	PC          uint32
	Instruction uint32
	WarpID      uint32
	ThreadMask  uint32
}

// CacheStats is the boundary form of the cache counters.
type CacheStats struct {
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	BankConflicts uint64
}

// WarpState is the boundary form of one warp's execution state.
type WarpState struct {
	PC              uint32
	ThreadMask      uint32
	Active          bool
	LastActiveCycle uint64
}

// PerformanceCounters is the boundary form of the engine counters.
type PerformanceCounters struct {
	InstructionsExecuted uint64
	MemoryRequests       uint64
	CacheHits            uint64
	StallCycles          uint64
}
