// Package dpi is the boundary surface an RTL testbench drives the
// simulator through. Every operation is a method on an explicit Simulator
// handle and returns a status code; no panic crosses the boundary.
package dpi

import (
	"fmt"
	"os"

	"github.com/sarchlab/warpsim/timing/engine"
)

// Simulator is the handle returned by InitializeSimulator and threaded
// through every boundary call.
type Simulator struct {
	engine      *engine.Engine
	initialized bool
}

// InitializeSimulator builds and initializes a simulator for the
// configuration. Configuration mistakes are reported as
// StatusSimulationError.
func InitializeSimulator(config engine.Config) (*Simulator, Status) {
	eng, err := engine.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing simulator: %v\n", err)
		return nil, StatusSimulationError
	}

	eng.Initialize()

	return &Simulator{engine: eng, initialized: true}, StatusSuccess
}

// Cleanup releases the simulator. It is idempotent; further calls on the
// handle report StatusSimulationError.
func (s *Simulator) Cleanup() {
	s.engine = nil
	s.initialized = false
}

// Engine exposes the underlying engine for in-process embedding, e.g. to
// bind callbacks or load programs. RTL integrations use only the
// status-coded methods.
func (s *Simulator) Engine() *engine.Engine {
	return s.engine
}

// ProcessMemoryRequest validates and schedules one memory access. For
// reads, a response becomes available once the scheduled events drain.
func (s *Simulator) ProcessMemoryRequest(
	txn MemoryTransaction,
) (status Status) {
	if !s.initialized {
		return StatusSimulationError
	}

	if txn.Address%4 != 0 {
		return StatusInvalidAddress
	}

	if txn.WarpID >= s.engine.NumWarps() {
		return StatusInvalidWarp
	}

	if !s.validThreadMask(txn.ThreadMask) {
		return StatusInvalidThread
	}

	defer protect(&status, StatusSimulationError)

	s.engine.MemoryRequest(
		txn.Address, txn.Data, txn.IsWrite, txn.WarpID, txn.ThreadMask)

	return StatusSuccess
}

// GetMemoryResponse drains pending events and returns the oldest memory
// response word. An empty response queue is reported as StatusMemoryError,
// the memory plane's distinct "nothing to deliver" code.
func (s *Simulator) GetMemoryResponse() (data uint32, status Status) {
	if !s.initialized {
		return 0, StatusSimulationError
	}

	defer protect(&status, StatusSimulationError)

	s.engine.Run()

	txn, ok := s.engine.PopResponse()
	if !ok {
		return 0, StatusMemoryError
	}

	return txn.Data, StatusSuccess
}

// ProcessInstruction feeds a completed instruction to the engine's
// decoding hook.
func (s *Simulator) ProcessInstruction(
	record InstructionRecord,
) (status Status) {
	if !s.initialized {
		return StatusSimulationError
	}

	if record.WarpID >= s.engine.NumWarps() {
		return StatusInvalidWarp
	}

	defer protect(&status, StatusSimulationError)

	s.engine.InstructionComplete(
		record.WarpID, record.PC, record.Instruction)

	return StatusSuccess
}

// GetNextInstruction returns the warp's current PC and the instruction
// word at it, fetched through the memory model.
func (s *Simulator) GetNextInstruction(
	warpID uint32,
) (record InstructionRecord, status Status) {
	if !s.initialized {
		return InstructionRecord{}, StatusSimulationError
	}

	if warpID >= s.engine.NumWarps() {
		return InstructionRecord{}, StatusInvalidWarp
	}

	defer protect(&status, StatusSimulationError)

	warp := s.engine.WarpState(warpID)

	return InstructionRecord{
		PC:          warp.PC,
		Instruction: s.engine.Memory().ReadInstruction(warp.PC),
		WarpID:      warpID,
		ThreadMask:  warp.ThreadMask,
	}, StatusSuccess
}

// UpdateWarpState overwrites one warp's state.
func (s *Simulator) UpdateWarpState(
	warpID uint32,
	state WarpState,
) (status Status) {
	if !s.initialized {
		return StatusSimulationError
	}

	if warpID >= s.engine.NumWarps() {
		return StatusInvalidWarp
	}

	defer protect(&status, StatusSimulationError)

	s.engine.SetWarpState(warpID, engine.WarpState{
		PC:         state.PC,
		ThreadMask: state.ThreadMask,
		Active:     state.Active,
		LastActive: state.LastActiveCycle,
	})

	return StatusSuccess
}

// GetWarpState returns one warp's state.
func (s *Simulator) GetWarpState(
	warpID uint32,
) (state WarpState, status Status) {
	if !s.initialized {
		return WarpState{}, StatusSimulationError
	}

	if warpID >= s.engine.NumWarps() {
		return WarpState{}, StatusInvalidWarp
	}

	defer protect(&status, StatusSimulationError)

	warp := s.engine.WarpState(warpID)

	return WarpState{
		PC:              warp.PC,
		ThreadMask:      warp.ThreadMask,
		Active:          warp.Active,
		LastActiveCycle: warp.LastActive,
	}, StatusSuccess
}

// GetCacheStats returns the cache counters.
func (s *Simulator) GetCacheStats() (stats CacheStats, status Status) {
	if !s.initialized {
		return CacheStats{}, StatusSimulationError
	}

	defer protect(&status, StatusSimulationError)

	m := s.engine.Memory().Stats()

	return CacheStats{
		Hits:          m.Hits,
		Misses:        m.Misses,
		Evictions:     m.Evictions,
		BankConflicts: m.BankConflicts,
	}, StatusSuccess
}

// GetPerformanceCounters returns the engine counters. Stall cycles are not
// modeled and report zero.
func (s *Simulator) GetPerformanceCounters() (
	counters PerformanceCounters,
	status Status,
) {
	if !s.initialized {
		return PerformanceCounters{}, StatusSimulationError
	}

	defer protect(&status, StatusSimulationError)

	st := s.engine.Statistics()

	return PerformanceCounters{
		InstructionsExecuted: st.InstructionsExecuted,
		MemoryRequests:       st.MemoryRequests,
		CacheHits:            st.CacheHits,
		StallCycles:          0,
	}, StatusSuccess
}

// PrintStatistics writes the engine and cache reports to stdout.
func (s *Simulator) PrintStatistics() {
	if !s.initialized {
		return
	}

	s.engine.PrintStatistics(os.Stdout)
	s.engine.Memory().PrintState(os.Stdout)
}

// validThreadMask reports whether the mask only names threads the warp
// actually has.
func (s *Simulator) validThreadMask(mask uint32) bool {
	width := s.engine.Config().ThreadsPerWarp
	if width >= 32 {
		return true
	}

	return mask>>width == 0
}

// protect converts a panic escaping the engine into a boundary status.
func protect(status *Status, fallback Status) {
	if r := recover(); r != nil {
		fmt.Fprintf(os.Stderr, "simulation fault: %v\n", r)
		*status = fallback
	}
}
