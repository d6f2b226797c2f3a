// Package engine drives the cycle-level simulation. A stable min-heap of
// timestamped events advances simulated time; dispatching an event mutates
// warp state or routes a transaction through the memory model, whose access
// latency determines when the follow-up event fires.
package engine

import (
	"fmt"
	"io"
	"log"

	"github.com/fatih/color"

	"github.com/sarchlab/warpsim/insts"
	"github.com/sarchlab/warpsim/timing/mem"
)

// MaxCycles is the hard simulation ceiling. Runs that reach it terminate
// regardless of pending events, as a liveness safeguard.
const MaxCycles = 1_000_000

// statsSampleInterval is how often, in cycles, statistics snapshots are
// taken during the run.
const statsSampleInterval = 1000

// Fetch scheduling delays in cycles.
const (
	// fetchInterval paces instruction fetch when no completion callback
	// is bound.
	fetchInterval = 4

	// nextFetchDelay paces fetch after a completed non-branch
	// instruction.
	nextFetchDelay = 1

	// branchResolveDelay is the fetch delay after a branch.
	branchResolveDelay = 3

	// warpCompleteDelay separates an exit instruction from the warp
	// retiring.
	warpCompleteDelay = 1

	// responseFetchDelay separates a memory response from the next
	// fetch.
	responseFetchDelay = 1

	// simulationEndDelay separates the last warp retiring from the end
	// of the simulation.
	simulationEndDelay = 1
)

// Stats aggregates the performance counters of a run. IPC and CacheHitRate
// are derived at finalization.
type Stats struct {
	TotalCycles          uint64
	InstructionsExecuted uint64
	MemoryRequests       uint64
	CacheHits            uint64
	CacheMisses          uint64
	IPC                  float64
	CacheHitRate         float64
}

// MemoryResponseCallback delivers a completed read to the external
// collaborator (e.g. an RTL testbench).
type MemoryResponseCallback func(
	address, data uint32,
	isWrite bool,
	warpID, threadMask uint32,
)

// InstructionCompleteCallback is invoked for every fetched instruction.
// When bound, the callee is responsible for advancing the warp, typically
// by calling InstructionComplete.
type InstructionCompleteCallback func(warpID, pc, instruction uint32)

// Engine owns the event queue, the warp table, the trace, and the memory
// model for the lifetime of a simulation. All mutation happens on the
// event loop; callbacks run synchronously inside event dispatch and may
// re-enter the engine only to schedule events.
type Engine struct {
	config Config

	queue  *EventQueue
	memory *mem.Model
	warps  []WarpState
	trace  *trace

	classifier insts.Classifier

	stats       Stats
	running     bool
	currentTime uint64

	responseQueue []Transaction

	memoryResponseCallback      MemoryResponseCallback
	instructionCompleteCallback InstructionCompleteCallback
}

// New builds an engine for the configuration. The warp table is sized to
// NumWarps with every warp active at PC 0; the memory model is constructed
// and owned exclusively by the engine.
func New(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	memory, err := mem.NewModel(
		config.CacheSize, config.CacheLineSize, config.MemoryLatency)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:     config,
		queue:      NewEventQueue(),
		memory:     memory,
		warps:      newWarpTable(config.NumWarps),
		trace:      newTrace(),
		classifier: insts.NewRISCVClassifier(),
	}, nil
}

// SetClassifier replaces the instruction classifier used by
// InstructionComplete. The default classifies RISC-V opcodes.
func (e *Engine) SetClassifier(c insts.Classifier) {
	if c == nil {
		c = insts.NewRISCVClassifier()
	}

	e.classifier = c
}

// SetMemoryResponseCallback registers the collaborator notified on every
// memory response.
func (e *Engine) SetMemoryResponseCallback(cb MemoryResponseCallback) {
	e.memoryResponseCallback = cb
}

// SetInstructionCompleteCallback registers the collaborator invoked on
// every fetched instruction. While bound, the callee drives PC advancement
// and fetch scheduling; unbound, the engine advances naively at the fetch
// interval.
func (e *Engine) SetInstructionCompleteCallback(
	cb InstructionCompleteCallback,
) {
	e.instructionCompleteCallback = cb
}

// Initialize resets simulated time, statistics, the event queue, the
// trace, the response queue, and the memory model, then seeds one
// instruction fetch at time 0 for every warp. Calling it twice is
// equivalent to calling it once.
func (e *Engine) Initialize() {
	e.currentTime = 0
	e.stats = Stats{}
	e.queue.Clear()
	e.trace.clear()
	e.responseQueue = e.responseQueue[:0]

	for i := range e.warps {
		e.warps[i] = WarpState{
			PC:         0,
			ThreadMask: 0xFFFFFFFF,
			Active:     true,
			LastActive: 0,
		}
	}

	e.memory.Initialize()

	for warpID := uint32(0); warpID < e.config.NumWarps; warpID++ {
		e.ScheduleInstructionFetch(warpID, 0)
	}
}

// Run drives the event loop until the queue drains, every warp retires,
// the cycle ceiling is hit, or Stop is called. Derived metrics are
// finalized before returning.
func (e *Engine) Run() {
	e.running = true

	for e.running && e.queue.Len() > 0 {
		evt := e.queue.Pop()
		e.currentTime = evt.Time

		e.dispatch(evt)
		e.trace.record(evt)

		if e.currentTime%statsSampleInterval == 0 {
			e.updateStatistics()
		}

		if e.currentTime >= MaxCycles || e.allWarpsInactive() {
			e.running = false
		}
	}

	e.running = false
	e.finalizeMetrics()
}

// Stop requests termination and finalizes derived metrics. Pending events
// stay queued; they are simply not executed.
func (e *Engine) Stop() {
	e.running = false
	e.finalizeMetrics()
}

// IsRunning reports whether the event loop is active.
func (e *Engine) IsRunning() bool {
	return e.running
}

// CurrentTime returns the engine cycle of the event being, or last,
// dispatched.
func (e *Engine) CurrentTime() uint64 {
	return e.currentTime
}

func (e *Engine) dispatch(evt Event) {
	switch evt.Kind {
	case EventMemoryRequest:
		e.handleMemoryRequest(evt.Txn)
	case EventMemoryResponse:
		e.handleMemoryResponse(evt.Txn)
	case EventInstructionFetch:
		e.handleInstructionFetch(evt.WarpID)
	case EventWarpComplete:
		e.handleWarpComplete(evt.WarpID)
	case EventSimulationEnd:
		e.running = false
	default:
		log.Panicf("unknown event kind %d", evt.Kind)
	}
}

func (e *Engine) handleMemoryRequest(txn *Transaction) {
	if txn == nil {
		log.Panic("memory request event without transaction")
	}

	e.mustValidWarp(txn.WarpID)
	e.stats.MemoryRequests++

	completion := e.memory.ProcessRequest(txn.Address, txn.Data, txn.IsWrite)

	if !txn.IsWrite {
		// Deliver the read into the transaction so the response and the
		// trace carry the value observed.
		if word, ok := e.memory.LookupCache(txn.Address); ok {
			txn.Data = word
		}

		delay := uint64(0)
		if completion > e.currentTime {
			delay = completion - e.currentTime
		}

		e.schedule(Event{Kind: EventMemoryResponse, Txn: txn.clone()}, delay)
	}

	e.warps[txn.WarpID].LastActive = e.currentTime
}

func (e *Engine) handleMemoryResponse(txn *Transaction) {
	if txn == nil {
		log.Panic("memory response event without transaction")
	}

	e.responseQueue = append(e.responseQueue, *txn)

	if e.memoryResponseCallback != nil {
		e.memoryResponseCallback(
			txn.Address, txn.Data, false, txn.WarpID, txn.ThreadMask)
	}

	e.ScheduleInstructionFetch(txn.WarpID, responseFetchDelay)
}

func (e *Engine) handleInstructionFetch(warpID uint32) {
	e.mustValidWarp(warpID)

	warp := &e.warps[warpID]
	if !warp.Active {
		return
	}

	instruction := e.memory.ReadInstruction(warp.PC)
	e.stats.InstructionsExecuted++

	if e.instructionCompleteCallback != nil {
		e.instructionCompleteCallback(warpID, warp.PC, instruction)
		return
	}

	warp.PC += 4
	e.ScheduleInstructionFetch(warpID, fetchInterval)
}

func (e *Engine) handleWarpComplete(warpID uint32) {
	e.mustValidWarp(warpID)

	warp := &e.warps[warpID]
	warp.Active = false
	warp.ThreadMask = 0

	if e.allWarpsInactive() {
		e.schedule(Event{Kind: EventSimulationEnd}, simulationEndDelay)
	}
}

// InstructionComplete is the instruction decoding hook. It advances the
// warp past the completed instruction and schedules the follow-up: a
// delayed fetch for branches, retirement for exits, and the next fetch
// otherwise.
func (e *Engine) InstructionComplete(warpID, pc, instruction uint32) {
	e.mustValidWarp(warpID)

	warp := &e.warps[warpID]
	warp.PC = pc + 4
	warp.LastActive = e.currentTime

	switch e.classifier.Classify(instruction) {
	case insts.KindExit:
		e.ScheduleWarpComplete(warpID, warpCompleteDelay)
	case insts.KindBranch:
		e.ScheduleInstructionFetch(warpID, branchResolveDelay)
	default:
		e.ScheduleInstructionFetch(warpID, nextFetchDelay)
	}
}

// MemoryRequest schedules a memory request event on behalf of the external
// collaborator, one cycle from now.
func (e *Engine) MemoryRequest(
	address, data uint32,
	isWrite bool,
	warpID, threadMask uint32,
) {
	e.mustValidWarp(warpID)

	txn := NewTransaction(address, data, isWrite, warpID, threadMask)
	e.schedule(Event{Kind: EventMemoryRequest, Txn: txn}, 1)
}

// ScheduleInstructionFetch enqueues an instruction fetch for the warp.
func (e *Engine) ScheduleInstructionFetch(warpID uint32, delay uint64) {
	e.schedule(Event{Kind: EventInstructionFetch, WarpID: warpID}, delay)
}

// ScheduleWarpComplete enqueues retirement of the warp.
func (e *Engine) ScheduleWarpComplete(warpID uint32, delay uint64) {
	e.schedule(Event{Kind: EventWarpComplete, WarpID: warpID}, delay)
}

// ScheduleEvent enqueues an event to fire delay cycles from now. The
// event's Kind determines which payload field applies.
func (e *Engine) ScheduleEvent(evt Event, delay uint64) {
	e.schedule(evt, delay)
}

func (e *Engine) schedule(evt Event, delay uint64) {
	evt.Time = e.currentTime + delay
	e.queue.Push(evt)
}

// PopResponse removes and returns the oldest pending memory response.
func (e *Engine) PopResponse() (Transaction, bool) {
	if len(e.responseQueue) == 0 {
		return Transaction{}, false
	}

	txn := e.responseQueue[0]
	e.responseQueue = e.responseQueue[1:]

	return txn, true
}

// PendingResponses returns the number of undelivered memory responses.
func (e *Engine) PendingResponses() int {
	return len(e.responseQueue)
}

// PendingEvents returns the number of events still queued.
func (e *Engine) PendingEvents() int {
	return e.queue.Len()
}

func (e *Engine) allWarpsInactive() bool {
	for i := range e.warps {
		if e.warps[i].Active {
			return false
		}
	}

	return true
}

// ActiveWarpCount returns the number of warps still running.
func (e *Engine) ActiveWarpCount() uint32 {
	count := uint32(0)
	for i := range e.warps {
		if e.warps[i].Active {
			count++
		}
	}

	return count
}

// WarpState returns a copy of one warp's state.
func (e *Engine) WarpState(warpID uint32) WarpState {
	e.mustValidWarp(warpID)

	return e.warps[warpID]
}

// SetWarpState overwrites one warp's state. The documented invariant that
// inactive warps carry a zero thread mask is not enforced here; external
// collaborators own the states they install.
func (e *Engine) SetWarpState(warpID uint32, state WarpState) {
	e.mustValidWarp(warpID)
	e.warps[warpID] = state
}

// NumWarps returns the configured warp count.
func (e *Engine) NumWarps() uint32 {
	return e.config.NumWarps
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Memory returns the engine-owned memory model.
func (e *Engine) Memory() *mem.Model {
	return e.memory
}

func (e *Engine) mustValidWarp(warpID uint32) {
	if warpID >= e.config.NumWarps {
		log.Panicf("warp id %d out of range (%d warps)",
			warpID, e.config.NumWarps)
	}
}

func (e *Engine) updateStatistics() {
	e.stats.TotalCycles = e.currentTime

	hits, misses := e.memory.HitMissCounts()
	e.stats.CacheHits = hits
	e.stats.CacheMisses = misses
}

func (e *Engine) finalizeMetrics() {
	e.updateStatistics()

	e.stats.IPC = 0
	if e.stats.TotalCycles > 0 {
		e.stats.IPC = float64(e.stats.InstructionsExecuted) /
			float64(e.stats.TotalCycles)
	}

	e.stats.CacheHitRate = 0
	if e.stats.CacheHits+e.stats.CacheMisses > 0 {
		e.stats.CacheHitRate = float64(e.stats.CacheHits) /
			float64(e.stats.CacheHits+e.stats.CacheMisses)
	}
}

// Statistics returns a copy of the aggregated counters and derived
// metrics.
func (e *Engine) Statistics() Stats {
	return e.stats
}

// PrintStatistics writes a human-readable report to w.
func (e *Engine) PrintStatistics(w io.Writer) {
	header := color.New(color.FgCyan, color.Bold)

	header.Fprintln(w, "\nSimulation Statistics:")
	header.Fprintln(w, "=====================")
	fmt.Fprintf(w, "Total Cycles: %d\n", e.stats.TotalCycles)
	fmt.Fprintf(w, "Instructions Executed: %d\n",
		e.stats.InstructionsExecuted)
	fmt.Fprintf(w, "IPC: %.2f\n", e.stats.IPC)
	fmt.Fprintf(w, "Memory Requests: %d\n", e.stats.MemoryRequests)
	fmt.Fprintf(w, "Cache Hit Rate: %.2f%%\n", e.stats.CacheHitRate*100)
}

// DumpTrace writes the trace as CSV to path, falling back to the
// configured trace file when path is empty.
func (e *Engine) DumpTrace(path string) error {
	if path == "" {
		path = e.config.TraceFile
	}

	if path == "" {
		return fmt.Errorf("no trace file configured")
	}

	return e.trace.dump(path)
}

// WriteTrace writes the trace as CSV to w.
func (e *Engine) WriteTrace(w io.Writer) error {
	return e.trace.write(w)
}

// TraceEntries returns the recorded trace, oldest first.
func (e *Engine) TraceEntries() []TraceEntry {
	return e.trace.entries
}

// CheckState asserts the structural invariants of the engine and the
// memory model: aligned PCs, active warps with live thread masks, and a
// non-empty queue while running.
func (e *Engine) CheckState() {
	for i := range e.warps {
		warp := &e.warps[i]
		if warp.PC%4 != 0 {
			log.Panicf("warp %d PC 0x%08x is not 4-byte aligned", i, warp.PC)
		}

		// active implies a non-zero thread mask
		if warp.Active && warp.ThreadMask == 0 {
			log.Panicf("warp %d is active with an empty thread mask", i)
		}
	}

	if e.running && e.queue.Len() == 0 {
		log.Panic("event queue empty while running")
	}

	e.memory.VerifyState()
}

// VerifyMemoryConsistency audits the trace for read-after-write ordering:
// every memory response must carry the data of the most recent earlier
// request to the same address.
func (e *Engine) VerifyMemoryConsistency() error {
	type memWrite struct {
		address uint32
		data    uint32
		time    uint64
	}

	var writes []memWrite
	for _, entry := range e.trace.entries {
		if entry.Kind == EventMemoryRequest {
			writes = append(writes, memWrite{
				address: entry.Address,
				data:    entry.Data,
				time:    entry.Time,
			})
		}
	}

	for _, entry := range e.trace.entries {
		if entry.Kind != EventMemoryResponse {
			continue
		}

		for i := len(writes) - 1; i >= 0; i-- {
			w := writes[i]
			if w.address != entry.Address || w.time >= entry.Time {
				continue
			}

			if entry.Data != w.data {
				return fmt.Errorf(
					"response at cycle %d read 0x%x from 0x%08x, "+
						"most recent write was 0x%x at cycle %d",
					entry.Time, entry.Data, entry.Address, w.data, w.time)
			}

			break
		}
	}

	return nil
}
