package engine_test

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/warpsim/timing/engine"
)

// Instruction words with the RISC-V opcodes the engine classifies.
const (
	insnNop    = uint32(0x00000013)
	insnBranch = uint32(0x00000063)
	insnExit   = uint32(0x00000073)
)

func newEngine(config engine.Config) *engine.Engine {
	eng, err := engine.New(config)
	Expect(err).NotTo(HaveOccurred())
	eng.Initialize()

	return eng
}

// loadProgram writes instruction words to main memory starting at 0.
func loadProgram(eng *engine.Engine, words ...uint32) {
	for i, w := range words {
		eng.Memory().WriteWord(uint32(i)*4, w)
	}
}

var _ = Describe("Engine", func() {
	var config engine.Config

	BeforeEach(func() {
		config = engine.DefaultConfig()
		config.NumWarps = 1
	})

	Describe("Construction", func() {
		It("should reject an invalid configuration", func() {
			config.NumWarps = 0
			_, err := engine.New(config)
			Expect(err).To(HaveOccurred())
		})

		It("should reject an invalid cache geometry", func() {
			config.CacheLineSize = 48
			_, err := engine.New(config)
			Expect(err).To(HaveOccurred())
		})

		It("should start every warp active at PC 0", func() {
			config.NumWarps = 4
			eng := newEngine(config)

			for warpID := uint32(0); warpID < 4; warpID++ {
				warp := eng.WarpState(warpID)
				Expect(warp.Active).To(BeTrue())
				Expect(warp.PC).To(Equal(uint32(0)))
				Expect(warp.ThreadMask).To(Equal(uint32(0xFFFFFFFF)))
			}
		})
	})

	Describe("Initialization", func() {
		It("should seed one fetch per warp", func() {
			config.NumWarps = 3
			eng := newEngine(config)

			Expect(eng.PendingEvents()).To(Equal(3))
		})

		It("should be idempotent", func() {
			config.NumWarps = 2
			eng := newEngine(config)
			loadProgram(eng, insnExit)
			eng.SetInstructionCompleteCallback(eng.InstructionComplete)
			eng.Run()

			eng.Initialize()
			eng.Initialize()

			Expect(eng.PendingEvents()).To(Equal(2))
			Expect(eng.CurrentTime()).To(Equal(uint64(0)))
			Expect(eng.Statistics()).To(Equal(engine.Stats{}))
			Expect(eng.ActiveWarpCount()).To(Equal(uint32(2)))
		})
	})

	Describe("Exit Instructions", func() {
		It("should retire the warp and terminate", func() {
			eng := newEngine(config)
			loadProgram(eng, insnExit)
			eng.SetInstructionCompleteCallback(eng.InstructionComplete)

			eng.Run()

			Expect(eng.WarpState(0).Active).To(BeFalse())
			Expect(eng.WarpState(0).ThreadMask).To(Equal(uint32(0)))
			Expect(eng.Statistics().InstructionsExecuted).
				To(Equal(uint64(1)))
		})

		It("should retire all warps of a multi-warp run", func() {
			config.NumWarps = 4
			eng := newEngine(config)
			loadProgram(eng, insnExit)
			eng.SetInstructionCompleteCallback(eng.InstructionComplete)

			eng.Run()

			Expect(eng.ActiveWarpCount()).To(Equal(uint32(0)))
			Expect(eng.Statistics().InstructionsExecuted).
				To(Equal(uint64(4)))
		})
	})

	Describe("Branch Penalty", func() {
		It("should delay the next fetch by three cycles", func() {
			eng := newEngine(config)
			loadProgram(eng, insnBranch, insnExit)
			eng.SetInstructionCompleteCallback(eng.InstructionComplete)

			eng.Run()

			var fetchTimes []uint64
			for _, e := range eng.TraceEntries() {
				if e.Kind == engine.EventInstructionFetch {
					fetchTimes = append(fetchTimes, e.Time)
				}
			}

			Expect(fetchTimes).To(HaveLen(2))
			Expect(fetchTimes[1] - fetchTimes[0]).To(Equal(uint64(3)))
		})

		It("should delay a non-branch fetch by one cycle", func() {
			eng := newEngine(config)
			loadProgram(eng, insnNop, insnExit)
			eng.SetInstructionCompleteCallback(eng.InstructionComplete)

			eng.Run()

			var fetchTimes []uint64
			for _, e := range eng.TraceEntries() {
				if e.Kind == engine.EventInstructionFetch {
					fetchTimes = append(fetchTimes, e.Time)
				}
			}

			Expect(fetchTimes).To(HaveLen(2))
			Expect(fetchTimes[1] - fetchTimes[0]).To(Equal(uint64(1)))
		})
	})

	Describe("Naive Fetch Path", func() {
		It("should advance PCs at the fetch interval until the ceiling", func() {
			eng := newEngine(config)

			eng.Run()

			stats := eng.Statistics()
			Expect(stats.TotalCycles).To(Equal(uint64(engine.MaxCycles)))
			Expect(stats.InstructionsExecuted).To(BeNumerically(">", 0))
			Expect(stats.CacheMisses).To(BeNumerically(">=", 1))

			// A 64-byte line holds 16 instructions: one miss funds
			// fifteen hits.
			ratio := float64(stats.CacheHits) / float64(stats.CacheMisses)
			Expect(ratio).To(BeNumerically("~", 15.0, 0.1))
		})

		It("should leave events pending at the ceiling", func() {
			eng := newEngine(config)

			eng.Run()

			Expect(eng.PendingEvents()).To(BeNumerically(">", 0))
			Expect(eng.IsRunning()).To(BeFalse())
		})
	})

	Describe("Memory Requests", func() {
		It("should deliver the read value through the response", func() {
			eng := newEngine(config)
			eng.Memory().WriteWord(0x200, 0xABCD)

			var gotAddr, gotData uint32
			responses := 0
			eng.SetMemoryResponseCallback(
				func(address, data uint32, isWrite bool,
					warpID, threadMask uint32) {
					gotAddr = address
					gotData = data
					responses++
				})

			eng.MemoryRequest(0x200, 0, false, 0, 0xFFFFFFFF)
			eng.Run()

			Expect(responses).To(Equal(1))
			Expect(gotAddr).To(Equal(uint32(0x200)))
			Expect(gotData).To(Equal(uint32(0xABCD)))

			txn, ok := eng.PopResponse()
			Expect(ok).To(BeTrue())
			Expect(txn.Data).To(Equal(uint32(0xABCD)))

			_, ok = eng.PopResponse()
			Expect(ok).To(BeFalse())
		})

		It("should not respond to writes", func() {
			eng := newEngine(config)

			responses := 0
			eng.SetMemoryResponseCallback(
				func(address, data uint32, isWrite bool,
					warpID, threadMask uint32) {
					responses++
				})

			eng.MemoryRequest(0x200, 0x42, true, 0, 0xFFFFFFFF)
			eng.Run()

			Expect(responses).To(Equal(0))
			Expect(eng.Statistics().MemoryRequests).To(Equal(uint64(1)))
		})

		It("should mark the warp active at request dispatch", func() {
			eng := newEngine(config)

			eng.MemoryRequest(0x200, 0, false, 0, 0xFFFFFFFF)
			eng.Run()

			Expect(eng.WarpState(0).LastActive).To(BeNumerically(">=", 1))
		})
	})

	Describe("Memory Consistency", func() {
		It("should verify read-after-write ordering over the trace", func() {
			eng := newEngine(config)

			eng.MemoryRequest(0x300, 0xBEEF, true, 0, 0xFFFFFFFF)
			eng.MemoryRequest(0x300, 0, false, 0, 0xFFFFFFFF)
			eng.Run()

			Expect(eng.VerifyMemoryConsistency()).To(Succeed())

			txn, ok := eng.PopResponse()
			Expect(ok).To(BeTrue())
			Expect(txn.Data).To(Equal(uint32(0xBEEF)))
		})
	})

	Describe("Termination", func() {
		It("should stop on request and finalize metrics", func() {
			eng := newEngine(config)
			eng.Stop()

			Expect(eng.IsRunning()).To(BeFalse())
			Expect(eng.Statistics().IPC).To(Equal(0.0))
			Expect(eng.Statistics().CacheHitRate).To(Equal(0.0))
		})

		It("should compute IPC and hit rate at the end of a run", func() {
			eng := newEngine(config)
			loadProgram(eng, insnNop, insnNop, insnExit)
			eng.SetInstructionCompleteCallback(eng.InstructionComplete)

			eng.Run()

			stats := eng.Statistics()
			Expect(stats.InstructionsExecuted).To(Equal(uint64(3)))
			Expect(stats.TotalCycles).To(BeNumerically(">", 0))
			Expect(stats.IPC).To(BeNumerically(">", 0.0))
			Expect(stats.CacheHitRate).To(BeNumerically(">", 0.0))
		})
	})

	Describe("Determinism", func() {
		It("should produce identical traces and statistics across runs", func() {
			run := func() ([]engine.TraceEntry, engine.Stats) {
				eng := newEngine(config)
				loadProgram(eng,
					insnNop, insnBranch, insnNop, insnExit)
				eng.SetInstructionCompleteCallback(eng.InstructionComplete)
				eng.MemoryRequest(0x500, 0x77, true, 0, 0xFFFFFFFF)
				eng.Run()

				return eng.TraceEntries(), eng.Statistics()
			}

			trace1, stats1 := run()
			trace2, stats2 := run()

			Expect(trace1).To(Equal(trace2))
			Expect(stats1).To(Equal(stats2))
		})
	})

	Describe("State Checking", func() {
		It("should pass after a normal run", func() {
			eng := newEngine(config)
			loadProgram(eng, insnExit)
			eng.SetInstructionCompleteCallback(eng.InstructionComplete)
			eng.Run()

			Expect(func() { eng.CheckState() }).NotTo(Panic())
		})

		It("should reject a misaligned PC", func() {
			eng := newEngine(config)
			eng.SetWarpState(0, engine.WarpState{
				PC:         2,
				ThreadMask: 0xFFFFFFFF,
				Active:     true,
			})

			Expect(func() { eng.CheckState() }).To(Panic())
		})

		It("should reject an active warp with an empty mask", func() {
			eng := newEngine(config)
			eng.SetWarpState(0, engine.WarpState{
				PC:         0,
				ThreadMask: 0,
				Active:     true,
			})

			Expect(func() { eng.CheckState() }).To(Panic())
		})
	})

	Describe("Trace Dump", func() {
		It("should write the CSV header and one row per event", func() {
			dir := GinkgoT().TempDir()
			path := filepath.Join(dir, "trace.csv")

			eng := newEngine(config)
			loadProgram(eng, insnExit)
			eng.SetInstructionCompleteCallback(eng.InstructionComplete)
			eng.Run()

			Expect(eng.DumpTrace(path)).To(Succeed())

			content, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())

			lines := strings.Split(strings.TrimSpace(string(content)), "\n")
			Expect(lines[0]).To(Equal("Time,Event,WarpID,Address,Data"))
			Expect(lines).To(HaveLen(len(eng.TraceEntries()) + 1))
			Expect(lines[1]).To(Equal("0,2,0,0,0"))
		})

		It("should fail without a trace file", func() {
			eng := newEngine(config)
			Expect(eng.DumpTrace("")).NotTo(Succeed())
		})
	})
})
