package mem_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/warpsim/timing/mem"
)

var _ = Describe("Model", func() {
	var model *mem.Model

	// 1KB, 64B lines, 8 ways -> 2 sets. Miss latency 100 + 64/16 = 104.
	BeforeEach(func() {
		var err error
		model, err = mem.NewModel(1024, 64, 100)
		Expect(err).NotTo(HaveOccurred())
		model.Initialize()
	})

	It("should reject invalid cache geometry", func() {
		_, err := mem.NewModel(1024, 48, 100)
		Expect(err).To(HaveOccurred())
	})

	Describe("Basic Accesses", func() {
		It("should accept address zero", func() {
			Expect(func() {
				model.ProcessRequest(0, 0, false)
			}).NotTo(Panic())
		})

		It("should panic on a misaligned address", func() {
			Expect(func() {
				model.ProcessRequest(2, 0, false)
			}).To(Panic())
		})

		It("should miss on a cold cache", func() {
			completion := model.ProcessRequest(0x100, 0, false)

			stats := model.Stats()
			Expect(stats.Reads).To(Equal(uint64(1)))
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Hits).To(Equal(uint64(0)))
			Expect(completion).To(Equal(uint64(104)))
		})

		It("should hit on a resident line with unit latency", func() {
			model.ProcessRequest(0x100, 0, false)
			completion := model.ProcessRequest(0x104, 0, false)

			stats := model.Stats()
			Expect(stats.Hits).To(Equal(uint64(1)))
			Expect(completion).To(Equal(uint64(105)))
		})

		It("should return the written value within the same residency", func() {
			model.ProcessRequest(0x40, 0xDEADBEEF, true)

			data, ok := model.LookupCache(0x40)
			Expect(ok).To(BeTrue())
			Expect(data).To(Equal(uint32(0xDEADBEEF)))
		})

		It("should read zero from unwritten memory", func() {
			model.ProcessRequest(0x2000, 0, false)

			data, ok := model.LookupCache(0x2000)
			Expect(ok).To(BeTrue())
			Expect(data).To(Equal(uint32(0)))
		})

		It("should keep hits+misses equal to reads+writes", func() {
			addrs := []uint32{0x0, 0x40, 0x0, 0x80, 0x200, 0x40}
			for i, a := range addrs {
				model.ProcessRequest(a, uint32(i), i%2 == 0)
			}

			stats := model.Stats()
			Expect(stats.Hits + stats.Misses).
				To(Equal(stats.Reads + stats.Writes))
		})
	})

	Describe("LRU Replacement", func() {
		// All of these addresses map to set 0; tags differ.
		setStride := uint32(128)

		fillSet := func(n int) {
			for i := 0; i < n; i++ {
				model.ProcessRequest(uint32(i)*setStride, 0, false)
			}
		}

		It("should miss on every distinct tag of a cold set", func() {
			fillSet(8)

			stats := model.Stats()
			Expect(stats.Misses).To(Equal(uint64(8)))
			Expect(stats.Hits).To(Equal(uint64(0)))
		})

		It("should evict the least recently used line first", func() {
			fillSet(8)

			// The ninth tag replaces the first-filled line, not a later
			// one.
			model.ProcessRequest(8*setStride, 0, false)

			_, first := model.LookupCache(0)
			Expect(first).To(BeFalse())
			for i := 1; i <= 8; i++ {
				_, ok := model.LookupCache(uint32(i) * setStride)
				Expect(ok).To(BeTrue())
			}
		})

		It("should evict the second-filled line next", func() {
			fillSet(8)
			model.ProcessRequest(8*setStride, 0, false)

			misses := model.Stats().Misses
			model.ProcessRequest(0, 0, false)

			Expect(model.Stats().Misses).To(Equal(misses + 1))
			_, ok := model.LookupCache(1 * setStride)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Writeback", func() {
		It("should write a dirty victim back to main memory", func() {
			model.ProcessRequest(0x0, 0xDEAD, true)

			// Eight more distinct tags in set 0 evict the dirty line.
			for i := 1; i <= 8; i++ {
				model.ProcessRequest(uint32(i)*128, 0, false)
			}

			Expect(model.ReadWord(0x0)).To(Equal(uint32(0xDEAD)))
			Expect(model.Stats().Evictions).To(Equal(uint64(1)))
		})

		It("should restore written values on a fresh read after eviction", func() {
			model.ProcessRequest(0x0, 0x1111, true)
			model.ProcessRequest(0x4, 0x2222, true)

			for i := 1; i <= 8; i++ {
				model.ProcessRequest(uint32(i)*128, 0, false)
			}
			_, ok := model.LookupCache(0x0)
			Expect(ok).To(BeFalse())

			model.ProcessRequest(0x0, 0, false)

			data, ok := model.LookupCache(0x0)
			Expect(ok).To(BeTrue())
			Expect(data).To(Equal(uint32(0x1111)))

			data, ok = model.LookupCache(0x4)
			Expect(ok).To(BeTrue())
			Expect(data).To(Equal(uint32(0x2222)))
		})

		It("should not count clean evictions", func() {
			for i := 0; i <= 8; i++ {
				model.ProcessRequest(uint32(i)*128, 0, false)
			}

			Expect(model.Stats().Evictions).To(Equal(uint64(0)))
		})
	})

	Describe("Instruction Reads", func() {
		It("should fetch through the cache and count the accesses", func() {
			model.WriteWord(0x0, 0x93)
			model.WriteWord(0x4, 0x73)

			Expect(model.ReadInstruction(0x0)).To(Equal(uint32(0x93)))
			Expect(model.ReadInstruction(0x4)).To(Equal(uint32(0x73)))

			stats := model.Stats()
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Hits).To(Equal(uint64(1)))
			Expect(stats.Reads).To(Equal(uint64(2)))
		})
	})

	Describe("Cache Maintenance", func() {
		It("should update a resident line in place", func() {
			model.ProcessRequest(0x80, 0, false)
			accesses := model.Stats().Reads + model.Stats().Writes

			model.UpdateCache(0x80, 0xCAFE)

			data, ok := model.LookupCache(0x80)
			Expect(ok).To(BeTrue())
			Expect(data).To(Equal(uint32(0xCAFE)))
			Expect(model.Stats().Reads + model.Stats().Writes).
				To(Equal(accesses))
		})

		It("should fall back to a write request for an absent line", func() {
			model.UpdateCache(0x80, 0xCAFE)

			stats := model.Stats()
			Expect(stats.Writes).To(Equal(uint64(1)))
			Expect(stats.Misses).To(Equal(uint64(1)))
		})

		It("should write back a dirty line when invalidating it", func() {
			model.ProcessRequest(0x40, 0xBEEF, true)
			model.InvalidateLine(0x40)

			_, ok := model.LookupCache(0x40)
			Expect(ok).To(BeFalse())
			Expect(model.ReadWord(0x40)).To(Equal(uint32(0xBEEF)))
		})

		It("should evict a chosen way and count it", func() {
			model.ProcessRequest(0x0, 0xABCD, true)
			model.EvictLine(0, 0)

			_, ok := model.LookupCache(0x0)
			Expect(ok).To(BeFalse())
			Expect(model.ReadWord(0x0)).To(Equal(uint32(0xABCD)))
			Expect(model.Stats().Evictions).To(Equal(uint64(1)))
		})

		It("should panic on an out-of-range way", func() {
			Expect(func() { model.EvictLine(0, 8) }).To(Panic())
		})
	})

	Describe("Coherence Hook", func() {
		It("should leave other matching ways untouched by default", func() {
			model.ProcessRequest(0x0, 0, false)  // set 0, tag 0
			model.ProcessRequest(0x40, 0, false) // set 1, tag 0

			Expect(model.Line(0, 0).Dirty).To(BeFalse())
		})

		It("should mark other matching ways dirty when selected", func() {
			model.SetCoherenceHandler(mem.MarkSameTagDirty{})

			model.ProcessRequest(0x0, 0, false)  // set 0, tag 0
			model.ProcessRequest(0x40, 0, false) // set 1, tag 0

			Expect(model.Line(0, 0).Dirty).To(BeTrue())
			Expect(model.Line(1, 0).Dirty).To(BeFalse())

			Expect(func() { model.VerifyState() }).NotTo(Panic())
		})
	})

	Describe("Access History", func() {
		It("should record accesses up to the bound", func() {
			for i := 0; i < mem.MaxHistorySize+5; i++ {
				model.ProcessRequest(uint32(i)*4, 0, false)
			}

			Expect(model.AccessHistory()).To(HaveLen(mem.MaxHistorySize))
			Expect(model.AccessHistory()[0].Address).To(Equal(uint32(0)))
		})
	})

	Describe("Initialization", func() {
		It("should be idempotent", func() {
			model.ProcessRequest(0x0, 0x1234, true)
			model.Initialize()
			model.Initialize()

			Expect(model.Stats()).To(Equal(mem.CacheStats{}))
			Expect(model.CurrentCycle()).To(Equal(uint64(0)))
			Expect(model.ReadWord(0x0)).To(Equal(uint32(0)))

			_, ok := model.LookupCache(0x0)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("State Verification", func() {
		It("should pass after arbitrary access sequences", func() {
			for i := 0; i < 100; i++ {
				model.ProcessRequest(uint32(i%20)*64, uint32(i), i%3 == 0)
			}

			Expect(func() { model.VerifyState() }).NotTo(Panic())
		})
	})
})
