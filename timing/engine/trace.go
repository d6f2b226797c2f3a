package engine

import (
	"fmt"
	"io"
	"os"
)

// TraceReserveSize bounds the number of trace entries kept per run. Events
// past the bound are still simulated but not recorded.
const TraceReserveSize = 10000

// A TraceEntry records one dispatched event. WarpID, Address, and Data are
// filled according to the event kind; fields that do not apply stay zero.
type TraceEntry struct {
	Time    uint64
	Kind    EventKind
	WarpID  uint32
	Address uint32
	Data    uint32
}

type trace struct {
	entries []TraceEntry
}

func newTrace() *trace {
	return &trace{entries: make([]TraceEntry, 0, TraceReserveSize)}
}

func (t *trace) clear() {
	t.entries = t.entries[:0]
}

// record derives a trace entry from the event and appends it if capacity
// remains.
func (t *trace) record(evt Event) {
	if len(t.entries) >= TraceReserveSize {
		return
	}

	entry := TraceEntry{Time: evt.Time, Kind: evt.Kind}

	switch evt.Kind {
	case EventMemoryRequest, EventMemoryResponse:
		entry.WarpID = evt.Txn.WarpID
		entry.Address = evt.Txn.Address
		entry.Data = evt.Txn.Data
	case EventInstructionFetch, EventWarpComplete:
		entry.WarpID = evt.WarpID
	}

	t.entries = append(t.entries, entry)
}

// write emits the trace as CSV: integer event tags, hex address and data
// without prefix.
func (t *trace) write(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "Time,Event,WarpID,Address,Data"); err != nil {
		return err
	}

	for _, e := range t.entries {
		_, err := fmt.Fprintf(w, "%d,%d,%d,%x,%x\n",
			e.Time, int(e.Kind), e.WarpID, e.Address, e.Data)
		if err != nil {
			return err
		}
	}

	return nil
}

func (t *trace) dump(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not open trace file: %w", err)
	}
	defer f.Close()

	return t.write(f)
}
