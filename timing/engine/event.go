package engine

import "github.com/rs/xid"

// EventKind tags the variants of a simulation event. The integer values
// are the encoding used in trace dumps.
type EventKind int

const (
	// EventMemoryRequest carries a Transaction into the memory model.
	EventMemoryRequest EventKind = iota

	// EventMemoryResponse delivers a completed read back to the
	// requester.
	EventMemoryResponse

	// EventInstructionFetch fetches the next instruction of a warp.
	EventInstructionFetch

	// EventWarpComplete retires a warp.
	EventWarpComplete

	// EventSimulationEnd stops the event loop.
	EventSimulationEnd
)

func (k EventKind) String() string {
	switch k {
	case EventMemoryRequest:
		return "MemoryRequest"
	case EventMemoryResponse:
		return "MemoryResponse"
	case EventInstructionFetch:
		return "InstructionFetch"
	case EventWarpComplete:
		return "WarpComplete"
	case EventSimulationEnd:
		return "SimulationEnd"
	default:
		return "Unknown"
	}
}

// A Transaction is one 4-byte memory access on behalf of a warp. It is
// created when its event is scheduled and owned by that event until the
// event fires.
type Transaction struct {
	ID         string
	Address    uint32
	Data       uint32
	IsWrite    bool
	Size       uint32
	WarpID     uint32
	ThreadMask uint32
}

// NewTransaction builds a 4-byte transaction with a fresh ID.
func NewTransaction(
	address, data uint32,
	isWrite bool,
	warpID, threadMask uint32,
) *Transaction {
	return &Transaction{
		ID:         xid.New().String(),
		Address:    address,
		Data:       data,
		IsWrite:    isWrite,
		Size:       4,
		WarpID:     warpID,
		ThreadMask: threadMask,
	}
}

// clone copies the transaction for a follow-up event under a new ID.
func (t *Transaction) clone() *Transaction {
	cp := *t
	cp.ID = xid.New().String()

	return &cp
}

// An Event is a tagged value scheduled to fire at an absolute cycle. The
// payload fields used depend on Kind: memory events own a Transaction,
// warp events carry a warp ID, SimulationEnd carries nothing. seq is the
// insertion sequence number that keeps equal-time events in FIFO order.
type Event struct {
	Kind EventKind
	Time uint64

	Txn    *Transaction
	WarpID uint32

	seq uint64
}
