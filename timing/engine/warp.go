package engine

// WarpState is the per-warp execution state tracked by the engine. A warp
// starts active with all threads enabled and retires exactly once; there is
// no resurrection.
type WarpState struct {
	PC         uint32
	ThreadMask uint32
	Active     bool
	LastActive uint64
}

func newWarpTable(numWarps uint32) []WarpState {
	warps := make([]WarpState, numWarps)
	for i := range warps {
		warps[i] = WarpState{
			PC:         0,
			ThreadMask: 0xFFFFFFFF,
			Active:     true,
			LastActive: 0,
		}
	}

	return warps
}
