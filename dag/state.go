package dag

import (
	"sync"

	"github.com/meshdoc/core"
)

// ctxState is one context's in-memory DAG bookkeeping (spec.md §4.2).
// Applied deltas are additionally persisted (see dag.go); pending
// deltas are kept in memory only, per spec.md: "implementations MAY
// persist them" — this one doesn't, since a missing delta is always
// re-requestable by id from whichever peer broadcast it.
type ctxState struct {
	mu sync.Mutex

	heads map[core.DeltaId]struct{}

	// pending holds a buffered delta plus the set of its parent ids that
	// are still not applied.
	pending map[core.DeltaId]*pendingEntry

	// waitingOn maps a missing parent id to the set of pending delta ids
	// blocked on it, so applying that parent can find who to wake
	// without scanning every pending delta (spec.md §4.2 "pending bucket
	// keyed by missing parent ids").
	waitingOn map[core.DeltaId]map[core.DeltaId]struct{}

	appliedSeq uint64
}

type pendingEntry struct {
	delta     *core.Delta
	remaining map[core.DeltaId]struct{}
}

func newCtxState() *ctxState {
	return &ctxState{
		heads:     make(map[core.DeltaId]struct{}),
		pending:   make(map[core.DeltaId]*pendingEntry),
		waitingOn: make(map[core.DeltaId]map[core.DeltaId]struct{}),
	}
}
