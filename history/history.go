// Package history implements the per-pipeline, insert-only history map: a
// (trace id, step reference) -> snapshot record that every pipeline router
// appends to as responses arrive and hands forward to downstream steps.
package history

import (
	"fmt"
	"sync"

	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/modabi"
)

// History is one pipeline's trace history. It is safe for concurrent use,
// though in practice only the owning pipeline router ever appends to it.
type History struct {
	mu      sync.RWMutex
	byTrace map[ids.TraceID]modabi.HistorySnapshot
}

// New returns an empty History.
func New() *History {
	return &History{byTrace: map[ids.TraceID]modabi.HistorySnapshot{}}
}

// Append records the outcome for (traceID, ref). It is an error to append
// twice for the same (trace, reference) pair: history entries are
// insert-only.
func (h *History) Append(traceID ids.TraceID, ref string, entry modabi.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	bucket, ok := h.byTrace[traceID]
	if !ok {
		bucket = modabi.HistorySnapshot{}
		h.byTrace[traceID] = bucket
	}
	if _, exists := bucket[ref]; exists {
		return fmt.Errorf("history: duplicate entry for trace %d reference %q", traceID, ref)
	}
	bucket[ref] = entry
	return nil
}

// Snapshot returns a value copy of everything recorded so far for traceID.
// The copy means callers may hand it to a module without risking a
// concurrent mutation as later steps append further entries.
func (h *History) Snapshot(traceID ids.TraceID) modabi.HistorySnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bucket := h.byTrace[traceID]
	cp := make(modabi.HistorySnapshot, len(bucket))
	for k, v := range bucket {
		cp[k] = v
	}
	return cp
}

// Forget discards a trace's bucket once it has fully drained through this
// pipeline, so long-running runtimes do not grow history without bound.
func (h *History) Forget(traceID ids.TraceID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byTrace, traceID)
}
