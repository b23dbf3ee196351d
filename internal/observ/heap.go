package observ

import (
	"fmt"
	"runtime"

	"aotc/internal/log"
)

// HeapUsage is a snapshot of heap memory at a reclaim checkpoint.
type HeapUsage struct {
	Used      uint64 // bytes of live heap objects
	Committed uint64 // bytes obtained from the OS for the heap
}

// FreeRatio returns the fraction of committed heap that is not in use.
func (h HeapUsage) FreeRatio() float64 {
	if h.Committed == 0 {
		return 0
	}
	return 1 - float64(h.Used)/float64(h.Committed)
}

func (h HeapUsage) String() string {
	return fmt.Sprintf("[used: %-7s, comm: %-7s, freeRatio ~= %.1f%%]",
		humanBytes(h.Used), humanBytes(h.Committed), h.FreeRatio()*100)
}

// Heap reads the current heap usage.
func Heap() HeapUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return HeapUsage{Used: ms.HeapAlloc, Committed: ms.HeapSys}
}

// Reclaim runs a staged memory-reclaim checkpoint: the caller has just
// dropped its references to the previous stage's structures; force a
// collection cycle before the next stage starts and report heap usage at
// verbose level. The unit set can be tens of thousands of methods, so each
// stage bounds peak memory this way instead of letting garbage ride along.
func Reclaim(logger *log.Logger) {
	runtime.GC()
	logger.Verbosef("Freeing memory %s", Heap())
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
