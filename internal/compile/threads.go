package compile

import (
	"runtime"

	"aotc/internal/log"
)

// Compilation throughput does not scale beyond 16 threads.
const compilerThreads = 16

// DefaultThreads returns the default worker-pool size.
func DefaultThreads() int {
	return min(compilerThreads, runtime.NumCPU())
}

// ResolveThreads clamps a requested thread count to [1, available
// parallelism]. Out-of-range requests warn and clamp; they never fail the
// run.
func ResolveThreads(requested int, logger *log.Logger) int {
	available := runtime.NumCPU()
	if requested <= 0 {
		logger.Warningf("invalid number of threads specified: %d, using: %d", requested, available)
		return available
	}
	if requested > available {
		logger.Warningf("too many threads specified: %d, limiting to: %d", requested, available)
		return available
	}
	return requested
}
