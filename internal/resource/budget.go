package resource

import (
	"math"
	"runtime/debug"
)

// fallbackMemoryBytes is used when neither a Go memory limit nor the
// physical memory size can be determined.
const fallbackMemoryBytes int64 = 1 << 30

// MemoryBudget returns the memory the process may use.
//
// A soft limit set through debug.SetMemoryLimit (or GOMEMLIMIT) wins.
// Otherwise the physical memory reported by the OS is used.
func MemoryBudget() int64 {
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		return limit
	}
	if total := physicalMemory(); total > 0 {
		return total
	}
	return fallbackMemoryBytes
}

// Fraction returns budget/denominator, never less than 1.
func Fraction(budget int64, denominator int) int64 {
	if denominator <= 0 {
		denominator = 1
	}
	return max(budget/int64(denominator), 1)
}
