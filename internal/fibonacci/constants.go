package fibonacci

// ─────────────────────────────────────────────────────────────────────────────
// Range Constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	// MaxIndex is the largest index whose Fibonacci number fits in an int64.
	// F(92) = 7540113804746346429; F(93) overflows.
	MaxIndex = 92

	// MaxRecursiveIndexHint is the index above which the naive recursion is
	// no longer interactive on typical hardware: F(45) takes several seconds
	// of CPU and every further index multiplies that by roughly 1.618.
	MaxRecursiveIndexHint = 45
)

// ─────────────────────────────────────────────────────────────────────────────
// Algorithm Names
// ─────────────────────────────────────────────────────────────────────────────

const (
	// AlgoRecursive selects the doubly recursive definition. Its exponential
	// cost is what makes a CPU budget observable after a handful of requests.
	AlgoRecursive = "recursive"

	// AlgoIterative selects the linear-time loop. With it a CPU budget is
	// practically never reached.
	AlgoIterative = "iterative"

	// DefaultAlgo is the algorithm used when none is configured.
	DefaultAlgo = AlgoRecursive
)
