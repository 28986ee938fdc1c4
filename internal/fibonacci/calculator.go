// Package fibonacci provides the compute function run by every worker.
package fibonacci

import (
	"errors"
)

var (
	// ErrNegativeIndex is returned for indices below zero.
	ErrNegativeIndex = errors.New("negative Fibonacci index")
	// ErrOverflow is returned for indices whose value does not fit in an int64.
	ErrOverflow = errors.New("Fibonacci value overflows int64")
)

// Calculator computes F(n). Implementations are pure and safe for
// concurrent use.
type Calculator interface {
	// Name returns the registry name of the algorithm.
	Name() string
	// Compute returns F(n) with F(0)=0 and F(1)=1.
	Compute(n int64) (int64, error)
}

// checkIndex validates n against the representable range.
func checkIndex(n int64) error {
	switch {
	case n < 0:
		return ErrNegativeIndex
	case n > MaxIndex:
		return ErrOverflow
	}
	return nil
}

// Recursive implements the naive doubly recursive definition
// F(n) = F(n-2) + F(n-1). It runs in O(phi^n) time.
type Recursive struct{}

// Name returns "recursive".
func (Recursive) Name() string { return AlgoRecursive }

// Compute returns F(n).
func (Recursive) Compute(n int64) (int64, error) {
	if err := checkIndex(n); err != nil {
		return 0, err
	}
	return recurse(n), nil
}

func recurse(n int64) int64 {
	if n <= 1 {
		return n
	}
	return recurse(n-2) + recurse(n-1)
}

// Iterative computes F(n) in O(n) time and constant space.
type Iterative struct{}

// Name returns "iterative".
func (Iterative) Name() string { return AlgoIterative }

// Compute returns F(n).
func (Iterative) Compute(n int64) (int64, error) {
	if err := checkIndex(n); err != nil {
		return 0, err
	}
	var a, b int64 = 0, 1
	for i := int64(0); i < n; i++ {
		a, b = b, a+b
	}
	return a, nil
}
