package fibonacci

import (
	"fmt"
	"sort"
	"sync"
)

// CalculatorFactory resolves calculators by name.
type CalculatorFactory interface {
	// Get returns the calculator registered under name.
	Get(name string) (Calculator, error)
	// List returns the registered names in sorted order.
	List() []string
}

// DefaultFactory is a registry of calculators, safe for concurrent use.
type DefaultFactory struct {
	mu          sync.RWMutex
	calculators map[string]Calculator
}

// NewDefaultFactory returns a factory with every built-in algorithm registered.
func NewDefaultFactory() *DefaultFactory {
	f := &DefaultFactory{calculators: make(map[string]Calculator)}
	f.Register(Recursive{})
	f.Register(Iterative{})
	return f
}

// Register adds or replaces a calculator under its own name.
func (f *DefaultFactory) Register(c Calculator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calculators[c.Name()] = c
}

// Get returns the calculator registered under name.
func (f *DefaultFactory) Get(name string) (Calculator, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.calculators[name]
	if !ok {
		return nil, fmt.Errorf("unknown algorithm %q", name)
	}
	return c, nil
}

// List returns the registered names in sorted order.
func (f *DefaultFactory) List() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.calculators))
	for name := range f.calculators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
