package breaker

import (
	"sort"
	"sync"
)

// Factory provides named, memoized breakers sharing a default config.
// Safe for concurrent use; one breaker exists per name for the lifetime of
// the factory.
type Factory struct {
	defaults Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewFactory creates a breaker factory with the given defaults.
func NewFactory(defaults Config) *Factory {
	return &Factory{
		defaults: defaults.normalize(),
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it with the factory defaults
// on first use.
func (f *Factory) Get(name string) *Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.breakers[name]; ok {
		return b
	}
	b := New(name, f.defaults)
	f.breakers[name] = b
	return b
}

// GetWithConfig returns the breaker for name, creating it with the given
// config on first use. An existing breaker keeps its original config.
func (f *Factory) GetWithConfig(name string, config Config) *Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.breakers[name]; ok {
		return b
	}
	b := New(name, config)
	f.breakers[name] = b
	return b
}

// Snapshots returns the state of every breaker, sorted by name.
func (f *Factory) Snapshots() []Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	snaps := make([]Snapshot, 0, len(f.breakers))
	for _, b := range f.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}
