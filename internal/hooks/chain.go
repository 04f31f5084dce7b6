package hooks

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MimeLyc/webp-autogen/pkg/log"
)

// DefaultPriority is used by listeners that do not care about ordering.
const DefaultPriority = 10

// Filter receives the current value and returns the value for the next filter.
type Filter[T any] func(ctx context.Context, v T) (T, error)

type entry[T any] struct {
	name     string
	priority int
	seq      int
	fn       Filter[T]
}

// Chain runs named filters in ascending priority, then registration order.
// A filter that fails or panics is logged and its input is passed on.
type Chain[T any] struct {
	name string

	mu      sync.RWMutex
	entries []entry[T]
	seq     int
}

func NewChain[T any](name string) *Chain[T] {
	return &Chain[T]{name: name}
}

// Add registers fn under name. Names are unique per chain.
func (c *Chain[T]) Add(name string, priority int, fn Filter[T]) error {
	if fn == nil {
		return fmt.Errorf("hook %s: filter %q is nil", c.name, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.name == name {
			return fmt.Errorf("hook %s: filter %q already registered", c.name, name)
		}
	}

	c.seq++
	c.entries = append(c.entries, entry[T]{name: name, priority: priority, seq: c.seq, fn: fn})
	slices.SortStableFunc(c.entries, func(a, b entry[T]) int {
		if a.priority != b.priority {
			return a.priority - b.priority
		}
		return a.seq - b.seq
	})
	return nil
}

func (c *Chain[T]) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.name == name {
			c.entries = slices.Delete(c.entries, i, i+1)
			return true
		}
	}
	return false
}

// List returns filter names in run order.
func (c *Chain[T]) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		names = append(names, e.name)
	}
	return names
}

func (c *Chain[T]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Chain[T]) Apply(ctx context.Context, v T) T {
	c.mu.RLock()
	entries := slices.Clone(c.entries)
	c.mu.RUnlock()

	for _, e := range entries {
		next, err := c.run(ctx, e, v)
		if err != nil {
			log.Warn("Hook %s filter %q failed: %v", c.name, e.name, err)
			continue
		}
		v = next
	}
	return v
}

func (c *Chain[T]) run(ctx context.Context, e entry[T], v T) (ret T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.fn(ctx, v)
}
