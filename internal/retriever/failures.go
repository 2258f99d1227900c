package retriever

import "sync"

// failureCollector gathers ItemFailure values from concurrent
// per-resource fetches.
type failureCollector struct {
	mu    sync.Mutex
	items []ItemFailure
}

func (c *failureCollector) add(f ItemFailure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, f)
}

func (c *failureCollector) drain() []ItemFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items
}
