package scan

import "sync"

// collector is the only state shared between host pipelines. Once sealed it
// rejects late additions so a returned report never changes underneath the
// caller.
type collector struct {
	mu      sync.Mutex
	streams []Stream
	seen    map[string]struct{}
	sealed  bool
}

func newCollector() *collector {
	return &collector{seen: make(map[string]struct{})}
}

func (c *collector) add(s Stream) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return false
	}
	if _, ok := c.seen[s.URL]; ok {
		return false
	}
	c.seen[s.URL] = struct{}{}
	c.streams = append(c.streams, s)
	return true
}

func (c *collector) seal() []Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
	return append([]Stream(nil), c.streams...)
}
