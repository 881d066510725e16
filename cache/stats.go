package cache

import "time"

// Stats is a snapshot of the cache budgets.
type Stats struct {
	Capacity       int64
	Used           int64
	UsedPercentage float64
	InFlight       int
	Layers         int
	LastRequest    time.Time
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Capacity:       c.cfg.Capacity,
		Used:           c.used,
		UsedPercentage: 100 * float64(c.used) / float64(c.cfg.Capacity),
		InFlight:       len(c.inflight),
		Layers:         len(c.layers),
		LastRequest:    c.lastRequest,
	}
}
