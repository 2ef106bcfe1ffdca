// Package debounce suppresses single-frame noise by requiring a condition to
// hold for a number of consecutive frames.
package debounce

// Counter counts consecutive frames for which a condition held. It is not
// safe for concurrent use; each detector owns its counters.
type Counter struct {
	count     uint
	threshold uint
}

// NewCounter returns a counter that is sustained after threshold consecutive
// true updates. A threshold of 0 is treated as 1.
func NewCounter(threshold uint) *Counter {
	if threshold < 1 {
		threshold = 1
	}
	return &Counter{threshold: threshold}
}

// Update records one frame and reports whether the condition is sustained.
func (c *Counter) Update(holds bool) bool {
	if holds {
		c.count++
	} else {
		c.count = 0
	}
	return c.Sustained()
}

func (c *Counter) Sustained() bool { return c.count >= c.threshold }

func (c *Counter) Count() uint { return c.count }

func (c *Counter) Threshold() uint { return c.threshold }

func (c *Counter) Reset() { c.count = 0 }
