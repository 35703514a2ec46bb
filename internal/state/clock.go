package state

import "sync"

// Clock hands out operation ids for one participant.
type Clock struct {
	author  string
	counter uint64
	mu      sync.Mutex
}

func NewClock(author string) *Clock {
	return &Clock{author: author}
}

func (c *Clock) Author() string {
	return c.author
}

// Next increments the clock and returns a fresh operation id.
func (c *Clock) Next() OpID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return OpID{Author: c.author, Counter: c.counter}
}

// Observe moves the clock past id when it is one of ours, so a client that
// restarts with the same participant id never reuses a committed id.
func (c *Clock) Observe(id OpID) {
	if id.Author != c.author {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id.Counter > c.counter {
		c.counter = id.Counter
	}
}
