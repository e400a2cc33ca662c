package hubtesting

import (
	"fmt"
	"sync"

	"github.com/hypebeast/go-osc/osc"
)

// CaptureSender stands in for an OSC client and records every packet, with
// optional error injection for drop accounting tests.
type CaptureSender struct {
	mu      sync.Mutex
	packets []osc.Packet
	failing bool
}

// Send implements the emitter's client interface.
func (c *CaptureSender) Send(p osc.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return fmt.Errorf("injected osc send failure")
	}
	c.packets = append(c.packets, p)
	return nil
}

// Fail toggles error injection.
func (c *CaptureSender) Fail(on bool) {
	c.mu.Lock()
	c.failing = on
	c.mu.Unlock()
}

// Messages returns the captured *osc.Message packets in send order.
func (c *CaptureSender) Messages() []*osc.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]*osc.Message, 0, len(c.packets))
	for _, p := range c.packets {
		if m, ok := p.(*osc.Message); ok {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// Count reports how many packets were captured.
func (c *CaptureSender) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packets)
}
