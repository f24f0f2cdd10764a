package controller

import (
	"time"
)

// coarseInterval paces the coarse housekeeping step, which only flushes a
// dirty config store.
// Kept well above the 10 ms command-pop budget so housekeeping never
// dominates the dispatcher loop.
const coarseInterval = 500 * time.Millisecond

// Tick advances every piece of periodic housekeeping the dispatcher drives
// once per loop iteration: draining each live instance's event queues,
// draining the shared hardware MIDI ring for per-instance MIDI-map dispatch
// and program-change patcher/set/preset switching, polling the compile job,
// progressing a queued set load, and -- at a coarser interval -- flushing a
// dirty config store.
func (c *Controller) Tick() {
	c.mu.Lock()
	instances := make([]*boundInstance, 0, len(c.instances))
	for _, bi := range c.instances {
		instances = append(instances, bi)
	}
	c.mu.Unlock()
	for _, bi := range instances {
		bi.inst.ProcessEvents()
	}

	c.drainMidi()
	c.pollCompile()
	c.progressSetLoad()

	now := time.Now()
	if now.Sub(c.housekeeping.lastCoarse) < coarseInterval {
		return
	}
	c.housekeeping.lastCoarse = now

	if c.cfg.Dirty() {
		if err := c.cfg.Flush(); err != nil {
			c.log.Error(err, "config flush failed")
		}
	}
}
