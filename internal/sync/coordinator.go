package sync

import (
	"log"
	"sync"

	"github.com/dmarren/roomsync/internal/model"
)

// Coordinator owns the watermark and the active room reference, and is
// the only writer of either. Both channels hand candidate messages to
// Apply; everything downstream of the transports is shared, so
// double-delivery is harmless.
//
// One Coordinator exists per room view. Activate and Deactivate bound its
// lifecycle; a deactivated coordinator rejects every apply.
type Coordinator struct {
	mu        sync.Mutex
	room      model.RoomRef
	active    bool
	watermark int64
	index     *Index
	view      View

	pushLive func() bool
}

// New returns a Coordinator projecting applied messages into view.
func New(view View) *Coordinator {
	return &Coordinator{
		index: NewIndex(),
		view:  view,
	}
}

// Activate binds the coordinator to room and resets the dedup index and
// watermark. initialWatermark seeds the fetch floor when the page already
// rendered history (the newest visible message's timestamp), zero
// otherwise.
func (c *Coordinator) Activate(room model.RoomRef, initialWatermark int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = room
	c.active = true
	c.watermark = initialWatermark
	c.index = NewIndex()
}

// Deactivate tears the coordinator down on navigation. In-flight channel
// callbacks scheduled before the switch fail the room check in Apply and
// cannot mutate a view that no longer corresponds to their room.
func (c *Coordinator) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.room = model.RoomRef{}
}

// Room returns the active room reference, zero when deactivated.
func (c *Coordinator) Room() model.RoomRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Watermark returns the timestamp of the most recently applied message.
func (c *Coordinator) Watermark() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// SetPushProbe wires in the push channel's liveness predicate. The poll
// loop consults PushLive to suppress redundant requests while the stream
// is up.
func (c *Coordinator) SetPushProbe(probe func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushLive = probe
}

// PushLive reports whether a push connection is currently live.
func (c *Coordinator) PushLive() bool {
	c.mu.Lock()
	probe := c.pushLive
	c.mu.Unlock()
	return probe != nil && probe()
}

// Apply routes one candidate message through duplicate detection and, if
// novel, into the view. room is the reference the delivering channel was
// scheduled for; it is re-checked here, at execution time, so stale
// callbacks from a previous room are dropped. Returns whether the message
// was applied.
func (c *Coordinator) Apply(room model.RoomRef, m model.Message) bool {
	c.mu.Lock()

	if !c.active || room != c.room {
		c.mu.Unlock()
		log.Printf("dropping message for inactive room %s", room)
		return false
	}
	if c.index.Seen(m) {
		c.mu.Unlock()
		return false
	}

	c.index.Add(m)
	if m.Timestamp > c.watermark {
		c.watermark = m.Timestamp
	}
	view := c.view
	c.mu.Unlock()

	// The view append happens outside the lock; ordering within a channel
	// is preserved because each channel delivers from a single goroutine
	// and the index already claimed the message.
	if view != nil {
		view.Append(m)
	}
	return true
}

// ApplyBatch applies messages in delivery order and returns how many were
// novel.
func (c *Coordinator) ApplyBatch(room model.RoomRef, msgs []model.Message) int {
	applied := 0
	for _, m := range msgs {
		if c.Apply(room, m) {
			applied++
		}
	}
	return applied
}
