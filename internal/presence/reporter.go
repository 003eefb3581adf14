// Package presence covers the client's side of liveness tracking:
// reporting its own occupancy of the active room and refreshing the
// aggregated active-user counts shown on the page. Both loops share the
// same visibility discipline — paused while the page is hidden, resumed
// with an immediate action when it becomes visible again — and share no
// state with the message pipeline beyond the room reference.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/dmarren/roomsync/internal/model"
)

// Beacon is the presence endpoint contract.
type Beacon interface {
	RoomPing(ctx context.Context, room model.RoomRef) error
}

const defaultReportInterval = 20 * time.Second

// Reporter announces the client's occupancy of one room: one beacon
// immediately on activation, then one per interval. Delivery is
// fire-and-forget; a missed beacon just shortens the server's idea of how
// long this client has been present.
type Reporter struct {
	api      Beacon
	room     model.RoomRef
	interval time.Duration

	mu     sync.Mutex
	paused bool
	kick   chan struct{}
}

// NewReporter returns a Reporter for room. interval <= 0 picks the 20s
// default.
func NewReporter(api Beacon, room model.RoomRef, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = defaultReportInterval
	}
	return &Reporter{
		api:      api,
		room:     room,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Run sends beacons until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	r.ping(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !r.Paused() {
				r.ping(ctx)
			}
		case <-r.kick:
			r.ping(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Pause stops beacons while the page is hidden. Backgrounded tabs must
// not report presence.
func (r *Reporter) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Resume restarts beacons and fires one immediately, closing the
// stale-absence gap a returning viewer would otherwise leave.
func (r *Reporter) Resume() {
	r.mu.Lock()
	wasPaused := r.paused
	r.paused = false
	r.mu.Unlock()

	if wasPaused {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// Paused reports whether beacons are currently suppressed.
func (r *Reporter) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *Reporter) ping(ctx context.Context) {
	// Failures are deliberately ignored; presence is best-effort.
	_ = r.api.RoomPing(ctx, r.room)
}
