package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dmarren/roomsync/internal/model"
)

// Counter is the active-count endpoint contract.
type Counter interface {
	ActiveCounts(ctx context.Context, rooms []model.RoomRef) (model.ActiveCounts, error)
}

// Display is one placeholder showing an occupancy count. A room can have
// several displays on the same page; all registered for its key are
// updated together.
type Display interface {
	SetCount(n int)
	SetDisabled()
}

const defaultRefreshInterval = 30 * time.Second

// Aggregator periodically fetches occupancy counts for every registered
// room in one batched request and fans the results out to the displays.
//
// A response with status "disabled" is terminal: every display shows the
// disabled indicator and the loop stops for the rest of the session.
type Aggregator struct {
	api      Counter
	interval time.Duration

	mu       sync.Mutex
	rooms    map[string]model.RoomRef
	displays map[string][]Display
	global   []Display
	disabled bool
	paused   bool
	kick     chan struct{}
}

// NewAggregator returns an empty Aggregator. interval <= 0 picks the 30s
// default.
func NewAggregator(api Counter, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &Aggregator{
		api:      api,
		interval: interval,
		rooms:    make(map[string]model.RoomRef),
		displays: make(map[string][]Display),
		kick:     make(chan struct{}, 1),
	}
}

// Register adds a display for room's count. Multiple displays per room
// are fine.
func (a *Aggregator) Register(room model.RoomRef, d Display) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := room.Key()
	a.rooms[key] = room
	a.displays[key] = append(a.displays[key], d)
}

// RegisterGlobal adds a display for the site-wide active-user count.
func (a *Aggregator) RegisterGlobal(d Display) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.global = append(a.global, d)
}

// Run refreshes counts until ctx is cancelled or the feature is reported
// disabled.
func (a *Aggregator) Run(ctx context.Context) {
	if err := a.RefreshOnce(ctx); err != nil {
		a.logRefreshErr(ctx, err)
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if a.Paused() {
				continue
			}
		case <-a.kick:
		case <-ctx.Done():
			return
		}

		if a.Disabled() {
			// Terminal for the session; no further requests until a new
			// page view constructs a new Aggregator.
			return
		}
		if err := a.RefreshOnce(ctx); err != nil {
			a.logRefreshErr(ctx, err)
		}
	}
}

// RefreshOnce performs one batched fetch-and-fanout cycle.
func (a *Aggregator) RefreshOnce(ctx context.Context) error {
	a.mu.Lock()
	if a.disabled {
		a.mu.Unlock()
		return nil
	}
	targets := make([]model.RoomRef, 0, len(a.rooms))
	for _, r := range a.rooms {
		targets = append(targets, r)
	}
	hasGlobal := len(a.global) > 0
	a.mu.Unlock()

	if len(targets) == 0 && !hasGlobal {
		return nil
	}

	counts, err := a.api.ActiveCounts(ctx, targets)
	if err != nil {
		return err
	}

	if counts.Disabled() {
		a.markDisabled()
		return nil
	}
	if counts.Status != "success" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for key, room := range a.rooms {
		n, ok := counts.CountFor(room)
		if !ok {
			continue
		}
		for _, d := range a.displays[key] {
			d.SetCount(n)
		}
	}
	for _, d := range a.global {
		d.SetCount(counts.GlobalActive)
	}
	return nil
}

// Pause suspends refreshes while the page is hidden.
func (a *Aggregator) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = true
}

// Resume restarts refreshes with an immediate one.
func (a *Aggregator) Resume() {
	a.mu.Lock()
	wasPaused := a.paused
	a.paused = false
	disabled := a.disabled
	a.mu.Unlock()

	if wasPaused && !disabled {
		select {
		case a.kick <- struct{}{}:
		default:
		}
	}
}

// Paused reports whether refreshes are currently suppressed.
func (a *Aggregator) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

// Disabled reports whether the feature was administratively turned off
// this session.
func (a *Aggregator) Disabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disabled
}

func (a *Aggregator) markDisabled() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disabled {
		return
	}
	a.disabled = true
	for _, ds := range a.displays {
		for _, d := range ds {
			d.SetDisabled()
		}
	}
	for _, d := range a.global {
		d.SetDisabled()
	}
	log.Printf("active counts disabled by admin; stopping refresh loop")
}

func (a *Aggregator) logRefreshErr(ctx context.Context, err error) {
	// Transient failures are retried at the next interval and never
	// surfaced to the user.
	if ctx.Err() == nil {
		log.Printf("[error] active count refresh failed: %v", err)
	}
}
