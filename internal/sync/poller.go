package sync

import (
	"context"
	"log"
	"time"

	"github.com/dmarren/roomsync/internal/model"
)

// Fetcher is the message-fetch endpoint contract the poll loop depends on.
type Fetcher interface {
	NewMessages(ctx context.Context, room model.RoomRef, lastTimestamp int64) ([]model.Message, error)
}

const defaultPollInterval = 3 * time.Second

// Poller is the fallback transport: a fixed-interval fetch of messages
// newer than the coordinator's watermark. It exists to cover push-channel
// gaps, not to run as a concurrent duplicate stream, so every cycle first
// checks whether the push connection is live and skips the request
// entirely when it is.
type Poller struct {
	coord    *Coordinator
	fetch    Fetcher
	interval time.Duration
}

// NewPoller returns a Poller driving coord from fetch. interval <= 0
// picks the 3s default.
func NewPoller(coord *Coordinator, fetch Fetcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		coord:    coord,
		fetch:    fetch,
		interval: interval,
	}
}

// Run polls until ctx is cancelled. Every attempt reschedules the next
// one regardless of outcome; transient failures are tolerated by simply
// trying again at the next interval, never surfaced to the user.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.PollOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// PollOnce performs a single poll cycle and reports how many novel
// messages it applied.
func (p *Poller) PollOnce(ctx context.Context) int {
	if p.coord.PushLive() {
		return 0
	}

	// Room and watermark are read together at request time; the room is
	// re-validated again when the response is applied, in case the view
	// switched while the request was in flight.
	room := p.coord.Room()
	if room.IsZero() {
		return 0
	}

	msgs, err := p.fetch.NewMessages(ctx, room, p.coord.Watermark())
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[error] poll for %s failed: %v", room, err)
		}
		return 0
	}
	return p.coord.ApplyBatch(room, msgs)
}
