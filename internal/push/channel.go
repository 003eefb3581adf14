// Package push maintains the long-lived server-to-client event stream for
// one room: connect, read, and reconnect with bounded exponential backoff.
// The transport itself is pluggable (SSE or WebSocket); the channel only
// sees a stream of decoded events.
package push

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmarren/roomsync/internal/model"
)

// State is the channel's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Stream is one live subscription. Next blocks for the next decoded event
// and returns an error only on transport failure; malformed frames are
// logged and skipped inside the transport so a bad payload never tears
// the stream down.
type Stream interface {
	Next(ctx context.Context) (model.PushEvent, error)
	Close() error
}

// Dialer opens a Stream for a room.
type Dialer interface {
	Dial(ctx context.Context, room model.RoomRef) (Stream, error)
}

// Sink receives decoded messages. The coordinator's Apply satisfies this;
// it runs the same dedup pipeline the poll channel feeds.
type Sink interface {
	Apply(room model.RoomRef, m model.Message) bool
}

const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 60 * time.Second
)

// Options tunes a Channel. Zero values pick the defaults.
type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Sleep overrides the reconnect delay wait, for tests. It returns
	// false when the wait was cut short by cancellation.
	Sleep func(ctx context.Context, d time.Duration) bool
}

// Channel is the push channel for one room. It is bound to that room for
// its whole lifetime; switching rooms means closing this channel and
// opening a new one, so a reconnect scheduled for a stale room can never
// deliver into the new room's view.
type Channel struct {
	dialer Dialer
	sink   Sink
	room   model.RoomRef

	initial time.Duration
	max     time.Duration
	sleep   func(ctx context.Context, d time.Duration) bool

	state atomic.Int32

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewChannel returns an unopened Channel for room.
func NewChannel(dialer Dialer, sink Sink, room model.RoomRef, opts Options) *Channel {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Channel{
		dialer:  dialer,
		sink:    sink,
		room:    room,
		initial: opts.InitialBackoff,
		max:     opts.MaxBackoff,
		sleep:   sleep,
	}
}

// Room returns the room this channel is bound to.
func (ch *Channel) Room() model.RoomRef {
	return ch.room
}

// State returns the current connection state.
func (ch *Channel) State() State {
	return State(ch.state.Load())
}

// Connected reports whether the stream is currently live. The poll loop
// uses this to suppress redundant fetches.
func (ch *Channel) Connected() bool {
	return ch.State() == StateConnected
}

// Open starts the connect/read/reconnect loop. A second Open while the
// channel is already open or connecting is a no-op; there is never more
// than one stream instance per channel.
func (ch *Channel) Open(ctx context.Context) {
	ch.mu.Lock()
	if ch.running {
		ch.mu.Unlock()
		log.Printf("push channel for %s already open; skipping", ch.room)
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	ch.running = true
	ch.cancel = cancel
	ch.done = make(chan struct{})
	done := ch.done
	ch.mu.Unlock()

	go func() {
		defer close(done)
		ch.run(runCtx)
	}()
}

// Close tears the channel down and waits for the loop to exit.
func (ch *Channel) Close() {
	ch.mu.Lock()
	cancel := ch.cancel
	done := ch.done
	ch.running = false
	ch.cancel = nil
	ch.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (ch *Channel) run(ctx context.Context) {
	defer ch.state.Store(int32(StateDisconnected))

	backoff := ch.initial
	for {
		if ctx.Err() != nil {
			return
		}

		ch.state.Store(int32(StateConnecting))
		stream, err := ch.dialer.Dial(ctx, ch.room)
		if err != nil {
			ch.state.Store(int32(StateDisconnected))
			if ctx.Err() != nil {
				return
			}
			log.Printf("[error] push connect to %s failed: %v", ch.room, err)
			if !ch.sleep(ctx, backoff) {
				return
			}
			backoff = ch.nextBackoff(backoff)
			continue
		}

		// Successful open resets the backoff to its initial value.
		ch.state.Store(int32(StateConnected))
		backoff = ch.initial

		err = ch.consume(ctx, stream)
		stream.Close()
		ch.state.Store(int32(StateDisconnected))

		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("push stream for %s closed: %v", ch.room, err)
		}
		if !ch.sleep(ctx, backoff) {
			return
		}
		backoff = ch.nextBackoff(backoff)
	}
}

func (ch *Channel) consume(ctx context.Context, stream Stream) error {
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if ev.Type != "message" || ev.Message == nil {
			log.Printf("discarding push event type %q for %s", ev.Type, ch.room)
			continue
		}
		ch.sink.Apply(ch.room, *ev.Message)
	}
}

func (ch *Channel) nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > ch.max {
		next = ch.max
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
