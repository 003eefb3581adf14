package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmarren/roomsync/internal/model"
)

var testRoom = model.RoomRef{Type: model.RoomTypeTopic, ID: "42"}

type fakeBeacon struct {
	mu    sync.Mutex
	pings []model.RoomRef
	err   error
}

func (b *fakeBeacon) RoomPing(_ context.Context, room model.RoomRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pings = append(b.pings, room)
	return b.err
}

func (b *fakeBeacon) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pings)
}

func TestReporterSendsImmediateBeacon(t *testing.T) {
	beacon := &fakeBeacon{}
	r := NewReporter(beacon, testRoom, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// The first beacon goes out on activation, not after the first
	// interval.
	assert.Eventually(t, func() bool {
		return beacon.count() == 1
	}, time.Second, 5*time.Millisecond)

	beacon.mu.Lock()
	assert.Equal(t, testRoom, beacon.pings[0])
	beacon.mu.Unlock()
}

func TestReporterBeaconsOnInterval(t *testing.T) {
	beacon := &fakeBeacon{}
	r := NewReporter(beacon, testRoom, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	assert.Eventually(t, func() bool {
		return beacon.count() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestReporterIgnoresDeliveryFailures(t *testing.T) {
	beacon := &fakeBeacon{err: errors.New("network down")}
	r := NewReporter(beacon, testRoom, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// Failures don't stop the loop.
	assert.Eventually(t, func() bool {
		return beacon.count() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestReporterPauseAndResume(t *testing.T) {
	beacon := &fakeBeacon{}
	r := NewReporter(beacon, testRoom, 10*time.Millisecond)
	r.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// Run's activation beacon still fires, then the pause holds.
	assert.Eventually(t, func() bool {
		return beacon.count() == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, beacon.count(), "paused reporter must stay silent")

	// Resume closes the stale-absence gap with an immediate beacon.
	r.Resume()
	assert.Eventually(t, func() bool {
		return beacon.count() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestReporterStopsOnCancel(t *testing.T) {
	beacon := &fakeBeacon{}
	r := NewReporter(beacon, testRoom, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	assert.Eventually(t, func() bool {
		return beacon.count() >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	time.Sleep(20 * time.Millisecond)
	n := beacon.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, beacon.count())
}
