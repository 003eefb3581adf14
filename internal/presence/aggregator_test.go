package presence

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarren/roomsync/internal/model"
)

type fakeCounter struct {
	mu    sync.Mutex
	calls int
	rooms []model.RoomRef
	resp  model.ActiveCounts
	err   error
}

func (c *fakeCounter) ActiveCounts(_ context.Context, rooms []model.RoomRef) (model.ActiveCounts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.rooms = rooms
	return c.resp, c.err
}

func (c *fakeCounter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRefreshBatchesAllTargets(t *testing.T) {
	counter := &fakeCounter{resp: model.ActiveCounts{Status: "success"}}
	a := NewAggregator(counter, time.Hour)

	a.Register(model.RoomRef{Type: model.RoomTypeTopic, ID: "1"}, &CountLabel{})
	a.Register(model.RoomRef{Type: model.RoomTypeTopic, ID: "2"}, &CountLabel{})
	a.Register(model.RoomRef{Type: model.RoomTypeChat, ID: "9"}, &CountLabel{})

	require.NoError(t, a.RefreshOnce(context.Background()))
	assert.Equal(t, 1, counter.callCount(), "one batched request, not one per target")

	keys := make([]string, 0, len(counter.rooms))
	for _, r := range counter.rooms {
		keys = append(keys, r.Key())
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"chat:9", "topic:1", "topic:2"}, keys)
}

func TestRefreshUpdatesEveryDisplayForAKey(t *testing.T) {
	counter := &fakeCounter{resp: model.ActiveCounts{
		Status:       "success",
		GlobalActive: 12,
		TopicActive:  map[string]int{"1": 3},
	}}
	a := NewAggregator(counter, time.Hour)

	room := model.RoomRef{Type: model.RoomTypeTopic, ID: "1"}
	first, second := &CountLabel{}, &CountLabel{}
	global := &CountLabel{}
	a.Register(room, first)
	a.Register(room, second)
	a.RegisterGlobal(global)

	require.NoError(t, a.RefreshOnce(context.Background()))

	assert.Equal(t, "Active now: 3 users", first.Text())
	assert.Equal(t, "Active now: 3 users", second.Text())
	assert.Equal(t, "Active now: 12 users", global.Text())
}

func TestRefreshSkipsRoomsAbsentFromResponse(t *testing.T) {
	counter := &fakeCounter{resp: model.ActiveCounts{
		Status:      "success",
		TopicActive: map[string]int{"1": 3},
	}}
	a := NewAggregator(counter, time.Hour)

	known := &CountLabel{}
	unknown := &CountLabel{}
	a.Register(model.RoomRef{Type: model.RoomTypeTopic, ID: "1"}, known)
	a.Register(model.RoomRef{Type: model.RoomTypeTopic, ID: "404"}, unknown)

	require.NoError(t, a.RefreshOnce(context.Background()))
	assert.Equal(t, "Active now: 3 users", known.Text())
	assert.Empty(t, unknown.Text())
}

func TestDisabledResponseIsTerminal(t *testing.T) {
	counter := &fakeCounter{resp: model.ActiveCounts{Status: "success", TopicActive: map[string]int{"1": 3}}}
	a := NewAggregator(counter, 10*time.Millisecond)

	label := &CountLabel{}
	other := &CountLabel{}
	a.Register(model.RoomRef{Type: model.RoomTypeTopic, ID: "1"}, label)
	a.Register(model.RoomRef{Type: model.RoomTypeTopic, ID: "2"}, other)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	assert.Eventually(t, func() bool {
		return counter.callCount() >= 2
	}, time.Second, 5*time.Millisecond)

	// Admin flips the feature off.
	counter.mu.Lock()
	counter.resp = model.ActiveCounts{Status: "disabled"}
	counter.mu.Unlock()

	assert.Eventually(t, a.Disabled, time.Second, 5*time.Millisecond)
	assert.Equal(t, DisabledIndicator, label.Text())
	assert.Equal(t, DisabledIndicator, other.Text())

	// No further requests for the rest of the session.
	time.Sleep(30 * time.Millisecond)
	n := counter.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, counter.callCount())

	// Resume can't bring it back either; only a new page view can.
	a.Pause()
	a.Resume()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, counter.callCount())
}

func TestAggregatorPauseAndResume(t *testing.T) {
	counter := &fakeCounter{resp: model.ActiveCounts{Status: "success"}}
	a := NewAggregator(counter, 10*time.Millisecond)
	a.Register(model.RoomRef{Type: model.RoomTypeTopic, ID: "1"}, &CountLabel{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	assert.Eventually(t, func() bool {
		return counter.callCount() >= 1
	}, time.Second, 5*time.Millisecond)

	a.Pause()
	time.Sleep(30 * time.Millisecond)
	n := counter.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, counter.callCount(), n+1, "at most one in-flight refresh after pausing")

	// Resume triggers an immediate refresh.
	before := counter.callCount()
	a.Resume()
	assert.Eventually(t, func() bool {
		return counter.callCount() > before
	}, time.Second, 5*time.Millisecond)
}

func TestRefreshWithNoTargetsIsNoop(t *testing.T) {
	counter := &fakeCounter{resp: model.ActiveCounts{Status: "success"}}
	a := NewAggregator(counter, time.Hour)

	require.NoError(t, a.RefreshOnce(context.Background()))
	assert.Equal(t, 0, counter.callCount())
}
