// Package devserver is an in-memory implementation of the four endpoints
// the client depends on: message fetch, push stream (SSE and WebSocket),
// presence beacon and active counts. It backs local development and the
// integration-style tests; nothing is persisted.
package devserver

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/dmarren/roomsync/internal/model"
)

type sanitizer interface {
	Sanitize(s string) string
	SanitizeBytes(p []byte) []byte
}

type subscriber chan model.PushEvent

const (
	// presenceWindow is how recently a user must have pinged to count as
	// active in a room.
	presenceWindow = 2 * time.Minute

	subscriberBuffer = 64
)

// Server holds all room state behind one mutex. Fan-out to subscribers is
// non-blocking; a slow consumer gets skipped rather than stalling the
// room.
type Server struct {
	mu             sync.Mutex
	messages       map[string][]model.Message
	subs           map[string]map[subscriber]struct{}
	presence       map[string]map[string]time.Time
	countsDisabled bool

	now       func() time.Time
	sanitizer sanitizer
}

// New returns an empty Server.
func New() *Server {
	return &Server{
		messages:  make(map[string][]model.Message),
		subs:      make(map[string]map[subscriber]struct{}),
		presence:  make(map[string]map[string]time.Time),
		now:       time.Now,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// SetNow overrides the clock, for tests.
func (s *Server) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetCountsDisabled toggles the admin switch for active-user counts.
func (s *Server) SetCountsDisabled(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countsDisabled = v
}

// Post appends a message to room and pushes it to every live subscriber.
// Content is sanitized before it is stored; it stays sanitized on every
// later delivery path.
func (s *Server) Post(room model.RoomRef, sender, content string) model.Message {
	s.mu.Lock()
	now := s.now()
	msg := model.Message{
		ID:            uuid.NewString(),
		SenderName:    sender,
		Content:       s.sanitizer.Sanitize(content),
		Timestamp:     now.UnixMilli(),
		FormattedTime: model.FormatTimestamp(now),
	}
	key := room.Key()
	s.messages[key] = append(s.messages[key], msg)
	targets := make([]subscriber, 0, len(s.subs[key]))
	for sub := range s.subs[key] {
		targets = append(targets, sub)
	}
	s.mu.Unlock()

	ev := model.PushEvent{Type: "message", Message: &msg}
	for _, sub := range targets {
		select {
		case sub <- ev:
		default:
			// skip slow subscriber
		}
	}
	return msg
}

// MessagesSince returns room's messages with timestamp strictly greater
// than last, ascending.
func (s *Server) MessagesSince(room model.RoomRef, last int64) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages[room.Key()] {
		if m.Timestamp > last {
			out = append(out, m)
		}
	}
	return out
}

// RecordPresence marks user as present in room now.
func (s *Server) RecordPresence(room model.RoomRef, user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := room.Key()
	bucket, ok := s.presence[key]
	if !ok {
		bucket = make(map[string]time.Time)
		s.presence[key] = bucket
	}
	bucket[user] = s.now()
}

// ActiveCount returns how many users pinged room within the presence
// window.
func (s *Server) ActiveCount(room model.RoomRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCountLocked(room.Key())
}

func (s *Server) activeCountLocked(key string) int {
	cutoff := s.now().Add(-presenceWindow)
	n := 0
	for _, seen := range s.presence[key] {
		if seen.After(cutoff) {
			n++
		}
	}
	return n
}

func (s *Server) globalActiveLocked() int {
	cutoff := s.now().Add(-presenceWindow)
	users := make(map[string]struct{})
	for _, bucket := range s.presence {
		for user, seen := range bucket {
			if seen.After(cutoff) {
				users[user] = struct{}{}
			}
		}
	}
	return len(users)
}

func (s *Server) subscribe(key string) subscriber {
	sub := make(subscriber, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[subscriber]struct{})
	}
	s.subs[key][sub] = struct{}{}
	return sub
}

func (s *Server) unsubscribe(key string, sub subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[key], sub)
}
