package sync

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/dmarren/roomsync/internal/model"
)

// View receives messages that survived duplicate detection. Implementations
// are append-only; the server, not the client, guarantees chronological
// delivery within a channel.
type View interface {
	Append(m model.Message)
}

type sanitizer interface {
	Sanitize(s string) string
	SanitizeBytes(p []byte) []byte
}

// MessageListOptions tunes the scroll model. Zero values pick the
// defaults.
type MessageListOptions struct {
	// ViewportHeight is the visible extent of the list in display units.
	ViewportHeight int
	// MessageExtent is the display height one message occupies.
	MessageExtent int
	// BottomThreshold is how close to the bottom the viewer must be for an
	// insertion to auto-scroll.
	BottomThreshold int
}

const (
	defaultViewportHeight  = 600
	defaultMessageExtent   = 40
	defaultBottomThreshold = 150
)

// MessageList is the ordered message view with scroll-position semantics.
// Appending a message auto-scrolls only when the viewer was already near
// the bottom; a viewer who scrolled up to read history stays put.
//
// Content fields are run through the sanitizer on the way in. Content is
// untrusted even though it already passed through a server round-trip.
type MessageList struct {
	mu   sync.Mutex
	msgs []model.Message

	viewport  int
	extent    int
	threshold int
	offset    int

	sanitizer sanitizer

	// OnAppend, when set, observes every applied message after insertion.
	// Rendering layers hang off this instead of reaching into the list.
	OnAppend func(m model.Message)
}

// NewMessageList returns an empty view.
func NewMessageList(opts MessageListOptions) *MessageList {
	if opts.ViewportHeight <= 0 {
		opts.ViewportHeight = defaultViewportHeight
	}
	if opts.MessageExtent <= 0 {
		opts.MessageExtent = defaultMessageExtent
	}
	if opts.BottomThreshold <= 0 {
		opts.BottomThreshold = defaultBottomThreshold
	}
	return &MessageList{
		viewport:  opts.ViewportHeight,
		extent:    opts.MessageExtent,
		threshold: opts.BottomThreshold,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Append sanitizes and inserts m at the end of the view, preserving the
// viewer's scroll position unless they were near the bottom beforehand.
func (v *MessageList) Append(m model.Message) {
	v.mu.Lock()

	m.SenderName = v.sanitizer.Sanitize(m.SenderName)
	m.Content = v.sanitizer.Sanitize(m.Content)

	wasNearBottom := v.nearBottomLocked()
	v.msgs = append(v.msgs, m)
	if wasNearBottom {
		v.scrollToBottomLocked()
	}

	cb := v.OnAppend
	v.mu.Unlock()

	if cb != nil {
		cb(m)
	}
}

// Len returns the number of visible messages.
func (v *MessageList) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.msgs)
}

// Messages returns a copy of the visible list in view order.
func (v *MessageList) Messages() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.Message, len(v.msgs))
	copy(out, v.msgs)
	return out
}

// ScrollOffset returns the current scroll position from the top.
func (v *MessageList) ScrollOffset() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset
}

// SetScrollOffset moves the viewer, clamped to the valid range. This is
// the "user scrolled up to read history" entry point.
func (v *MessageList) SetScrollOffset(offset int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	max := v.contentHeightLocked() - v.viewport
	if max < 0 {
		max = 0
	}
	if offset < 0 {
		offset = 0
	}
	if offset > max {
		offset = max
	}
	v.offset = offset
}

// ContentHeight returns the total extent of the list.
func (v *MessageList) ContentHeight() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.contentHeightLocked()
}

// NearBottom reports whether the viewer is within the configured
// threshold of the bottom.
func (v *MessageList) NearBottom() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.nearBottomLocked()
}

func (v *MessageList) contentHeightLocked() int {
	return len(v.msgs) * v.extent
}

func (v *MessageList) nearBottomLocked() bool {
	distance := v.contentHeightLocked() - (v.offset + v.viewport)
	return distance <= v.threshold
}

func (v *MessageList) scrollToBottomLocked() {
	bottom := v.contentHeightLocked() - v.viewport
	if bottom < 0 {
		bottom = 0
	}
	v.offset = bottom
}
