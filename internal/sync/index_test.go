package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmarren/roomsync/internal/model"
)

func TestIndexSeenByID(t *testing.T) {
	idx := NewIndex()
	msg := model.Message{ID: "m1", SenderName: "ana", Content: "hello", Timestamp: 1000}

	assert.False(t, idx.Seen(msg))
	idx.Add(msg)
	assert.True(t, idx.Seen(msg))

	// Same id, different content: id wins.
	assert.True(t, idx.Seen(model.Message{ID: "m1", SenderName: "bob", Content: "other", Timestamp: 2000}))
}

func TestIndexSignatureFallback(t *testing.T) {
	idx := NewIndex()
	idx.Add(model.Message{ID: "m1", SenderName: "ana", Content: "hello world", Timestamp: 1000})

	tests := []struct {
		name      string
		candidate model.Message
		wantSeen  bool
	}{
		{
			name:      "identical_without_id",
			candidate: model.Message{SenderName: "ana", Content: "hello world", Timestamp: 1000},
			wantSeen:  true,
		},
		{
			name:      "collapsed_whitespace_matches",
			candidate: model.Message{SenderName: "  ana ", Content: "hello \t  world", Timestamp: 1000},
			wantSeen:  true,
		},
		{
			name:      "different_content_is_novel",
			candidate: model.Message{SenderName: "ana", Content: "hello there", Timestamp: 1000},
			wantSeen:  false,
		},
		{
			name:      "different_timestamp_is_novel",
			candidate: model.Message{SenderName: "ana", Content: "hello world", Timestamp: 2000},
			wantSeen:  false,
		},
		{
			name:      "different_sender_is_novel",
			candidate: model.Message{SenderName: "bob", Content: "hello world", Timestamp: 1000},
			wantSeen:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantSeen, idx.Seen(tt.candidate))
		})
	}
}

func TestIndexFormattedTimeFallback(t *testing.T) {
	idx := NewIndex()
	// No server timestamp at all; signature falls back to the display
	// string.
	idx.Add(model.Message{SenderName: "ana", Content: "hi", FormattedTime: "03:04 PM"})

	assert.True(t, idx.Seen(model.Message{SenderName: "ana", Content: "hi", FormattedTime: "03:04 PM"}))
	assert.False(t, idx.Seen(model.Message{SenderName: "ana", Content: "hi", FormattedTime: "03:05 PM"}))
}

func TestIndexDegradesToNovel(t *testing.T) {
	// A candidate yielding neither id nor signature must be applied, not
	// silently dropped.
	idx := NewIndex()
	empty := model.Message{}

	assert.False(t, idx.Seen(empty))
	idx.Add(empty)
	assert.False(t, idx.Seen(empty))

	// A nil index never reports duplicates either.
	var nilIdx *Index
	assert.False(t, nilIdx.Seen(model.Message{ID: "m1"}))
}

func TestSignature(t *testing.T) {
	a := model.Message{SenderName: "ana", Content: "hello", Timestamp: 1700000000000}
	b := model.Message{SenderName: "ana", Content: "hello", Timestamp: 1700000000000}
	c := model.Message{SenderName: "ana", Content: "hello", Timestamp: 1700000000001}

	// Two distinct legitimate messages sharing sender, timestamp and
	// content collide on purpose; that is the documented limitation.
	assert.Equal(t, Signature(a), Signature(b))
	assert.NotEqual(t, Signature(a), Signature(c))
	assert.Empty(t, Signature(model.Message{}))
}
