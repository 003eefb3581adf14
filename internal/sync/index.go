// Package sync keeps a client's visible message list consistent with
// server state. Messages arrive over two transports at once — a push
// stream and a fallback poll loop — so the package centers on an
// idempotent apply pipeline: duplicate detection, ordered insertion into
// the view, and watermark advancement, all owned by the Coordinator.
package sync

import (
	"strings"

	"github.com/dmarren/roomsync/internal/model"
)

// Index is the duplicate-detection index for one room view. It holds the
// ids and content signatures of every applied message, decoupled from the
// rendering layer, so the view stays a pure projection of it.
//
// Both channels can deliver the same message and in either relative
// order, which is why lookups here, not arrival order, are the
// correctness mechanism.
type Index struct {
	ids  map[string]struct{}
	sigs map[string]struct{}
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{
		ids:  make(map[string]struct{}),
		sigs: make(map[string]struct{}),
	}
}

// Seen reports whether m is already represented in the view. The id check
// is authoritative when the server assigned one; the signature check
// catches same-content messages delivered redundantly by both channels
// when one omits the id.
//
// A candidate that yields neither id nor signature is treated as novel:
// over-display beats data loss.
func (x *Index) Seen(m model.Message) bool {
	if x == nil {
		return false
	}
	if m.ID != "" {
		if _, ok := x.ids[m.ID]; ok {
			return true
		}
	}
	if sig := Signature(m); sig != "" {
		if _, ok := x.sigs[sig]; ok {
			return true
		}
	}
	return false
}

// Add records m as applied.
func (x *Index) Add(m model.Message) {
	if m.ID != "" {
		x.ids[m.ID] = struct{}{}
	}
	if sig := Signature(m); sig != "" {
		x.sigs[sig] = struct{}{}
	}
}

// Len returns the number of distinct signatures recorded.
func (x *Index) Len() int {
	return len(x.sigs)
}

// Signature derives the fallback dedup key: sender, timestamp (or the
// display time when the server omitted a timestamp) and content, joined
// with internal whitespace collapsed. Two distinct legitimate messages
// sharing all three fields collide; that is an accepted rare limitation,
// not something we paper over with added entropy.
func Signature(m model.Message) string {
	ts := ""
	if m.Timestamp != 0 {
		ts = m.Time().UTC().Format("2006-01-02T15:04:05.000")
	} else if m.FormattedTime != "" {
		ts = m.FormattedTime
	}

	sig := strings.TrimSpace(m.SenderName) + "|" + ts + "|" + m.Content
	sig = strings.Join(strings.Fields(sig), " ")
	if sig == "||" {
		return ""
	}
	return sig
}
