package model

// PushEvent is one server-pushed frame on the push channel. Only "message"
// events carry a payload today; other types are discarded by the channel.
type PushEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}

// ActiveCounts is the active-count endpoint response. Per-type maps are
// keyed by room id and only present when the request batched ids for that
// type.
type ActiveCounts struct {
	Status             string         `json:"status"`
	Message            string         `json:"message,omitempty"`
	GlobalActive       int            `json:"global_active"`
	TopicActive        map[string]int `json:"topic_active,omitempty"`
	RelationshipActive map[string]int `json:"relationship_active,omitempty"`
	ChatActive         map[string]int `json:"chat_active,omitempty"`
}

// Disabled reports whether the server signalled that active-user counts
// are administratively turned off. Once observed this is terminal for the
// session.
func (c ActiveCounts) Disabled() bool {
	return c.Status == "disabled"
}

// CountFor looks up the count for one room reference.
func (c ActiveCounts) CountFor(r RoomRef) (int, bool) {
	var bucket map[string]int
	switch r.Type {
	case RoomTypeTopic:
		bucket = c.TopicActive
	case RoomTypeRelationship:
		bucket = c.RelationshipActive
	case RoomTypeChat:
		bucket = c.ChatActive
	}
	n, ok := bucket[r.ID]
	return n, ok
}
