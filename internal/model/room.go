package model

import (
	"fmt"
	"strings"
)

// RoomType identifies the kind of conversation a room key refers to.
type RoomType string

const (
	RoomTypeChat         RoomType = "chat"
	RoomTypeTopic        RoomType = "topic"
	RoomTypeRelationship RoomType = "relationship"
)

// RoomRef identifies one conversation. Exactly one RoomRef is active per
// client instance; it keys push subscriptions, message polls and presence
// beacons.
type RoomRef struct {
	Type RoomType
	ID   string
}

// Key returns the wire form of the reference, e.g. "topic:42".
func (r RoomRef) Key() string {
	return string(r.Type) + ":" + r.ID
}

func (r RoomRef) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

func (r RoomRef) String() string {
	return r.Key()
}

// ParseRoomRef parses a "type:id" room key.
func ParseRoomRef(s string) (RoomRef, error) {
	t, id, ok := strings.Cut(s, ":")
	if !ok || t == "" || id == "" {
		return RoomRef{}, fmt.Errorf("invalid room key %q", s)
	}
	switch RoomType(t) {
	case RoomTypeChat, RoomTypeTopic, RoomTypeRelationship:
		return RoomRef{Type: RoomType(t), ID: id}, nil
	default:
		return RoomRef{}, fmt.Errorf("unknown room type %q", t)
	}
}
