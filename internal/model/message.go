// Package model defines data structure.
package model

import (
	"encoding/json"
	"time"
)

// Message holds information about a single chat message as delivered by
// either channel. Timestamp is milliseconds since epoch on the server
// clock; it drives ordering and watermark advancement. ID is the
// authoritative dedup key when the server includes one.
type Message struct {
	ID            string `json:"id,omitempty"`
	SenderName    string `json:"sender_name"`
	Content       string `json:"content"`
	Timestamp     int64  `json:"timestamp"`
	FormattedTime string `json:"formatted_time,omitempty"`
	IsOwn         bool   `json:"is_own"`
}

// UnmarshalJSON accepts both string and numeric ids. Older server models
// use integer primary keys while newer ones use string UUIDs.
func (m *Message) UnmarshalJSON(p []byte) error {
	type alias Message
	aux := struct {
		ID json.RawMessage `json:"id"`
		*alias
	}{alias: (*alias)(m)}

	if err := json.Unmarshal(p, &aux); err != nil {
		return err
	}

	switch {
	case len(aux.ID) == 0 || string(aux.ID) == "null":
		m.ID = ""
	case aux.ID[0] == '"':
		var s string
		if err := json.Unmarshal(aux.ID, &s); err != nil {
			return err
		}
		m.ID = s
	default:
		var n json.Number
		if err := json.Unmarshal(aux.ID, &n); err != nil {
			return err
		}
		m.ID = n.String()
	}
	return nil
}

// Time converts the millisecond timestamp to a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// FormatTimestamp renders a timestamp the way the server formats
// Message.FormattedTime, e.g. "03:04 PM".
func FormatTimestamp(t time.Time) string {
	return t.Format("03:04 PM")
}
