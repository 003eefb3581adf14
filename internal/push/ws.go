package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/dmarren/roomsync/internal/model"
)

// WSDialer opens WebSocket subscriptions as an alternative push
// transport for servers that expose one. The frame payloads are the same
// JSON events the SSE stream carries.
type WSDialer struct {
	BaseURL string
	Client  *http.Client
}

func (d *WSDialer) Dial(ctx context.Context, room model.RoomRef) (Stream, error) {
	endpoint := wsURL(d.BaseURL) + "/ws?room=" + url.QueryEscape(room.Key())

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: d.Client,
	})
	if err != nil {
		return nil, err
	}
	return &wsStream{conn: conn}, nil
}

func wsURL(base string) string {
	base = strings.TrimRight(base, "/")
	if after, ok := strings.CutPrefix(base, "https://"); ok {
		return "wss://" + after
	}
	if after, ok := strings.CutPrefix(base, "http://"); ok {
		return "ws://" + after
	}
	return base
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next(ctx context.Context) (model.PushEvent, error) {
	for {
		msgType, p, err := s.conn.Read(ctx)
		if err != nil {
			return model.PushEvent{}, err
		}

		// The push protocol is text frames only.
		if msgType != websocket.MessageText {
			continue
		}

		var ev model.PushEvent
		if err := json.Unmarshal(p, &ev); err != nil {
			slog.Warn("discarding malformed push payload",
				"error", err,
				"payload", string(p))
			continue
		}
		return ev, nil
	}
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "channel closed")
}
