package push

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmarren/roomsync/internal/model"
)

// SSEDialer opens Server-Sent Events subscriptions against the server's
// stream endpoint. SSE is the primary push transport; the server emits
// one "data:" payload per message event.
type SSEDialer struct {
	BaseURL string
	Client  *http.Client
}

func (d *SSEDialer) Dial(ctx context.Context, room model.RoomRef) (Stream, error) {
	httpClient := d.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	endpoint := strings.TrimRight(d.BaseURL, "/") + "/stream?room=" + url.QueryEscape(room.Key())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	res, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("push: stream endpoint returned %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		res.Body.Close()
		return nil, fmt.Errorf("push: unexpected content type %q", ct)
	}

	return &sseStream{
		body:   res.Body,
		reader: bufio.NewReader(res.Body),
	}, nil
}

type sseStream struct {
	body   interface{ Close() error }
	reader *bufio.Reader
}

// Next reads frames until a well-formed event arrives. Blank lines
// terminate a frame; ":" lines are keepalive comments. A frame that fails
// to decode is logged and skipped — a malformed payload must not crash
// the channel.
func (s *sseStream) Next(ctx context.Context) (model.PushEvent, error) {
	var data []string
	for {
		if err := ctx.Err(); err != nil {
			return model.PushEvent{}, err
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			return model.PushEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(data) == 0 {
				continue
			}
			payload := strings.Join(data, "\n")
			data = data[:0]

			var ev model.PushEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				slog.Warn("discarding malformed push payload",
					"error", err,
					"payload", payload)
				continue
			}
			return ev, nil

		case strings.HasPrefix(line, ":"):
			// keepalive comment

		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))

		default:
			// "event:"/"id:" fields carry nothing we need; the payload
			// type lives inside the JSON itself.
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
