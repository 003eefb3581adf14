package push

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseHandler(frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			fmt.Fprint(w, f)
		}
	}
}

func TestSSEDialAndRead(t *testing.T) {
	frames := []string{
		": \n\n", // keepalive comment
		"data: {not json\n\n",
		"event: message\ndata: {\"type\":\"message\",\"message\":{\"id\":\"m1\",\"sender_name\":\"ana\",\"content\":\"hello\",\"timestamp\":1000}}\n\n",
		"data: {\"type\":\"typing\"}\n\n",
	}
	srv := httptest.NewServer(sseHandler(frames))
	defer srv.Close()

	d := &SSEDialer{BaseURL: srv.URL, Client: srv.Client()}
	stream, err := d.Dial(context.Background(), testRoom)
	require.NoError(t, err)
	defer stream.Close()

	// Comment and malformed frame are skipped; the first well-formed
	// event comes out.
	ev, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "message", ev.Type)
	assert.Equal(t, "m1", ev.Message.ID)
	assert.Equal(t, "ana", ev.Message.SenderName)
	assert.Equal(t, int64(1000), ev.Message.Timestamp)

	// Non-message events still surface; the channel decides what to do
	// with them.
	ev, err = stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "typing", ev.Type)

	// Server closed the stream.
	_, err = stream.Next(context.Background())
	assert.Error(t, err)
}

func TestSSEDialSendsRoomKey(t *testing.T) {
	var gotRoom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRoom = r.URL.Query().Get("room")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := &SSEDialer{BaseURL: srv.URL, Client: srv.Client()}
	stream, err := d.Dial(context.Background(), testRoom)
	require.NoError(t, err)
	stream.Close()

	assert.Equal(t, "topic:42", gotRoom)
}

func TestSSEDialRejectsBadResponses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non_200",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Forbidden", http.StatusForbidden)
			},
		},
		{
			name: "wrong_content_type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.WriteHeader(http.StatusOK)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			d := &SSEDialer{BaseURL: srv.URL, Client: srv.Client()}
			_, err := d.Dial(context.Background(), testRoom)
			assert.Error(t, err)
		})
	}
}
