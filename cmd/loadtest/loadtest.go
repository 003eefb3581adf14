// Loadtest opens many push subscriptions against a server, posts a burst
// of messages, and reports how many deliveries each subscriber saw.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmarren/roomsync/internal/api"
	"github.com/dmarren/roomsync/internal/model"
	"github.com/dmarren/roomsync/internal/push"
)

func main() {
	serverURL := os.Getenv("SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	clients := 25
	if v := os.Getenv("CLIENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("invalid CLIENTS: %v", err)
		}
		clients = n
	}
	messages := 50
	if v := os.Getenv("MESSAGES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("invalid MESSAGES: %v", err)
		}
		messages = n
	}

	room := model.RoomRef{Type: model.RoomTypeTopic, ID: "loadtest"}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var delivered atomic.Int64
	var wg sync.WaitGroup

	dialer := &push.SSEDialer{BaseURL: serverURL}
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream, err := dialer.Dial(ctx, room)
			if err != nil {
				log.Printf("[error] dial failed: %v", err)
				return
			}
			defer stream.Close()
			for {
				ev, err := stream.Next(ctx)
				if err != nil {
					return
				}
				if ev.Type == "message" && ev.Message != nil {
					delivered.Add(1)
				}
			}
		}()
	}

	// Let subscriptions settle before the burst.
	time.Sleep(500 * time.Millisecond)

	client := api.New(serverURL)
	for i := 0; i < messages; i++ {
		if err := client.SendMessage(ctx, room, "loadtest", fmt.Sprintf("message %d", i)); err != nil {
			log.Printf("[error] send %d failed: %v", i, err)
		}
	}

	// Give deliveries a moment to drain, then tear the streams down.
	time.Sleep(2 * time.Second)
	cancel()
	wg.Wait()

	want := int64(clients * messages)
	log.Printf("delivered %d/%d events across %d subscribers", delivered.Load(), want, clients)
}
