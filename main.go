// Package main is the entry point: a terminal chat client that keeps its
// message list in sync with a server over SSE (or WebSocket) push with
// polling as fallback, and reports room presence while it runs.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/dmarren/roomsync/internal/api"
	"github.com/dmarren/roomsync/internal/devserver"
	"github.com/dmarren/roomsync/internal/model"
	"github.com/dmarren/roomsync/internal/presence"
	"github.com/dmarren/roomsync/internal/push"
	msync "github.com/dmarren/roomsync/internal/sync"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	roomKey := os.Getenv("ROOM")
	if roomKey == "" {
		roomKey = "topic:general"
	}
	room, err := model.ParseRoomRef(roomKey)
	if err != nil {
		log.Fatalf("invalid ROOM: %v", err)
	}

	sender := os.Getenv("SENDER")
	if sender == "" {
		sender = "anonymous"
	}

	// With no SERVER_URL we run the in-memory dev server and talk to
	// ourselves, which is enough to exercise the whole pipeline locally.
	serverURL := os.Getenv("SERVER_URL")
	var local *http.Server
	if serverURL == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		local = &http.Server{
			Addr:              "127.0.0.1:" + port,
			Handler:           devserver.New().Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Printf("Dev server starting at %s", local.Addr)
			if err := local.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("dev server error: %v", err)
			}
		}()
		serverURL = "http://" + local.Addr
	}

	client := api.New(serverURL)
	client.SetClientID(uuid.NewString())
	client.SetSendLimiter(30, time.Minute)

	view := msync.NewMessageList(msync.MessageListOptions{})
	view.OnAppend = func(m model.Message) {
		fmt.Printf("[%s] %s: %s\n", m.FormattedTime, m.SenderName, m.Content)
	}

	coord := msync.New(view)
	coord.Activate(room, 0)
	defer coord.Deactivate()

	var dialer push.Dialer
	if os.Getenv("PUSH_TRANSPORT") == "ws" {
		dialer = &push.WSDialer{BaseURL: serverURL}
	} else {
		dialer = &push.SSEDialer{BaseURL: serverURL}
	}

	channel := push.NewChannel(dialer, coord, room, push.Options{})
	coord.SetPushProbe(channel.Connected)
	channel.Open(ctx)
	defer channel.Close()

	poller := msync.NewPoller(coord, client, 0)
	go poller.Run(ctx)

	reporter := presence.NewReporter(client, room, 0)
	go reporter.Run(ctx)

	aggregator := presence.NewAggregator(client, 0)
	aggregator.Register(room, &countLogger{room: room})
	go aggregator.Run(ctx)

	// Stdin drives the send path; every other loop runs until the signal
	// context is cancelled.
	go readInput(ctx, client, room, sender)

	log.Printf("joined %s as %s (server %s)", room, sender, serverURL)
	<-ctx.Done()
	log.Printf("Shutdown signal received; shutting down...")

	if local != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := local.Shutdown(shutdownCtx); err != nil {
			log.Println(err)
		}
	}
}

func readInput(ctx context.Context, client *api.Client, room model.RoomRef, sender string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		content := scanner.Text()
		if content == "" {
			continue
		}
		err := client.SendMessage(ctx, room, sender, content)
		switch {
		case errors.Is(err, api.ErrSendLimited):
			fmt.Println("(sending too fast; message dropped)")
		case err != nil:
			log.Printf("[error] failed to send message: %v", err)
		}
	}
}

// countLogger surfaces active-count updates on the terminal.
type countLogger struct {
	room model.RoomRef
}

func (c *countLogger) SetCount(n int) {
	log.Printf("%s active now: %d users", c.room, n)
}

func (c *countLogger) SetDisabled() {
	log.Printf("%s: %s", c.room, presence.DisabledIndicator)
}
