package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/logger"
)

func TestEchoRoundTrip(t *testing.T) {
	log := logger.Default()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := NewServer(w, r, log)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ws.OnMessage = func(data []byte, err error) {
			if err != nil {
				return
			}
			ws.Write(data)
		}
		ws.Listen()
	}))
	defer srv.Close()

	u, err := url.Parse("ws" + strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}
	client, err := NewClient(context.Background(), *u, log)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	got := make(chan []byte, 1)
	client.OnMessage = func(data []byte, err error) {
		if err == nil {
			got <- data
		}
	}
	client.Listen()

	client.Write([]byte("marco"))
	select {
	case data := <-got:
		if string(data) != "marco" {
			t.Fatalf("echo = %q", data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no echo")
	}
}

func TestEarlyMessageWaitsForListen(t *testing.T) {
	log := logger.Default()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := NewServer(w, r, log)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ws.Listen()
		ws.Write([]byte("offer"))
	}))
	defer srv.Close()

	u, _ := url.Parse("ws" + strings.TrimPrefix(srv.URL, "http"))
	client, err := NewClient(context.Background(), *u, log)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	// Let the server's first message land in the connection buffer before
	// the handler exists. Listen must still deliver it.
	time.Sleep(50 * time.Millisecond)
	got := make(chan []byte, 1)
	client.OnMessage = func(data []byte, err error) {
		if err == nil {
			got <- data
		}
	}
	client.Listen()

	select {
	case data := <-got:
		if string(data) != "offer" {
			t.Fatalf("got %q, want the pre-listen message", data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("message sent before Listen was lost")
	}
}

func TestCloseSignalsDone(t *testing.T) {
	log := logger.Default()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := NewServer(w, r, log)
		if err == nil {
			ws.Listen()
		}
	}))
	defer srv.Close()

	u, _ := url.Parse("ws" + strings.TrimPrefix(srv.URL, "http"))
	client, err := NewClient(context.Background(), *u, log)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client.Listen()

	client.Close()
	client.Close() // safe to repeat
	select {
	case <-client.Done:
	case <-time.After(3 * time.Second):
		t.Fatal("Done never signalled")
	}

	// Writes after close are swallowed, not panics.
	client.Write([]byte("late"))
}

func TestDialFailure(t *testing.T) {
	u, _ := url.Parse("ws://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := NewClient(ctx, *u, logger.Default()); err == nil {
		t.Fatal("dial to a dead endpoint succeeded")
	}
}
