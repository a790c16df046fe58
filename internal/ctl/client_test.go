package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/commdesk/commsync/internal/api"
)

func serveSocket(t *testing.T, handler http.Handler) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "commsync-ctl-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	socketPath := filepath.Join(dir, "d.sock")
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return socketPath
}

func TestStatusAndList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.StatusResponse{Session: "main", State: "ready"})
	})
	mux.HandleFunc("/v1/conversations", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]api.ConversationSummary{{Key: "5551234567", UnreadCount: 2}})
	})
	c := New(serveSocket(t, mux))

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Session != "main" || st.State != "ready" {
		t.Errorf("status = %+v", st)
	}

	convs, err := c.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].Key != "5551234567" {
		t.Errorf("list = %+v", convs)
	}
}

func TestSendSurfacesAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/conversations/bad/messages", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid send: empty body"}`)
	})
	c := New(serveSocket(t, mux))

	_, err := c.Send(context.Background(), "bad", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "invalid send: empty body (status 400)" {
		t.Errorf("error = %q", got)
	}
}

func TestWatchParsesEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: conversation.updated\ndata: {\"key\":\"5551234567\"}\n\n")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "event: message.send_ack\ndata: {\"key\":\"5551234567\",\"client_msg_id\":\"local-1\"}\n\n")
	})
	c := New(serveSocket(t, mux))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []WatchEvent
	err := c.Watch(ctx, "", func(evt WatchEvent) { got = append(got, evt) })
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2 (heartbeat skipped)", len(got))
	}
	if got[0].Kind != "conversation.updated" || got[1].Kind != "message.send_ack" {
		t.Errorf("kinds = %q, %q", got[0].Kind, got[1].Kind)
	}
	var payload struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(got[0].Data, &payload); err != nil || payload.Key != "5551234567" {
		t.Errorf("payload = %s, err = %v", got[0].Data, err)
	}
}
