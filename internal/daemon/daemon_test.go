package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/commdesk/commsync/internal/api"
	"github.com/commdesk/commsync/internal/bus"
	"github.com/commdesk/commsync/internal/cache"
	"github.com/commdesk/commsync/internal/config"
	"github.com/commdesk/commsync/internal/contactkey"
	"github.com/commdesk/commsync/internal/gateway"
	"github.com/commdesk/commsync/internal/hub"
	"github.com/commdesk/commsync/internal/lock"
	"github.com/commdesk/commsync/internal/persist"
	"github.com/commdesk/commsync/internal/pipeline"
	"github.com/commdesk/commsync/internal/scheduler"
	"github.com/commdesk/commsync/internal/status"
	"github.com/commdesk/commsync/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type stubGateway struct{}

func (stubGateway) ListConversations(context.Context) ([]gateway.ConversationSummary, error) {
	return nil, nil
}

func (stubGateway) GetConversation(_ context.Context, k contactkey.Key) (*gateway.RemoteConversation, error) {
	return &gateway.RemoteConversation{Key: k}, nil
}

func (stubGateway) SendMessage(context.Context, contactkey.Key, string) (*gateway.SendReceipt, error) {
	return &gateway.SendReceipt{ID: "srv-1", Status: gateway.StatusSent, CreatedAt: time.Now()}, nil
}

func (stubGateway) MarkRead(context.Context, contactkey.Key) error { return nil }

func (stubGateway) DeleteConversation(context.Context, contactkey.Key) error { return nil }

func (stubGateway) SaveContact(context.Context, contactkey.Key, gateway.ContactDetails) (string, error) {
	return "crm-1", nil
}

func TestDaemonLifecycle(t *testing.T) {
	// Use a short path to avoid the 104-char unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "commsync-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	sessionName := "test"
	sessionDir := filepath.Join(tmpDir, sessionName)
	socketPath := filepath.Join(sessionDir, "d.sock")

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		t.Fatal(err)
	}

	lk, err := lock.Acquire(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(sessionDir, "commsync.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	c := cache.New(b, logger)
	gw := stubGateway{}
	sched := scheduler.New(gw, c, machine, logger, scheduler.Options{Interval: time.Hour, FetchTimeout: time.Second})
	sender := pipeline.NewSender(gw, c, sched, logger, time.Second)
	h := hub.New(gw, c, sched, sender, db, b, machine, logger)
	engine := persist.NewEngine(db, c, b, machine, logger)
	engine.Start(context.Background())
	defer engine.Stop()

	cfg := &config.Config{}
	cfg.Gateway.BaseURL = "https://gateway.example.com"
	p := Params{SessionName: sessionName, Config: cfg, SocketPath: socketPath}

	srv, err := NewServer(p, logger, api.NewHandler(sessionName, h, logger), prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permission = %o, want 0600", perm)
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}

	resp, err := client.Get("http://commsync/v1/status")
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	defer resp.Body.Close()
	var st api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Session != sessionName {
		t.Errorf("session = %q, want %q", st.Session, sessionName)
	}

	// A send over the socket must land in the cache and, via the
	// persist engine, in the store.
	sendResp, err := client.Post("http://commsync/v1/conversations/5551234567/messages", "application/json",
		strings.NewReader(`{"body":"hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer sendResp.Body.Close()
	if sendResp.StatusCode != http.StatusAccepted {
		t.Fatalf("send status = %d", sendResp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := db.MessageCount(); n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("sent message never persisted")
}

func TestServerStopRemovesSocket(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "commsync-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	socketPath := filepath.Join(tmpDir, "d.sock")

	cfg := &config.Config{}
	p := Params{SessionName: "test", Config: cfg, SocketPath: socketPath}

	b := bus.New()
	c := cache.New(b, nil)
	machine := status.NewMachine(b)
	gw := stubGateway{}
	sched := scheduler.New(gw, c, machine, nil, scheduler.Options{Interval: time.Hour})
	sender := pipeline.NewSender(gw, c, sched, nil, time.Second)

	db, err := store.Open(filepath.Join(tmpDir, "commsync.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	h := hub.New(gw, c, sched, sender, db, b, machine, nil)
	srv, err := NewServer(p, zap.NewNop(), api.NewHandler("test", h, nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	time.Sleep(50 * time.Millisecond)

	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket file still present after Stop")
	}
}
