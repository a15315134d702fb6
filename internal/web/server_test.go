package web

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/herdctl/internal/config"
	"github.com/nextlevelbuilder/herdctl/internal/fleet"
	"github.com/nextlevelbuilder/herdctl/internal/runner"
	"github.com/nextlevelbuilder/herdctl/pkg/protocol"
)

func newTestServer(t *testing.T) (*fleet.Manager, string) {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"herdctl.yaml":  "version: 1\nfleet:\n  name: web-test\nagents:\n  - path: agents/a.yaml\n  - path: agents/b.yaml\n",
		"agents/a.yaml": "name: alpha\nruntime: sdk\n",
		"agents/b.yaml": "name: beta\nruntime: sdk\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	registry := runner.NewRegistry()
	registry.Register(&runner.FuncRunner{BackendName: "sdk", Run: func(ctx context.Context, opts runner.Options, emit func(runner.Message) bool) error {
		return nil
	}})

	mgr := fleet.New(fleet.Options{
		ConfigPath:    dir,
		StateDir:      filepath.Join(dir, "state"),
		Runners:       registry,
		CheckInterval: time.Hour,
	})
	if err := mgr.Initialize(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		mgr.Stop(fleet.StopOptions{Timeout: 5 * time.Second, CancelOnTimeout: true, CancelTimeout: time.Second})
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := NewServer(&config.WebConfig{Enabled: true}, mgr)
	addr, start := StartTestServer(srv, ctx)
	start()
	return mgr, addr
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.ServerFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame protocol.ServerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestHealthEndpoint(t *testing.T) {
	_, addr := newTestServer(t)

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Status   string `json:"status"`
		Protocol int    `json:"protocol"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != fleet.StateInitialized || body.Protocol != protocol.ProtocolVersion {
		t.Errorf("health = %+v", body)
	}
}

func TestGreetingAndEventMirroring(t *testing.T) {
	mgr, addr := newTestServer(t)
	conn := dial(t, addr)

	// First frame is the fleet snapshot greeting.
	greeting := readFrame(t, conn)
	if greeting.Type != protocol.EventFleetStatus {
		t.Fatalf("greeting type = %q", greeting.Type)
	}

	if _, err := mgr.Trigger("alpha", fleet.TriggerOptions{Prompt: "hello"}); err != nil {
		t.Fatal(err)
	}

	// A job:created frame for alpha arrives among the trigger's events.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("no job:created frame")
		}
		frame := readFrame(t, conn)
		if frame.Type == protocol.EventJobCreated {
			break
		}
	}
}

func TestPingPong(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dial(t, addr)
	readFrame(t, conn) // greeting

	if err := conn.WriteJSON(protocol.ClientMessage{Type: protocol.ClientPing}); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame.Type != protocol.ServerPong {
		t.Errorf("frame type = %q, want pong", frame.Type)
	}
}

func TestAgentSubscriptionFilter(t *testing.T) {
	mgr, addr := newTestServer(t)
	conn := dial(t, addr)
	readFrame(t, conn) // greeting

	if err := conn.WriteJSON(protocol.ClientMessage{Type: protocol.ClientSubscribe, AgentName: "beta"}); err != nil {
		t.Fatal(err)
	}
	// Round-trip a ping so the subscribe is applied before triggering.
	if err := conn.WriteJSON(protocol.ClientMessage{Type: protocol.ClientPing}); err != nil {
		t.Fatal(err)
	}
	if frame := readFrame(t, conn); frame.Type != protocol.ServerPong {
		t.Fatalf("frame = %+v", frame)
	}

	if _, err := mgr.Trigger("alpha", fleet.TriggerOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Trigger("beta", fleet.TriggerOptions{}); err != nil {
		t.Fatal(err)
	}

	// Only beta's job events (and agent-less fleet frames) come through.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("no beta job:created frame")
		}
		frame := readFrame(t, conn)
		if frame.Type != protocol.EventJobCreated {
			continue
		}
		var payload struct {
			Job struct {
				Agent string `json:"agent"`
			} `json:"job"`
		}
		raw, _ := json.Marshal(frame.Payload)
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatal(err)
		}
		if payload.Job.Agent != "beta" {
			t.Fatalf("filtered client saw job for %q", payload.Job.Agent)
		}
		return
	}
}
