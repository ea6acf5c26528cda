package controlbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"camrelay/internal/logging"
	"camrelay/internal/services"
	"camrelay/internal/supervisor"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatal("embedded NATS server not ready for connections")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func connect(t *testing.T, srv *server.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

type fakeDispatcher struct {
	mu       sync.Mutex
	commands []supervisor.Command
	results  func(cmd supervisor.Command) ([]supervisor.Result, error)
}

func (f *fakeDispatcher) Dispatch(_ context.Context, cmd supervisor.Command) ([]supervisor.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
	if f.results != nil {
		return f.results(cmd)
	}
	return []supervisor.Result{{Device: cmd.Target, CorrelationID: "corr-1", Action: string(cmd.Action), Status: "success", Response: "ok"}}, nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands)
}

func (f *fakeDispatcher) last() supervisor.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[len(f.commands)-1]
}

func startBus(t *testing.T, dispatcher Dispatcher) (*Bus, *nats.Conn) {
	t.Helper()
	srv := runServer(t)
	bus := New(connect(t, srv), "cams", dispatcher, logging.NewNop())
	if err := bus.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })
	return bus, connect(t, srv)
}

func request(t *testing.T, nc *nats.Conn, subject string, body []byte) Reply {
	t.Helper()
	msg, err := nc.Request(subject, body, 5*time.Second)
	if err != nil {
		t.Fatalf("request %s: %v", subject, err)
	}
	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("decode reply %q: %v", msg.Data, err)
	}
	return reply
}

func TestLifecycleRequest(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	_, client := startBus(t, dispatcher)

	reply := request(t, client, "cams.FRONT_DOOR.restart", nil)
	if reply.Status != "success" || reply.Response != "ok" || reply.CorrelationID != "corr-1" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	cmd := dispatcher.last()
	if cmd.Target != "FRONT_DOOR" || cmd.Action != supervisor.ActionRestart {
		t.Fatalf("dispatched %+v", cmd)
	}
}

func TestControlRequestCarriesArgs(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	_, client := startBus(t, dispatcher)

	body, _ := json.Marshal(Request{Args: map[string]string{"state": "on"}})
	request(t, client, "cams.porch.power", body)
	cmd := dispatcher.last()
	if cmd.Action != supervisor.ActionControl || cmd.Control.Action != "power" || cmd.Control.Args["state"] != "on" {
		t.Fatalf("dispatched %+v", cmd)
	}
}

func TestFanOutUsesAllToken(t *testing.T) {
	dispatcher := &fakeDispatcher{results: func(cmd supervisor.Command) ([]supervisor.Result, error) {
		return []supervisor.Result{
			{Device: "A", Status: "success", Response: "streaming"},
			{Device: "B", Status: "error", Response: "boom", Err: errors.New("boom")},
		}, nil
	}}
	_, client := startBus(t, dispatcher)

	reply := request(t, client, "cams.all.state", nil)
	if dispatcher.last().Target != supervisor.AllDevices {
		t.Fatalf("target = %q", dispatcher.last().Target)
	}
	if reply.Status != "error" || len(reply.Results) != 2 {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestSlowCameraDoesNotBlockOthers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	dispatcher := &fakeDispatcher{results: func(cmd supervisor.Command) ([]supervisor.Result, error) {
		if cmd.Target == "A" {
			close(started)
			<-release
		}
		return []supervisor.Result{{Device: cmd.Target, Status: "success", Response: "ok"}}, nil
	}}
	_, client := startBus(t, dispatcher)
	defer close(release)

	if err := client.PublishRequest("cams.A.pan", nats.NewInbox(), nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("control on A never reached the dispatcher")
	}

	began := time.Now()
	reply := request(t, client, "cams.B.start", nil)
	if reply.Status != "success" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if elapsed := time.Since(began); elapsed > time.Second {
		t.Fatalf("start on B waited %s behind A", elapsed)
	}
}

func TestDispatchErrorIsReported(t *testing.T) {
	dispatcher := &fakeDispatcher{results: func(supervisor.Command) ([]supervisor.Result, error) {
		return nil, services.Wrap(services.ErrUnknownDevice, "router", "stop", "GHOST", nil)
	}}
	_, client := startBus(t, dispatcher)

	reply := request(t, client, "cams.GHOST.stop", nil)
	if reply.Status != "error" || reply.Kind != "unknown_device" {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestMalformedBodyIsRejected(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	_, client := startBus(t, dispatcher)

	reply := request(t, client, "cams.porch.power", []byte("{not json"))
	if reply.Status != "error" || reply.Kind != "validation" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if dispatcher.count() != 0 {
		t.Fatal("malformed request reached the dispatcher")
	}
}

func TestStateChangesArePublished(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	bus, client := startBus(t, dispatcher)

	sub, err := client.SubscribeSync(bus.StateSubject("FRONT"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	bus.Observe(supervisor.Transition{
		Device: "FRONT",
		From:   supervisor.StateConnecting,
		To:     supervisor.StateReconnecting,
		Err:    services.Wrap(services.ErrNetwork, "session", "open", "refused", nil),
		At:     time.Now(),
	})

	msg, err := sub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	var state StateMessage
	if err := json.Unmarshal(msg.Data, &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Device != "FRONT" || state.From != "connecting" || state.To != "reconnecting" || state.ErrorKind != "network" {
		t.Fatalf("unexpected state message %+v", state)
	}
	if dispatcher.count() != 0 {
		t.Fatal("state publication was treated as a command")
	}
}

func TestParseSubject(t *testing.T) {
	bus := &Bus{prefix: "cams"}
	cases := []struct {
		subject string
		camera  string
		action  string
		ok      bool
	}{
		{"cams.FRONT.start", "FRONT", "start", true},
		{"cams.FRONT", "", "", false},
		{"other.FRONT.start", "", "", false},
		{"cams..start", "", "", false},
	}
	for _, tc := range cases {
		camera, action, ok := bus.parseSubject(tc.subject)
		if ok != tc.ok || camera != tc.camera || action != tc.action {
			t.Fatalf("parseSubject(%q) = %q, %q, %v", tc.subject, camera, action, ok)
		}
	}
}

func TestObserveAfterCloseIsIgnored(t *testing.T) {
	bus, _ := startBus(t, &fakeDispatcher{})
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	bus.Observe(supervisor.Transition{Device: "A", To: supervisor.StateStreaming})
	if bus.Dropped() != 0 {
		t.Fatalf("dropped = %d", bus.Dropped())
	}
}
