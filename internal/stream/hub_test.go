package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"steersim/engine/internal/input"
	"steersim/engine/internal/logging"
	"steersim/engine/internal/physics"
	"steersim/engine/internal/simulation"
	"steersim/engine/internal/websockettest"
)

func newTestRunner(t *testing.T, cfg physics.Config) *simulation.Runner {
	t.Helper()
	ig, err := physics.NewIntegrator(cfg, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("integrator: %v", err)
	}
	scale := input.PointerScale{AnglePerWidth: 2 * cfg.Tuning.MaxWheelAngle, ReferenceWidth: 1000}
	runner := simulation.NewRunner(ig, input.NewSession(scale, logging.NewTestLogger()), logging.NewTestLogger())
	t.Cleanup(runner.Close)
	return runner
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHubStreamsSnapshotsAndRoutesKeys(t *testing.T) {
	runner := newTestRunner(t, physics.SimpleConfig())
	hub := NewHub(runner, Options{Logger: logging.NewTestLogger(), PingInterval: time.Second})
	srv := newTestServer(t, hub)

	conn, _, err := websockettest.Dial(websockettest.URL(srv.URL, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	//1.- The greeting is the current state.
	greeting, err := websockettest.ReadSnapshot(conn)
	if err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if websockettest.Tick(greeting) != 0 {
		t.Fatalf("expected tick 0 greeting, got %d", websockettest.Tick(greeting))
	}

	//2.- Key events reach the session.
	if err := websockettest.SendEvent(conn, input.Event{Type: input.EventKeyDown, Code: input.KeyW, Sequence: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "throttle input", func() bool {
		return runner.Advance().Input.Throttle == input.ThrottleAccelerate
	})

	//3.- Broadcast ticks follow the runner.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()
	go func() { _ = runner.Run(ctx, 200, nil) }()
	var tick uint64
	for i := 0; i < 50 && tick == 0; i++ {
		doc, err := websockettest.ReadSnapshot(conn)
		if err != nil {
			t.Fatalf("read broadcast: %v", err)
		}
		tick = websockettest.Tick(doc)
	}
	if tick == 0 {
		t.Fatalf("expected broadcast snapshots past tick 0")
	}

	//4.- Disconnecting releases the keys the client held.
	conn.Close()
	waitFor(t, "client removal", func() bool { return hub.ClientCount() == 0 })
	if snap := runner.Advance(); snap.Input.Throttle != input.ThrottleNone {
		t.Fatalf("expected keys released on disconnect, got %v", snap.Input.Throttle)
	}
}

func TestHubKeepsKeysHeldByRemainingClients(t *testing.T) {
	runner := newTestRunner(t, physics.SimpleConfig())
	hub := NewHub(runner, Options{Logger: logging.NewTestLogger(), TimeSyncInterval: -1})
	srv := newTestServer(t, hub)

	dial := func() *websocket.Conn {
		conn, _, err := websockettest.Dial(websockettest.URL(srv.URL, "/ws"), nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		if _, err := websockettest.ReadSnapshot(conn); err != nil {
			t.Fatalf("read greeting: %v", err)
		}
		return conn
	}
	send := func(conn *websocket.Conn, events ...input.Event) {
		for _, event := range events {
			if err := websockettest.SendEvent(conn, event); err != nil {
				t.Fatalf("send: %v", err)
			}
		}
	}
	steer := func(want input.SteerKey) func() bool {
		return func() bool { return runner.Advance().Input.Steer == want }
	}

	//1.- The second driver holds W and D, the first holds W and A (A wins the tie-break).
	second := dial()
	defer second.Close()
	send(second,
		input.Event{Type: input.EventKeyDown, Code: input.KeyW, Sequence: 1},
		input.Event{Type: input.EventKeyDown, Code: input.KeyD, Sequence: 2})
	waitFor(t, "second driver keys", steer(input.SteerRight))

	first := dial()
	send(first,
		input.Event{Type: input.EventKeyDown, Code: input.KeyW, Sequence: 1},
		input.Event{Type: input.EventKeyDown, Code: input.KeyW, Sequence: 2},
		input.Event{Type: input.EventKeyDown, Code: input.KeyA, Sequence: 3})
	waitFor(t, "first driver keys", steer(input.SteerLeft))

	//2.- The first driver leaves; only its own holds are released.
	first.Close()
	waitFor(t, "first driver release", steer(input.SteerRight))
	waitFor(t, "first driver forgotten", func() bool { return hub.ClientCount() == 1 })
	for i := 0; i < 5; i++ {
		if got := runner.Advance().Input.Throttle; got != input.ThrottleAccelerate {
			t.Fatalf("throttle dropped to %v while the second driver still holds W", got)
		}
		time.Sleep(5 * time.Millisecond)
	}

	//3.- A repeated keydown from one client counts once, so one keyup releases it.
	send(second, input.Event{Type: input.EventKeyDown, Code: input.KeyW, Sequence: 3},
		input.Event{Type: input.EventKeyUp, Code: input.KeyW, Sequence: 4})
	waitFor(t, "second driver release", func() bool {
		return runner.Advance().Input.Throttle == input.ThrottleNone
	})
}

func TestHubCancelsGestureOnDisconnect(t *testing.T) {
	runner := newTestRunner(t, physics.TrailerConfig())
	hub := NewHub(runner, Options{Logger: logging.NewTestLogger()})
	srv := newTestServer(t, hub)

	conn, _, err := websockettest.Dial(websockettest.URL(srv.URL, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := websockettest.ReadSnapshot(conn); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	events := []input.Event{
		{Type: input.EventPointerDown, PointerID: 4, Sequence: 1},
		{Type: input.EventPointerMove, PointerID: 4, MovementX: 50, DevicePixelRatio: 1, Sequence: 2},
	}
	for _, event := range events {
		if err := websockettest.SendEvent(conn, event); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	waitFor(t, "gesture start", func() bool { return runner.Session().Gesture() != nil })

	conn.Close()
	waitFor(t, "gesture cancel", func() bool { return runner.Session().Gesture() == nil })
}

func TestHubRejectsUnauthenticatedClients(t *testing.T) {
	runner := newTestRunner(t, physics.SimpleConfig())
	authenticator, err := NewTokenAuthenticator("secret")
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	hub := NewHub(runner, Options{Logger: logging.NewTestLogger(), Authenticator: authenticator, MaxClients: 1})
	srv := newTestServer(t, hub)
	url := websockettest.URL(srv.URL, "/ws")

	_, resp, err := websockettest.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %v %v", resp, err)
	}

	token, err := authenticator.Verifier().Issue("driver-1", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	header := http.Header{"X-Auth-Token": []string{token}}
	conn, _, err := websockettest.Dial(url, header)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	defer conn.Close()
	waitFor(t, "registration", func() bool { return hub.ClientCount() == 1 })

	//1.- The second client exceeds capacity.
	_, resp, err = websockettest.Dial(url+"?auth_token="+token, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 at capacity, got %v %v", resp, err)
	}
}

func TestHubSendsTimeSync(t *testing.T) {
	runner := newTestRunner(t, physics.SimpleConfig())
	now := time.UnixMilli(1_700_000_000_000)
	hub := NewHub(runner, Options{
		Logger:           logging.NewTestLogger(),
		TimeSyncInterval: 20 * time.Millisecond,
		Clock:            func() time.Time { return now },
	})
	srv := newTestServer(t, hub)
	runner.Advance()

	conn, _, err := websockettest.Dial(websockettest.URL(srv.URL, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	//1.- Skip the greeting; the next message is the clock report.
	for i := 0; i < 5; i++ {
		doc, err := websockettest.ReadSnapshot(conn)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if doc.GetFields()["type"].GetStringValue() != "time_sync" {
			continue
		}
		if got := int64(doc.GetFields()["server_ms"].GetNumberValue()); got != now.UnixMilli() {
			t.Fatalf("expected server_ms %d, got %d", now.UnixMilli(), got)
		}
		if websockettest.Tick(doc) != 1 {
			t.Fatalf("expected tick 1, got %d", websockettest.Tick(doc))
		}
		return
	}
	t.Fatalf("no time_sync message received")
}

func TestHubEnforcesAllowedOrigins(t *testing.T) {
	runner := newTestRunner(t, physics.SimpleConfig())
	hub := NewHub(runner, Options{Logger: logging.NewTestLogger(), AllowedOrigins: []string{"https://ok.example"}})
	srv := newTestServer(t, hub)
	url := websockettest.URL(srv.URL, "/ws")

	_, resp, err := websockettest.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign origin, got %v %v", resp, err)
	}
	conn, _, err := websockettest.Dial(url, http.Header{"Origin": []string{"https://ok.example"}})
	if err != nil {
		t.Fatalf("dial allowed origin: %v", err)
	}
	conn.Close()
}

func TestHubDropsUnresponsiveClients(t *testing.T) {
	runner := newTestRunner(t, physics.SimpleConfig())
	hub := NewHub(runner, Options{Logger: logging.NewTestLogger(), PingInterval: 50 * time.Millisecond})
	srv := newTestServer(t, hub)

	conn, _, err := websockettest.DialIgnoringPongs(websockettest.URL(srv.URL, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "registration", func() bool { return hub.ClientCount() == 1 })
	waitFor(t, "pong timeout", func() bool { return hub.ClientCount() == 0 })
}

func TestHubDisconnectsInvalidInputBursts(t *testing.T) {
	runner := newTestRunner(t, physics.SimpleConfig())
	validator := input.NewValidator(input.Limits{InvalidBurstLimit: 3}, logging.NewTestLogger(), nil)
	hub := NewHub(runner, Options{Logger: logging.NewTestLogger(), Validator: validator, TimeSyncInterval: -1})
	srv := newTestServer(t, hub)

	conn, _, err := websockettest.Dial(websockettest.URL(srv.URL, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := websockettest.ReadSnapshot(conn); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_, err = websockettest.ReadSnapshot(conn)
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestRegisterQueuesGreetingBeforeClose(t *testing.T) {
	runner := newTestRunner(t, physics.SimpleConfig())
	hub := NewHub(runner, Options{Logger: logging.NewTestLogger()})

	c := &client{id: "driver#1", send: make(chan []byte, 1), held: map[string]bool{}}
	if !hub.register(c, []byte("hello")) {
		t.Fatalf("expected registration to succeed")
	}
	hub.Close()

	//1.- The greeting is queued before Close can close the channel.
	if payload, ok := <-c.send; !ok || string(payload) != "hello" {
		t.Fatalf("expected greeting before close, got %q ok=%v", payload, ok)
	}
	if _, ok := <-c.send; ok {
		t.Fatalf("expected send channel closed")
	}

	//2.- A closed hub admits nobody and never touches the channel.
	late := &client{id: "driver#2", send: make(chan []byte, 1), held: map[string]bool{}}
	if hub.register(late, []byte("hello")) {
		t.Fatalf("closed hub must reject registration")
	}
	if len(late.send) != 0 {
		t.Fatalf("rejected client must not be greeted")
	}
}

func TestBroadcastAppliesBandwidthAndBackpressure(t *testing.T) {
	runner := newTestRunner(t, physics.SimpleConfig())
	now := time.Unix(0, 0)
	metrics := NewMetrics()
	hub := NewHub(runner, Options{
		Logger:    logging.NewTestLogger(),
		Bandwidth: NewBandwidthRegulator(30, func() time.Time { return now }),
		Metrics:   metrics,
	})
	fast := &client{id: "fast", send: make(chan []byte, 1)}
	hub.clients[fast.id] = fast

	//1.- First payload fits, the second finds the queue full.
	hub.Broadcast(make([]byte, 10))
	hub.Broadcast(make([]byte, 10))
	//2.- The third exceeds the remaining byte budget.
	hub.Broadcast(make([]byte, 20))

	if got := len(fast.send); got != 1 {
		t.Fatalf("expected one queued payload, got %d", got)
	}
	drops := metrics.Drops()
	if drops[DropBackpressure] != 1 || drops[DropBandwidth] != 1 {
		t.Fatalf("unexpected drops %#v", drops)
	}
	if metrics.Sent() != 1 {
		t.Fatalf("expected one delivery, got %d", metrics.Sent())
	}
}
