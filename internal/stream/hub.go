// Package stream is the remote host: it pushes every simulation snapshot to
// WebSocket clients and feeds their keyboard and pointer events into the
// shared input session.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"steersim/engine/internal/input"
	"steersim/engine/internal/logging"
	"steersim/engine/internal/simulation"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultSendBuffer   = 16
	defaultTimeSync     = time.Second
	writeWait           = 5 * time.Second
)

// ErrHubClosed is returned by Run once Close has been called.
var ErrHubClosed = errors.New("stream hub closed")

// Options configures a Hub.
type Options struct {
	AllowedOrigins  []string
	MaxClients      int
	MaxPayloadBytes int64
	PingInterval    time.Duration
	// TimeSyncInterval paces time_sync messages; negative disables them.
	TimeSyncInterval time.Duration
	SendBuffer       int
	Authenticator    Authenticator
	Encoder          *Encoder
	Bandwidth        *BandwidthRegulator
	Gate             *input.Gate
	Validator        *input.Validator
	Metrics          *Metrics
	Logger           *logging.Logger
	Clock            func() time.Time
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	// Owned by the read goroutine.
	held    map[string]bool
	gesture *input.Gesture

	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub fans snapshots out to WebSocket clients and routes their input events.
type Hub struct {
	runner   *simulation.Runner
	opts     Options
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
	seq     atomic.Uint64
}

// NewHub wires a hub to the runner whose session receives client input.
func NewHub(runner *simulation.Runner, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = logging.L()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.TimeSyncInterval == 0 {
		opts.TimeSyncInterval = defaultTimeSync
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Authenticator == nil {
		opts.Authenticator = AllowAll{}
	}
	if opts.Validator == nil {
		opts.Validator = input.NewValidator(input.Limits{}, opts.Logger, nil)
	}
	if opts.Encoder == nil {
		opts.Encoder = NewEncoder(runner.Integrator().Config().Tuning, 0)
	}
	h := &Hub{
		runner:  runner,
		opts:    opts,
		logger:  opts.Logger.With(logging.String("component", "stream")),
		clients: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	//1.- Capacity and identity are checked before the upgrade so refusals are plain HTTP.
	h.mu.Lock()
	full := h.opts.MaxClients > 0 && len(h.clients) >= h.opts.MaxClients
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if full {
		h.logger.Warn("rejecting client: capacity reached", logging.Int("max_clients", h.opts.MaxClients))
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}
	identity, err := h.opts.Authenticator.Authenticate(r)
	if err != nil {
		h.logger.Warn("rejecting client: authentication failed", logging.String("remote", r.RemoteAddr), logging.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if identity == "" {
		identity = r.RemoteAddr
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.String("remote", r.RemoteAddr), logging.Error(err))
		return
	}
	if h.opts.MaxPayloadBytes > 0 {
		conn.SetReadLimit(h.opts.MaxPayloadBytes)
	}

	c := &client{
		id:   fmt.Sprintf("%s#%d", identity, h.seq.Add(1)),
		conn: conn,
		send: make(chan []byte, h.opts.SendBuffer),
		held: make(map[string]bool),
	}
	//2.- Greet with the current state so a client never waits a tick for its first frame.
	greeting, err := h.opts.Encoder.Encode(h.runner.Latest())
	if err != nil {
		greeting = nil
	}
	if !h.register(c, greeting) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.logger.Info("client connected", logging.String("client_id", c.id))

	go h.writePump(c)
	h.readPump(c)
	h.unregister(c)
}

// register admits c and queues greeting while holding the lock, so Close
// cannot close the send channel between the two.
func (h *Hub) register(c *client, greeting []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || (h.opts.MaxClients > 0 && len(h.clients) >= h.opts.MaxClients) {
		return false
	}
	h.clients[c.id] = c
	if greeting != nil {
		select {
		case c.send <- greeting:
		default:
		}
	}
	return true
}

// unregister returns the client's input to neutral and forgets its per-client state.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.close()

	//1.- A dropped connection is an implicit pointer release and key release.
	if c.gesture != nil {
		c.gesture.Cancel()
	}
	session := h.runner.Session()
	for code := range c.held {
		_ = session.KeyUp(code)
	}
	h.opts.Gate.Forget(c.id)
	h.opts.Validator.Forget(c.id)
	h.opts.Bandwidth.Forget(c.id)
	h.opts.Metrics.ForgetClient(c.id)
	h.logger.Info("client disconnected", logging.String("client_id", c.id))
}

func (h *Hub) readPump(c *client) {
	defer c.conn.Close()
	pongWait := 2 * h.opts.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("client read ended", logging.String("client_id", c.id), logging.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var event input.Event
		if err := json.Unmarshal(msg, &event); err != nil {
			//1.- Undecodable frames count toward the invalid burst as an unknown type.
			event = input.Event{}
		}
		verdict := h.opts.Validator.Validate(c.id, event)
		if !verdict.Accepted {
			if verdict.Disconnect {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid input"), time.Now().Add(writeWait))
				return
			}
			continue
		}
		decision := h.opts.Gate.Evaluate(input.Envelope{
			ClientID: c.id,
			Sequence: event.Sequence,
			SentAt:   event.SentAt(),
		}, event.Throttled())
		if !decision.Accepted {
			continue
		}
		h.apply(c, event)
	}
}

// apply routes one accepted event into the session.
func (h *Hub) apply(c *client, event input.Event) {
	session := h.runner.Session()
	switch event.Type {
	case input.EventKeyDown:
		//1.- Auto-repeat must not stack holds; the session counts one per client.
		if c.held[event.Code] {
			return
		}
		if err := session.KeyDown(event.Code); err == nil {
			c.held[event.Code] = true
		}
	case input.EventKeyUp:
		if !c.held[event.Code] {
			return
		}
		if err := session.KeyUp(event.Code); err == nil {
			delete(c.held, event.Code)
		}
	case input.EventPointerDown:
		if c.gesture != nil && !c.gesture.Done() {
			return
		}
		gesture, err := session.PointerDown(event.PointerID)
		if err != nil {
			h.logger.Debug("pointer down ignored", logging.String("client_id", c.id), logging.Error(err))
			return
		}
		c.gesture = gesture
	case input.EventPointerMove:
		c.gesture.Move(event.PointerID, event.MovementX, event.DevicePixelRatio)
	case input.EventPointerUp:
		c.gesture.Release(event.PointerID)
	case input.EventPointerCancel:
		c.gesture.Cancel()
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	var syncC <-chan time.Time
	if h.opts.TimeSyncInterval > 0 {
		syncTicker := time.NewTicker(h.opts.TimeSyncInterval)
		defer syncTicker.Stop()
		syncC = syncTicker.C
	}
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-syncC:
			//1.- Clock reports bypass the bandwidth budget.
			payload, err := h.opts.Encoder.EncodeTimeSync(h.opts.Clock(), h.runner.Latest().Tick)
			if err != nil {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Broadcast delivers payload to every client whose bandwidth budget and send
// queue allow it. Skipped clients pick up the next snapshot instead.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		if !h.opts.Bandwidth.Allow(id, len(payload)) {
			h.opts.Metrics.ObserveDrop(DropBandwidth)
			continue
		}
		select {
		case c.send <- payload:
			h.opts.Metrics.ObserveSent(id, len(payload))
		default:
			h.opts.Metrics.ObserveDrop(DropBackpressure)
		}
	}
}

// Run encodes each runner snapshot once and broadcasts it until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrHubClosed
	}
	snapshots := h.runner.Subscribe(ctx, h.opts.SendBuffer)
	for snap := range snapshots {
		payload, err := h.opts.Encoder.Encode(snap)
		if err != nil {
			h.logger.Warn("snapshot encode failed", logging.Uint64("tick", snap.Tick), logging.Error(err))
			continue
		}
		h.Broadcast(payload)
	}
	return ctx.Err()
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}
