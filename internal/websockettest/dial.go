// Package websockettest holds client helpers for exercising the stream hub
// over a real WebSocket connection.
package websockettest

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"steersim/engine/internal/input"
)

const ioTimeout = 2 * time.Second

// URL rewrites an httptest server URL to its ws:// form plus path.
func URL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

// Dial opens a client connection with the default dialer.
func Dial(urlStr string, header http.Header) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.Dial(urlStr, header)
}

// DialIgnoringPongs establishes a WebSocket connection and disables the
// automatic pong responses so that tests can simulate an unresponsive peer.
func DialIgnoringPongs(urlStr string, header http.Header) (*websocket.Conn, *http.Response, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	conn.SetPingHandler(func(string) error { return nil })
	conn.SetPongHandler(func(string) error { return nil })
	return conn, resp, nil
}

// SendEvent writes one input event as JSON.
func SendEvent(conn *websocket.Conn, event input.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	return conn.WriteJSON(event)
}

// ReadSnapshot reads the next text frame and decodes it as a snapshot document.
func ReadSnapshot(conn *websocket.Conn) (*structpb.Struct, error) {
	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))
	kind, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected frame type %d", kind)
	}
	doc := &structpb.Struct{}
	if err := protojson.Unmarshal(payload, doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return doc, nil
}

// Tick extracts the tick number from a snapshot document.
func Tick(doc *structpb.Struct) uint64 {
	return uint64(doc.GetFields()["tick"].GetNumberValue())
}
