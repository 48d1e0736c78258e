package main

import (
	"fmt"
	"net"
	"strings"
)

// listenerURL returns a human-friendly URL for a listener address and path.
// 1.- Pick the scheme: ws/wss for the stream endpoint, http/https otherwise.
// 2.- Normalise the configured address so the message always shows a reachable host:port pair.
func listenerURL(address, path string, websocket, tlsEnabled bool) string {
	scheme := "http"
	if websocket {
		scheme = "ws"
	}
	if tlsEnabled {
		scheme += "s"
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s%s", scheme, normaliseHostPort(address), path)
}

func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	host = strings.TrimSpace(host)
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
