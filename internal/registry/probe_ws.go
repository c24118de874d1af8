package registry

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// probeWebSocket opens a short-lived connection and sends a ping frame.
// gorilla/websocket consumes Pong control frames internally through the
// handler registered below rather than surfacing them from ReadMessage, so
// a standards-compliant backend that only ever answers with a Pong never
// produces a data frame for ReadMessage to return. Success is therefore
// detected via the pong handler itself; ReadMessage only matters for
// catching an unexpected close. A failed dial or ping write, or an
// unexpected close, reports UNHEALTHY; a backend that accepts the
// connection but sends no pong within timeout is UNKNOWN, since the
// protocol gives no stronger health signal over WebSocket.
func probeWebSocket(ctx context.Context, endpoint string, timeout time.Duration) HealthStatus {
	wsURL := toWebSocketURL(endpoint)

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return HealthUnhealthy
	}
	defer conn.Close()

	ponged := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case ponged <- struct{}{}:
		default:
		}
		return nil
	})
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
		return HealthUnhealthy
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.ReadMessage()
		readErr <- err
	}()

	select {
	case <-ponged:
		return HealthHealthy
	case err := <-readErr:
		select {
		case <-ponged:
			return HealthHealthy
		default:
		}
		if err == nil {
			return HealthHealthy
		}
		if websocket.IsUnexpectedCloseError(err) {
			return HealthUnhealthy
		}
		return HealthUnknown
	}
}

func toWebSocketURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if !strings.HasSuffix(u.Path, "/mcp") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/mcp"
	}
	return u.String()
}
