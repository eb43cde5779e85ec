package channel

import (
	"context"
	"time"

	"nhooyr.io/websocket"
)

const (
	pingInterval = 20 * time.Second
	pingTimeout  = 5 * time.Second
)

// KeepAlive pings the connection at a fixed interval until the context ends
// or a ping fails. Run it in its own goroutine; a failed ping means the peer
// is gone and the read loop will surface the close.
func KeepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
