package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// StreamEvent is one message from the live stream.
type StreamEvent struct {
	Type  string `json:"type"`
	Event *struct {
		Tick    uint64 `json:"tick"`
		Kind    string `json:"kind"`
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	} `json:"event,omitempty"`
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
}

// Watch follows the live stream, calling fn for every message until ctx is
// cancelled or the connection drops.
func (o *Observer) Watch(ctx context.Context, fn func(StreamEvent)) error {
	u := "ws" + strings.TrimPrefix(o.BaseURL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		var ev StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		fn(ev)
	}
}
