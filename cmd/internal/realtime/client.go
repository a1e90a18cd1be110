package realtime

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Client represents one connected websocket session.
//
// Design notes:
//   - Send is intentionally NOT closed by the server to avoid panics from
//     concurrent broadcasters.
//   - done signals the connection goroutines to stop.
//   - Close is idempotent; the close callback runs at most once, on its own
//     goroutine, and receives the reason of the first close. Running it
//     detached keeps Close safe to call from inside the callback itself
//     (the gateway's shutdown path and the registry's force-close path
//     reach each other).
type Client struct {
	ID   string
	Send chan []byte

	done      chan struct{}
	closeOnce sync.Once
	closeFn   func(reason string)
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(now time.Time, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ID:   ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// OnClose registers the callback invoked when the client is closed. It must
// be set before the client is registered anywhere; the registry may invoke
// it from close_matching.
func (c *Client) OnClose(fn func(reason string)) { c.closeFn = fn }

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close(reason string) {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
		if c.closeFn != nil {
			go c.closeFn(reason)
		}
	})
}
