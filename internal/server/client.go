package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/adred-codev/chat-relay/internal/metrics"
)

// A client that leaves its send queue full for this many consecutive
// deliveries is considered dead weight and disconnected.
const maxSendAttempts = 3

var (
	errTooSlow          = errors.New("client not draining send queue")
	errClientDisconnect = errors.New("client requested disconnect")
)

// Client is one WebSocket connection. The read pump is the only writer of
// identity, so frame handling sees a consistent value without locking; the
// broker touches the connection exclusively through Send.
type Client struct {
	id          int64
	conn        net.Conn
	send        chan []byte
	limiter     *rate.Limiter
	identity    string // empty until a validated connect
	connectedAt time.Time

	sendAttempts int32
	closeOnce    sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(parent context.Context, id int64, conn net.Conn, queueSize int, limit rate.Limit, burst int) *Client {
	ctx, cancel := context.WithCancel(parent)
	return &Client{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, queueSize),
		limiter:     rate.NewLimiter(limit, burst),
		connectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (c *Client) ID() int64 { return c.id }

// Send enqueues an outbound frame without blocking. A full queue drops the
// frame; after maxSendAttempts consecutive drops the connection is closed
// and the error tells the broker to remove the subscription. Dropped frames
// remain recoverable through history retrieval.
func (c *Client) Send(frame []byte) error {
	select {
	case c.send <- frame:
		atomic.StoreInt32(&c.sendAttempts, 0)
		return nil
	default:
		attempts := atomic.AddInt32(&c.sendAttempts, 1)
		metrics.DroppedDelivery("queue_full")
		if attempts >= maxSendAttempts {
			metrics.SlowClientDisconnected()
			c.close()
			return errTooSlow
		}
		return nil
	}
}

// enqueue marshals and queues a control frame (ack, error, history). Best
// effort: a client too backed up to take a control frame will learn its fate
// from the data path.
func (c *Client) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// close shuts the underlying connection exactly once and cancels the
// connection's context. Safe to call from any goroutine.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
