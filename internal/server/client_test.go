package server

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newQueueClient(t *testing.T, queueSize int) *Client {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	return newClient(context.Background(), 1, server, queueSize, rate.Limit(1000), 1000)
}

func TestSendQueuesUntilFull(t *testing.T) {
	c := newQueueClient(t, 2)

	require.NoError(t, c.Send([]byte("a")))
	require.NoError(t, c.Send([]byte("b")))

	// Queue full: frames drop silently until the strike limit.
	require.NoError(t, c.Send([]byte("c")))
	require.NoError(t, c.Send([]byte("d")))
	require.Len(t, c.send, 2)
}

func TestSlowClientDisconnectedAfterStrikes(t *testing.T) {
	c := newQueueClient(t, 1)

	require.NoError(t, c.Send([]byte("a")))

	var last error
	for i := 0; i < maxSendAttempts; i++ {
		last = c.Send([]byte("overflow"))
	}
	require.ErrorIs(t, last, errTooSlow)

	select {
	case <-c.ctx.Done():
	default:
		t.Fatal("slow client must be closed")
	}
}

func TestSuccessfulSendResetsStrikes(t *testing.T) {
	c := newQueueClient(t, 1)

	require.NoError(t, c.Send([]byte("a")))

	// Two strikes, then the queue drains and a send succeeds.
	require.NoError(t, c.Send([]byte("x")))
	require.NoError(t, c.Send([]byte("x")))
	<-c.send
	require.NoError(t, c.Send([]byte("b")))

	// The counter restarted; two more strikes still do not disconnect.
	require.NoError(t, c.Send([]byte("x")))
	require.NoError(t, c.Send([]byte("x")))

	select {
	case <-c.ctx.Done():
		t.Fatal("client must survive after strike counter reset")
	default:
	}
}

func TestEnqueueIsBestEffort(t *testing.T) {
	c := newQueueClient(t, 1)

	c.enqueue(newErrorFrame("internal", "first"))
	require.Len(t, c.send, 1)

	// Full queue: control frame dropped, no strikes, no disconnect.
	c.enqueue(newErrorFrame("internal", "second"))
	require.Len(t, c.send, 1)

	select {
	case <-c.ctx.Done():
		t.Fatal("enqueue must never close the connection")
	default:
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := newQueueClient(t, 1)

	c.close()
	c.close()

	select {
	case <-c.ctx.Done():
	default:
		t.Fatal("close must cancel the connection context")
	}
}
