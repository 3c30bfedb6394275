package broker

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/chat-relay/internal/relay"
)

type fakeSub struct {
	id      int64
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
}

func (f *fakeSub) ID() int64 { return f.id }

func (f *fakeSub) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSub) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func TestDeliverToRoomSubscribers(t *testing.T) {
	req := require.New(t)
	b := New(zerolog.Nop())

	alice := &fakeSub{id: 1}
	bob := &fakeSub{id: 2}
	carol := &fakeSub{id: 3}

	b.Subscribe(7, alice)
	b.Subscribe(7, bob)
	b.Subscribe(8, carol)

	env := relay.Envelope{RoomID: 7, SenderEmail: "alice@example.com", Message: "hi", Timestamp: 1}
	b.Deliver(env)

	req.Equal(1, alice.received())
	req.Equal(1, bob.received())
	req.Zero(carol.received(), "other rooms must not receive the envelope")

	var frame outboundFrame
	req.NoError(json.Unmarshal(alice.frames[0], &frame))
	req.Equal("message", frame.Type)
	req.Equal("/topic/7", frame.Destination)
	req.Equal(env, frame.Body)
}

func TestDeliverToEmptyRoomIsNoop(t *testing.T) {
	b := New(zerolog.Nop())
	b.Deliver(relay.Envelope{RoomID: 99})
}

// Duplicate envelopes from the bus produce duplicate frames: tolerated, not
// deduplicated.
func TestDuplicateDelivery(t *testing.T) {
	req := require.New(t)
	b := New(zerolog.Nop())

	alice := &fakeSub{id: 1}
	b.Subscribe(7, alice)

	env := relay.Envelope{RoomID: 7, Message: "hi"}
	b.Deliver(env)
	b.Deliver(env)

	req.Equal(2, alice.received())
}

func TestFailedSubscriberDoesNotAbortDelivery(t *testing.T) {
	req := require.New(t)
	b := New(zerolog.Nop())

	broken := &fakeSub{id: 1, sendErr: errors.New("connection closed")}
	healthy := &fakeSub{id: 2}
	b.Subscribe(7, broken)
	b.Subscribe(7, healthy)

	b.Deliver(relay.Envelope{RoomID: 7, Message: "hi"})
	req.Equal(1, healthy.received())
	req.Equal(1, b.Subscriptions(7), "broken subscriber must be removed")

	// Broken subscriber stays gone on the next delivery.
	b.Deliver(relay.Envelope{RoomID: 7, Message: "again"})
	req.Equal(2, healthy.received())
}

func TestUnsubscribe(t *testing.T) {
	req := require.New(t)
	b := New(zerolog.Nop())

	alice := &fakeSub{id: 1}
	b.Subscribe(7, alice)
	b.Unsubscribe(7, alice.id)

	b.Deliver(relay.Envelope{RoomID: 7, Message: "hi"})
	req.Zero(alice.received())
}

func TestDropConnectionRemovesAllRooms(t *testing.T) {
	req := require.New(t)
	b := New(zerolog.Nop())

	alice := &fakeSub{id: 1}
	b.Subscribe(7, alice)
	b.Subscribe(8, alice)
	b.Subscribe(9, alice)

	b.DropConnection(alice.id)

	for _, roomID := range []int64{7, 8, 9} {
		b.Deliver(relay.Envelope{RoomID: roomID})
		req.Zero(b.Subscriptions(roomID))
	}
	req.Zero(alice.received())
}

func TestConcurrentSubscribeAndDeliver(t *testing.T) {
	req := require.New(t)
	b := New(zerolog.Nop())

	var wg sync.WaitGroup
	subs := make([]*fakeSub, 50)
	for i := range subs {
		subs[i] = &fakeSub{id: int64(i + 1)}
		wg.Add(1)
		go func(s *fakeSub) {
			defer wg.Done()
			b.Subscribe(s.id%5, s)
			b.Deliver(relay.Envelope{RoomID: s.id % 5})
		}(subs[i])
	}
	wg.Wait()

	total := 0
	for _, s := range subs {
		total += s.received()
	}
	req.Positive(total)
}
