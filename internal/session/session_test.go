package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/lenzarda/mqtt-sn/internal/packet"
	"github.com/lenzarda/mqtt-sn/internal/queue"
)

// TestSleepAwakeDeliversQueuedPublish is scenario S4: a session goes to
// sleep, a publish is enqueued for it while asleep, a PINGREQ with
// client ID wakes it, the queued entry drains, and it returns to sleep.
func TestSleepAwakeDeliversQueuedPublish(t *testing.T) {
	s := New([]byte("dev-4"), packet.V1_2, nil, 4, queue.NewDeadLetter(4))
	assert.NoError(t, s.HandleConnect())
	assert.NoError(t, s.HandleDisconnect(300))
	assert.Equal(t, StateAsleep, s.State())

	assert.NoError(t, s.Queue.Enqueue(queue.Entry{Topic: "a/b", QoS: packet.QoS1, PayloadID: uuid.New()}))

	assert.NoError(t, s.HandlePingReqAwake())
	assert.Equal(t, StateAwake, s.State())

	_, ok := s.Queue.Dequeue()
	assert.True(t, ok)
	assert.True(t, s.Queue.Empty())

	assert.NoError(t, s.HandleQueueDrained())
	assert.Equal(t, StateAsleep, s.State())
}

func TestOutboundInflightExclusivity(t *testing.T) {
	s := New([]byte("dev-1"), packet.V1_2, nil, 4, queue.NewDeadLetter(4))
	ok := s.TryOccupyOutbound(1, 0x0001, packet.QoS1, uuid.New(), time.Second)
	assert.True(t, ok)

	ok = s.TryOccupyOutbound(2, 0x0002, packet.QoS1, uuid.New(), time.Second)
	assert.False(t, ok, "a second inflight publish must not be admitted while one is outstanding")

	s.ClearOutbound()
	ok = s.TryOccupyOutbound(3, 0x0001, packet.QoS1, uuid.New(), time.Second)
	assert.True(t, ok)
}

func TestNextMessageIDSkipsOccupiedInflightID(t *testing.T) {
	s := New([]byte("dev-1"), packet.V1_2, nil, 4, queue.NewDeadLetter(4))
	first := s.NextMessageID()
	s.TryOccupyOutbound(first+1, 0x0001, packet.QoS1, uuid.New(), time.Second)
	// force nextMsgID to collide with the occupied slot on the next call
	for i := 0; i < 0xFFFF; i++ {
		id := s.NextMessageID()
		if id == first+1 {
			t.Fatalf("NextMessageID returned the currently occupied inflight ID")
		}
		if i > 2 {
			break
		}
	}
}

func TestBumpOutboundRetryRejectsStaleGeneration(t *testing.T) {
	s := New([]byte("dev-1"), packet.V1_2, nil, 4, queue.NewDeadLetter(4))
	s.TryOccupyOutbound(1, 0x0001, packet.QoS1, uuid.New(), time.Second)
	gen := s.OutboundGeneration()

	s.ClearOutbound()
	s.TryOccupyOutbound(2, 0x0002, packet.QoS1, uuid.New(), time.Second)

	_, ok := s.BumpOutboundRetry(gen, time.Second)
	assert.False(t, ok, "a retry timer from the previous occupant must not mutate the new one")

	newGen := s.OutboundGeneration()
	_, ok = s.BumpOutboundRetry(newGen, time.Second)
	assert.True(t, ok)
}

func TestFiltersMirrorSubscriptions(t *testing.T) {
	s := New([]byte("dev-1"), packet.V1_2, nil, 4, queue.NewDeadLetter(4))
	s.AddFilter("a/+/c", packet.QoS1)
	s.AddFilter("x/#", packet.QoS0)
	assert.ElementsMatch(t, []string{"a/+/c", "x/#"}, s.Filters())

	s.RemoveFilter("a/+/c")
	assert.ElementsMatch(t, []string{"x/#"}, s.Filters())
}
