package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lenzarda/mqtt-sn/internal/packet"
	"github.com/lenzarda/mqtt-sn/internal/queue"
	"github.com/lenzarda/mqtt-sn/internal/xerror"
)

func buildSession(id string) *Session {
	return New([]byte(id), packet.V1_2, nil, 4, queue.NewDeadLetter(4))
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	r := NewRegistry(0)
	calls := 0
	newFn := func() *Session { calls++; return buildSession("dev-1") }

	s1, created1, err := r.GetOrCreate("dev-1", newFn)
	assert.NoError(t, err)
	assert.True(t, created1)

	s2, created2, err := r.GetOrCreate("dev-1", newFn)
	assert.NoError(t, err)
	assert.False(t, created2)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, calls)
}

func TestRegistryEnforcesMaxSessions(t *testing.T) {
	r := NewRegistry(1)
	_, _, err := r.GetOrCreate("dev-1", func() *Session { return buildSession("dev-1") })
	assert.NoError(t, err)

	_, _, err = r.GetOrCreate("dev-2", func() *Session { return buildSession("dev-2") })
	assert.ErrorIs(t, err, xerror.ErrLimitExceeded)

	// an existing session is still reachable once the registry is full
	_, created, err := r.GetOrCreate("dev-1", func() *Session { return buildSession("dev-1") })
	assert.NoError(t, err)
	assert.False(t, created)
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry(0)
	_, _, _ = r.GetOrCreate("dev-1", func() *Session { return buildSession("dev-1") })
	assert.Equal(t, 1, r.Len())

	r.Remove("dev-1")
	assert.Equal(t, 0, r.Len())
	_, ok := r.Get("dev-1")
	assert.False(t, ok)
}

func TestExpireOlderThanSweepsOnlyElapsedSessions(t *testing.T) {
	r := NewRegistry(0)
	stale, _, _ := r.GetOrCreate("stale", func() *Session { return buildSession("stale") })
	stale.SetExpiry(time.Minute)

	fresh, _, _ := r.GetOrCreate("fresh", func() *Session { return buildSession("fresh") })
	fresh.SetExpiry(time.Hour)

	never, _, _ := r.GetOrCreate("never", func() *Session { return buildSession("never") })
	never.SetExpiry(ExpiryNever)

	now := time.Now().Add(90 * time.Second)
	expired := r.ExpireOlderThan(now)

	assert.Len(t, expired, 1)
	assert.Equal(t, "stale", string(expired[0].ClientID))
	assert.Equal(t, 2, r.Len())
}

func TestNetworkRegistryBindLookupUnbind(t *testing.T) {
	n := NewNetworkRegistry()
	s := buildSession("dev-1")

	n.Bind("udp!10.0.0.1:1000", s)
	got, ok := n.Lookup("udp!10.0.0.1:1000")
	assert.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, "udp!10.0.0.1:1000", s.NetworkAddr)

	n.Unbind("udp!10.0.0.1:1000")
	_, ok = n.Lookup("udp!10.0.0.1:1000")
	assert.False(t, ok)
}

func TestNetworkRegistryRebindTakesOver(t *testing.T) {
	n := NewNetworkRegistry()
	first := buildSession("dev-1")
	second := buildSession("dev-2")

	n.Bind("addr", first)
	n.Bind("addr", second)

	got, ok := n.Lookup("addr")
	assert.True(t, ok)
	assert.Same(t, second, got)
}
