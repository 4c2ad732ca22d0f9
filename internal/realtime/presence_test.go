package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterFirstConnection(t *testing.T) {
	reg := NewRegistry()

	assert.False(t, reg.IsOnline("alice"))

	first := reg.Register("alice", "conn1")
	assert.True(t, first)
	assert.True(t, reg.IsOnline("alice"))

	// Second device is not "coming online" again
	first = reg.Register("alice", "conn2")
	assert.False(t, first)
	assert.ElementsMatch(t, []string{"conn1", "conn2"}, reg.ConnectionsFor("alice"))
}

func TestUnregisterMultiDevice(t *testing.T) {
	reg := NewRegistry()

	reg.Register("alice", "conn1")
	reg.Register("alice", "conn2")

	userID, last := reg.Unregister("conn1")
	assert.Equal(t, "alice", userID)
	assert.False(t, last)
	assert.True(t, reg.IsOnline("alice"))

	userID, last = reg.Unregister("conn2")
	assert.Equal(t, "alice", userID)
	assert.True(t, last)
	assert.False(t, reg.IsOnline("alice"))
	assert.Empty(t, reg.ConnectionsFor("alice"))
}

func TestUnregisterUnknownConnection(t *testing.T) {
	reg := NewRegistry()

	userID, last := reg.Unregister("ghost")
	assert.Equal(t, "", userID)
	assert.False(t, last)
}

func TestRegisterMovesConnectionBetweenUsers(t *testing.T) {
	reg := NewRegistry()

	reg.Register("alice", "conn1")
	reg.Register("bob", "conn1")

	// The connection now belongs to bob only
	assert.False(t, reg.IsOnline("alice"))
	assert.True(t, reg.IsOnline("bob"))
}

func TestConnectionsExcept(t *testing.T) {
	reg := NewRegistry()

	reg.Register("alice", "a1")
	reg.Register("alice", "a2")
	reg.Register("bob", "b1")
	reg.Register("carol", "c1")

	assert.ElementsMatch(t, []string{"b1", "c1"}, reg.ConnectionsExcept("alice"))
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, reg.OnlineUsers())
}

func TestRegistryConcurrentStorm(t *testing.T) {
	reg := NewRegistry()

	const users = 20
	const connsPerUser = 25

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for c := 0; c < connsPerUser; c++ {
			wg.Add(1)
			go func(u, c int) {
				defer wg.Done()
				userID := fmt.Sprintf("user%d", u)
				connID := fmt.Sprintf("user%d-conn%d", u, c)
				reg.Register(userID, connID)
				reg.IsOnline(userID)
				reg.ConnectionsFor(userID)
				reg.Unregister(connID)
			}(u, c)
		}
	}
	wg.Wait()

	// Every connect was matched by a disconnect: no leaked entries
	assert.Empty(t, reg.OnlineUsers())
	for u := 0; u < users; u++ {
		assert.False(t, reg.IsOnline(fmt.Sprintf("user%d", u)))
	}
}

func TestExactlyOneOfflineTransition(t *testing.T) {
	reg := NewRegistry()

	reg.Register("alice", "conn1")
	reg.Register("alice", "conn2")

	offline := 0
	if _, last := reg.Unregister("conn1"); last {
		offline++
	}
	if _, last := reg.Unregister("conn2"); last {
		offline++
	}
	// Re-delivery of a disconnect for an already-removed conn is harmless
	if _, last := reg.Unregister("conn2"); last {
		offline++
	}

	assert.Equal(t, 1, offline)
}
