package presence

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableSetLookupSnapshot(t *testing.T) {
	table := NewTable()
	a := newFakeConn("a")
	b := newFakeConn("b")

	assert.Nil(t, table.Set("bob", b))
	assert.Nil(t, table.Set("alice", a))

	conn, ok := table.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "a", conn.ID())

	_, ok = table.Lookup("carol")
	assert.False(t, ok)

	assert.Equal(t, []string{"alice", "bob"}, table.Snapshot())
	assert.Equal(t, 2, table.Len())
}

func TestTableEmptySnapshot(t *testing.T) {
	snap := NewTable().Snapshot()
	require.NotNil(t, snap)
	assert.Empty(t, snap)
}

func TestTableSetReplaces(t *testing.T) {
	table := NewTable()
	a := newFakeConn("a")
	b := newFakeConn("b")

	table.Set("u1", a)
	prev := table.Set("u1", b)
	require.NotNil(t, prev)
	assert.Equal(t, "a", prev.ID())

	conn, ok := table.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "b", conn.ID())
	assert.Equal(t, 1, table.Len())
}

func TestTableRemoveSupersededKeepsNewer(t *testing.T) {
	table := NewTable()
	a := newFakeConn("a")
	b := newFakeConn("b")

	table.Set("u1", a)
	table.Set("u1", b)

	assert.False(t, table.Remove("u1", a))

	conn, ok := table.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "b", conn.ID())
	assert.Equal(t, []string{"u1"}, table.Snapshot())
}

func TestTableRemove(t *testing.T) {
	table := NewTable()
	a := newFakeConn("a")
	table.Set("u1", a)

	assert.True(t, table.Remove("u1", a))
	assert.False(t, table.Remove("u1", a), "second remove is a no-op")
	assert.False(t, table.Remove("ghost", a))
	assert.False(t, table.Remove("u1", nil))
	assert.Empty(t, table.Snapshot())
}

// Any sequence of set and guarded remove leaves exactly the users whose last
// set has not been followed by a remove of that same connection.
func TestTableSnapshotMatchesModel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	users := []string{"u0", "u1", "u2", "u3", "u4"}

	for round := 0; round < 50; round++ {
		table := NewTable()
		model := map[string]string{}
		var conns []*fakeConn

		for step := 0; step < 100; step++ {
			user := users[rng.Intn(len(users))]
			if rng.Intn(2) == 0 || len(conns) == 0 {
				c := newFakeConn(fmt.Sprintf("r%d-s%d", round, step))
				conns = append(conns, c)
				table.Set(user, c)
				model[user] = c.id
				continue
			}

			c := conns[rng.Intn(len(conns))]
			removed := table.Remove(user, c)
			if model[user] == c.id {
				assert.True(t, removed)
				delete(model, user)
			} else {
				assert.False(t, removed)
			}
		}

		want := make([]string, 0, len(model))
		for user := range model {
			want = append(want, user)
		}
		sort.Strings(want)
		assert.Equal(t, want, table.Snapshot())
	}
}

func TestTableConcurrentAccess(t *testing.T) {
	table := NewTable()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%5)
			c := newFakeConn(fmt.Sprintf("c%d", i))
			table.Set(user, c)
			_ = table.Snapshot()
			_, _ = table.Lookup(user)
			table.Remove(user, c)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, table.Len(), 5)
}
