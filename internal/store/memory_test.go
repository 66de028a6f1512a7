package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalert/internal/model"
)

func TestMemory_AppendAndListByOwner(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	require.NoError(t, m.Append(model.Event{ID: "a", Owner: "u1", Title: "A"}))
	require.NoError(t, m.Append(model.Event{ID: "b", Owner: "u2", Title: "B"}))
	require.NoError(t, m.Append(model.Event{ID: "c", Owner: "u1", Title: "C"}))

	u1 := m.ListByOwner("u1")
	require.Len(t, u1, 2)
	assert.Equal(t, "a", u1[0].ID)
	assert.Equal(t, "c", u1[1].ID)

	assert.Empty(t, m.ListByOwner("nobody"))
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"u1", "u2"}, m.Owners())
}

func TestMemory_RejectsEmptyOwner(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	assert.ErrorIs(t, m.Append(model.Event{Title: "orphan"}), ErrEmptyOwner)
	_, err := m.AppendUnique(model.Event{Title: "orphan"})
	assert.ErrorIs(t, err, ErrEmptyOwner)
	assert.Zero(t, m.Len())
}

func TestMemory_SnapshotIsolation(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	require.NoError(t, m.Append(model.Event{ID: "a", Owner: "u1"}))

	snap := m.ListByOwner("u1")
	snap[0].Title = "mutated"
	require.NoError(t, m.Append(model.Event{ID: "b", Owner: "u1"}))

	assert.Len(t, snap, 1)
	assert.Empty(t, m.ListByOwner("u1")[0].Title)
}

func TestMemory_AppendUnique(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	added, err := m.AppendUnique(model.Event{ID: "1", Owner: "u1", ExternalID: "uid-1"})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = m.AppendUnique(model.Event{ID: "2", Owner: "u1", ExternalID: "uid-1"})
	require.NoError(t, err)
	assert.False(t, added, "same owner and uid is a repeat")

	added, err = m.AppendUnique(model.Event{ID: "3", Owner: "u2", ExternalID: "uid-1"})
	require.NoError(t, err)
	assert.True(t, added, "uids are scoped per owner")

	added, err = m.AppendUnique(model.Event{ID: "4", Owner: "u1"})
	require.NoError(t, err)
	assert.True(t, added)

	assert.Equal(t, 3, m.Len())
}

func TestMemory_ConcurrentAppendAndRead(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	const writers, perWriter = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = m.Append(model.Event{ID: fmt.Sprintf("%d-%d", w, i), Owner: "u1"})
				_ = m.ListByOwner("u1")
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, m.ListByOwner("u1"), writers*perWriter)
}

func TestMemory_AppendRegistersExternalID(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	require.NoError(t, m.Append(model.Event{ID: "1", Owner: "u1", ExternalID: "1"}))

	added, err := m.AppendUnique(model.Event{ID: "2", Owner: "u1", ExternalID: "1"})
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, m.Len())
}
