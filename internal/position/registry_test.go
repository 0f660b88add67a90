package position

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/farmdash/internal/quantity"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	staked := fullInputs()
	staked.ID = "staked"
	empty := fullInputs()
	empty.ID = "empty"
	empty.Staked = Resolved(quantity.NewTokenAmount(nil, 18))

	assert.Nil(t, r.Put(Build(staked, nil, now)))
	assert.Nil(t, r.Put(Build(empty, nil, now)))

	prev := r.Put(Build(staked, nil, now))
	require.NotNil(t, prev)
	assert.Equal(t, "staked", prev.ID)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "staked", all[0].ID)
	assert.Equal(t, "empty", all[1].ID)

	active := r.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "staked", active[0].ID)

	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Put(Build(fullInputs(), nil, now))
		}()
		go func() {
			defer wg.Done()
			r.All()
		}()
	}
	wg.Wait()
	assert.Len(t, r.All(), 1)
}
