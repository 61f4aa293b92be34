package room

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddGet(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	r := NewRoom("42", "Host_1", 4, nil, reg, zerolog.Nop())

	require.NoError(t, reg.Add(r))

	got, err := reg.Get("42")
	require.NoError(t, err)
	assert.Same(t, r, got)

	_, err = reg.Get("999")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRegistryDuplicateID(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	require.NoError(t, reg.Add(NewRoom("42", "Host_1", 4, nil, reg, zerolog.Nop())))

	err := reg.Add(NewRoom("42", "Host_2", 4, nil, reg, zerolog.Nop()))
	assert.ErrorIs(t, err, ErrRoomExists)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryConcurrentAddSameID(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- reg.Add(NewRoom("42", fmt.Sprintf("Host_%d", i), 4, nil, reg, zerolog.Nop()))
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one creator wins the id")
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryRemovePointerCheck(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	first := NewRoom("42", "Host_1", 4, nil, reg, zerolog.Nop())
	require.NoError(t, reg.Add(first))

	// The id is released and immediately reused by a new room.
	reg.remove("42", first)
	second := NewRoom("42", "Host_2", 4, nil, reg, zerolog.Nop())
	require.NoError(t, reg.Add(second))

	// A stale removal for the first instance must not touch the second.
	reg.remove("42", first)

	got, err := reg.Get("42")
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestRegistryCloseAll(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())

	rec := &recorder{}
	r := NewRoom("42", "Host_1", 4, nil, reg, zerolog.Nop())
	require.NoError(t, reg.Add(r))
	host := NewPlayerSession("Host_1", "Hanna", rec)
	require.NoError(t, r.Join(host, nil))

	reg.CloseAll("server shutting down")

	assert.Zero(t, reg.Len())
	destroyed := rec.last("ROOM_DESTROYED")
	require.NotNil(t, destroyed)
	assert.Equal(t, "server shutting down", destroyed.Payload)
}

func TestRegistryStats(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())

	r := NewRoom("42", "Host_1", 4, nil, reg, zerolog.Nop())
	require.NoError(t, reg.Add(r))
	require.NoError(t, r.Join(NewPlayerSession("Host_1", "Hanna", &recorder{}), nil))
	require.NoError(t, r.Join(NewPlayerSession("Ada_1", "Ada", &recorder{}), nil))

	stats := reg.Stats()
	assert.Equal(t, 1, stats["total_rooms"])
	assert.Equal(t, 2, stats["total_players"])
	assert.Equal(t, map[State]int{StateLobby: 1}, stats["by_state"])
}
