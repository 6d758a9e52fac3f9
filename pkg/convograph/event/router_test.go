package event

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRouter_Emit forwards events to the bus.
func TestRouter_Emit(t *testing.T) {
	bus := NewBus(DefaultBusConfig)
	defer bus.Close()
	var c collector
	bus.SubscribeAll(c.handle)

	r := NewRouter(bus, nil)
	r.Emit(New(TypeChunk, "a"))

	evts := c.waitFor(t, 1)
	assert.Equal(t, TypeChunk, evts[0].Type)
}

// TestRouter_Abort_SuppressesNonTerminal: after abort, only a terminal
// event may still pass.
func TestRouter_Abort_SuppressesNonTerminal(t *testing.T) {
	bus := NewBus(DefaultBusConfig)
	defer bus.Close()
	var c collector
	bus.SubscribeAll(c.handle)

	r := NewRouter(bus, nil)
	r.Abort()
	r.Emit(New(TypeChunk, "a"))
	r.Emit(New(TypeNodeEnd, "a"))
	r.Done("a", nil)

	evts := c.waitFor(t, 1)
	require.Len(t, evts, 1)
	assert.Equal(t, TypeDone, evts[0].Type)
	assert.Empty(t, evts[0].Err)
}

// TestRouter_Done_AtMostOnce: a second done is dropped, as is anything
// after it.
func TestRouter_Done_AtMostOnce(t *testing.T) {
	bus := NewBus(DefaultBusConfig)
	defer bus.Close()
	var c collector
	bus.SubscribeAll(c.handle)

	r := NewRouter(bus, nil)
	r.Done("a", errors.New("boom"))
	r.Done("a", nil)
	r.Emit(New(TypeChunk, "a"))

	evts := c.waitFor(t, 1)
	require.Len(t, evts, 1)
	assert.Equal(t, TypeDone, evts[0].Type)
	assert.Equal(t, "boom", evts[0].Err)
}

// TestRouter_Emit_RecoversObserverPanic: a panicking observer never
// aborts the emitter.
func TestRouter_Emit_RecoversObserverPanic(t *testing.T) {
	bus := NewBus(DefaultBusConfig)
	defer bus.Close()

	r := NewRouter(bus, nil)
	assert.NotPanics(t, func() {
		r.Emit(New(TypeChunk, "a"))
	})
}
