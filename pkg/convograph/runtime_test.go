package convograph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleNodeDef() FlowDefinition {
	return FlowDefinition{Nodes: []Node{{ID: "a", Type: "start"}}}
}

func passthroughRegistry() *NodeRegistry {
	return NewNodeRegistry().Register("start", passthrough)
}

// TestRuntime_StartAndCancel registers the run, cancels it by id, and
// deregisters it once Execute returns.
func TestRuntime_StartAndCancel(t *testing.T) {
	rt := NewRuntime()

	e, done, err := rt.Start(context.Background(), singleNodeDef(), passthroughRegistry(),
		WithLogger(quietLogger()), WithRunID("run-1"))
	require.NoError(t, err)
	assert.Equal(t, "run-1", e.RunID())
	assert.Equal(t, []string{"run-1"}, rt.ActiveRuns())

	got, ok := rt.Get("run-1")
	require.True(t, ok)
	assert.Same(t, e, got)

	require.True(t, rt.Cancel("run-1"))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run never finished")
	}

	_, ok = rt.Get("run-1")
	assert.False(t, ok)
	assert.False(t, rt.Cancel("run-1"))
}

// TestRuntime_DuplicateRunID rejects a second run under the same id.
func TestRuntime_DuplicateRunID(t *testing.T) {
	rt := NewRuntime()

	_, done, err := rt.Start(context.Background(), singleNodeDef(), passthroughRegistry(),
		WithLogger(quietLogger()), WithRunID("dup"))
	require.NoError(t, err)

	_, _, err = rt.Start(context.Background(), singleNodeDef(), passthroughRegistry(),
		WithLogger(quietLogger()), WithRunID("dup"))
	assert.ErrorContains(t, err, "already registered")

	rt.Shutdown()
	<-done
}

// TestRuntime_Shutdown cancels every active run.
func TestRuntime_Shutdown(t *testing.T) {
	rt := NewRuntime()

	var dones []<-chan error
	for _, id := range []string{"r1", "r2", "r3"} {
		_, done, err := rt.Start(context.Background(), singleNodeDef(), passthroughRegistry(),
			WithLogger(quietLogger()), WithRunID(id))
		require.NoError(t, err)
		dones = append(dones, done)
	}
	assert.Len(t, rt.ActiveRuns(), 3)

	rt.Shutdown()
	for _, done := range dones {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("run survived shutdown")
		}
	}
	assert.Empty(t, rt.ActiveRuns())
}

// TestRuntime_StartConstructionError surfaces engine construction
// failures without registering anything.
func TestRuntime_StartConstructionError(t *testing.T) {
	rt := NewRuntime()

	_, _, err := rt.Start(context.Background(),
		FlowDefinition{Nodes: []Node{{ID: "a", Type: "mystery"}}},
		NewNodeRegistry(), WithLogger(quietLogger()))
	require.ErrorIs(t, err, ErrUnknownNodeType)
	assert.Empty(t, rt.ActiveRuns())
}
