package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTarget struct {
	applied []Selection
}

func (r *recordingTarget) ApplySelection(sel Selection) {
	r.applied = append(r.applied, sel)
}

func TestBroadcaster_StartsUnselected(t *testing.T) {
	b := NewBroadcaster()
	assert.True(t, b.Current().IsUnselected())
	assert.Zero(t, b.State().Revision())
}

func TestBroadcaster_PushesToEveryTargetIncludingOrigin(t *testing.T) {
	b := NewBroadcaster()
	origin, other := &recordingTarget{}, &recordingTarget{}
	b.Register(origin, other)

	sel := Of("A", "B")
	ch := b.OnGestureResult("origin", sel)

	require.Len(t, origin.applied, 1)
	require.Len(t, other.applied, 1)
	assert.True(t, origin.applied[0].Equal(sel))
	assert.True(t, other.applied[0].Equal(sel))
	assert.True(t, b.Current().Equal(sel))
	assert.Equal(t, "origin", b.State().Origin())
	assert.Equal(t, uint64(1), ch.Revision)
	assert.True(t, ch.Final)
	assert.True(t, ch.Previous.IsUnselected())
}

func TestBroadcaster_LastWriteWins(t *testing.T) {
	b := NewBroadcaster()
	tgt := &recordingTarget{}
	b.Register(tgt)

	b.OnGestureResult("hist", Of("A", "B"))
	b.OnGestureResult("scatter", Of("C"))

	assert.True(t, b.Current().Equal(Of("C")), "selections must not merge")
	assert.Equal(t, "scatter", b.State().Origin())
	assert.Equal(t, uint64(2), b.State().Revision())
}

func TestBroadcaster_ResetAndObservers(t *testing.T) {
	b := NewBroadcaster()
	var changes []Change
	b.Observe(func(c Change) { changes = append(changes, c) })

	b.OnGestureProgress("map", Of("A"))
	b.OnGestureResult("map", Empty())
	b.Reset()

	require.Len(t, changes, 3)
	assert.False(t, changes[0].Final)
	assert.Equal(t, KindEmpty, changes[1].Selection.Kind())
	assert.True(t, changes[2].Selection.IsUnselected())
	assert.Equal(t, "", changes[2].Origin)
	assert.True(t, b.Current().IsUnselected())
}

func TestBroadcaster_ReapplyKeepsState(t *testing.T) {
	b := NewBroadcaster()
	tgt := &recordingTarget{}
	b.Register(tgt)
	b.OnGestureResult("hist", Of("A"))

	b.Reapply()

	require.Len(t, tgt.applied, 2)
	assert.True(t, tgt.applied[1].Equal(Of("A")))
	assert.Equal(t, uint64(1), b.State().Revision())
}
