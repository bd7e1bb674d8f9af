package histstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/worldlens/dashboard/internal/selection"
)

func TestStore_AppendListOrder(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(ctx, Record{
			ID:        string(rune('a' + i)),
			Revision:  uint64(i + 1),
			Origin:    "gdp",
			Kind:      "set",
			IDs:       []string{"AAA", "BBB"},
			Size:      2,
			CreatedAt: base.Add(time.Duration(i) * 500 * time.Millisecond),
		}))
	}

	recs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(3), recs[0].Revision)
	assert.Equal(t, uint64(2), recs[1].Revision)
	assert.Equal(t, []string{"AAA", "BBB"}, recs[0].IDs)
	assert.True(t, recs[0].CreatedAt.Equal(base.Add(time.Second)))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestStore_DeleteOlderThan(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Append(ctx, Record{ID: "old", Kind: "empty", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, s.Append(ctx, Record{ID: "new", Kind: "empty", CreatedAt: now}))

	deleted, err := s.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	recs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].ID)
}

func TestRecorder_RecordsFinalChangesOnly(t *testing.T) {
	r, err := NewRecorder(RecorderConfig{SQLitePath: ":memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	r.Start()

	r.Observe(selection.Change{Origin: "scatter", Selection: selection.Of("AAA"), Revision: 1, Final: false})
	r.Observe(selection.Change{Origin: "scatter", Selection: selection.Of("AAA", "BBB"), Revision: 2, Final: true})
	r.Observe(selection.Change{Selection: selection.Unselected(), Revision: 3, Final: true})

	assert.Eventually(t, func() bool {
		n, err := r.Store().Count(context.Background())
		return err == nil && n == 2
	}, 2*time.Second, 10*time.Millisecond)

	recs, err := r.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "unselected", recs[0].Kind)
	assert.Nil(t, recs[0].IDs)
	assert.Equal(t, "scatter", recs[1].Origin)
	assert.Equal(t, 2, recs[1].Size)

	r.Stop()
	// Safe after stop.
	r.Observe(selection.Change{Selection: selection.Empty(), Final: true})
}
