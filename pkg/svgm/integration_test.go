package svgm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memSource answers every partition's change read with one "changes since
// the header's last commit" batch, then yields a seq one past sinceSeq.
type memSource struct{}

func (memSource) ReadChanges(ctx context.Context, partition uint32, sinceSeq uint64, apply func(int) error) (uint64, error) {
	if err := apply(1); err != nil {
		return 0, err
	}
	return sinceSeq + 1, nil
}

// TestControllerEndToEndWithDefaultCollaborators wires the default
// updater, cleaner, and compactor (backed by an in-memory view tree and
// purger/compactor pair) the way a real deployment would, instead of the
// hand-rolled fakes used elsewhere in this package's tests.
func TestControllerEndToEndWithDefaultCollaborators(t *testing.T) {
	views := map[string]*MemViewTree{"by_id": NewMemViewTree(32)}
	views["by_id"].Put("doc-0", 0, []byte("v0"))
	views["by_id"].Put("doc-1", 1, []byte("v1"))
	views["by_id"].Put("doc-2", 2, []byte("v2"))

	updater := NewDefaultUpdater(memSource{})
	cleaner := NewDefaultCleaner(NewMemPurger(views))
	compactor := NewDefaultCompactor(NewMemCompactor(views, 32))

	c := NewController(
		Group{ID: GroupID{SetName: "default", Sig: "abc"}, Type: GroupTypeMain},
		noopFileHandle{}, nil, updater, cleaner, compactor, nil, nil,
		WithCheckpointDelay(time.Hour),
	)
	defer c.Close()

	require.NoError(t, c.DefineView(4, false, []byte("function(doc){emit(doc._id,null)}")))
	require.NoError(t, c.SetState([]uint32{0, 1, 2}, nil, nil))

	require.Eventually(t, func() bool {
		h, err := c.RequestGroup(context.Background(), nil, StaleFalse)
		if err != nil {
			return false
		}
		seq, ok := h.Seqs.Get(0)
		return ok && seq == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.PartitionDeleted(2))
	require.Eventually(t, func() bool {
		return views["by_id"].Len() == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.StartCompact())
	require.Eventually(t, func() bool {
		info := c.RequestGroupInfo()
		for _, e := range info.StatsHistory {
			if e.Kind == StatsCompact {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}
