package svgm

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func TestBuildGroupInfoSnapshotsHeader(t *testing.T) {
	h := buildSampleHeader()
	g := Group{ID: GroupID{SetName: "default", Sig: "abc"}, Type: GroupTypeMain}
	history := []StatsEntry{{Kind: StatsUpdate, ChangesDone: 10, ChangesTotal: 10}}

	info := BuildGroupInfo(g, h, true, false, false, 2, history)

	want := GroupInfo{
		ID:               g.ID,
		Type:             GroupTypeMain,
		Active:           []uint32{0, 1, 2},
		Passive:          []uint32{3, 4},
		Cleanup:          []uint32{5},
		NumPartitions:    8,
		UpdaterRunning:   true,
		CompactorRunning: false,
		CleanupRunning:   false,
		WaitingClients:   2,
		StatsHistory:     history,
	}

	if diff := cmp.Diff(want, info, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("group info mismatch (-want +got):\n%s\ndump: %s", diff, spew.Sdump(info))
	}
}

func TestGroupIDString(t *testing.T) {
	id := GroupID{SetName: "default", Sig: "deadbeef"}
	require.Equal(t, "default/deadbeef", id.String())
}

func TestGroupTypeString(t *testing.T) {
	require.Equal(t, "main", GroupTypeMain.String())
	require.Equal(t, "replica", GroupTypeReplica.String())
}
