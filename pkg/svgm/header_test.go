package svgm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSampleHeader() *IndexHeader {
	h := NewBlankHeader(ComputeSignature([]byte("function(doc){emit(doc._id, null)}")))
	h.NumPartitionsDefined = true
	h.NumPartitions = 8
	rs := h.RoleState()
	rs = PromoteToActive(rs, []uint32{0, 1, 2})
	rs = PromoteToPassive(rs, []uint32{3, 4})
	rs = MarkForCleanup(rs, []uint32{5})
	h.SetRoleState(rs)
	h.Views = []ViewState{{Name: "by_id", Root: []byte{1, 2, 3}, Seqs: NewSeqMap(), PurgeSeqs: NewSeqMap()}}
	return h
}

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	h := buildSampleHeader()
	rec, err := EncodeHeader(h)
	require.NoError(t, err)

	got, err := DecodeHeader(rec)
	require.NoError(t, err)

	require.Equal(t, h.Signature, got.Signature)
	require.Equal(t, h.NumPartitions, got.NumPartitions)
	require.Equal(t, h.Active.Bits(), got.Active.Bits())
	require.Equal(t, h.Passive.Bits(), got.Passive.Bits())
	require.Equal(t, h.Cleanup.Bits(), got.Cleanup.Bits())
	require.True(t, h.Seqs.Equal(got.Seqs))
	require.Len(t, got.Views, 1)
	require.Equal(t, "by_id", got.Views[0].Name)
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	rec, err := EncodeHeader(buildSampleHeader())
	require.NoError(t, err)
	rec[0] ^= 0xff

	_, err = DecodeHeader(rec)
	require.Error(t, err)
}

func TestDecodeHeaderRejectsCorruptPayload(t *testing.T) {
	rec, err := EncodeHeader(buildSampleHeader())
	require.NoError(t, err)
	rec[len(rec)-1] ^= 0xff

	_, err = DecodeHeader(rec)
	require.Error(t, err)
}

func TestDecodeHeaderRejectsShortRecord(t *testing.T) {
	_, err := DecodeHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestIndexHeaderInvariant(t *testing.T) {
	h := buildSampleHeader()
	require.NoError(t, h.Invariant(GroupTypeMain))
}

func TestIndexHeaderInvariantCatchesOutOfRangePartition(t *testing.T) {
	h := buildSampleHeader()
	h.Active.Add(200)
	require.Error(t, h.Invariant(GroupTypeMain))
}

func TestIndexHeaderInvariantCatchesBadReplicasOnTransfer(t *testing.T) {
	h := buildSampleHeader()
	h.ReplicasOnTransfer.Add(6) // partition 6 is neither active nor passive
	require.Error(t, h.Invariant(GroupTypeMain))
}

func TestMergePendingTransitionUnionsSameSide(t *testing.T) {
	existing := &PendingTransition{Active: []uint32{1}}
	merged := mergePendingTransition(existing, []uint32{2}, nil, nil)
	require.ElementsMatch(t, []uint32{1, 2}, merged.Active)
}

func TestMergePendingTransitionMovesAcrossSides(t *testing.T) {
	existing := &PendingTransition{Passive: []uint32{1}}
	merged := mergePendingTransition(existing, []uint32{1}, nil, nil)
	require.ElementsMatch(t, []uint32{1}, merged.Active)
	require.Empty(t, merged.Passive)
}

func TestMergePendingTransitionNilExisting(t *testing.T) {
	merged := mergePendingTransition(nil, []uint32{1}, []uint32{2}, nil)
	require.ElementsMatch(t, []uint32{1}, merged.Active)
	require.ElementsMatch(t, []uint32{2}, merged.Passive)
}

func TestPendingTransitionDisjointLists(t *testing.T) {
	pt := &PendingTransition{Active: []uint32{1}, Passive: []uint32{1}}
	require.False(t, pt.disjointLists())

	pt = &PendingTransition{Active: []uint32{1}, Passive: []uint32{2}}
	require.True(t, pt.disjointLists())

	var nilPT *PendingTransition
	require.True(t, nilPT.disjointLists())
}
