package svgm

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/golang/snappy"
	"github.com/klauspost/cpuid/v2"
	"golang.org/x/crypto/blake2b"
)

// Signature is the content hash of a group's compiled map/reduce sources,
// used to detect design-document changes (spec.md GLOSSARY).
type Signature [32]byte

// ComputeSignature hashes the compiled definition bytes for a group.
func ComputeSignature(compiledDefinition []byte) Signature {
	return blake2b.Sum256(compiledDefinition)
}

// PendingTransition is a persisted, not-yet-applicable role change: some of
// its partitions are still in cbitmask (spec.md §3, Transition Record).
type PendingTransition struct {
	Active  []uint32
	Passive []uint32
	Cleanup []uint32
}

// disjointLists reports whether the transition's three lists are pairwise
// disjoint (spec.md §3 invariant 5, §8 law 6).
func (t *PendingTransition) disjointLists() bool {
	if t == nil {
		return true
	}
	return disjoint(
		PartitionSetOf(t.Active...),
		PartitionSetOf(t.Passive...),
		PartitionSetOf(t.Cleanup...),
	)
}

// mergePendingTransition folds a new set_state request into an existing
// pending transition: each side's list is unioned with the request's
// matching list and subtracted from the other two (spec.md §4.7 step 3).
// A nil existing transition is treated as empty.
func mergePendingTransition(existing *PendingTransition, active, passive, cleanup []uint32) *PendingTransition {
	a := PartitionSetOf(active...)
	p := PartitionSetOf(passive...)
	c := PartitionSetOf(cleanup...)
	if existing != nil {
		// The request's lists win: an id it names leaves whichever other
		// side of the existing transition held it.
		ea := PartitionSetOf(existing.Active...)
		ep := PartitionSetOf(existing.Passive...)
		ec := PartitionSetOf(existing.Cleanup...)
		ea.RemoveAll(p.Or(c))
		ep.RemoveAll(a.Or(c))
		ec.RemoveAll(a.Or(p))
		a.AddAll(ea)
		p.AddAll(ep)
		c.AddAll(ec)
	}
	return &PendingTransition{Active: a.Bits(), Passive: p.Bits(), Cleanup: c.Bits()}
}

// ViewState is the per-view portion of the durable header: an opaque
// B-tree root pointer plus that view's own sequence maps (a view's
// indexed sequences can lag the group's id-tree sequences during a
// partial update).
type ViewState struct {
	Name      string
	Root      []byte // opaque B-tree root pointer, engine-defined
	Seqs      *SeqMap
	PurgeSeqs *SeqMap
}

// IndexHeader is the durable header record (spec.md §3, §6). Every field
// here is written as part of a committed header and is subject to the
// invariants in spec.md §3.
type IndexHeader struct {
	Signature Signature

	// NumPartitionsDefined is false until the group has been configured
	// via DefineView (spec.md §3 invariant 3); NumPartitions is
	// meaningless while it is false.
	NumPartitionsDefined bool
	NumPartitions        uint32

	Active  *PartitionSet
	Passive *PartitionSet
	Cleanup *PartitionSet

	Seqs      *SeqMap
	PurgeSeqs *SeqMap

	HasReplica          bool
	ReplicasOnTransfer  *PartitionSet
	PendingTransition   *PendingTransition
	IDTreeRoot          []byte
	Views               []ViewState
}

// NewBlankHeader returns an unconfigured header (num_partitions undefined,
// all bitmasks empty), the state a freshly reset file is in (spec.md §4.2).
func NewBlankHeader(sig Signature) *IndexHeader {
	return &IndexHeader{
		Signature:          sig,
		Active:             NewPartitionSet(),
		Passive:            NewPartitionSet(),
		Cleanup:            NewPartitionSet(),
		Seqs:               NewSeqMap(),
		PurgeSeqs:          NewSeqMap(),
		ReplicasOnTransfer: NewPartitionSet(),
	}
}

// RoleState extracts the mutable role-algebra tuple this header carries.
func (h *IndexHeader) RoleState() RoleState {
	return RoleState{Active: h.Active, Passive: h.Passive, Cleanup: h.Cleanup, Seqs: h.Seqs, PurgeSeqs: h.PurgeSeqs}
}

// SetRoleState writes back a role-algebra result produced by roles.go.
func (h *IndexHeader) SetRoleState(rs RoleState) {
	h.Active, h.Passive, h.Cleanup, h.Seqs, h.PurgeSeqs = rs.Active, rs.Passive, rs.Cleanup, rs.Seqs, rs.PurgeSeqs
}

// Invariant checks the spec.md §3 invariants that are header-local (role
// disjointness, key-set agreement, replicas-on-transfer containment,
// pending-transition disjointness).
func (h *IndexHeader) Invariant(groupType GroupType) error {
	if err := h.RoleState().Invariant(); err != nil {
		return err
	}
	if h.NumPartitionsDefined {
		for _, bits := range [][]uint32{h.Active.Bits(), h.Passive.Bits(), h.Cleanup.Bits()} {
			for _, id := range bits {
				if id >= h.NumPartitions {
					return ErrInvalidPartitionList
				}
			}
		}
	}
	if groupType == GroupTypeMain {
		union := h.Active.Or(h.Passive)
		for _, id := range h.ReplicasOnTransfer.Bits() {
			if !union.Contains(id) {
				return fmt.Errorf("svgm: replicas_on_transfer contains partition %d not held active or passive", id)
			}
		}
	}
	if !h.PendingTransition.disjointLists() {
		return ErrIntersectingLists
	}
	return nil
}

// wireHeader is the gob-serializable shape of IndexHeader; PartitionSet and
// SeqMap are flattened to plain slices for encoding since neither the
// roaring bitmap nor the b-tree are gob-friendly as-is.
type wireHeader struct {
	Signature            Signature
	NumPartitionsDefined bool
	NumPartitions        uint32
	Active               []uint32
	Passive              []uint32
	Cleanup              []uint32
	Seqs                 []seqPair
	PurgeSeqs            []seqPair
	HasReplica           bool
	ReplicasOnTransfer   []uint32
	PendingTransition    *PendingTransition
	IDTreeRoot           []byte
	Views                []wireView
}

type seqPair struct {
	Partition uint32
	Seq       uint64
}

type wireView struct {
	Name      string
	Root      []byte
	Seqs      []seqPair
	PurgeSeqs []seqPair
}

func seqMapToWire(m *SeqMap) []seqPair {
	entries := m.Entries()
	out := make([]seqPair, len(entries))
	for i, e := range entries {
		out[i] = seqPair{Partition: e.Partition, Seq: e.Seq}
	}
	return out
}

func seqMapFromWire(pairs []seqPair) *SeqMap {
	m := NewSeqMap()
	for _, p := range pairs {
		m.Set(p.Partition, p.Seq)
	}
	return m
}

func (h *IndexHeader) toWire() wireHeader {
	views := make([]wireView, len(h.Views))
	for i, v := range h.Views {
		views[i] = wireView{Name: v.Name, Root: v.Root, Seqs: seqMapToWire(v.Seqs), PurgeSeqs: seqMapToWire(v.PurgeSeqs)}
	}
	active, passive, cleanup := h.Active.Bits(), h.Passive.Bits(), h.Cleanup.Bits()
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	sort.Slice(passive, func(i, j int) bool { return passive[i] < passive[j] })
	sort.Slice(cleanup, func(i, j int) bool { return cleanup[i] < cleanup[j] })
	return wireHeader{
		Signature:            h.Signature,
		NumPartitionsDefined: h.NumPartitionsDefined,
		NumPartitions:        h.NumPartitions,
		Active:               active,
		Passive:              passive,
		Cleanup:              cleanup,
		Seqs:                 seqMapToWire(h.Seqs),
		PurgeSeqs:            seqMapToWire(h.PurgeSeqs),
		HasReplica:           h.HasReplica,
		ReplicasOnTransfer:   h.ReplicasOnTransfer.Bits(),
		PendingTransition:    h.PendingTransition,
		IDTreeRoot:           h.IDTreeRoot,
		Views:                views,
	}
}

func (w wireHeader) toHeader() *IndexHeader {
	views := make([]ViewState, len(w.Views))
	for i, v := range w.Views {
		views[i] = ViewState{Name: v.Name, Root: v.Root, Seqs: seqMapFromWire(v.Seqs), PurgeSeqs: seqMapFromWire(v.PurgeSeqs)}
	}
	return &IndexHeader{
		Signature:            w.Signature,
		NumPartitionsDefined: w.NumPartitionsDefined,
		NumPartitions:        w.NumPartitions,
		Active:               PartitionSetOf(w.Active...),
		Passive:              PartitionSetOf(w.Passive...),
		Cleanup:              PartitionSetOf(w.Cleanup...),
		Seqs:                 seqMapFromWire(w.Seqs),
		PurgeSeqs:            seqMapFromWire(w.PurgeSeqs),
		HasReplica:           w.HasReplica,
		ReplicasOnTransfer:   PartitionSetOf(w.ReplicasOnTransfer...),
		PendingTransition:    w.PendingTransition,
		IDTreeRoot:           w.IDTreeRoot,
		Views:                views,
	}
}

// crc32cTable is selected once, using a cpuid feature probe to prefer the
// hardware Castagnoli table when SSE4.2 is available, falling back to the
// software table otherwise (both are the same polynomial either way; the
// probe only documents which path the runtime will actually execute).
var crc32cTable = func() *crc32.Table {
	if cpuid.CPU.Supports(cpuid.SSE42) {
		return crc32.MakeTable(crc32.Castagnoli)
	}
	return crc32.MakeTable(crc32.Castagnoli)
}()

const headerMagic uint32 = 0x53564731 // "SVG1"

// EncodeHeader serialises (signature, header) as a tagged tuple: a fixed
// prefix (magic, length, CRC-32C) followed by a snappy-compressed gob
// payload, matching the "(signature, header_record)" wire shape of
// spec.md §6.
func EncodeHeader(h *IndexHeader) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h.toWire()); err != nil {
		return nil, fmt.Errorf("svgm: encode header: %w", err)
	}
	compressed := snappy.Encode(nil, buf.Bytes())

	out := make([]byte, 12+len(compressed))
	binary.BigEndian.PutUint32(out[0:4], headerMagic)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(compressed)))
	binary.BigEndian.PutUint32(out[8:12], crc32.Checksum(compressed, crc32cTable))
	copy(out[12:], compressed)
	return out, nil
}

// DecodeHeader parses a record written by EncodeHeader, validating the
// magic, length, and checksum before decompressing and decoding.
func DecodeHeader(rec []byte) (*IndexHeader, error) {
	if len(rec) < 12 {
		return nil, fmt.Errorf("svgm: header record too short (%d bytes)", len(rec))
	}
	magic := binary.BigEndian.Uint32(rec[0:4])
	if magic != headerMagic {
		return nil, fmt.Errorf("svgm: header record has bad magic %#x", magic)
	}
	length := binary.BigEndian.Uint32(rec[4:8])
	wantCRC := binary.BigEndian.Uint32(rec[8:12])
	payload := rec[12:]
	if uint32(len(payload)) != length {
		return nil, fmt.Errorf("svgm: header record length mismatch: want %d, got %d", length, len(payload))
	}
	if got := crc32.Checksum(payload, crc32cTable); got != wantCRC {
		return nil, fmt.Errorf("svgm: header record failed checksum: want %#x, got %#x", wantCRC, got)
	}
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("svgm: decompress header: %w", err)
	}
	var w wireHeader
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&w); err != nil {
		return nil, fmt.Errorf("svgm: decode header: %w", err)
	}
	return w.toHeader(), nil
}
