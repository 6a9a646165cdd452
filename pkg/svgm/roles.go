package svgm

// RoleState is the mutable tuple the partition-role algebra operates over:
// three disjoint bitmasks plus the two sequence maps keyed by the union of
// active and passive partitions (spec.md §4.1, §3 invariants 1-2).
type RoleState struct {
	Active    *PartitionSet
	Passive   *PartitionSet
	Cleanup   *PartitionSet
	Seqs      *SeqMap
	PurgeSeqs *SeqMap
}

// NewRoleState returns an empty, invariant-satisfying RoleState.
func NewRoleState() RoleState {
	return RoleState{
		Active:    NewPartitionSet(),
		Passive:   NewPartitionSet(),
		Cleanup:   NewPartitionSet(),
		Seqs:      NewSeqMap(),
		PurgeSeqs: NewSeqMap(),
	}
}

// ValidatePartitionLists checks bounds against numPartitions and pairwise
// disjointness across the given lists, in that order (Open Question 1,
// SPEC_FULL.md §E.1: bounds and disjointness are both properties of the
// request and are checked before any no-op short-circuit).
func ValidatePartitionLists(numPartitions uint32, lists ...[]uint32) error {
	sets := make([]*PartitionSet, len(lists))
	for i, list := range lists {
		s := NewPartitionSet()
		for _, id := range list {
			if id >= numPartitions {
				return ErrInvalidPartitionList
			}
			s.Add(id)
		}
		sets[i] = s
	}
	if !disjoint(sets...) {
		return ErrIntersectingLists
	}
	return nil
}

// PromoteToActive moves each partition in ids into the active role.
// Already-active partitions are untouched; passive partitions are cleared
// from pbitmask with their sequences preserved; absent partitions are
// inserted into both sequence maps at 0 (spec.md §4.1).
func PromoteToActive(rs RoleState, ids []uint32) RoleState {
	for _, id := range ids {
		if rs.Active.Contains(id) {
			continue
		}
		if rs.Passive.Contains(id) {
			rs.Passive.Remove(id)
			rs.Active.Add(id)
			continue
		}
		rs.Cleanup.Remove(id)
		rs.Active.Add(id)
		if _, ok := rs.Seqs.Get(id); !ok {
			rs.Seqs.Set(id, 0)
		}
		if _, ok := rs.PurgeSeqs.Get(id); !ok {
			rs.PurgeSeqs.Set(id, 0)
		}
	}
	return rs
}

// PromoteToPassive moves each partition in ids into the passive role,
// symmetric to PromoteToActive: sequences are preserved when moving from
// active, and initialized to 0 when the partition was previously absent.
func PromoteToPassive(rs RoleState, ids []uint32) RoleState {
	for _, id := range ids {
		if rs.Passive.Contains(id) {
			continue
		}
		if rs.Active.Contains(id) {
			rs.Active.Remove(id)
			rs.Passive.Add(id)
			continue
		}
		rs.Cleanup.Remove(id)
		rs.Passive.Add(id)
		if _, ok := rs.Seqs.Get(id); !ok {
			rs.Seqs.Set(id, 0)
		}
		if _, ok := rs.PurgeSeqs.Get(id); !ok {
			rs.PurgeSeqs.Set(id, 0)
		}
	}
	return rs
}

// MarkForCleanup moves each partition in ids into the cleanup role,
// clearing any active/passive bit and removing its entries from both
// sequence maps, since cleanup partitions are no longer indexed.
func MarkForCleanup(rs RoleState, ids []uint32) RoleState {
	for _, id := range ids {
		if rs.Cleanup.Contains(id) {
			continue
		}
		rs.Active.Remove(id)
		rs.Passive.Remove(id)
		rs.Cleanup.Add(id)
		rs.Seqs.Delete(id)
		rs.PurgeSeqs.Delete(id)
	}
	return rs
}

// isNoOpTransition reports whether applying active/passive/cleanup to rs
// would leave it entirely unchanged: every requested id is already in its
// requested role. Checked before any pending-transition bookkeeping, per
// spec.md §4.7 step 2 and the "No-op set_state" law of §8 — a request that
// only restates the current role assignment must never spawn or merge a
// pending transition, even when cbitmask is otherwise non-empty.
func isNoOpTransition(rs RoleState, active, passive, cleanup []uint32) bool {
	for _, id := range active {
		if !rs.Active.Contains(id) {
			return false
		}
	}
	for _, id := range passive {
		if !rs.Passive.Contains(id) {
			return false
		}
	}
	for _, id := range cleanup {
		if !rs.Cleanup.Contains(id) {
			return false
		}
	}
	return true
}

// Invariant checks the disjointness and key-set invariants from spec.md §3
// and §8 hold for rs. Returns nil if they do.
func (rs RoleState) Invariant() error {
	if !disjoint(rs.Active, rs.Passive, rs.Cleanup) {
		return ErrIntersectingLists
	}
	union := rs.Active.Or(rs.Passive)
	if !rs.Seqs.KeysMatch(union) || !rs.PurgeSeqs.KeysMatch(union) {
		return ErrInvalidPartitionList
	}
	return nil
}
