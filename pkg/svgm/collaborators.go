package svgm

import "context"

// UpdaterPhase names which half of an update cycle is running: active
// partitions are always walked before passive ones (spec.md §4.1), and
// stale=false requests are satisfied as soon as the cycle reaches
// UpdaterPhasePassive rather than waiting for full completion (spec.md §4.4).
type UpdaterPhase int8

const (
	UpdaterPhaseNone UpdaterPhase = iota
	UpdaterPhaseStarting
	UpdaterPhaseActive
	UpdaterPhasePassive
)

// UpdateProgress is a partial-progress event an UpdaterGateway emits while
// an update cycle runs, so the controller can refresh GroupInfo and wake
// any stale=false waiter whose condition happens to already be satisfied.
type UpdateProgress struct {
	ChangesDone  uint64
	ChangesTotal uint64
	Phase        UpdaterPhase
}

// UpdateResult is the terminal event an UpdaterGateway emits when a cycle
// ends, successfully or not.
type UpdateResult struct {
	Header *IndexHeader
	Stats  StatsEntry
	Err    error // non-nil only on abnormal termination
}

// UpdaterGateway drives one update cycle: reading changes from the
// database set starting at the header's current seqs, applying them to
// the id-tree and view b-trees, and producing a new header (spec.md §2,
// "Updater").
type UpdaterGateway interface {
	// Start begins an update cycle against h, streaming UpdateProgress
	// events to progress and delivering exactly one terminal UpdateResult
	// on the returned channel.
	Start(ctx context.Context, h *IndexHeader, progress chan<- UpdateProgress) <-chan UpdateResult
	// Stop requests the in-flight cycle halt at the next safe checkpoint.
	Stop()
}

// CleanupResult is the terminal event a CleanerGateway emits.
type CleanupResult struct {
	Header      *IndexHeader
	PurgedCount uint64
	Err         error
}

// CleanerGateway drains partitions out of cbitmask: removing their rows
// from the id-tree and views, then reporting the resulting header with
// them already cleared from cbitmask, which the controller installs as-is
// (spec.md §4.2, "Cleanup role").
type CleanerGateway interface {
	Start(ctx context.Context, h *IndexHeader) <-chan CleanupResult
	Stop()
}

// CompactResult is the terminal event a CompactorGateway emits.
type CompactResult struct {
	Header          *IndexHeader
	PreCompactSize   uint64
	PostCompactSize  uint64
	Err              error
}

// CompactorGateway rewrites the on-disk b-trees into a fresh file with no
// stale or duplicate entries, then hands back a header pointing at the new
// file (spec.md §2, "Compactor").
type CompactorGateway interface {
	Start(ctx context.Context, h *IndexHeader) <-chan CompactResult
	Cancel()
}

// ReplicaSnapshot is what a ReplicaGateway hands the controller when asked
// to mirror a main group's active set (spec.md §7).
type ReplicaSnapshot struct {
	Header *IndexHeader
	Err    error // ErrRetryReplica if the main group's active set moved
}

// ReplicaGateway requests a read-only snapshot of a main group's active
// partitions for use by a replica group.
type ReplicaGateway interface {
	RequestSnapshot(ctx context.Context, active *PartitionSet) <-chan ReplicaSnapshot
}

// ReplicaController is the handle a main group's controller holds onto its
// own replica group, used to push partition-role changes the other
// direction: "add these as passive on the replica" and "drop these,
// they're not wanted there any more" (spec.md §4.8, add_replicas/
// remove_replicas). It is nil for a group with no replica configured.
type ReplicaController interface {
	// SetPassive asks the replica group to begin holding partitions
	// passively, mirroring the main group's active set for them.
	SetPassive(ctx context.Context, partitions []uint32) error
	// Cleanup asks the replica group to drop partitions entirely: either
	// because the admin removed them from the replica relationship, or
	// because the main group finished absorbing them (graduation).
	Cleanup(ctx context.Context, partitions []uint32) error
}

// DBSetEvent is an out-of-band notification from the database set this
// group indexes: a partition or the master database disappearing, or the
// set's own sequence numbers advancing past what the header records.
type DBSetEvent struct {
	Deleted    *DbDeleted
	SeqUpdated *PartitionSet // partitions whose upstream seq moved
}

// DBSetGateway is the controller's read-only view onto the underlying
// database set: partition membership changes and deletions arrive here
// rather than through direct polling (spec.md §2, "DbSet").
type DBSetGateway interface {
	Events(ctx context.Context) <-chan DBSetEvent
	NumPartitions() uint32
	// Forget tells the database set reader this group no longer needs
	// change notifications for partitions, called once their role has
	// moved to cleanup in the in-memory header and just before that header
	// is committed (spec.md §4.7 step 5, persist_partition_states).
	Forget(ctx context.Context, partitions []uint32)
}
