package svgm

// GroupType distinguishes a main group (owns partition assignment, can add
// replicas) from a replica group (mirrors a main group's active set on a
// different node, spec.md §2, §7).
type GroupType int8

const (
	GroupTypeMain GroupType = iota
	GroupTypeReplica
)

func (t GroupType) String() string {
	if t == GroupTypeReplica {
		return "replica"
	}
	return "main"
}

// GroupID names a set view group: a design document signature scoped to a
// set name.
type GroupID struct {
	SetName string
	Sig     string
}

func (id GroupID) String() string { return id.SetName + "/" + id.Sig }

// Group is the static identity and configuration of one set view group, as
// opposed to Controller, which is the running actor that owns its state.
type Group struct {
	ID         GroupID
	Type       GroupType
	Sig        Signature
	ViewNames  []string
	UseReplica bool
}

// GroupInfo is the read-only snapshot returned by RequestGroupInfo
// (spec.md §5, "group_info"): a point-in-time view of everything about a
// group that a caller outside the controller might want without blocking
// on the update cycle.
type GroupInfo struct {
	ID            GroupID
	Type          GroupType
	Active        []uint32
	Passive       []uint32
	Cleanup       []uint32
	NumPartitions uint32
	UpdaterRunning    bool
	CompactorRunning  bool
	CleanupRunning    bool
	WaitingClients    int
	StatsHistory  []StatsEntry
}

// BuildGroupInfo assembles a GroupInfo from the pieces the controller holds,
// reading the role bitmasks and num_partitions from h; the controller calls
// it on its own goroutine so h is not changing underneath it.
func BuildGroupInfo(g Group, h *IndexHeader, updaterRunning, compactorRunning, cleanupRunning bool, waitingClients int, history []StatsEntry) GroupInfo {
	return GroupInfo{
		ID:               g.ID,
		Type:             g.Type,
		Active:           h.Active.Bits(),
		Passive:          h.Passive.Bits(),
		Cleanup:          h.Cleanup.Bits(),
		NumPartitions:    h.NumPartitions,
		UpdaterRunning:   updaterRunning,
		CompactorRunning: compactorRunning,
		CleanupRunning:   cleanupRunning,
		WaitingClients:   waitingClients,
		StatsHistory:     history,
	}
}

// DataSize is what GetDataSize returns (SPEC_FULL.md §D). The controller
// fills in only UpdaterRunning; FileSize, DataSize and AccessTime are left
// zero.
type DataSize struct {
	FileSize      uint64
	DataSize      uint64
	AccessTime    int64
	UpdaterRunning bool
}
