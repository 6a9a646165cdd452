package svgm

import (
	"context"
	"fmt"
	"time"
)

// ControllerPhase names the controller's current lifecycle phase as one
// tagged value (Design Notes, "Process-per-group control loop -> owned
// actor"). Whether the updater, cleaner and compactor are running is kept
// in separate boolean flags alongside it.
type ControllerPhase int8

const (
	PhaseUndefined ControllerPhase = iota
	PhaseIdle
	PhaseUpdating
	PhaseShuttingDown
	PhaseClosed
)

func (p ControllerPhase) String() string {
	switch p {
	case PhaseUndefined:
		return "undefined"
	case PhaseIdle:
		return "idle"
	case PhaseUpdating:
		return "updating"
	case PhaseShuttingDown:
		return "shutting_down"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Controller owns one group's header and every collaborator that mutates
// it. All state lives inside the loop goroutine; every exported method
// sends a message down req and blocks on a reply, so no field here is ever
// touched from two goroutines at once (spec.md §5).
type Controller struct {
	group Group
	cfg   Config

	file FileHandle

	updater    UpdaterGateway
	cleaner    CleanerGateway
	compactor  CompactorGateway
	replica    ReplicaGateway
	replicaCtl ReplicaController
	dbset      DBSetGateway

	req chan controllerMsg
}

// NewController constructs a Controller for group over an already-open
// durable file, and starts the owning goroutine. replicaCtl may be nil for a group with
// no replica relationship to push partition-role changes to. Callers must
// call Close when done.
func NewController(group Group, file FileHandle, dbset DBSetGateway, updater UpdaterGateway, cleaner CleanerGateway, compactor CompactorGateway, replica ReplicaGateway, replicaCtl ReplicaController, opts ...Opt) *Controller {
	c := &Controller{
		group:      group,
		cfg:        newConfig(opts...),
		file:       file,
		updater:    updater,
		cleaner:    cleaner,
		compactor:  compactor,
		replica:    replica,
		replicaCtl: replicaCtl,
		dbset:      dbset,
		req:        make(chan controllerMsg, 16),
	}
	go c.loop()
	return c
}

type controllerLoop struct {
	c *Controller

	phase  ControllerPhase
	header *IndexHeader

	waitingForUpdate  *waitQueue
	waitingForPending *waitQueue
	pendingTransition *PendingTransition

	history *statsHistory

	updaterRunning   bool
	updaterPhase     UpdaterPhase
	cleanupRunning   bool
	compactorRunning bool

	// replicaHeld is the set of partitions the replica group is currently
	// known to hold passively on this main group's behalf, maintained by
	// handleAddReplicas/handleRemoveReplicas/graduateTransferredReplicas.
	// Nil or empty for a group with no replica or nothing handed over yet.
	replicaHeld *PartitionSet

	updateProgressCh chan UpdateProgress
	updateResultCh   <-chan UpdateResult
	cleanupResultCh  <-chan CleanupResult
	compactResultCh  <-chan CompactResult

	dbsetCh <-chan DBSetEvent

	shutdownErr error
}

func (c *Controller) loop() {
	l := &controllerLoop{
		c:                 c,
		phase:             PhaseUndefined,
		waitingForUpdate:  newWaitQueue(),
		waitingForPending: newWaitQueue(),
		history:           newStatsHistory(c.cfg.HistorySize),
		replicaHeld:       NewPartitionSet(),
		updateProgressCh:  make(chan UpdateProgress, 8),
	}
	if c.dbset != nil {
		l.dbsetCh = c.dbset.Events(context.Background())
	}
	l.run()
}

func (l *controllerLoop) log(level Level, msg string, kv ...any) {
	l.c.cfg.Logger.Log(level, msg, append([]any{"group", l.c.group.ID.String()}, kv...)...)
}

func (l *controllerLoop) run() {
	for {
		select {
		case msg, ok := <-l.c.req:
			if !ok {
				return
			}
			l.dispatch(msg)
			if l.phase == PhaseClosed {
				return
			}

		case p, ok := <-l.updateProgressCh:
			if ok {
				l.onUpdateProgress(p)
			}

		case res, ok := <-l.updateResultCh:
			if ok {
				l.onUpdateResult(res)
			}
			l.updateResultCh = nil

		case res, ok := <-l.cleanupResultCh:
			if ok {
				l.onCleanupResult(res)
			}
			l.cleanupResultCh = nil

		case res, ok := <-l.compactResultCh:
			prevCh := l.compactResultCh
			if ok {
				l.onCompactResult(res)
			}
			// onCompactResult may have already started a retry cycle and
			// reassigned compactResultCh (behind-sequence gate, spec.md
			// §4.6); only clear it here if that didn't happen.
			if l.compactResultCh == prevCh {
				l.compactResultCh = nil
			}

		case evt, ok := <-l.dbsetCh:
			if ok {
				l.onDBSetEvent(evt)
			}
		}

		l.waitingForUpdate.prune()
		l.waitingForPending.prune()
	}
}

func (l *controllerLoop) dispatch(msg controllerMsg) {
	switch m := msg.(type) {
	case msgDefineView:
		m.reply <- l.handleDefineView(m)
	case msgIsViewDefined:
		m.reply <- l.phase != PhaseUndefined
	case msgSetState:
		m.reply <- l.handleSetState(m)
	case msgAddReplicas:
		m.reply <- l.handleAddReplicas(m)
	case msgRemoveReplicas:
		m.reply <- l.handleRemoveReplicas(m)
	case msgRequestGroup:
		l.handleRequestGroup(m)
	case msgRequestGroupInfo:
		m.reply <- l.buildGroupInfo()
	case msgGetDataSize:
		m.reply <- l.buildDataSize()
	case msgPartitionDeleted:
		m.reply <- l.handlePartitionDeleted(m)
	case msgStartCompact:
		m.reply <- l.handleStartCompact()
	case msgCancelCompact:
		m.reply <- l.handleCancelCompact()
	case msgNotifyDesignDocUpdated:
		l.handleDesignDocUpdated(m)
	case msgClose:
		l.handleClose(m)
	case msgCommit:
		l.persist(true)
	default:
		panic(fmt.Sprintf("svgm: unhandled controller message %T", msg))
	}
}

func (l *controllerLoop) requireDefined() error {
	if l.phase == PhaseUndefined {
		return ErrViewUndefined
	}
	return nil
}

func (l *controllerLoop) handleDefineView(m msgDefineView) error {
	if l.phase != PhaseUndefined {
		return ErrViewAlreadyDefined
	}
	sig := ComputeSignature(m.compiled)
	h := NewBlankHeader(sig)
	h.NumPartitionsDefined = true
	h.NumPartitions = m.numPartitions
	h.HasReplica = m.useReplica
	l.header = h
	l.c.group.Sig = sig
	l.c.group.UseReplica = m.useReplica
	l.phase = PhaseIdle
	l.log(LevelInfo, "view defined", "num_partitions", m.numPartitions, "use_replica", m.useReplica)
	return nil
}

// handleSetState implements spec.md §4.7: a no-op restatement of the
// current role assignment returns nil without changing anything (step 2); a
// request that arrives while one is already pending merges into it
// (step 3); otherwise the cleaner and updater are stopped immediately
// (step 4) and the new lists either apply now or, if any requested
// active/passive partition is still draining through cleanup, become the
// new pending transition (step 5), after which the updater/compactor
// restart if they had been running and the cleaner starts if needed
// (step 6).
func (l *controllerLoop) handleSetState(m msgSetState) error {
	if err := l.requireDefined(); err != nil {
		return err
	}
	if err := ValidatePartitionLists(l.header.NumPartitions, m.active, m.passive, m.cleanup); err != nil {
		return err
	}

	if isNoOpTransition(l.header.RoleState(), m.active, m.passive, m.cleanup) {
		return nil
	}

	if l.pendingTransition != nil {
		merged := mergePendingTransition(l.pendingTransition, m.active, m.passive, m.cleanup)
		if !merged.disjointLists() {
			return ErrIntersectingLists
		}
		l.pendingTransition = merged
		l.persist(true)
		return nil
	}

	wasUpdating := l.updaterRunning
	wasCompacting := l.compactorRunning
	l.stopCleanerNow()
	l.stopUpdaterNow()

	wanted := PartitionSetOf(m.active...)
	wanted.AddAll(PartitionSetOf(m.passive...))
	inCleanup := wanted.And(l.header.Cleanup)

	if inCleanup.IsEmpty() {
		if err := l.applyRoleTransition(m.active, m.passive, m.cleanup); err != nil {
			return err
		}
	} else {
		l.pendingTransition = &PendingTransition{Active: m.active, Passive: m.passive, Cleanup: m.cleanup}
		l.persist(true)
	}

	if wasUpdating {
		l.maybeStartUpdate()
	}
	if wasCompacting && l.c.compactor != nil {
		l.c.compactor.Cancel()
		l.compactorRunning = true
		l.compactResultCh = l.c.compactor.Start(context.Background(), l.header)
	}
	l.maybeStartCleanup()
	return nil
}

// applyRoleTransition applies the active/passive/cleanup algebra (resolving
// any replica-on-transfer interaction first), writes a hard-committed
// header, and carries out the persist_partition_states duties of spec.md
// §4.7 step 5: partitions newly marked for cleanup are forgotten by the
// db-set reader, and any of them the replica already held passively are
// dropped there too.
func (l *controllerLoop) applyRoleTransition(active, passive, cleanup []uint32) error {
	rs := l.header.RoleState()

	// A partition promoted to active that the replica already holds
	// becomes passive on main instead and is handed to
	// replicas_on_transfer, graduating to active once the updater catches
	// its sequence up (spec.md §4.8, last paragraph).
	var toActive, toTransfer []uint32
	for _, id := range active {
		if l.replicaHeld.Contains(id) {
			toTransfer = append(toTransfer, id)
		} else {
			toActive = append(toActive, id)
		}
	}

	rs = PromoteToActive(rs, toActive)
	rs = PromoteToPassive(rs, append(append([]uint32{}, passive...), toTransfer...))
	rs = MarkForCleanup(rs, cleanup)
	l.header.SetRoleState(rs)
	if len(toTransfer) > 0 {
		l.header.ReplicasOnTransfer.AddAll(PartitionSetOf(toTransfer...))
	}

	if err := l.header.Invariant(l.c.group.Type); err != nil {
		return err
	}

	if len(cleanup) > 0 {
		if l.c.dbset != nil {
			l.c.dbset.Forget(context.Background(), cleanup)
		}
		if l.c.replicaCtl != nil {
			heldCleanup := PartitionSetOf(cleanup...).And(l.replicaHeld)
			if !heldCleanup.IsEmpty() {
				ids := heldCleanup.Bits()
				_ = l.c.replicaCtl.Cleanup(context.Background(), ids)
				l.replicaHeld.RemoveAll(heldCleanup)
			}
		}
	}

	l.persist(true)
	return nil
}

// handleAddReplicas ignores any partition already active or passive on
// main, and routes the remainder to become passive on the replica group
// (spec.md §4.8). Accepted partitions are tracked in replicaHeld but never
// written into replicas_on_transfer directly: that bitmask is populated
// only when set_state later promotes one of them to active on main
// (invariant 4, replicas_on_transfer ⊆ abitmask ∪ pbitmask).
func (l *controllerLoop) handleAddReplicas(m msgAddReplicas) error {
	if err := l.requireDefined(); err != nil {
		return err
	}
	if l.c.group.Type != GroupTypeMain {
		return ErrNotMainGroup
	}
	if !l.header.HasReplica {
		return ErrReplicaNotEnabled
	}
	if err := ValidatePartitionLists(l.header.NumPartitions, m.partitions); err != nil {
		return err
	}

	owned := l.header.Active.Or(l.header.Passive)
	toAdd := PartitionSetOf(m.partitions...).AndNot(owned)
	if toAdd.IsEmpty() {
		return nil
	}
	if l.c.replicaCtl != nil {
		if err := l.c.replicaCtl.SetPassive(context.Background(), toAdd.Bits()); err != nil {
			return err
		}
	}
	l.replicaHeld.AddAll(toAdd)
	return nil
}

// handleRemoveReplicas splits the request into on-transfer partitions,
// whose transfer to the replica is canceled in place, and not-on-transfer
// partitions, which the replica is told to drop outright (spec.md §4.8).
func (l *controllerLoop) handleRemoveReplicas(m msgRemoveReplicas) error {
	if err := l.requireDefined(); err != nil {
		return err
	}
	if l.c.group.Type != GroupTypeMain {
		return ErrNotMainGroup
	}

	requested := PartitionSetOf(m.partitions...)
	onTransfer := requested.And(l.header.ReplicasOnTransfer)
	notOnTransfer := requested.AndNot(l.header.ReplicasOnTransfer)

	if !onTransfer.IsEmpty() {
		ids := onTransfer.Bits()
		wasCompacting := l.compactorRunning

		l.header.ReplicasOnTransfer.RemoveAll(onTransfer)
		rs := l.header.RoleState()
		rs = PromoteToActive(rs, ids)
		l.header.SetRoleState(rs)
		l.replicaHeld.RemoveAll(onTransfer)

		if err := l.header.Invariant(l.c.group.Type); err != nil {
			return err
		}
		if wasCompacting && l.c.compactor != nil {
			l.c.compactor.Cancel()
			l.compactorRunning = true
			l.compactResultCh = l.c.compactor.Start(context.Background(), l.header)
		}
		l.persist(true)
	}

	if !notOnTransfer.IsEmpty() {
		if l.c.replicaCtl != nil {
			if err := l.c.replicaCtl.Cleanup(context.Background(), notOnTransfer.Bits()); err != nil {
				return err
			}
		}
		l.replicaHeld.RemoveAll(notOnTransfer)
	}
	return nil
}

// pendingTransitionIntersects reports whether wanted shares any member
// with the active or passive lists of the current pending transition, in
// which case a request_group call must park rather than answer from a
// header that is about to change underneath it (spec.md §4.3).
func (l *controllerLoop) pendingTransitionIntersects(wanted *PartitionSet) bool {
	if l.pendingTransition == nil || wanted.IsEmpty() {
		return false
	}
	union := PartitionSetOf(l.pendingTransition.Active...)
	union.AddAll(PartitionSetOf(l.pendingTransition.Passive...))
	return wanted.Intersects(union)
}

// handleRequestGroup implements the three request_group staleness modes of
// spec.md §4.4. A request whose wanted partitions intersect a pending
// transition always parks, regardless of stale. Otherwise: StaleOK and
// StaleUpdateAfter both answer from the current snapshot immediately (the
// latter also kicks the updater if idle); StaleFalse answers immediately
// only once the updater has reached its passive phase, and otherwise
// parks and ensures the updater is running.
func (l *controllerLoop) handleRequestGroup(m msgRequestGroup) {
	if l.phase == PhaseUndefined {
		m.reply <- requestGroupReply{err: ErrViewUndefined}
		return
	}

	wanted := PartitionSetOf(m.wanted...)
	if l.pendingTransitionIntersects(wanted) {
		w := l.waitingForPending.add(m.ctx, wanted)
		go l.awaitThenReply(w, m)
		return
	}

	switch m.stale {
	case StaleOK:
		m.reply <- requestGroupReply{header: l.header}
	case StaleUpdateAfter:
		m.reply <- requestGroupReply{header: l.header}
		l.maybeStartUpdate()
	default: // StaleFalse
		if l.updaterPhase == UpdaterPhasePassive {
			m.reply <- requestGroupReply{header: l.header}
			return
		}
		w := l.waitingForUpdate.add(m.ctx, wanted)
		l.maybeStartUpdate()
		go l.awaitThenReply(w, m)
	}
}

// awaitThenReply blocks on w's reply channel in its own goroutine so the
// controller loop is never stalled on a slow or abandoned caller. Once
// unblocked it re-enters the loop with a synthetic stale=ok request rather
// than reading l.header directly, since this goroutine is not the loop's
// owner.
func (l *controllerLoop) awaitThenReply(w *waiter, m msgRequestGroup) {
	res := <-w.reply
	if res.err != nil {
		m.reply <- requestGroupReply{err: res.err}
		return
	}
	retry := make(chan requestGroupReply, 1)
	select {
	case l.c.req <- msgRequestGroup{ctx: m.ctx, wanted: m.wanted, stale: StaleOK, reply: retry}:
	case <-m.ctx.Done():
		m.reply <- requestGroupReply{err: m.ctx.Err()}
		return
	}
	m.reply <- <-retry
}

func (l *controllerLoop) handlePartitionDeleted(m msgPartitionDeleted) error {
	if err := l.requireDefined(); err != nil {
		return err
	}
	rs := l.header.RoleState()
	rs = MarkForCleanup(rs, []uint32{m.partition})
	l.header.SetRoleState(rs)
	l.maybeStartCleanup()
	return nil
}

func (l *controllerLoop) handleStartCompact() error {
	if err := l.requireDefined(); err != nil {
		return err
	}
	if l.c.compactor == nil {
		return fmt.Errorf("svgm: no compactor configured")
	}
	if l.compactorRunning {
		return fmt.Errorf("svgm: compaction already running")
	}
	l.compactorRunning = true
	l.compactResultCh = l.c.compactor.Start(context.Background(), l.header)
	return nil
}

func (l *controllerLoop) handleCancelCompact() error {
	if !l.compactorRunning {
		return nil
	}
	l.c.compactor.Cancel()
	return nil
}

func (l *controllerLoop) handleDesignDocUpdated(m msgNotifyDesignDocUpdated) {
	if l.phase == PhaseUndefined || m.newSig == l.c.group.Sig {
		return
	}
	l.log(LevelInfo, "design document changed, shutting down group")
	l.beginShutdown(ErrNormalShutdown)
}

func (l *controllerLoop) handleClose(m msgClose) {
	l.beginShutdown(ErrNormalShutdown)
	close(m.done)
}

func (l *controllerLoop) beginShutdown(reason error) {
	if l.phase == PhaseShuttingDown || l.phase == PhaseClosed {
		return
	}
	l.phase = PhaseShuttingDown
	if l.updaterRunning {
		l.c.updater.Stop()
	}
	if l.cleanupRunning {
		l.c.cleaner.Stop()
	}
	if l.compactorRunning {
		l.c.compactor.Cancel()
	}
	l.waitingForUpdate.releaseAll(&Shutdown{Reason: reason})
	l.waitingForPending.releaseAll(&Shutdown{Reason: reason})
	l.shutdownErr = reason
	l.phase = PhaseClosed
}

func (l *controllerLoop) maybeStartUpdate() {
	if l.updaterRunning || l.c.updater == nil {
		return
	}
	if l.header.Active.IsEmpty() && l.header.Passive.IsEmpty() {
		return
	}
	l.updaterRunning = true
	l.updaterPhase = UpdaterPhaseStarting
	l.phase = PhaseUpdating
	l.updateResultCh = l.c.updater.Start(context.Background(), l.header, l.updateProgressCh)
}

// stopUpdaterNow signals the in-flight updater to halt and immediately
// detaches its result channel, so a late result from the stopped cycle is
// silently dropped instead of being applied over state that has already
// moved on (spec.md §4.7 step 4, "stop the updater immediately").
func (l *controllerLoop) stopUpdaterNow() {
	if !l.updaterRunning {
		return
	}
	l.c.updater.Stop()
	l.updaterRunning = false
	l.updaterPhase = UpdaterPhaseNone
	l.updateResultCh = nil
	if l.phase == PhaseUpdating {
		l.phase = PhaseIdle
	}
}

func (l *controllerLoop) stopCleanerNow() {
	if !l.cleanupRunning {
		return
	}
	l.c.cleaner.Stop()
	l.cleanupRunning = false
	l.cleanupResultCh = nil
}

func (l *controllerLoop) maybeStartCleanup() {
	if l.cleanupRunning || l.c.cleaner == nil {
		return
	}
	if l.header.Cleanup.IsEmpty() {
		return
	}
	l.cleanupRunning = true
	l.cleanupResultCh = l.c.cleaner.Start(context.Background(), l.header)
}

func (l *controllerLoop) onUpdateProgress(p UpdateProgress) {
	if p.Phase != UpdaterPhaseNone {
		l.updaterPhase = p.Phase
	}
	if p.Phase == UpdaterPhasePassive {
		// stale=false only requires the updater to have reached its
		// passive phase, not full completion (spec.md §4.4).
		l.waitingForUpdate.releaseAll(nil)
	}
}

func (l *controllerLoop) onUpdateResult(res UpdateResult) {
	l.updaterRunning = false
	l.updaterPhase = UpdaterPhaseNone
	if l.phase == PhaseUpdating {
		l.phase = PhaseIdle
	}
	if res.Err != nil {
		l.log(LevelError, "updater failed", "err", res.Err)
		l.waitingForUpdate.releaseAll(res.Err)
		l.beginShutdown(res.Err)
		return
	}
	l.header = res.Header
	l.history.push(res.Stats)
	l.waitingForUpdate.releaseAll(nil)

	if l.graduateTransferredReplicas() {
		l.persist(true)
		return
	}

	l.persist(false)
	if !l.header.Active.IsEmpty() || !l.header.Passive.IsEmpty() {
		time.AfterFunc(l.c.cfg.CheckpointDelay, func() {
			l.c.req <- msgCommit{}
		})
	}
}

// graduateTransferredReplicas promotes every replicas_on_transfer
// partition to active now that an update cycle has caught its sequence
// up, and tells the replica to drop it, since the main group now fully
// owns it again (spec.md §4.8, last paragraph, scenario 5). Reports
// whether anything graduated, so the caller knows to hard-commit instead
// of taking the checkpoint fast path.
func (l *controllerLoop) graduateTransferredReplicas() bool {
	if l.header.ReplicasOnTransfer.IsEmpty() {
		return false
	}
	ids := l.header.ReplicasOnTransfer.Bits()
	rs := l.header.RoleState()
	rs = PromoteToActive(rs, ids)
	l.header.SetRoleState(rs)
	l.header.ReplicasOnTransfer.RemoveAll(PartitionSetOf(ids...))
	if l.c.replicaCtl != nil {
		_ = l.c.replicaCtl.Cleanup(context.Background(), ids)
	}
	l.replicaHeld.RemoveAll(PartitionSetOf(ids...))
	return true
}

// persist appends the current header to the file. commit fsyncs (a
// durable commit, spec.md §6); a plain checkpoint skips the fsync, and a
// torn record is rejected by DecodeHeader's length and CRC-32C checks.
func (l *controllerLoop) persist(commit bool) {
	if l.c.file == nil || l.header == nil {
		return
	}
	rec, err := EncodeHeader(l.header)
	if err != nil {
		l.log(LevelError, "encode header failed", "err", err)
		return
	}
	if err := l.c.file.AppendHeader(rec); err != nil {
		l.log(LevelError, "append header failed", "err", err)
		return
	}
	if commit {
		if err := l.c.file.Sync(); err != nil {
			l.log(LevelError, "fsync header failed", "err", err)
		}
	}
}

func (l *controllerLoop) onCleanupResult(res CleanupResult) {
	l.cleanupRunning = false
	if res.Err != nil {
		l.log(LevelError, "cleaner failed", "err", res.Err)
		l.beginShutdown(res.Err)
		return
	}
	l.header = res.Header
	l.history.push(StatsEntry{Kind: StatsCleanup, PurgedCount: res.PurgedCount})

	if l.pendingTransition != nil {
		pt := l.pendingTransition
		l.pendingTransition = nil
		if err := l.applyRoleTransition(pt.Active, pt.Passive, pt.Cleanup); err != nil {
			l.log(LevelError, "applying pending transition failed", "err", err)
		} else {
			l.maybeStartUpdate()
		}
		l.maybeStartCleanup()

		// Re-evaluate each parked pending-transition waiter against
		// whatever pending transition exists now — a fresh one may have
		// merged in while this one drained. Waiters still blocked by it
		// stay queued (and get the updater kicked); the rest are
		// released to re-fetch a fresh snapshot (spec.md §4.3, scenario
		// 4), rather than releasing the whole queue unconditionally.
		l.waitingForPending.releaseMatching(func(w *waiter) bool {
			return !l.pendingTransitionIntersects(w.wanted)
		}, nil)
		if l.waitingForPending.len() > 0 {
			l.maybeStartUpdate()
		}
		return
	}
	l.persist(true)
}

// onCompactResult implements the "not behind live sequences" gate of
// spec.md §4.6: if an update landed on a partition the compactor also
// covered while compaction was running, the compacted snapshot is missing
// data the live header already claims to have indexed, so the swap is
// rejected and the compactor is asked to retry against the current
// header instead of being installed.
func (l *controllerLoop) onCompactResult(res CompactResult) {
	l.compactorRunning = false
	if res.Err != nil {
		l.log(LevelError, "compactor failed", "err", res.Err)
		return
	}
	if l.compactedHeaderBehind(res.Header) {
		l.log(LevelInfo, "compacted snapshot fell behind live sequences, retrying")
		l.compactorRunning = true
		l.compactResultCh = l.c.compactor.Start(context.Background(), l.header)
		return
	}
	l.header = res.Header
	l.history.push(StatsEntry{Kind: StatsCompact, PreCompactSize: res.PreCompactSize, PostCompactSize: res.PostCompactSize})
	l.persist(true)
}

// compactedHeaderBehind reports whether any active or passive partition's
// live sequence has advanced past what the compactor's output snapshot
// recorded.
func (l *controllerLoop) compactedHeaderBehind(compacted *IndexHeader) bool {
	for _, p := range l.header.Active.Or(l.header.Passive).Bits() {
		live, ok := l.header.Seqs.Get(p)
		if !ok {
			continue
		}
		got, ok := compacted.Seqs.Get(p)
		if !ok || got < live {
			return true
		}
	}
	return false
}

func (l *controllerLoop) onDBSetEvent(evt DBSetEvent) {
	if evt.Deleted != nil {
		l.beginShutdown(evt.Deleted)
		return
	}
	if evt.SeqUpdated != nil && !evt.SeqUpdated.IsEmpty() {
		l.maybeStartUpdate()
	}
}

func (l *controllerLoop) buildGroupInfo() GroupInfo {
	if l.header == nil {
		return GroupInfo{ID: l.c.group.ID, Type: l.c.group.Type}
	}
	return BuildGroupInfo(l.c.group, l.header, l.updaterRunning, l.compactorRunning, l.cleanupRunning,
		l.waitingForUpdate.len()+l.waitingForPending.len(), l.history.snapshot())
}

func (l *controllerLoop) buildDataSize() DataSize {
	return DataSize{UpdaterRunning: l.updaterRunning}
}

// --- exported, blocking API; each sends one message and waits for reply ---

func (c *Controller) DefineView(numPartitions uint32, useReplica bool, compiledDefinition []byte) error {
	reply := make(chan error, 1)
	c.req <- msgDefineView{numPartitions: numPartitions, useReplica: useReplica, compiled: compiledDefinition, reply: reply}
	return <-reply
}

func (c *Controller) IsViewDefined() bool {
	reply := make(chan bool, 1)
	c.req <- msgIsViewDefined{reply: reply}
	return <-reply
}

func (c *Controller) SetState(active, passive, cleanup []uint32) error {
	reply := make(chan error, 1)
	c.req <- msgSetState{active: active, passive: passive, cleanup: cleanup, reply: reply}
	return <-reply
}

func (c *Controller) AddReplicas(partitions []uint32) error {
	reply := make(chan error, 1)
	c.req <- msgAddReplicas{partitions: partitions, reply: reply}
	return <-reply
}

func (c *Controller) RemoveReplicas(partitions []uint32) error {
	reply := make(chan error, 1)
	c.req <- msgRemoveReplicas{partitions: partitions, reply: reply}
	return <-reply
}

// RequestGroup returns the group's current header for the given wanted
// partitions (nil meaning "whatever the group currently holds"). stale
// selects one of the three modes described by RequestStale (spec.md
// §4.4); regardless of stale, a request whose wanted partitions intersect
// an in-flight pending transition always blocks until that transition
// resolves.
func (c *Controller) RequestGroup(ctx context.Context, wanted []uint32, stale RequestStale) (*IndexHeader, error) {
	reply := make(chan requestGroupReply, 1)
	select {
	case c.req <- msgRequestGroup{ctx: ctx, wanted: wanted, stale: stale, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.header, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Controller) RequestGroupInfo() GroupInfo {
	reply := make(chan GroupInfo, 1)
	c.req <- msgRequestGroupInfo{reply: reply}
	return <-reply
}

func (c *Controller) GetDataSize() DataSize {
	reply := make(chan DataSize, 1)
	c.req <- msgGetDataSize{reply: reply}
	return <-reply
}

func (c *Controller) PartitionDeleted(partition uint32) error {
	reply := make(chan error, 1)
	c.req <- msgPartitionDeleted{partition: partition, reply: reply}
	return <-reply
}

func (c *Controller) StartCompact() error {
	reply := make(chan error, 1)
	c.req <- msgStartCompact{reply: reply}
	return <-reply
}

func (c *Controller) CancelCompact() error {
	reply := make(chan error, 1)
	c.req <- msgCancelCompact{reply: reply}
	return <-reply
}

// NotifyDesignDocUpdated tells the group its design document's compiled
// signature changed; if newSig differs from the group's own, the group
// shuts down so a new one can be created with the updated definition
// (SPEC_FULL.md §D).
func (c *Controller) NotifyDesignDocUpdated(newSig Signature) {
	c.req <- msgNotifyDesignDocUpdated{newSig: newSig}
}

// Close shuts the controller down, releasing every waiter with a Shutdown
// error and stopping any running collaborator.
func (c *Controller) Close() {
	done := make(chan struct{})
	c.req <- msgClose{done: done}
	<-done
}
