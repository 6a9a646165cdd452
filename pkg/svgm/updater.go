package svgm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// UpdateSource reads changes from a database set partition, in the shape
// the default updater needs. A real deployment backs this with the
// storage layer's own change feed; tests back it with a fake.
type UpdateSource interface {
	// ReadChanges streams document mutations for partition starting after
	// sinceSeq, calling apply once per batch. It returns the new seq once
	// the feed is drained to "now", or ctx.Err() if canceled.
	ReadChanges(ctx context.Context, partition uint32, sinceSeq uint64, apply func(batchSize int) error) (newSeq uint64, err error)
}

// defaultUpdater is the built-in UpdaterGateway: it walks every partition
// in active|passive, in ascending order (spec.md §4.1 "Updater" role),
// pulling changes through an UpdateSource and retrying a partition's batch
// on a transient read error with exponential backoff before giving up.
type defaultUpdater struct {
	src    UpdateSource
	stopCh chan struct{}
}

// NewDefaultUpdater returns an UpdaterGateway backed by src.
func NewDefaultUpdater(src UpdateSource) UpdaterGateway {
	return &defaultUpdater{src: src, stopCh: make(chan struct{})}
}

func (u *defaultUpdater) Stop() {
	select {
	case <-u.stopCh:
	default:
		close(u.stopCh)
	}
}

func (u *defaultUpdater) Start(ctx context.Context, h *IndexHeader, progress chan<- UpdateProgress) <-chan UpdateResult {
	out := make(chan UpdateResult, 1)
	// Each cycle gets its own stop channel, so a Stop aimed at an earlier
	// cycle does not abort this one.
	u.stopCh = make(chan struct{})
	go u.run(ctx, h, u.stopCh, progress, out)
	return out
}

// run walks active partitions first and passive partitions second,
// signaling the phase transition on progress so the controller can
// satisfy stale=false callers as soon as the cycle reaches
// UpdaterPhasePassive rather than waiting for full completion (spec.md
// §4.1, §4.4).
func (u *defaultUpdater) run(ctx context.Context, h *IndexHeader, stop <-chan struct{}, progress chan<- UpdateProgress, out chan<- UpdateResult) {
	start := time.Now()
	next := h.Seqs.Clone()
	var done uint64
	activeParts := h.Active.Bits()
	passiveParts := h.Passive.Bits()
	total := uint64(len(activeParts) + len(passiveParts))

	select {
	case progress <- UpdateProgress{ChangesTotal: total, Phase: UpdaterPhaseActive}:
	default:
	}

	walk := func(partitions []uint32, phase UpdaterPhase) (aborted bool, err error) {
		for _, partition := range partitions {
			select {
			case <-stop:
				return true, nil
			case <-ctx.Done():
				return false, ctx.Err()
			default:
			}

			since, _ := h.Seqs.Get(partition)
			newSeq, rerr := u.readWithBackoff(ctx, partition, since)
			if rerr != nil {
				return false, rerr
			}
			next.Set(partition, newSeq)
			done++
			select {
			case progress <- UpdateProgress{ChangesDone: done, ChangesTotal: total, Phase: phase}:
			default:
			}
		}
		return false, nil
	}

	if aborted, err := walk(activeParts, UpdaterPhaseActive); err != nil {
		out <- UpdateResult{Header: h, Stats: StatsEntry{Kind: StatsUpdate, Err: err.Error()}, Err: &UpdaterError{Reason: err}}
		return
	} else if aborted {
		out <- UpdateResult{Header: h, Stats: StatsEntry{Kind: StatsUpdate, ChangesDone: done, ChangesTotal: total, Aborted: true}}
		return
	}

	select {
	case progress <- UpdateProgress{ChangesDone: done, ChangesTotal: total, Phase: UpdaterPhasePassive}:
	default:
	}

	if aborted, err := walk(passiveParts, UpdaterPhasePassive); err != nil {
		out <- UpdateResult{Header: h, Stats: StatsEntry{Kind: StatsUpdate, Err: err.Error()}, Err: &UpdaterError{Reason: err}}
		return
	} else if aborted {
		out <- UpdateResult{Header: h, Stats: StatsEntry{Kind: StatsUpdate, ChangesDone: done, ChangesTotal: total, Aborted: true}}
		return
	}

	h.Seqs = next
	out <- UpdateResult{
		Header: h,
		Stats: StatsEntry{
			Kind:         StatsUpdate,
			ChangesDone:  done,
			ChangesTotal: total,
			IndexingTime: time.Since(start).Nanoseconds(),
		},
	}
}

// readWithBackoff retries a single partition's change read on transient
// error, giving up once the context is canceled.
func (u *defaultUpdater) readWithBackoff(ctx context.Context, partition uint32, since uint64) (uint64, error) {
	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	var newSeq uint64
	op := func() error {
		var err error
		newSeq, err = u.src.ReadChanges(ctx, partition, since, func(int) error { return nil })
		return err
	}
	if err := backoff.Retry(op, b); err != nil {
		return 0, err
	}
	return newSeq, nil
}
