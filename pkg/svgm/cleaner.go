package svgm

import "context"

// Purger removes rows belonging to a set of partitions from the id-tree
// and every view b-tree. The default cleaner delegates the actual b-tree
// walk to this interface so it stays storage-agnostic.
type Purger interface {
	Purge(ctx context.Context, h *IndexHeader, partitions *PartitionSet) (purgedCount uint64, newHeader *IndexHeader, err error)
}

// defaultCleaner is the built-in CleanerGateway: it purges cbitmask's
// members and reports the resulting header with cbitmask cleared
// (spec.md §4.2 "Cleanup role").
type defaultCleaner struct {
	purger Purger
	stopCh chan struct{}
}

// NewDefaultCleaner returns a CleanerGateway backed by p.
func NewDefaultCleaner(p Purger) CleanerGateway {
	return &defaultCleaner{purger: p, stopCh: make(chan struct{})}
}

func (c *defaultCleaner) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}

func (c *defaultCleaner) Start(ctx context.Context, h *IndexHeader) <-chan CleanupResult {
	out := make(chan CleanupResult, 1)
	go c.run(ctx, h, out)
	return out
}

func (c *defaultCleaner) run(ctx context.Context, h *IndexHeader, out chan<- CleanupResult) {
	if h.Cleanup.IsEmpty() {
		out <- CleanupResult{Header: h}
		return
	}

	purged, next, err := c.purger.Purge(ctx, h, h.Cleanup.Clone())
	if err != nil {
		out <- CleanupResult{Header: h, Err: &CleanerDied{Reason: err}}
		return
	}
	next.Cleanup = NewPartitionSet()
	out <- CleanupResult{Header: next, PurgedCount: purged}
}
