package svgm

import "context"

// Compactable rewrites a group's on-disk b-trees into a fresh file,
// dropping stale and duplicate entries, and reports the resulting header
// and before/after file sizes.
type Compactable interface {
	Compact(ctx context.Context, h *IndexHeader) (newHeader *IndexHeader, preSize, postSize uint64, err error)
}

// defaultCompactor is the built-in CompactorGateway (spec.md §2
// "Compactor"). Cancel is cooperative: it cancels the context passed into
// Compactable.Compact and lets the implementation decide how to unwind.
type defaultCompactor struct {
	target Compactable
	cancel context.CancelFunc
}

// NewDefaultCompactor returns a CompactorGateway backed by target.
func NewDefaultCompactor(target Compactable) CompactorGateway {
	return &defaultCompactor{target: target}
}

func (c *defaultCompactor) Cancel() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *defaultCompactor) Start(ctx context.Context, h *IndexHeader) <-chan CompactResult {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	out := make(chan CompactResult, 1)
	go func() {
		next, pre, post, err := c.target.Compact(runCtx, h)
		if err != nil {
			out <- CompactResult{Header: h, Err: &CompactorDied{Reason: err}}
			return
		}
		out <- CompactResult{Header: next, PreCompactSize: pre, PostCompactSize: post}
	}()
	return out
}
