package svgm

import "context"

// MainGroupReader is the read-only handle a replica group uses to pull a
// snapshot from the main group it mirrors (spec.md §7).
type MainGroupReader interface {
	// Snapshot returns the main group's current header if its active
	// bitmask still matches want; otherwise it returns ErrRetryReplica so
	// the replica knows to re-request after the main group settles.
	Snapshot(ctx context.Context, want *PartitionSet) (*IndexHeader, error)
}

// defaultReplica is the built-in ReplicaGateway.
type defaultReplica struct {
	main MainGroupReader
}

// NewDefaultReplica returns a ReplicaGateway backed by main.
func NewDefaultReplica(main MainGroupReader) ReplicaGateway {
	return &defaultReplica{main: main}
}

func (r *defaultReplica) RequestSnapshot(ctx context.Context, active *PartitionSet) <-chan ReplicaSnapshot {
	out := make(chan ReplicaSnapshot, 1)
	go func() {
		h, err := r.main.Snapshot(ctx, active)
		out <- ReplicaSnapshot{Header: h, Err: err}
	}()
	return out
}
