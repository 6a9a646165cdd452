package svgm

import "time"

// Config carries the tunables of the controller and its collaborators.
// The zero value is invalid; use DefaultConfig and apply Opts over it.
type Config struct {
	// CheckpointDelay is how long the controller waits, after the
	// non-fsync checkpoint it writes when an update cycle finishes, before
	// fsyncing the header in a commit. Progress events during a cycle do
	// not schedule any header write, and the delayed commit is not
	// canceled by an earlier commit.
	CheckpointDelay time.Duration

	// AutoUpdateThreshold holds a pending-change count for automatic
	// updater starts. The controller does not read it: it starts the
	// updater only for request_group, set_state, an applied pending
	// transition or a db-set sequence event, never by counting pending
	// changes.
	AutoUpdateThreshold uint64

	// ChunkThreshold is a size in bytes for view B-tree node compression.
	// Neither the controller nor the default collaborators read it;
	// EncodeChunk takes its threshold as an argument.
	ChunkThreshold uint64

	// HistorySize is the capacity of the bounded ring of recent
	// update/cleanup/compaction records.
	HistorySize int

	// CallTimeout is a bound for synchronous, non-critical calls to
	// collaborators (the db-set reader and the replica controller). The
	// controller does not apply it: those calls run with
	// context.Background() and no deadline.
	CallTimeout time.Duration

	Logger Logger
}

// DefaultConfig returns the tunables from spec: 5s checkpoint delay,
// 20000-change auto-update threshold, 5120-byte chunk threshold, a
// 20-entry history ring, and a 3s default call timeout.
func DefaultConfig() Config {
	return Config{
		CheckpointDelay:     5 * time.Second,
		AutoUpdateThreshold: 20000,
		ChunkThreshold:      5120,
		HistorySize:         20,
		CallTimeout:         3 * time.Second,
		Logger:              nopLogger{},
	}
}

// Opt configures a Config. Mirrors the functional-option shape the
// teacher package uses for client configuration.
type Opt func(*Config)

// WithLogger overrides the logger used by the controller and its
// collaborators.
func WithLogger(l Logger) Opt {
	return func(c *Config) { c.Logger = l }
}

// WithCheckpointDelay overrides the delay between an update's checkpoint
// write and the fsync commit that follows it.
func WithCheckpointDelay(d time.Duration) Opt {
	return func(c *Config) { c.CheckpointDelay = d }
}

// WithAutoUpdateThreshold overrides the auto-update pending-change threshold.
func WithAutoUpdateThreshold(n uint64) Opt {
	return func(c *Config) { c.AutoUpdateThreshold = n }
}

// WithChunkThreshold overrides the B-tree chunk-compression threshold.
func WithChunkThreshold(n uint64) Opt {
	return func(c *Config) { c.ChunkThreshold = n }
}

// WithHistorySize overrides the stats-history ring capacity.
func WithHistorySize(n int) Opt {
	return func(c *Config) { c.HistorySize = n }
}

// WithCallTimeout overrides the default collaborator call timeout.
func WithCallTimeout(d time.Duration) Opt {
	return func(c *Config) { c.CallTimeout = d }
}

func newConfig(opts ...Opt) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
