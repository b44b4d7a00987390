package taskgraph

// Defaults applied by NewGraph.
const (
	// DefaultStagingMemorySize is the size of the per-graph transfer memory
	// pool (256 KiB).
	DefaultStagingMemorySize = 256 << 10

	// DefaultViewCacheSize bounds the number of cached views of external
	// images.
	DefaultViewCacheSize = 256

	// DefaultGraphName names graphs created without a name.
	DefaultGraphName = "taskgraph"
)

// GraphInfo configures a TaskGraph.
type GraphInfo struct {
	// Name labels device objects and log records.
	Name string

	// AliasTransients lets transient resources with disjoint lifetimes share
	// memory. Without it every transient gets its own range of the block.
	AliasTransients bool

	// SplitBarriers replaces barriers whose source and destination are more
	// than one batch apart by a signalled and waited event.
	SplitBarriers bool

	// ParallelRecording records the queues of one submit concurrently.
	ParallelRecording bool

	// RecordWorkers bounds parallel recording. Zero uses GOMAXPROCS.
	RecordWorkers int

	// StagingMemorySize is the transfer memory pool size in bytes. Zero
	// selects DefaultStagingMemorySize; a negative value disables the pool.
	StagingMemorySize int

	// ViewCacheSize bounds the external image view cache. Zero selects
	// DefaultViewCacheSize.
	ViewCacheSize int
}

// withDefaults returns a copy of info with zero fields replaced by defaults.
func (info GraphInfo) withDefaults() GraphInfo {
	if info.Name == "" {
		info.Name = DefaultGraphName
	}
	if info.StagingMemorySize == 0 {
		info.StagingMemorySize = DefaultStagingMemorySize
	}
	if info.ViewCacheSize <= 0 {
		info.ViewCacheSize = DefaultViewCacheSize
	}
	return info
}

// GraphOption adjusts GraphInfo during NewGraph.
//
// Example:
//
//	g, err := taskgraph.NewGraph(ctx, taskgraph.GraphInfo{Name: "frame"},
//		taskgraph.WithAliasTransients(true),
//		taskgraph.WithSplitBarriers(true))
type GraphOption func(*GraphInfo)

// WithName sets the graph name.
func WithName(name string) GraphOption {
	return func(i *GraphInfo) { i.Name = name }
}

// WithAliasTransients enables or disables transient memory aliasing.
func WithAliasTransients(enabled bool) GraphOption {
	return func(i *GraphInfo) { i.AliasTransients = enabled }
}

// WithSplitBarriers enables or disables split barriers.
func WithSplitBarriers(enabled bool) GraphOption {
	return func(i *GraphInfo) { i.SplitBarriers = enabled }
}

// WithParallelRecording records the queues of one submit concurrently on at
// most workers goroutines (zero uses GOMAXPROCS).
func WithParallelRecording(workers int) GraphOption {
	return func(i *GraphInfo) {
		i.ParallelRecording = true
		i.RecordWorkers = workers
	}
}

// WithStagingMemorySize sets the transfer memory pool size. A negative size
// disables the pool.
func WithStagingMemorySize(size int) GraphOption {
	return func(i *GraphInfo) { i.StagingMemorySize = size }
}
