package taskgraph

import (
	"testing"
)

func TestGraphInfoWithDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   GraphInfo
		want GraphInfo
	}{
		{
			name: "zero",
			want: GraphInfo{
				Name:              DefaultGraphName,
				StagingMemorySize: DefaultStagingMemorySize,
				ViewCacheSize:     DefaultViewCacheSize,
			},
		},
		{
			name: "explicit values kept",
			in:   GraphInfo{Name: "frame", StagingMemorySize: 1024, ViewCacheSize: 8},
			want: GraphInfo{Name: "frame", StagingMemorySize: 1024, ViewCacheSize: 8},
		},
		{
			name: "negative staging disables the pool",
			in:   GraphInfo{StagingMemorySize: -1},
			want: GraphInfo{Name: DefaultGraphName, StagingMemorySize: -1, ViewCacheSize: DefaultViewCacheSize},
		},
		{
			name: "negative view cache",
			in:   GraphInfo{Name: "v", ViewCacheSize: -3},
			want: GraphInfo{Name: "v", StagingMemorySize: DefaultStagingMemorySize, ViewCacheSize: DefaultViewCacheSize},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.withDefaults(); got != tt.want {
				t.Errorf("withDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// Options are applied in order, so a later option wins.
func TestGraphOptionsOrder(t *testing.T) {
	info := GraphInfo{}
	for _, opt := range []GraphOption{
		WithSplitBarriers(true),
		WithParallelRecording(4),
		WithSplitBarriers(false),
		WithParallelRecording(0),
	} {
		opt(&info)
	}
	if info.SplitBarriers {
		t.Error("SplitBarriers = true, want the later option to disable it")
	}
	if !info.ParallelRecording || info.RecordWorkers != 0 {
		t.Errorf("ParallelRecording = %v with %d workers, want enabled with 0", info.ParallelRecording, info.RecordWorkers)
	}
}

func TestParallelRecordingPool(t *testing.T) {
	_, _, g := newTestGraph(t, GraphInfo{Name: "pool"}, WithParallelRecording(2))
	if g.pool == nil || g.pool.Workers() != 2 {
		t.Fatalf("pool = %v, want 2 workers", g.pool)
	}
	g.Close()
	if g.pool.IsRunning() {
		t.Error("pool still running after Close")
	}
}
