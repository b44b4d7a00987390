package taskgraph

import "time"

// Stats summarizes a compiled graph and its executions.
type Stats struct {
	Tasks            int
	Submits          int
	Batches          int
	Barriers         int
	ImageTransitions int
	SplitBarriers    int
	Transients       int
	TransientMemory  uint64

	Executions    uint64
	Submissions   int // device submissions of the last execution
	Patches       uint64
	LastExecution time.Duration
}

// Stats returns the graph statistics. It is zero before Complete.
func (g *TaskGraph) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (c *compiled) stats(tasks int) Stats {
	s := Stats{
		Tasks:           tasks,
		Submits:         len(c.submits),
		SplitBarriers:   len(c.splits),
		Transients:      len(c.transients.resources),
		TransientMemory: c.transients.size,
	}
	for _, sp := range c.submits {
		for _, qp := range sp.queues {
			s.Batches += len(qp.batches)
			s.ImageTransitions += len(qp.init) + len(qp.post)
			for _, b := range qp.batches {
				s.Barriers += len(b.barriers)
				s.ImageTransitions += len(b.images)
			}
		}
	}
	for _, sp := range c.splits {
		s.Barriers += len(sp.barriers)
		s.ImageTransitions += len(sp.images)
	}
	return s
}
