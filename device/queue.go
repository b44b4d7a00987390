package device

import (
	"fmt"
	"math/bits"
	"strings"
)

// Queue identifies one hardware queue.
type Queue uint8

// Queues known to the task graph.
const (
	QueueMain Queue = iota
	QueueCompute0
	QueueCompute1
	QueueCompute2
	QueueCompute3
	QueueTransfer0
	QueueTransfer1

	// QueueCount is the number of queues.
	QueueCount = 7
)

var queueNames = [QueueCount]string{
	"main",
	"compute0",
	"compute1",
	"compute2",
	"compute3",
	"transfer0",
	"transfer1",
}

// String returns the queue name, for example "compute1".
func (q Queue) String() string {
	if int(q) < QueueCount {
		return queueNames[q]
	}
	return fmt.Sprintf("queue(%d)", uint8(q))
}

// Valid reports whether q names a known queue.
func (q Queue) Valid() bool { return int(q) < QueueCount }

// Bit returns the QueueBits value with only q set.
func (q Queue) Bit() QueueBits { return 1 << q }

// ParseQueue returns the queue with the given name.
func ParseQueue(name string) (Queue, error) {
	for i, n := range queueNames {
		if strings.EqualFold(n, name) {
			return Queue(i), nil
		}
	}
	return 0, fmt.Errorf("device: unknown queue %q", name)
}

// Queues returns all known queues in index order.
func Queues() []Queue {
	qs := make([]Queue, QueueCount)
	for i := range qs {
		qs[i] = Queue(i)
	}
	return qs
}

// QueueBits is a set of queues.
type QueueBits uint8

// Has reports whether q is in the set.
func (b QueueBits) Has(q Queue) bool { return b&q.Bit() != 0 }

// Count returns the number of queues in the set.
func (b QueueBits) Count() int { return bits.OnesCount8(uint8(b)) }

// Single returns the only queue of a one-element set.
func (b QueueBits) Single() (Queue, bool) {
	if b.Count() != 1 {
		return 0, false
	}
	return Queue(bits.TrailingZeros8(uint8(b))), true
}

// Each calls fn for every queue in the set in index order.
func (b QueueBits) Each(fn func(Queue)) {
	for q := Queue(0); int(q) < QueueCount; q++ {
		if b.Has(q) {
			fn(q)
		}
	}
}

// String lists the queues in the set, for example "main|compute0".
func (b QueueBits) String() string {
	if b == 0 {
		return "none"
	}
	var parts []string
	b.Each(func(q Queue) { parts = append(parts, q.String()) })
	return strings.Join(parts, "|")
}
