package fifo

import (
	"sync/atomic"
	"unsafe"

	"github.com/zeebo/pcg"
)

const (
	cacheLine = 64 // typical size of a cache line
	numShards = 16 // number of padded counters per gauge
)

// Gauge counts outstanding items. One Gauge may be shared by many Queues, so
// their producers and consumers update it from many goroutines at once. It is
// sharded over cache-line padded counters to keep those updates from
// contending. It is safe for concurrent use, and a nil Gauge ignores updates
// and reads as zero.
type Gauge struct {
	shards [numShards]struct {
		n atomic.Int64
		_ [cacheLine - unsafe.Sizeof(int64(0))]byte
	}
}

// Add adds n to the Gauge.
func (g *Gauge) Add(n int64) {
	if g == nil {
		return
	}
	g.shards[pcg.Uint32n(numShards)].n.Add(n)
}

// Value returns the sum of everything added to the Gauge.
func (g *Gauge) Value() (v int64) {
	if g == nil {
		return 0
	}
	for i := range g.shards {
		v += g.shards[i].n.Load()
	}
	return v
}
