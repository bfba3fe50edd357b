package cache

import "expvar"

// Interface defines the public API of a decoded-record cache, keyed by
// record ordinal.
type Interface interface {
	Put(ordinal uint64, record []byte)
	Get(ordinal uint64) (record []byte, ok bool)
	Clear()
	GetHitRate() float64
	SetMetrics(hits, misses *expvar.Int)
	Len() int
}
