package transport

import "sync/atomic"

// trackCounters holds the packet/byte counters for one track id. Atomic
// counters avoid lock contention between the hot Enqueue path and stats
// readers, the same trade-off the zsiec-prism pipeline and
// pkg/relay.CameraRelay make for frame metrics.
type trackCounters struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
}
