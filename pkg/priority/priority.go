// Package priority defines bucket priority ordering (spec.md §4.3).
package priority

import "math"

// Priority is a small integer where 0 is the highest priority and 3 is the
// lowest a server may assign. Sentinel denotes "fully complete across all
// priorities" and never appears in a bucket checksum list.
type Priority int32

const (
	Highest  Priority = 0
	Lowest   Priority = 3
	Sentinel Priority = math.MaxInt32
)

// Valid reports whether p is one of the assignable priorities (not the
// sentinel).
func (p Priority) Valid() bool {
	return p >= Highest && p <= Lowest
}

// HigherThan reports whether p is strictly higher priority than other.
// Priority ordering is reversed from numeric ordering: a smaller number
// means higher priority, so p is higher than other when p < other.
func (p Priority) HigherThan(other Priority) bool {
	return p < other
}

// AtLeastAsHighAs reports whether p is at least as high priority as other.
func (p Priority) AtLeastAsHighAs(other Priority) bool {
	return p <= other
}

// CanPublishDuringPendingUpload reports whether this priority is allowed to
// publish applied changes while the upload queue still has pending writes.
// Only the highest priority may do so; everything else waits for the queue
// to drain.
func (p Priority) CanPublishDuringPendingUpload() bool {
	return p == Highest
}
