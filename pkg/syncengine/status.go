package syncengine

import (
	"encoding/json"
	"hash/fnv"
	"time"

	"github.com/cuemby/syncbase/pkg/priority"
)

// PriorityStatus reports how far a single bucket priority has progressed,
// sorted by descending priority.Priority value (ascending urgency) the way
// the reference implementation's priority_status list is kept.
type PriorityStatus struct {
	Priority     priority.Priority
	LastSyncedAt time.Time
	HasSynced    bool
}

// DownloadProgress summarizes an in-flight checkpoint download for
// progress display.
type DownloadProgress struct {
	TargetCount int64
	AtLast      int64
	SinceLast   int64
}

// Status is the shared, coalesced snapshot the host polls or observes
// after every UpdateSyncStatus output (spec.md §4.7).
type Status struct {
	Connected      bool
	Connecting     bool
	PriorityStatus []PriorityStatus
	Downloading    *DownloadProgress
}

func (s Status) disconnect() Status {
	s.Connected = false
	s.Connecting = false
	s.Downloading = nil
	return s
}

func (s Status) startConnecting() Status {
	s.Connected = false
	s.Connecting = true
	s.Downloading = nil
	return s
}

func (s Status) markConnected() Status {
	s.Connecting = false
	s.Connected = true
	return s
}

// partialComplete records that every bucket at or above p has now fully
// synced, replacing any existing entries at or below p's urgency (spec.md
// §4.7's CheckpointPartiallyComplete handling mirrors sync_status.rs's
// retain-then-insert).
func (s Status) partialComplete(p priority.Priority, now time.Time) Status {
	kept := s.PriorityStatus[:0:0]
	for _, ps := range s.PriorityStatus {
		if ps.Priority.HigherThan(p) {
			kept = append(kept, ps)
		}
	}
	s.PriorityStatus = append([]PriorityStatus{{Priority: p, LastSyncedAt: now, HasSynced: true}}, kept...)
	return s
}

// appliedCheckpoint records a full checkpoint completion: every priority
// collapses into a single sentinel entry.
func (s Status) appliedCheckpoint(now time.Time) Status {
	s.Downloading = nil
	s.PriorityStatus = []PriorityStatus{{Priority: priority.Sentinel, LastSyncedAt: now, HasSynced: true}}
	return s
}

// hash is used to coalesce UpdateSyncStatus outputs: emit one only when
// the status actually changed between event boundaries (spec.md §4.7).
func (s Status) hash() uint64 {
	encoded, _ := json.Marshal(s)
	h := fnv.New64a()
	h.Write(encoded)
	return h.Sum64()
}
