package metrics

import (
	"context"
	"time"

	"github.com/cuemby/syncbase/pkg/priority"
	"github.com/cuemby/syncbase/pkg/storage"
)

// Collector periodically samples storage and sync engine state into gauges.
// Counters (oplog entries applied, sync_local outcomes, control op latency)
// are incremented inline by the packages that observe those events; the
// collector only covers state that has to be polled.
//
// It depends on storage directly but takes connected as a callback rather
// than a *syncengine.Engine: syncengine imports materialize and oplog,
// which import this package for their own instrumentation, so a direct
// import here would cycle back.
type Collector struct {
	adapter   *storage.SQLiteAdapter
	connected func() bool
	stopCh    chan struct{}
}

// NewCollector creates a new metrics collector over an open adapter, polling
// connected for the sync stream's current connection state.
func NewCollector(adapter *storage.SQLiteAdapter, connected func() bool) *Collector {
	return &Collector{
		adapter:   adapter,
		connected: connected,
		stopCh:    make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectEngineMetrics()
	c.collectStorageMetrics()
}

func (c *Collector) collectEngineMetrics() {
	if c.connected() {
		SyncConnected.Set(1)
	} else {
		SyncConnected.Set(0)
	}
}

func (c *Collector) collectStorageMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := c.adapter.Begin(ctx)
	if err != nil {
		return
	}
	defer tx.Rollback()

	if names, err := c.adapter.AllBucketNames(ctx, tx); err == nil {
		BucketsTotal.Set(float64(len(names)))
	}

	if empty, err := c.adapter.CRUDQueueEmpty(ctx, tx); err == nil {
		if empty {
			CRUDQueueDepth.Set(0)
		} else {
			CRUDQueueDepth.Set(1)
		}
	}

	if lastSynced, ok, err := c.adapter.LastSyncedAt(ctx, tx, priority.Sentinel); err == nil && ok {
		LastSyncedAtSeconds.Set(float64(lastSynced.Unix()))
	}
}
