package syncline

// ActiveSubscriptions tracks which subscription ids a bucket's checksum has
// reported across the lifetime of a sync iteration (the subscriptions
// supplement described in SPEC_FULL.md, grounded on sync/subscriptions.rs).
// A nil entry in BucketChecksum.Subscriptions means "this bucket contributes
// to the default, unnamed subscription".
type ActiveSubscriptions struct {
	byBucket map[string]map[int64]struct{}
}

// NewActiveSubscriptions returns an empty tracker.
func NewActiveSubscriptions() *ActiveSubscriptions {
	return &ActiveSubscriptions{byBucket: make(map[string]map[int64]struct{})}
}

// Observe records the subscription ids a checkpoint line reported for bucket.
func (a *ActiveSubscriptions) Observe(bucket string, subs []*int64) {
	if len(subs) == 0 {
		return
	}
	set, ok := a.byBucket[bucket]
	if !ok {
		set = make(map[int64]struct{})
		a.byBucket[bucket] = set
	}
	for _, s := range subs {
		if s != nil {
			set[*s] = struct{}{}
		}
	}
}

// Forget drops all recorded subscriptions for bucket, called when a
// checkpoint diff removes it.
func (a *ActiveSubscriptions) Forget(bucket string) {
	delete(a.byBucket, bucket)
}

// IDsFor returns the subscription ids known to be backed by bucket.
func (a *ActiveSubscriptions) IDsFor(bucket string) []int64 {
	set, ok := a.byBucket[bucket]
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
