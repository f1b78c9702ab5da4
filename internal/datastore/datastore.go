// Package datastore implements the DataStore (C5): the single lock
// guarding the Store and Tracker, and the set of live subscriber
// queues fed from Tracker deltas. Grounded on the original
// implementation's DataStore class (data.py/socket_server.py) for the
// lock-guarded process/subscribe/unsubscribe shape, generalized to the
// tagged sample.Sample variant and instrumented with the teacher's
// promauto-based telemetry.
package datastore

import (
	"log/slog"
	"sync"

	"github.com/KarelPeeters/DigitalMeter/internal/sample"
	"github.com/KarelPeeters/DigitalMeter/internal/store"
	"github.com/KarelPeeters/DigitalMeter/internal/telemetry"
	"github.com/KarelPeeters/DigitalMeter/internal/tracker"
)

// deltaQueueDepth bounds each subscriber's channel. A full channel
// means the subscriber is too slow; the delta for it is dropped per
// spec §4.4's SubscriberSlow policy rather than blocking process().
const deltaQueueDepth = 16

// DataStore holds one Store, one Tracker, and the set of subscriber
// channels, all guarded by a single mutex.
type DataStore struct {
	mu          sync.Mutex
	store       *store.Store
	tracker     *tracker.Tracker
	subscribers map[chan tracker.MultiSeries]struct{}
	metrics     *telemetry.Metrics
}

// NewSubscriberChannel allocates a subscriber queue of the standard
// depth, ready to pass to Subscribe.
func NewSubscriberChannel() chan tracker.MultiSeries {
	return make(chan tracker.MultiSeries, deltaQueueDepth)
}

// New builds a DataStore over an opened Store and the default
// MultiSeries resolution configuration.
func New(st *store.Store, metrics *telemetry.Metrics) *DataStore {
	return &DataStore{
		store:       st,
		tracker:     tracker.New(tracker.DefaultConfig()),
		subscribers: make(map[chan tracker.MultiSeries]struct{}),
		metrics:     metrics,
	}
}

// Process inserts smp, advances the tracker, and fans the resulting
// delta out to every subscriber, dropping it (and only it) for any
// subscriber whose channel is full.
func (d *DataStore) Process(smp sample.Sample) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	touched, err := d.store.Insert(smp)
	if err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.RecordIngestion()
	}

	currTs, ok := smp.CurrentTimestamp()
	if !ok {
		return nil
	}

	delta, err := d.tracker.Update(d.store, touched, currTs)
	if err != nil {
		return err
	}
	if len(delta) == 0 {
		return nil
	}

	for q := range d.subscribers {
		select {
		case q <- delta.Clone():
		default:
			slog.Warn("dropping delta for slow subscriber")
			if d.metrics != nil {
				d.metrics.RecordDeltaDropped()
			}
		}
	}
	return nil
}

// Subscribe registers q and returns a snapshot of the canonical
// MultiSeries taken atomically with registration, so the subscriber
// neither misses nor double-counts any update.
func (d *DataStore) Subscribe(q chan tracker.MultiSeries) tracker.MultiSeries {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.subscribers[q] = struct{}{}
	if d.metrics != nil {
		d.metrics.SetActiveSubscribers(len(d.subscribers))
	}
	return d.tracker.Snapshot()
}

// Unsubscribe removes q from the subscriber set.
func (d *DataStore) Unsubscribe(q chan tracker.MultiSeries) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.subscribers, q)
	if d.metrics != nil {
		d.metrics.SetActiveSubscribers(len(d.subscribers))
	}
}
