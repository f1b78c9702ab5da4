package datastore

import (
	"testing"

	"github.com/KarelPeeters/DigitalMeter/internal/sample"
	"github.com/KarelPeeters/DigitalMeter/internal/store"
	"github.com/KarelPeeters/DigitalMeter/internal/tracker"
)

func newTestDataStore(t *testing.T) *DataStore {
	t.Helper()
	st, err := store.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, nil)
}

func ts(v int64) *int64 { return &v }

func TestSubscribeReturnsBootstrapOnly(t *testing.T) {
	d := newTestDataStore(t)

	if err := d.Process(sample.MeterSample{Timestamp: ts(10), InstantPower1: 5}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	q := NewSubscriberChannel()
	snapshot := d.Subscribe(q)
	defer d.Unsubscribe(q)

	s, ok := snapshot["minute"]
	if !ok || len(s.Timestamps) != 1 {
		t.Fatalf("expected the bootstrap snapshot to already contain the prior sample, got %+v", snapshot)
	}

	select {
	case delta := <-q:
		t.Fatalf("did not expect a delta queued before any new sample, got %v", delta)
	default:
	}
}

func TestProcessDeliversDeltaAfterSubscribe(t *testing.T) {
	d := newTestDataStore(t)

	q := NewSubscriberChannel()
	d.Subscribe(q)
	defer d.Unsubscribe(q)

	if err := d.Process(sample.MeterSample{Timestamp: ts(10), InstantPower1: 5}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	select {
	case delta := <-q:
		if _, ok := delta["minute"]; !ok {
			t.Fatalf("expected a minute delta, got %v", delta)
		}
	default:
		t.Fatal("expected a delta to be queued for the subscriber")
	}
}

func TestSlowSubscriberDoesNotBlockProcess(t *testing.T) {
	d := newTestDataStore(t)

	q := make(chan tracker.MultiSeries) // unbuffered: any send blocks without a reader
	d.Subscribe(q)
	defer d.Unsubscribe(q)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(0); i < 5; i++ {
			if err := d.Process(sample.MeterSample{Timestamp: ts(i), InstantPower1: float64(i)}); err != nil {
				t.Errorf("Process: %v", err)
			}
		}
	}()

	select {
	case <-done:
	case <-q:
		t.Fatal("test should not need to drain q for Process to complete")
	}
}
