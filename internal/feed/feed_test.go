package feed

import "testing"

func TestBrokerDeliversToEverySubscriber(t *testing.T) {
	b := NewBroker()

	var first, second []Event
	b.Subscribe(func(ev Event) { first = append(first, ev) })
	unsubscribe := b.Subscribe(func(ev Event) { second = append(second, ev) })

	b.Publish(Event{Collection: CollectionRecords, Op: OpInsert, ID: "r1"})
	unsubscribe()
	b.Publish(Event{Collection: CollectionRecords, Op: OpUpdate, ID: "r1"})

	if len(first) != 2 {
		t.Fatalf("first subscriber got %d events, want 2", len(first))
	}
	if len(second) != 1 {
		t.Fatalf("second subscriber got %d events, want 1", len(second))
	}
	if first[0].At.IsZero() {
		t.Fatalf("expected publish to stamp the event time")
	}
}

func TestNilBrokerDropsEvents(t *testing.T) {
	var b *Broker
	b.Publish(Event{ID: "ignored"})
}
