package livehub

import (
	"testing"
)

func TestPublishReachesShopAndWildcard(test *testing.T) {
	test.Parallel()
	hub := New()

	shopEvents, cancelShop := hub.Subscribe("+91111")
	defer cancelShop()
	allEvents, cancelAll := hub.Subscribe(WildcardKey)
	defer cancelAll()
	otherEvents, cancelOther := hub.Subscribe("+92222")
	defer cancelOther()

	hub.Publish(Event{ShopKey: "+91111", Kind: "intent", Detail: "add_udhaar"})

	event := <-shopEvents
	if event.Kind != "intent" || event.Detail != "add_udhaar" {
		test.Fatalf("unexpected event: %+v", event)
	}
	if event.Timestamp.IsZero() {
		test.Fatalf("expected publish to stamp the event")
	}
	if wildcard := <-allEvents; wildcard.ShopKey != "+91111" {
		test.Fatalf("unexpected wildcard event: %+v", wildcard)
	}
	select {
	case stray := <-otherEvents:
		test.Fatalf("unexpected delivery to other shop: %+v", stray)
	default:
	}
}

func TestPublishDropsWhenQueueFull(test *testing.T) {
	test.Parallel()
	hub := New()
	events, cancel := hub.Subscribe("+91111")
	defer cancel()

	for index := 0; index < subscriberQueueSize+50; index++ {
		hub.Publish(Event{ShopKey: "+91111", Kind: "tick"})
	}

	drained := 0
	for {
		select {
		case <-events:
			drained++
			continue
		default:
		}
		break
	}
	if drained != subscriberQueueSize {
		test.Fatalf("expected exactly %d queued events, got %d", subscriberQueueSize, drained)
	}
}

func TestCancelStopsDeliveryAndIsIdempotent(test *testing.T) {
	test.Parallel()
	hub := New()
	events, cancel := hub.Subscribe("+91111")

	cancel()
	cancel()

	// The channel is closed after cancel; publishing must not panic.
	hub.Publish(Event{ShopKey: "+91111", Kind: "tick"})
	if _, open := <-events; open {
		test.Fatalf("expected channel closed after cancel")
	}
}
