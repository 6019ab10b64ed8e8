package broadcast

import (
	"testing"

	"github.com/ehrlich-b/homiegw/internal/wire"
)

func TestPublishDeliversToRegisteredSubscriber(t *testing.T) {
	h := NewHub()
	id, ch := h.Register()
	defer h.Unregister(id)

	h.Publish(&wire.Envelope{Type: wire.TypeEvent, Topic: "terminal.session.exit"})

	select {
	case env := <-ch:
		if env.Topic != "terminal.session.exit" {
			t.Fatalf("got %+v", env)
		}
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestUnregisterClosesChannel(t *testing.T) {
	h := NewHub()
	id, ch := h.Register()
	h.Unregister(id)

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
}

func TestPublishDropsOnFullQueueWithoutBlocking(t *testing.T) {
	h := NewHub()
	id, _ := h.Register()
	defer h.Unregister(id)

	for i := 0; i < subscriberCap+10; i++ {
		h.Publish(&wire.Envelope{Type: wire.TypeEvent, Topic: "flood"})
	}
}
