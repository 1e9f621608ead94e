package redis

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestRoomRelayDeliversAcrossClients(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	publisher := NewRoomRelay(newClient(mr), nil)
	subscriber := NewRoomRelay(newClient(mr), nil)

	got := make(chan string, 1)
	cancel, err := subscriber.Subscribe("123456", func(payload []byte) { got <- string(payload) })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := publisher.Publish("123456", []byte(`{"event":"timer_update"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-got:
		if msg != `{"event":"timer_update"}` {
			t.Fatalf("unexpected payload %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for relayed message")
	}

	// Other sessions' channels are not delivered.
	_ = publisher.Publish("999999", []byte(`{}`))
	select {
	case msg := <-got:
		t.Fatalf("unexpected cross-session delivery %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
