package eventbus

import "testing"

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeTickDone, Data: TickEvent{Task: "feeds"}})

	for _, ch := range []<-chan Event{a, c} {
		ev := <-ch
		if ev.Type != TypeTickDone || ev.Time.IsZero() {
			t.Fatalf("unexpected event: %+v", ev)
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: TypeSent})
	b.Publish(Event{Type: TypeSendFailed}) // dropped, buffer full

	if ev := <-ch; ev.Type != TypeSent {
		t.Fatalf("first event = %q", ev.Type)
	}
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: TypeSent}) // no subscribers, must not panic
}
