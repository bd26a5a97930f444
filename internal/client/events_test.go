package client

import (
	"reflect"
	"testing"
)

func TestHubDeliversInRegistrationOrder(t *testing.T) {
	var h Hub[int]
	var order []string

	h.Subscribe(func(v int) { order = append(order, "first") })
	h.Subscribe(func(v int) { order = append(order, "second") })
	h.Subscribe(func(v int) { order = append(order, "third") })

	h.emit(1)

	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("delivery order = %v, want %v", order, want)
	}
}

func TestHubCancelRemovesSubscriber(t *testing.T) {
	var h Hub[string]
	var got []string

	cancel := h.Subscribe(func(v string) { got = append(got, "a:"+v) })
	h.Subscribe(func(v string) { got = append(got, "b:"+v) })

	h.emit("one")
	cancel()
	cancel() // idempotent
	h.emit("two")

	want := []string{"a:one", "b:one", "b:two"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("deliveries = %v, want %v", got, want)
	}
}

func TestHubCancelFromInsideCallback(t *testing.T) {
	var h Hub[int]
	var calls int

	var cancel func()
	cancel = h.Subscribe(func(int) {
		calls++
		cancel()
	})

	h.emit(1)
	h.emit(2)

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (subscriber canceled itself)", calls)
	}
}

func TestHubSubscribeFromInsideCallback(t *testing.T) {
	var h Hub[int]
	var lateCalls int

	h.Subscribe(func(int) {
		h.Subscribe(func(int) { lateCalls++ })
	})

	h.emit(1)
	if lateCalls != 0 {
		t.Errorf("late subscriber called during the emit that registered it: %d", lateCalls)
	}

	h.emit(2)
	if lateCalls != 1 {
		t.Errorf("lateCalls after second emit = %d, want 1", lateCalls)
	}
}

func TestHubEmitWithoutSubscribers(t *testing.T) {
	var h Hub[struct{}]
	h.emit(struct{}{}) // must not panic
}
