package eventhub

import (
	"context"
	"testing"
)

type recorder struct {
	events []string
}

func (r *recorder) BroadcastEvent(eventType string, payload interface{}) {
	r.events = append(r.events, eventType)
}

func TestEmit(t *testing.T) {
	h := New(context.Background())
	b := &recorder{}
	h.SetBroadcaster(b)

	var got []interface{}
	h.Subscribe(func(eventType string, payload interface{}) {
		got = append(got, payload)
	})

	h.EmitCheckpointCreated(CheckpointCreatedEvent{SessionID: "s", CheckpointID: "c1"})
	h.EmitCheckpointReverted(CheckpointRevertedEvent{SessionID: "s", CheckpointID: "c1"})
	h.EmitCheckpointCleanup(CheckpointCleanupEvent{SessionID: "s", Removed: 2})
	h.EmitCheckpointSettings(CheckpointSettingsEvent{SessionID: "s", CheckpointStrategy: "smart"})
	h.EmitCheckpointError(CheckpointErrorEvent{SessionID: "s", Operation: "revert"})

	want := []string{CheckpointCreated, CheckpointReverted, CheckpointCleanup, CheckpointSettings, CheckpointError}
	if len(b.events) != len(want) {
		t.Fatalf("broadcast %d events, want %d", len(b.events), len(want))
	}
	for i := range want {
		if b.events[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, b.events[i], want[i])
		}
	}
	if len(got) != len(want) {
		t.Errorf("listener got %d events, want %d", len(got), len(want))
	}
	if ev, ok := got[0].(CheckpointCreatedEvent); !ok || ev.CheckpointID != "c1" {
		t.Errorf("payload = %#v", got[0])
	}
}

func TestEmitAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New(ctx)
	b := &recorder{}
	h.SetBroadcaster(b)
	cancel()

	h.Emit("anything", nil)
	if len(b.events) != 0 {
		t.Errorf("events emitted after cancel: %v", b.events)
	}
}
