package game

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(nil)

	// Nobody drains the channel; once full, events are dropped rather
	// than stalling the caller.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			hub.Broadcast(Event{Type: EventTick, Data: TickData{RoundID: "r", Multiplier: 1.5}})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full channel")
	}
}

func TestHub_ClientCountEmpty(t *testing.T) {
	hub := NewHub(nil)
	if n := hub.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %v, want 0", n)
	}
}

func TestEvent_JSONShape(t *testing.T) {
	e := Event{Type: EventRoundCrashed, Data: RoundCrashedData{
		RoundID:    "round-1",
		CrashPoint: 2.47,
		ServerSeed: "seed",
	}}

	payload, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded struct {
		Type string `json:"type"`
		Data struct {
			RoundID    string  `json:"round_id"`
			CrashPoint float64 `json:"crash_point"`
			ServerSeed string  `json:"server_seed"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if decoded.Type != EventRoundCrashed || decoded.Data.CrashPoint != 2.47 {
		t.Errorf("decoded = %+v", decoded)
	}
}
