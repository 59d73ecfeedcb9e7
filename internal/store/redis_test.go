package store

import (
	"context"
	"testing"

	"breakout-trading-bot/internal/engine"
)

// TestMemoryFallbackRoundTrip verifies the store works without a Redis client
func TestMemoryFallbackRoundTrip(t *testing.T) {
	s := NewRedisSnapshotStore(nil, nil)
	ctx := context.Background()

	record := &engine.SnapshotRecord{
		SavedAt:            1234,
		LastResetDate:      "2026-01-02",
		LastResetTimestamp: 5678,
		Long: engine.TrackRecord{
			FsmState:          engine.StateBlocked,
			LiveCumulativePnl: 42.5,
		},
	}

	if err := s.Save(ctx, record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Expected a record from the fallback")
	}
	if loaded.LastResetDate != "2026-01-02" {
		t.Errorf("Expected reset date preserved, got %q", loaded.LastResetDate)
	}
	if loaded.Long.FsmState != engine.StateBlocked {
		t.Errorf("Expected FSM state preserved, got %s", loaded.Long.FsmState)
	}
	if loaded.Long.LiveCumulativePnl != 42.5 {
		t.Errorf("Expected cumulative PnL preserved, got %f", loaded.Long.LiveCumulativePnl)
	}
}

// TestLoadWithoutSnapshot verifies an empty store returns no record and no error
func TestLoadWithoutSnapshot(t *testing.T) {
	s := NewRedisSnapshotStore(nil, nil)

	loaded, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != nil {
		t.Errorf("Expected nil record from an empty store, got %+v", loaded)
	}
}

// TestSaveNilRecord verifies a nil record is rejected
func TestSaveNilRecord(t *testing.T) {
	s := NewRedisSnapshotStore(nil, nil)

	if err := s.Save(context.Background(), nil); err == nil {
		t.Fatal("Expected error saving nil record")
	}
}
