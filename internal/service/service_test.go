package service_test

import (
	"context"
	"testing"
	"time"

	"hotelpipe/internal/service"
)

// ─────────────────────────────────────────────────────────────
// RunningJobsGuard tests
// ─────────────────────────────────────────────────────────────

func TestRunningGuard_TryLock(t *testing.T) {
	var g service.ExportedRunningGuard

	if !g.TryLock("publish") {
		t.Fatal("expected first TryLock to succeed")
	}
	if g.TryLock("publish") {
		t.Fatal("expected second TryLock for same stage to fail")
	}
	if !g.TryLock("sync") {
		t.Fatal("expected TryLock for different stage to succeed")
	}
	g.Unlock("publish")
	g.Unlock("sync")

	if !g.TryLock("publish") {
		t.Fatal("expected TryLock to succeed after unlock")
	}
	g.Unlock("publish")
}

func TestRunningGuard_WaitAll(t *testing.T) {
	var g service.ExportedRunningGuard

	if !g.TryLock("load") {
		t.Fatal("expected lock to succeed")
	}

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		g.WaitAll(ctx)
		close(done)
	}()

	go func() {
		time.Sleep(20 * time.Millisecond)
		g.Unlock("load")
	}()

	select {
	case <-done:
		// success
	case <-time.After(1 * time.Second):
		t.Fatal("WaitAll timed out")
	}
}

// ─────────────────────────────────────────────────────────────
// MockEmitter tests
// ─────────────────────────────────────────────────────────────

func TestMockEmitter_RecordsEvents(t *testing.T) {
	m := &service.MockEmitter{}
	ctx := context.Background()

	m.Emit(ctx, "stage:finished", map[string]string{"stage": "load"})
	m.Emit(ctx, "upload:received", nil)

	got := m.Recorded()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Event != "stage:finished" {
		t.Errorf("expected 'stage:finished', got %q", got[0].Event)
	}
	if got[1].Event != "upload:received" {
		t.Errorf("expected last event 'upload:received', got %q", got[1].Event)
	}
}

func TestLogEmitter_DoesNotPanic(t *testing.T) {
	service.LogEmitter{}.Emit(context.Background(), "stage:finished", map[string]int{"rows": 3})
}
