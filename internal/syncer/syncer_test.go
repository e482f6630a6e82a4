// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package syncer

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/datapulse/internal/cache"
	"github.com/tomtom215/datapulse/internal/change"
	"github.com/tomtom215/datapulse/internal/models"
)

var syncTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestSyncer() (*Syncer, *cache.MultiTier) {
	store := cache.NewMultiTier(cache.NewMemoryCache(100, 1<<20, cache.PolicyLRU, 0), nil)
	return New(store, change.NewDetector()), store
}

func latestWins() *change.Resolver {
	return change.NewResolver(models.LatestWins, 0, nil)
}

func TestSync_InsertCommitsRecord(t *testing.T) {
	s, store := newTestSyncer()

	result := s.Sync("src", models.Payload{"a": 1.0}, syncTime, latestWins(), Options{})
	if !result.Success || !result.Changed {
		t.Fatalf("expected committed insert, got %+v", result)
	}
	if result.Version != 1 {
		t.Errorf("first commit should be version 1, got %d", result.Version)
	}
	if result.Event == nil || result.Event.Type != models.ChangeInsert {
		t.Fatalf("expected insert event, got %+v", result.Event)
	}

	record, ok := s.LastRecord("src")
	if !ok {
		t.Fatal("committed record should be retrievable")
	}
	if record.Checksum == "" {
		t.Error("committed record should carry a checksum")
	}

	if _, ok := store.Get(RecordKey("src")); !ok {
		t.Error("committed record should be written through to the cache")
	}
}

func TestSync_UnchangedPayloadCommitsNothing(t *testing.T) {
	s, _ := newTestSyncer()

	s.Sync("src", models.Payload{"a": 1.0}, syncTime, latestWins(), Options{})
	result := s.Sync("src", models.Payload{"a": 1.0}, syncTime.Add(time.Minute), latestWins(), Options{})

	if !result.Success {
		t.Fatal("unchanged sync should succeed")
	}
	if result.Changed {
		t.Error("unchanged payload should not commit")
	}
	if result.Version != 1 {
		t.Errorf("version should stay at 1, got %d", result.Version)
	}
}

func TestSync_VersionsStrictlyIncrease(t *testing.T) {
	s, _ := newTestSyncer()

	var versions []int64
	for i := 0; i < 3; i++ {
		payload := models.Payload{"n": float64(i)}
		result := s.Sync("src", payload, syncTime.Add(time.Duration(i)*time.Minute), latestWins(), Options{})
		if !result.Changed {
			t.Fatalf("sync %d should commit", i)
		}
		versions = append(versions, result.Version)
	}
	if !reflect.DeepEqual(versions, []int64{1, 2, 3}) {
		t.Errorf("expected strictly increasing versions 1..3, got %v", versions)
	}
}

func TestSync_UpdateEmitsChangedFields(t *testing.T) {
	s, _ := newTestSyncer()

	s.Sync("src", models.Payload{"a": 1.0, "b": 2.0}, syncTime, latestWins(), Options{})
	result := s.Sync("src", models.Payload{"a": 1.0, "b": 3.0}, syncTime.Add(time.Minute), latestWins(), Options{})

	if result.Event == nil || result.Event.Type != models.ChangeUpdate {
		t.Fatalf("expected update event, got %+v", result.Event)
	}
	if want := []string{"b"}; !reflect.DeepEqual(result.Event.ChangedFields, want) {
		t.Errorf("expected changed fields %v, got %v", want, result.Event.ChangedFields)
	}
}

func TestSync_RejectsOverlapping(t *testing.T) {
	s, _ := newTestSyncer()

	// Simulate an in-flight sync by marking the state directly.
	state := s.state("src")
	state.mu.Lock()
	state.inProgress = true
	state.mu.Unlock()

	result := s.Sync("src", models.Payload{"a": 1.0}, syncTime, latestWins(), Options{})
	if !result.Rejected {
		t.Fatal("overlapping sync should be rejected")
	}
	if result.Success {
		t.Error("rejected sync should not report success")
	}
	if len(result.Conflicts) != 0 {
		t.Error("rejected sync should carry no conflicts")
	}

	// Release and confirm syncs flow again.
	state.mu.Lock()
	state.inProgress = false
	state.mu.Unlock()
	if result := s.Sync("src", models.Payload{"a": 1.0}, syncTime, latestWins(), Options{}); !result.Success {
		t.Error("sync should succeed once the in-flight flag clears")
	}
}

func TestSync_ConcurrentSameSource(t *testing.T) {
	s, _ := newTestSyncer()

	const goroutines = 8
	var wg sync.WaitGroup
	results := make([]Result, goroutines)
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = s.Sync("src", models.Payload{"n": float64(i)}, syncTime, latestWins(), Options{})
		}(i)
	}
	close(start)
	wg.Wait()

	accepted := 0
	for _, r := range results {
		if !r.Rejected {
			accepted++
		}
	}
	if accepted == 0 {
		t.Fatal("at least one concurrent sync should be accepted")
	}
	if got := s.Version("src"); got != int64(accepted) {
		// Identical payloads could detect unchanged after the first commit,
		// so the version may lag the accepted count but never exceed it.
		if got > int64(accepted) || got < 1 {
			t.Errorf("version %d inconsistent with %d accepted syncs", got, accepted)
		}
	}
}

func TestSync_ForceBypassesChangeDetection(t *testing.T) {
	s, _ := newTestSyncer()

	s.Sync("src", models.Payload{"a": 1.0}, syncTime, latestWins(), Options{})
	result := s.Sync("src", models.Payload{"a": 1.0}, syncTime.Add(time.Minute), latestWins(), Options{Force: true})

	if !result.Changed {
		t.Fatal("forced sync should commit even an identical payload")
	}
	if result.Version != 2 {
		t.Errorf("forced commit should advance the version, got %d", result.Version)
	}
	if result.Record.Metadata["forced"] != "true" {
		t.Error("forced record should be tagged in metadata")
	}
}

func TestSync_DeleteClearsState(t *testing.T) {
	s, store := newTestSyncer()

	s.Sync("src", models.Payload{"a": 1.0}, syncTime, latestWins(), Options{})
	result := s.Sync("src", nil, syncTime.Add(time.Minute), latestWins(), Options{})

	if !result.Changed {
		t.Fatal("delete of committed state should commit")
	}
	if result.Event == nil || result.Event.Type != models.ChangeDelete {
		t.Fatalf("expected delete event, got %+v", result.Event)
	}
	if result.Version != 2 {
		t.Errorf("delete should advance the version, got %d", result.Version)
	}
	if _, ok := s.LastRecord("src"); ok {
		t.Error("deleted source should have no committed record")
	}
	if _, ok := store.Get(RecordKey("src")); ok {
		t.Error("deleted record should leave the cache")
	}

	// Next payload detects as a fresh insert.
	next := s.Sync("src", models.Payload{"a": 2.0}, syncTime.Add(2*time.Minute), latestWins(), Options{})
	if next.Event == nil || next.Event.Type != models.ChangeInsert {
		t.Errorf("payload after delete should insert, got %+v", next.Event)
	}
}

func TestSync_DeleteWithoutStateIsNoop(t *testing.T) {
	s, _ := newTestSyncer()

	result := s.Sync("src", nil, syncTime, latestWins(), Options{})
	if !result.Success || result.Changed {
		t.Errorf("delete without committed state should be a successful no-op, got %+v", result)
	}
	if s.Version("src") != 0 {
		t.Errorf("no-op delete should not advance the version, got %d", s.Version("src"))
	}
}

func TestSync_ManualReviewHoldsConflicts(t *testing.T) {
	s, _ := newTestSyncer()
	review := change.NewResolver(models.ManualReview, 0, nil)

	s.Sync("src", models.Payload{"a": 1.0}, syncTime, review, Options{})
	result := s.Sync("src", models.Payload{"a": 2.0}, syncTime.Add(time.Minute), review, Options{})

	if !result.Success {
		t.Fatal("manual review sync should still succeed")
	}
	if result.Changed {
		t.Error("manual review keeps the local value, so nothing commits")
	}

	pending := s.PendingConflicts("src")
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending conflict, got %d", len(pending))
	}
	if pending[0].Field != "a" || pending[0].Resolved {
		t.Errorf("unexpected pending conflict %+v", pending[0])
	}

	s.ClearPendingConflicts("src")
	if len(s.PendingConflicts("src")) != 0 {
		t.Error("cleared conflicts should be gone")
	}
}

func TestSync_ResolverPanicDoesNotWedgeSource(t *testing.T) {
	s, _ := newTestSyncer()
	s.Sync("src", models.Payload{"a": 1.0}, syncTime, latestWins(), Options{})

	broken := change.NewResolver(models.CustomFunction, 0, change.ResolverFunc(func(models.Conflict) (interface{}, bool) {
		panic("resolver bug")
	}))
	result := s.Sync("src", models.Payload{"a": 2.0}, syncTime.Add(time.Minute), broken, Options{})
	if !result.Success {
		t.Fatalf("sync should survive a panicking resolver, got %+v", result)
	}
	if result.Record == nil || result.Record.Payload["a"] != 2.0 {
		t.Errorf("panicking resolver should degrade to the remote value, got %+v", result.Record)
	}

	// The in-flight flag must clear so later syncs are accepted.
	next := s.Sync("src", models.Payload{"a": 3.0}, syncTime.Add(2*time.Minute), latestWins(), Options{})
	if next.Rejected {
		t.Fatal("source should accept syncs after a resolver panic")
	}
	if !next.Changed {
		t.Error("follow-up sync should commit normally")
	}
}

func TestSync_IndependentSources(t *testing.T) {
	s, _ := newTestSyncer()

	s.Sync("a", models.Payload{"x": 1.0}, syncTime, latestWins(), Options{})
	s.Sync("b", models.Payload{"x": 1.0}, syncTime, latestWins(), Options{})
	s.Sync("a", models.Payload{"x": 2.0}, syncTime.Add(time.Minute), latestWins(), Options{})

	if got := s.Version("a"); got != 2 {
		t.Errorf("source a should be at version 2, got %d", got)
	}
	if got := s.Version("b"); got != 1 {
		t.Errorf("source b should be at version 1, got %d", got)
	}
}
