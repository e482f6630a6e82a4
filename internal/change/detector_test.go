// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package change

import (
	"reflect"
	"testing"
	"time"

	"github.com/tomtom215/datapulse/internal/models"
)

var (
	t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func committedRecord(payload models.Payload) *models.DataRecord {
	return &models.DataRecord{
		SourceID:  "src",
		Payload:   payload,
		Timestamp: t0,
		Version:   1,
		Checksum:  Checksum(payload),
	}
}

func latestWins() *Resolver {
	return NewResolver(models.LatestWins, 0, nil)
}

func TestChecksum_KeyOrderIndependent(t *testing.T) {
	a := models.Payload{"x": 1.0, "y": "s", "z": true}
	b := models.Payload{"z": true, "y": "s", "x": 1.0}

	if Checksum(a) != Checksum(b) {
		t.Error("checksum should not depend on construction order")
	}
	if Checksum(a) == Checksum(models.Payload{"x": 2.0, "y": "s", "z": true}) {
		t.Error("different payloads should hash differently")
	}
}

func TestDetect_Insert(t *testing.T) {
	d := NewDetector()

	det := d.Detect("src", nil, models.Payload{"a": 1.0, "b": 2.0}, t1, latestWins())
	if det.Type != models.ChangeInsert {
		t.Fatalf("expected insert, got %s", det.Type)
	}
	if det.Unchanged {
		t.Error("insert should not be unchanged")
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(det.ChangedFields, want) {
		t.Errorf("expected changed fields %v, got %v", want, det.ChangedFields)
	}
	if det.Checksum == "" {
		t.Error("insert should carry a checksum")
	}
}

func TestDetect_Unchanged(t *testing.T) {
	d := NewDetector()
	prev := committedRecord(models.Payload{"a": 1.0, "b": "x"})

	det := d.Detect("src", prev, models.Payload{"a": 1.0, "b": "x"}, t1, latestWins())
	if !det.Unchanged {
		t.Error("identical payload should detect as unchanged")
	}
	if len(det.Conflicts) != 0 {
		t.Errorf("identical payload should raise no conflicts, got %d", len(det.Conflicts))
	}
}

func TestDetect_UpdateChangedFields(t *testing.T) {
	d := NewDetector()
	prev := committedRecord(models.Payload{"a": 1.0, "b": 2.0})

	det := d.Detect("src", prev, models.Payload{"a": 1.0, "b": 3.0}, t1, latestWins())
	if det.Type != models.ChangeUpdate {
		t.Fatalf("expected update, got %s", det.Type)
	}
	if det.Unchanged {
		t.Error("changed payload should not be unchanged")
	}
	if want := []string{"b"}; !reflect.DeepEqual(det.ChangedFields, want) {
		t.Errorf("expected changed fields %v, got %v", want, det.ChangedFields)
	}
	if det.Merged["b"] != 3.0 {
		t.Errorf("remote value should win with a newer timestamp, got %v", det.Merged["b"])
	}
	if len(det.Conflicts) != 1 || !det.Conflicts[0].Resolved {
		t.Errorf("expected one resolved conflict, got %+v", det.Conflicts)
	}
}

func TestDetect_LatestWinsTieKeepsLocal(t *testing.T) {
	d := NewDetector()
	prev := committedRecord(models.Payload{"a": 1.0})

	// Remote timestamp equals the local commit time.
	det := d.Detect("src", prev, models.Payload{"a": 2.0}, t0, latestWins())
	if det.Merged["a"] != 1.0 {
		t.Errorf("timestamp tie should keep the local value, got %v", det.Merged["a"])
	}
	if !det.Unchanged {
		t.Error("keeping the local value everywhere should detect as unchanged")
	}
}

func TestDetect_FieldAddedAndRemoved(t *testing.T) {
	d := NewDetector()
	prev := committedRecord(models.Payload{"old": 1.0, "kept": 2.0})

	det := d.Detect("src", prev, models.Payload{"kept": 2.0, "new": 3.0}, t1, latestWins())
	if want := []string{"new", "old"}; !reflect.DeepEqual(det.ChangedFields, want) {
		t.Errorf("expected changed fields %v, got %v", want, det.ChangedFields)
	}
	if _, exists := det.Merged["old"]; exists {
		t.Error("field dropped by the remote should leave the merged payload")
	}
	if det.Merged["new"] != 3.0 {
		t.Errorf("added field should appear in the merged payload, got %v", det.Merged["new"])
	}
}

func TestDetect_MergeFieldsKeepsDroppedLocal(t *testing.T) {
	d := NewDetector()
	resolver := NewResolver(models.MergeFields, 0, nil)
	prev := committedRecord(models.Payload{"local_only": 1.0, "shared": 2.0})

	det := d.Detect("src", prev, models.Payload{"shared": 2.0}, t1, resolver)
	if det.Merged["local_only"] != 1.0 {
		t.Error("merge-fields should keep fields the remote stopped reporting")
	}
	if !det.Unchanged {
		t.Error("nothing effectively changed under merge-fields")
	}
}

func TestDetect_MergeFieldsShallowMapMerge(t *testing.T) {
	d := NewDetector()
	resolver := NewResolver(models.MergeFields, 0, nil)
	prev := committedRecord(models.Payload{
		"meta": map[string]interface{}{"region": "eu", "rack": "r1"},
	})

	remote := models.Payload{
		"meta": map[string]interface{}{"region": "us", "zone": "z2"},
	}
	det := d.Detect("src", prev, remote, t1, resolver)

	merged, ok := det.Merged["meta"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected merged map, got %T", det.Merged["meta"])
	}
	want := map[string]interface{}{"region": "us", "rack": "r1", "zone": "z2"}
	if !reflect.DeepEqual(merged, want) {
		t.Errorf("expected shallow merge %v, got %v", want, merged)
	}
}

func TestDetect_MergeFieldsNonMapFallsBackToLatestWins(t *testing.T) {
	d := NewDetector()
	resolver := NewResolver(models.MergeFields, 0, nil)
	prev := committedRecord(models.Payload{"a": 1.0})

	// Scalars cannot shallow-merge; with the remote older, latest-wins
	// keeps the local value.
	det := d.Detect("src", prev, models.Payload{"a": 2.0}, t0.Add(-time.Hour), resolver)
	if det.Merged["a"] != 1.0 {
		t.Errorf("older remote scalar should lose to the local value, got %v", det.Merged["a"])
	}

	det = d.Detect("src", prev, models.Payload{"a": 2.0}, t1, resolver)
	if det.Merged["a"] != 2.0 {
		t.Errorf("newer remote scalar should win, got %v", det.Merged["a"])
	}
}

func TestDetect_SourcePriority(t *testing.T) {
	d := NewDetector()
	prev := committedRecord(models.Payload{"a": 1.0})
	remote := models.Payload{"a": 2.0}

	local := NewResolver(models.SourcePriority, 1, nil)
	det := d.Detect("src", prev, remote, t1, local)
	if det.Merged["a"] != 1.0 {
		t.Errorf("positive priority should keep the local value, got %v", det.Merged["a"])
	}

	remoteWins := NewResolver(models.SourcePriority, 0, nil)
	det = d.Detect("src", prev, remote, t1, remoteWins)
	if det.Merged["a"] != 2.0 {
		t.Errorf("zero priority should take the remote value, got %v", det.Merged["a"])
	}
}

func TestDetect_CustomResolver(t *testing.T) {
	d := NewDetector()
	prev := committedRecord(models.Payload{"a": 1.0})

	custom := ResolverFunc(func(c models.Conflict) (interface{}, bool) {
		return "custom", true
	})
	det := d.Detect("src", prev, models.Payload{"a": 2.0}, t1, NewResolver(models.CustomFunction, 0, custom))
	if det.Merged["a"] != "custom" {
		t.Errorf("custom resolver value should win, got %v", det.Merged["a"])
	}
}

func TestDetect_CustomResolverDeclineFallsBack(t *testing.T) {
	d := NewDetector()
	prev := committedRecord(models.Payload{"a": 1.0})

	declining := ResolverFunc(func(c models.Conflict) (interface{}, bool) {
		return nil, false
	})
	det := d.Detect("src", prev, models.Payload{"a": 2.0}, t1, NewResolver(models.CustomFunction, 0, declining))
	if det.Merged["a"] != 2.0 {
		t.Errorf("declined conflict should fall back to latest-wins, got %v", det.Merged["a"])
	}
}

func TestDetect_CustomResolverPanicDegradesToRemote(t *testing.T) {
	d := NewDetector()
	prev := committedRecord(models.Payload{"a": 1.0})

	panicking := ResolverFunc(func(c models.Conflict) (interface{}, bool) {
		panic("resolver bug")
	})
	// The remote is older, so a latest-wins fallback would keep local;
	// resolver failure must take the remote value instead.
	det := d.Detect("src", prev, models.Payload{"a": 2.0}, t0.Add(-time.Hour), NewResolver(models.CustomFunction, 0, panicking))
	if det.Merged["a"] != 2.0 {
		t.Errorf("panicking resolver should degrade to the remote value, got %v", det.Merged["a"])
	}
	if len(det.Conflicts) != 1 || !det.Conflicts[0].Resolved {
		t.Errorf("degraded conflict should be marked resolved, got %+v", det.Conflicts)
	}
}

func TestResolver_PerConflictStrategyOverride(t *testing.T) {
	r := NewResolver(models.LatestWins, 1, nil)

	c := models.Conflict{
		SourceID:        "src",
		Field:           "a",
		LocalValue:      1.0,
		RemoteValue:     2.0,
		LocalTimestamp:  t0,
		RemoteTimestamp: t1,
		Strategy:        models.SourcePriority,
	}
	r.Resolve(&c)

	// The source default (latest-wins, newer remote) would pick the remote;
	// the conflict's own strategy must win.
	if c.ResolvedValue != 1.0 {
		t.Errorf("per-conflict strategy should override the default, got %v", c.ResolvedValue)
	}
	if c.Strategy != models.SourcePriority {
		t.Errorf("override strategy should be preserved, got %s", c.Strategy)
	}

	unset := models.Conflict{
		SourceID:        "src",
		Field:           "a",
		LocalValue:      1.0,
		RemoteValue:     2.0,
		LocalTimestamp:  t0,
		RemoteTimestamp: t1,
	}
	r.Resolve(&unset)
	if unset.ResolvedValue != 2.0 || unset.Strategy != models.LatestWins {
		t.Errorf("conflict without a strategy should use the default, got %v (%s)", unset.ResolvedValue, unset.Strategy)
	}
}

func TestDetect_DivergentFieldsReportRejectedRemote(t *testing.T) {
	d := NewDetector()
	prev := committedRecord(models.Payload{"a": 1.0, "b": 2.0})

	// Older remote: latest-wins rejects the change, so nothing commits, but
	// the divergence itself is still visible.
	det := d.Detect("src", prev, models.Payload{"a": 9.0, "b": 2.0}, t0.Add(-time.Hour), latestWins())
	if len(det.ChangedFields) != 0 {
		t.Errorf("rejected remote change should commit nothing, got %v", det.ChangedFields)
	}
	if want := []string{"a"}; !reflect.DeepEqual(det.DivergentFields, want) {
		t.Errorf("expected divergent fields %v, got %v", want, det.DivergentFields)
	}
	if !det.Unchanged {
		t.Error("keeping the local value everywhere should detect as unchanged")
	}
}

func TestDetect_ManualReviewKeepsLocalUnresolved(t *testing.T) {
	d := NewDetector()
	prev := committedRecord(models.Payload{"a": 1.0})

	det := d.Detect("src", prev, models.Payload{"a": 2.0}, t1, NewResolver(models.ManualReview, 0, nil))
	if det.Merged["a"] != 1.0 {
		t.Errorf("manual review should keep the local value, got %v", det.Merged["a"])
	}
	if len(det.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %d", len(det.Conflicts))
	}
	if det.Conflicts[0].Resolved {
		t.Error("manual review conflict should stay unresolved")
	}
}

func TestDetect_Delete(t *testing.T) {
	d := NewDetector()
	prev := committedRecord(models.Payload{"a": 1.0})

	det := d.Detect("src", prev, nil, t1, latestWins())
	if det.Type != models.ChangeDelete {
		t.Fatalf("expected delete, got %s", det.Type)
	}
	if det.Unchanged {
		t.Error("delete of committed state should not be unchanged")
	}

	// Deleting state that never existed is a no-op.
	det = d.Detect("src", nil, nil, t1, latestWins())
	if !det.Unchanged {
		t.Error("delete without committed state should be unchanged")
	}
}

func TestDetector_CommitAndMarkDeleted(t *testing.T) {
	d := NewDetector()

	if _, ok := d.LastChecksum("src"); ok {
		t.Error("fresh detector should hold no checksums")
	}

	d.Commit("src", "abc")
	sum, ok := d.LastChecksum("src")
	if !ok || sum != "abc" {
		t.Errorf("expected committed checksum abc, got %q (%v)", sum, ok)
	}

	d.MarkDeleted("src")
	if _, ok := d.LastChecksum("src"); ok {
		t.Error("mark-deleted should forget the checksum")
	}
}
