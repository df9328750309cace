package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/signalspoc/signals/internal/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()

	storage, err := New(filepath.Join(t.TempDir(), "signals.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() {
		_ = storage.Close()
	})
	return storage
}

func newTestAlert(id string) *types.Alert {
	return &types.Alert{
		ID:           id,
		Type:         types.AlertPRMergedTaskOpen,
		Severity:     types.SeverityCritical,
		Title:        "PR merged but task still open",
		Message:      "PR #12 was merged but task SIG-7 is still In Progress",
		SourceSystem: types.ConnectorGitHub,
		SourceID:     "1001",
		TargetSystem: types.ConnectorAsana,
		TargetID:     "98765",
	}
}

func TestInsertAlertIfAbsentDeduplicates(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	first, created, err := s.InsertAlertIfAbsent(ctx, newTestAlert("a-1"))
	if err != nil {
		t.Fatalf("InsertAlertIfAbsent failed: %v", err)
	}
	if !created {
		t.Fatal("Expected first insert to create a row")
	}

	second, created, err := s.InsertAlertIfAbsent(ctx, newTestAlert("a-2"))
	if err != nil {
		t.Fatalf("InsertAlertIfAbsent failed: %v", err)
	}
	if created {
		t.Error("Expected duplicate insert not to create a row")
	}
	if second.ID != first.ID {
		t.Errorf("Expected existing alert %s, got %s", first.ID, second.ID)
	}

	// A different target is a different finding
	other := newTestAlert("a-3")
	other.TargetID = "11111"
	if _, created, err := s.InsertAlertIfAbsent(ctx, other); err != nil || !created {
		t.Errorf("Expected alert for a different target to be created (created=%v, err=%v)", created, err)
	}
}

func TestInsertAlertIfAbsentWithoutTarget(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	missing := func(id string) *types.Alert {
		return &types.Alert{
			ID:           id,
			Type:         types.AlertMissingLink,
			Severity:     types.SeverityInfo,
			Title:        "PR missing task link",
			SourceSystem: types.ConnectorGitHub,
			SourceID:     "1001",
		}
	}

	if _, created, err := s.InsertAlertIfAbsent(ctx, missing("m-1")); err != nil || !created {
		t.Fatalf("Expected first MISSING_LINK alert to be created (created=%v, err=%v)", created, err)
	}
	if _, created, err := s.InsertAlertIfAbsent(ctx, missing("m-2")); err != nil || created {
		t.Errorf("Expected second MISSING_LINK alert to be deduplicated (created=%v, err=%v)", created, err)
	}
}

func TestResolvedAlertAllowsRefire(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if _, _, err := s.InsertAlertIfAbsent(ctx, newTestAlert("a-1")); err != nil {
		t.Fatalf("InsertAlertIfAbsent failed: %v", err)
	}
	resolved, err := s.ResolveAlert(ctx, "a-1")
	if err != nil || !resolved {
		t.Fatalf("ResolveAlert: resolved=%v err=%v", resolved, err)
	}

	again, created, err := s.InsertAlertIfAbsent(ctx, newTestAlert("a-2"))
	if err != nil {
		t.Fatalf("InsertAlertIfAbsent failed: %v", err)
	}
	if !created || again.ID != "a-2" {
		t.Errorf("Expected a new alert after resolve, got created=%v id=%s", created, again.ID)
	}
}

func TestConcurrentInsertCreatesOneRow(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := s.InsertAlertIfAbsent(ctx, newTestAlert(fmt.Sprintf("c-%d", i)))
			if err != nil {
				t.Errorf("InsertAlertIfAbsent failed: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("Expected exactly 1 created alert, got %d", createdCount)
	}
	alerts, err := s.ListUnresolvedAlerts(ctx, 0)
	if err != nil {
		t.Fatalf("ListUnresolvedAlerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Errorf("Expected 1 unresolved alert, got %d", len(alerts))
	}
}

func TestGetAlertNotFound(t *testing.T) {
	s := setupTestDB(t)

	_, err := s.GetAlert(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.MarkAlertRead(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from MarkAlertRead, got %v", err)
	}
	if _, err := s.ResolveAlert(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from ResolveAlert, got %v", err)
	}
}

func TestAlertQueries(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		a := newTestAlert(id)
		a.TargetID = id
		a.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if _, _, err := s.InsertAlertIfAbsent(ctx, a); err != nil {
			t.Fatalf("InsertAlertIfAbsent failed: %v", err)
		}
	}
	if err := s.MarkAlertRead(ctx, "mid"); err != nil {
		t.Fatalf("MarkAlertRead failed: %v", err)
	}

	unresolved, err := s.ListUnresolvedAlerts(ctx, 0)
	if err != nil {
		t.Fatalf("ListUnresolvedAlerts failed: %v", err)
	}
	if got := alertIDs(unresolved); fmt.Sprint(got) != "[new mid old]" {
		t.Errorf("Expected newest first, got %v", got)
	}

	limited, err := s.ListUnresolvedAlerts(ctx, 2)
	if err != nil {
		t.Fatalf("ListUnresolvedAlerts failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 alerts with limit, got %d", len(limited))
	}

	unread, err := s.ListUnreadAlerts(ctx)
	if err != nil {
		t.Fatalf("ListUnreadAlerts failed: %v", err)
	}
	if got := alertIDs(unread); fmt.Sprint(got) != "[new old]" {
		t.Errorf("Expected unread [new old], got %v", got)
	}

	count, err := s.CountUnreadAlerts(ctx)
	if err != nil {
		t.Fatalf("CountUnreadAlerts failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 unread, got %d", count)
	}

	unenriched, err := s.ListUnenrichedAlerts(ctx, 0)
	if err != nil {
		t.Fatalf("ListUnenrichedAlerts failed: %v", err)
	}
	if got := alertIDs(unenriched); fmt.Sprint(got) != "[old mid new]" {
		t.Errorf("Expected oldest first, got %v", got)
	}
}

func TestResolveAlertIsIdempotent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if _, _, err := s.InsertAlertIfAbsent(ctx, newTestAlert("a-1")); err != nil {
		t.Fatalf("InsertAlertIfAbsent failed: %v", err)
	}

	first, err := s.ResolveAlert(ctx, "a-1")
	if err != nil || !first {
		t.Fatalf("First resolve: resolved=%v err=%v", first, err)
	}
	second, err := s.ResolveAlert(ctx, "a-1")
	if err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	if second {
		t.Error("Expected second resolve to be a no-op")
	}

	a, err := s.GetAlert(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if !a.IsResolved || !a.IsRead || a.ResolvedAt == nil {
		t.Errorf("Expected resolved+read with resolved_at, got resolved=%v read=%v at=%v", a.IsResolved, a.IsRead, a.ResolvedAt)
	}
}

func TestResolveAlertsBySource(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	for _, target := range []string{"t1", "t2"} {
		a := newTestAlert("a-" + target)
		a.TargetID = target
		if _, _, err := s.InsertAlertIfAbsent(ctx, a); err != nil {
			t.Fatalf("InsertAlertIfAbsent failed: %v", err)
		}
	}
	other := newTestAlert("other")
	other.SourceID = "2002"
	if _, _, err := s.InsertAlertIfAbsent(ctx, other); err != nil {
		t.Fatalf("InsertAlertIfAbsent failed: %v", err)
	}

	n, err := s.ResolveAlertsBySource(ctx, types.ConnectorGitHub, "1001")
	if err != nil {
		t.Fatalf("ResolveAlertsBySource failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 resolved, got %d", n)
	}

	remaining, err := s.ListUnresolvedAlerts(ctx, 0)
	if err != nil {
		t.Fatalf("ListUnresolvedAlerts failed: %v", err)
	}
	if got := alertIDs(remaining); fmt.Sprint(got) != "[other]" {
		t.Errorf("Expected only [other] unresolved, got %v", got)
	}
}

func TestUpdateAlertEnrichmentOnlyOnce(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if _, _, err := s.InsertAlertIfAbsent(ctx, newTestAlert("a-1")); err != nil {
		t.Fatalf("InsertAlertIfAbsent failed: %v", err)
	}

	suggestion := "Mark SIG-7 complete"
	action := `{"actionType":"COMPLETE_TASK","confidence":0.9}`
	updated, err := s.UpdateAlertEnrichment(ctx, "a-1", &suggestion, &action)
	if err != nil || !updated {
		t.Fatalf("UpdateAlertEnrichment: updated=%v err=%v", updated, err)
	}

	other := "something else"
	updated, err = s.UpdateAlertEnrichment(ctx, "a-1", &other, nil)
	if err != nil {
		t.Fatalf("UpdateAlertEnrichment failed: %v", err)
	}
	if updated {
		t.Error("Expected enriched alert not to be overwritten")
	}

	a, err := s.GetAlert(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if a.AISuggestion == nil || *a.AISuggestion != suggestion {
		t.Errorf("Expected suggestion %q, got %v", suggestion, a.AISuggestion)
	}
	if a.AIActionJSON == nil || *a.AIActionJSON != action {
		t.Errorf("Expected action JSON %q, got %v", action, a.AIActionJSON)
	}
}

func TestUpdateAlertEnrichmentKeepsNullSuggestion(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if _, _, err := s.InsertAlertIfAbsent(ctx, newTestAlert("a-1")); err != nil {
		t.Fatalf("InsertAlertIfAbsent failed: %v", err)
	}
	action := `{"actionType":"COMPLETE_TASK","confidence":0.9}`
	if _, err := s.UpdateAlertEnrichment(ctx, "a-1", nil, &action); err != nil {
		t.Fatalf("UpdateAlertEnrichment failed: %v", err)
	}

	a, err := s.GetAlert(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if a.AISuggestion != nil {
		t.Errorf("Expected NULL suggestion, got %q", *a.AISuggestion)
	}
	if a.IsEnriched() {
		t.Error("Expected alert without a suggestion to stay unenriched")
	}

	// Still listed for reconciliation
	pending, err := s.ListUnenrichedAlerts(ctx, 0)
	if err != nil {
		t.Fatalf("ListUnenrichedAlerts failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 unenriched alert, got %d", len(pending))
	}

	// A later pass fills the suggestion but keeps the first recommendation
	suggestion := "Complete SIG-7"
	template := `{"actionType":"MANUAL_REVIEW","confidence":0.5}`
	updated, err := s.UpdateAlertEnrichment(ctx, "a-1", &suggestion, &template)
	if err != nil || !updated {
		t.Fatalf("UpdateAlertEnrichment: updated=%v err=%v", updated, err)
	}
	a, err = s.GetAlert(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if a.AIActionJSON == nil || *a.AIActionJSON != action {
		t.Errorf("Expected first recommendation %q to be kept, got %v", action, a.AIActionJSON)
	}
}

func TestClaimAlertForAction(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if _, _, err := s.InsertAlertIfAbsent(ctx, newTestAlert("a-1")); err != nil {
		t.Fatalf("InsertAlertIfAbsent failed: %v", err)
	}

	ok, err := s.ClaimAlertForAction(ctx, "a-1", 10*time.Minute)
	if err != nil || !ok {
		t.Fatalf("First claim: ok=%v err=%v", ok, err)
	}
	ok, err = s.ClaimAlertForAction(ctx, "a-1", 10*time.Minute)
	if err != nil {
		t.Fatalf("Second claim failed: %v", err)
	}
	if ok {
		t.Error("Expected second claim to fail while the first is held")
	}

	// Abandoned claims expire
	now = now.Add(11 * time.Minute)
	ok, err = s.ClaimAlertForAction(ctx, "a-1", 10*time.Minute)
	if err != nil || !ok {
		t.Errorf("Expected expired claim to be taken over: ok=%v err=%v", ok, err)
	}

	if err := s.ReleaseAlertClaim(ctx, "a-1"); err != nil {
		t.Fatalf("ReleaseAlertClaim failed: %v", err)
	}
	ok, err = s.ClaimAlertForAction(ctx, "a-1", 10*time.Minute)
	if err != nil || !ok {
		t.Errorf("Expected claim after release: ok=%v err=%v", ok, err)
	}

	if _, err := s.ResolveAlert(ctx, "a-1"); err != nil {
		t.Fatalf("ResolveAlert failed: %v", err)
	}
	ok, err = s.ClaimAlertForAction(ctx, "a-1", 10*time.Minute)
	if err != nil {
		t.Fatalf("Claim on resolved alert failed: %v", err)
	}
	if ok {
		t.Error("Expected resolved alert not to be claimable")
	}
}

func alertIDs(alerts []*types.Alert) []string {
	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}
	return ids
}
