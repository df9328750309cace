package detector

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalspoc/signals/internal/alerts"
	"github.com/signalspoc/signals/internal/gateway/gatewaytest"
	"github.com/signalspoc/signals/internal/storage"
	"github.com/signalspoc/signals/internal/types"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type countingQueue struct {
	mu     sync.Mutex
	events []types.EnrichmentEvent
}

func (q *countingQueue) Enqueue(ev types.EnrichmentEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return true
}

type harness struct {
	store  storage.Storage
	source *gatewaytest.PRSource
	queue  *countingQueue
	det    *Detector
}

func setup(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), &storage.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{store: store, source: &gatewaytest.PRSource{}, queue: &countingQueue{}}
	h.det = New(h.source, store, alerts.NewManager(store, h.queue), DefaultConfig())
	h.det.now = func() time.Time { return testNow }
	return h
}

func (h *harness) addTask(t *testing.T, task *types.TaskSnapshot) {
	t.Helper()
	require.NoError(t, h.store.UpsertTask(context.Background(), task))
}

func (h *harness) openAlerts(t *testing.T) []*types.Alert {
	t.Helper()
	list, err := h.store.ListUnresolvedAlerts(context.Background(), 0)
	require.NoError(t, err)
	return list
}

func openPR(number int, title string) *types.PRSnapshot {
	return &types.PRSnapshot{
		ID:        int64(1000 + number),
		Number:    number,
		Title:     title,
		State:     types.PRStateOpen,
		CreatedAt: testNow.Add(-24 * time.Hour),
		URL:       "https://github.com/acme/api/pull/" + strconv.Itoa(number),
	}
}

func TestMergedPRWithOpenTask(t *testing.T) {
	h := setup(t)
	h.addTask(t, &types.TaskSnapshot{
		ID: "asana-1", ExternalID: "SIG-7", SourceSystem: types.ConnectorAsana,
		Title: "Login page", Status: "in progress",
	})
	pr := openPR(42, "Add login")
	pr.Body = "Implements SIG-7"
	pr.State = types.PRStateClosed
	pr.Merged = true
	h.source.Set(pr)

	res, err := h.det.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	list := h.openAlerts(t)
	require.Len(t, list, 1)
	a := list[0]
	assert.Equal(t, types.AlertPRMergedTaskOpen, a.Type)
	assert.Equal(t, types.SeverityCritical, a.Severity)
	assert.Equal(t, types.ConnectorAsana, a.TargetSystem)
	assert.Equal(t, "SIG-7", a.TargetID)
	assert.Equal(t, types.ConnectorGitHub, a.SourceSystem)
	assert.Equal(t, "1042", a.SourceID)
	assert.Equal(t, "https://github.com/acme/api/pull/42", a.SourceURL)
	assert.Equal(t, "PR #42 was merged but ASANA task 'Login page' is still 'in progress'. Mark as complete.", a.Message)

	require.Len(t, h.queue.events, 1)
	assert.NotNil(t, h.queue.events[0].PR)
	assert.NotNil(t, h.queue.events[0].Task)
}

func TestReferenceWithoutTaskRaisesNothing(t *testing.T) {
	h := setup(t)
	pr := openPR(9, "Fix crash")
	pr.Body = "Fixes SIG-9"
	h.source.Set(pr)

	res, err := h.det.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Empty(t, h.openAlerts(t))
}

func TestMissingLink(t *testing.T) {
	h := setup(t)
	h.source.Set(openPR(5, "Refactor build"))

	_, err := h.det.RunOnce(context.Background())
	require.NoError(t, err)

	list := h.openAlerts(t)
	require.Len(t, list, 1)
	assert.Equal(t, types.AlertMissingLink, list[0].Type)
	assert.Equal(t, types.SeverityInfo, list[0].Severity)
	assert.Equal(t, types.ConnectorNone, list[0].TargetSystem)
	assert.Contains(t, list[0].Message, "PR #5 'Refactor build' does not reference any Asana or Linear task.")
}

func TestStaleness(t *testing.T) {
	tests := []struct {
		name      string
		age       time.Duration
		wantStale bool
	}{
		{"six days", 6 * 24 * time.Hour, false},
		{"exactly seven days", 7 * 24 * time.Hour, false},
		{"seven and a half days", 7*24*time.Hour + 12*time.Hour, false},
		{"eight days", 8 * 24 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setup(t)
			h.addTask(t, &types.TaskSnapshot{
				ID: "lin-1", ExternalID: "SIG-3", SourceSystem: types.ConnectorLinear, Status: "In Review",
			})
			pr := openPR(3, "SIG-3 search")
			pr.CreatedAt = testNow.Add(-tt.age)
			h.source.Set(pr)

			_, err := h.det.RunOnce(context.Background())
			require.NoError(t, err)

			var stale []*types.Alert
			for _, a := range h.openAlerts(t) {
				if a.Type == types.AlertStalePR {
					stale = append(stale, a)
				}
			}
			if !tt.wantStale {
				assert.Empty(t, stale)
				return
			}
			require.Len(t, stale, 1)
			assert.Equal(t, types.ConnectorGitHub, stale[0].TargetSystem)
			assert.Equal(t, "1003", stale[0].TargetID)
			assert.Contains(t, stale[0].Message, "Linked tasks: SIG-3.")
		})
	}
}

func TestTaskStatusRules(t *testing.T) {
	tests := []struct {
		name      string
		draft     bool
		mergeable string
		status    string
		wantTitle string
	}{
		{name: "open not ready, task in progress", mergeable: "blocked", status: "In Progress", wantTitle: "PR opened but task not updated"},
		{name: "ready, task in progress", mergeable: "clean", status: "In Progress", wantTitle: "PR ready but task not updated"},
		{name: "ready unstable, task backlog", mergeable: "unstable", status: "Backlog", wantTitle: "PR ready but task not updated"},
		{name: "ready, task in review", mergeable: "clean", status: "In Review"},
		{name: "ready, task done", mergeable: "clean", status: "Done"},
		{name: "open not ready, task in review", mergeable: "dirty", status: "in review"},
		{name: "draft is never ready", draft: true, mergeable: "clean", status: "In Progress"},
		{name: "preview status reads as review", mergeable: "clean", status: "Preview build"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setup(t)
			h.addTask(t, &types.TaskSnapshot{
				ID: "asana-9", ExternalID: "SIG-11", SourceSystem: types.ConnectorAsana,
				Title: "Search", Status: tt.status,
			})
			pr := openPR(11, "SIG-11: search")
			pr.Draft = tt.draft
			pr.MergeableState = tt.mergeable
			h.source.Set(pr)

			_, err := h.det.RunOnce(context.Background())
			require.NoError(t, err)

			list := h.openAlerts(t)
			if tt.wantTitle == "" {
				assert.Empty(t, list)
				return
			}
			require.Len(t, list, 1)
			assert.Equal(t, types.AlertPRReadyTaskNotUpdated, list[0].Type)
			assert.Equal(t, types.SeverityWarning, list[0].Severity)
			assert.Equal(t, tt.wantTitle, list[0].Title)
			assert.Equal(t, "SIG-11", list[0].TargetID)
		})
	}
}

func TestRerunIsNoop(t *testing.T) {
	h := setup(t)
	h.source.Set(openPR(5, "No link"), openPR(6, "Also no link"))

	first, err := h.det.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	second, err := h.det.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, 2, second.Existing)

	assert.Len(t, h.openAlerts(t), 2)
	assert.Len(t, h.queue.events, 2)
}

func TestClosedUnmergedSupersedesAlerts(t *testing.T) {
	h := setup(t)
	pr := openPR(5, "No link")
	h.source.Set(pr)
	_, err := h.det.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, h.openAlerts(t), 1)

	closed := *pr
	closed.State = types.PRStateClosed
	h.source.Set(&closed)

	res, err := h.det.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Superseded)
	assert.Zero(t, res.Created)
	assert.Empty(t, h.openAlerts(t))
}

type flakyIndex struct {
	storage.Storage
	failFor string
}

func (f *flakyIndex) FindTasksByTitleContaining(ctx context.Context, fragment string) ([]*types.TaskSnapshot, error) {
	if fragment == f.failFor {
		return nil, errors.New("task tracker timed out")
	}
	return f.Storage.FindTasksByTitleContaining(ctx, fragment)
}

func TestFailureOnOnePRDoesNotStopOthers(t *testing.T) {
	h := setup(t)
	h.det.tasks = &flakyIndex{Storage: h.store, failFor: "SIG-1"}

	h.source.Set(openPR(1, "SIG-1 broken lookup"), openPR(2, "no link here"))

	res, err := h.det.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Created)
}

// rejectingStore fails alert inserts aimed at one task.
type rejectingStore struct {
	storage.Storage
	rejectTarget string
}

func (r *rejectingStore) InsertAlertIfAbsent(ctx context.Context, alert *types.Alert) (*types.Alert, bool, error) {
	if alert.TargetID == r.rejectTarget {
		return nil, false, errors.New("database is locked")
	}
	return r.Storage.InsertAlertIfAbsent(ctx, alert)
}

func TestFailedAlertWriteDoesNotHideOtherRules(t *testing.T) {
	h := setup(t)
	rejecting := &rejectingStore{Storage: h.store, rejectTarget: "SIG-1"}
	h.det = New(h.source, h.store, alerts.NewManager(rejecting, h.queue), DefaultConfig())
	h.det.now = func() time.Time { return testNow }

	for _, ext := range []string{"SIG-1", "SIG-2"} {
		h.addTask(t, &types.TaskSnapshot{
			ID: "asana-" + ext, ExternalID: ext, SourceSystem: types.ConnectorAsana, Status: "In Progress",
		})
	}
	pr := openPR(8, "SIG-1 and SIG-2 cleanup")
	pr.CreatedAt = testNow.Add(-10 * 24 * time.Hour)

	_, err := h.det.CheckPR(context.Background(), pr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")

	targets := map[string]types.AlertType{}
	for _, a := range h.openAlerts(t) {
		targets[a.TargetID] = a.Type
	}
	assert.NotContains(t, targets, "SIG-1")
	assert.Contains(t, targets, "SIG-2", "later tasks are still checked")
	assert.Equal(t, types.AlertStalePR, targets["1008"], "staleness is still checked")
}

func TestFetchFailure(t *testing.T) {
	h := setup(t)
	h.source.Err = errors.New("github unavailable")

	_, err := h.det.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestExtractLinkedTaskIDs(t *testing.T) {
	tests := []struct {
		title, body string
		want        []string
	}{
		{"sig-7: login", "Also touches SIG-7 and eng-12", []string{"SIG-7", "ENG-12"}},
		{"Fix A-1 typo", "", nil},
		{"ABCDEFGHIJK-1 is too long", "", nil},
		{"Release v2-3", "", nil},
		{"Bump deps", "Closes LIN-42.", []string{"LIN-42"}},
	}
	for _, tt := range tests {
		got := ExtractLinkedTaskIDs(&types.PRSnapshot{Title: tt.title, Body: tt.body})
		assert.Equal(t, tt.want, got, "%q / %q", tt.title, tt.body)
	}
}

func TestFindTasksUnionsTitleAndExternalID(t *testing.T) {
	h := setup(t)
	h.addTask(t, &types.TaskSnapshot{ID: "a", ExternalID: "SIG-7", SourceSystem: types.ConnectorAsana, Title: "Login"})
	h.addTask(t, &types.TaskSnapshot{ID: "b", ExternalID: "9001", SourceSystem: types.ConnectorLinear, Title: "Follow-up for SIG-7"})
	h.addTask(t, &types.TaskSnapshot{ID: "c", ExternalID: "SIG-7", SourceSystem: types.ConnectorLinear, Title: "SIG-7 mirror"})

	tasks, err := h.det.findTasks(context.Background(), []string{"SIG-7"})
	require.NoError(t, err)

	var ids []string
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"b", "c", "a"}, ids)
}
