package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalspoc/signals/internal/gateway"
	"github.com/signalspoc/signals/internal/gateway/gatewaytest"
	"github.com/signalspoc/signals/internal/storage"
	"github.com/signalspoc/signals/internal/types"
)

type harness struct {
	store storage.Storage
	asana *gatewaytest.PM
	gh    *gatewaytest.PR
	disp  *Dispatcher
}

func setup(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), &storage.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{store: store, asana: &gatewaytest.PM{}, gh: &gatewaytest.PR{}}
	reg := gateway.NewRegistry(h.gh).RegisterPM(types.ConnectorAsana, h.asana)
	h.disp = New(store, reg, DefaultConfig())
	return h
}

func (h *harness) insert(t *testing.T, alertType types.AlertType, actionJSON *string) *types.Alert {
	t.Helper()
	a := &types.Alert{
		ID:           "alert-" + string(alertType),
		Type:         alertType,
		Severity:     types.SeverityWarning,
		Title:        "test",
		Message:      "test",
		AIActionJSON: actionJSON,
		SourceSystem: types.ConnectorGitHub,
		SourceID:     "1042",
		SourceURL:    "https://github.com/acme/api/pull/42",
		TargetSystem: types.ConnectorAsana,
		TargetID:     "SIG-7",
	}
	switch alertType {
	case types.AlertStalePR:
		a.TargetSystem, a.TargetID = types.ConnectorGitHub, "1042"
	case types.AlertMissingLink:
		a.TargetSystem, a.TargetID = types.ConnectorNone, ""
	}
	stored, _, err := h.store.InsertAlertIfAbsent(context.Background(), a)
	require.NoError(t, err)
	return stored
}

func (h *harness) isResolved(t *testing.T, id string) bool {
	t.Helper()
	a, err := h.store.GetAlert(context.Background(), id)
	require.NoError(t, err)
	return a.IsResolved
}

func ptr(s string) *string { return &s }

func TestLegacyCompleteTaskOnMergedPR(t *testing.T) {
	h := setup(t)
	a := h.insert(t, types.AlertPRMergedTaskOpen, nil)

	res, err := h.disp.ExecuteAction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.FromRecommendation)
	assert.Equal(t, types.ActionCompleteTask, res.ActionTaken)
	assert.Equal(t, "Marked ASANA task as complete", res.Description)

	calls := h.asana.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, gatewaytest.Call{Op: "complete_task", Target: "SIG-7"}, calls[0])
	assert.Equal(t, "add_comment", calls[1].Op)
	assert.Equal(t, "[Signals] Auto-action executed: Marked ASANA task as complete", calls[1].Value)

	a2, err := h.store.GetAlert(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, a2.IsResolved)
	assert.True(t, a2.IsRead)
	assert.NotNil(t, a2.ResolvedAt)
}

func TestUnparseableRecommendationFallsBack(t *testing.T) {
	h := setup(t)
	a := h.insert(t, types.AlertPRMergedTaskOpen, ptr(`{"actionType": "REBOOT_EVERYTHING"`))

	res, err := h.disp.ExecuteAction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.FromRecommendation)
	assert.Equal(t, "complete_task", h.asana.Ops()[0])
	assert.Equal(t, "SIG-7", h.asana.Calls()[0].Target)
}

func TestAlreadyResolvedIsNoop(t *testing.T) {
	h := setup(t)
	a := h.insert(t, types.AlertPRMergedTaskOpen, nil)
	_, err := h.store.ResolveAlert(context.Background(), a.ID)
	require.NoError(t, err)

	res, err := h.disp.ExecuteAction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Alert is already resolved", res.Description)
	assert.Empty(t, h.asana.Calls())
	assert.Empty(t, h.gh.Calls())
}

func TestSecondApprovalIsNoop(t *testing.T) {
	h := setup(t)
	a := h.insert(t, types.AlertPRMergedTaskOpen, nil)

	first, err := h.disp.ExecuteAction(context.Background(), a.ID)
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := h.disp.ExecuteAction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, []string{"complete_task", "add_comment"}, h.asana.Ops())
}

func TestConcurrentApprovalsActOnce(t *testing.T) {
	h := setup(t)
	a := h.insert(t, types.AlertPRMergedTaskOpen, nil)

	const approvers = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.disp.ExecuteAction(context.Background(), a.ID)
			if assert.NoError(t, err) && res.Success {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	completes := 0
	for _, op := range h.asana.Ops() {
		if op == "complete_task" {
			completes++
		}
	}
	assert.Equal(t, 1, completes)
}

func TestUnknownAlert(t *testing.T) {
	h := setup(t)
	_, err := h.disp.ExecuteAction(context.Background(), "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestRecommendationDispatch(t *testing.T) {
	tests := []struct {
		name         string
		alertType    types.AlertType
		rec          string
		wantSuccess  bool
		wantResolved bool
		wantAction   types.ActionType
		wantDesc     string
		wantPMOps    []string
		wantPROps    []string
	}{
		{
			name:         "update status with comment",
			alertType:    types.AlertPRReadyTaskNotUpdated,
			rec:          `{"actionType":"UPDATE_TASK_STATUS","targetPlatform":"ASANA","targetEntityId":"SIG-7","parameters":{"status":"In Review","comment":"PR #42 opened"},"confidence":0.85}`,
			wantSuccess:  true,
			wantResolved: true,
			wantAction:   types.ActionUpdateTaskStatus,
			wantDesc:     "Updated ASANA task status to 'In Review'",
			wantPMOps:    []string{"update_status", "add_comment", "add_comment"},
		},
		{
			name:         "status defaults to in review and target defaults to alert",
			alertType:    types.AlertPRReadyTaskNotUpdated,
			rec:          `{"actionType":"UPDATE_TASK_STATUS","confidence":0.6}`,
			wantSuccess:  true,
			wantResolved: true,
			wantAction:   types.ActionUpdateTaskStatus,
			wantDesc:     "Updated ASANA task status to 'In Review'",
			wantPMOps:    []string{"update_status", "add_comment"},
		},
		{
			name:         "add task comment",
			alertType:    types.AlertStatusMismatch,
			rec:          `{"actionType":"ADD_COMMENT","parameters":{"comment":"please sync"},"confidence":0.7}`,
			wantSuccess:  true,
			wantResolved: true,
			wantAction:   types.ActionAddComment,
			wantDesc:     "Added comment to ASANA task",
			wantPMOps:    []string{"add_comment", "add_comment"},
		},
		{
			name:         "pr comment",
			alertType:    types.AlertStatusMismatch,
			rec:          `{"actionType":"ADD_PR_COMMENT","parameters":{"comment":"link the task"},"confidence":0.7}`,
			wantSuccess:  true,
			wantResolved: true,
			wantAction:   types.ActionAddPRComment,
			wantDesc:     "Added comment to GitHub PR",
			wantPMOps:    []string{"add_comment"},
			wantPROps:    []string{"add_comment"},
		},
		{
			name:         "pr labels",
			alertType:    types.AlertStatusMismatch,
			rec:          `{"actionType":"UPDATE_PR_LABELS","parameters":{"labels":"needs-sync, , stale"},"confidence":0.7}`,
			wantSuccess:  true,
			wantResolved: true,
			wantAction:   types.ActionUpdatePRLabels,
			wantDesc:     "Updated labels on GitHub PR: [needs-sync stale]",
			wantPMOps:    []string{"add_comment"},
			wantPROps:    []string{"set_labels"},
		},
		{
			name:         "approve pr",
			alertType:    types.AlertStatusMismatch,
			rec:          `{"actionType":"APPROVE_PR","confidence":0.9}`,
			wantSuccess:  true,
			wantResolved: true,
			wantAction:   types.ActionApprovePR,
			wantDesc:     "Submitted APPROVED review on GitHub PR #42",
			wantPMOps:    []string{"add_comment"},
			wantPROps:    []string{"approve"},
		},
		{
			name:        "no action succeeds without resolving",
			alertType:   types.AlertStatusMismatch,
			rec:         `{"actionType":"NO_ACTION","reasoning":"already in sync","confidence":0.9}`,
			wantSuccess: true,
			wantAction:  types.ActionNoAction,
			wantDesc:    "AI determined no action is needed",
		},
		{
			name:       "manual review fails with reasoning",
			alertType:  types.AlertAssigneeMismatch,
			rec:        `{"actionType":"MANUAL_REVIEW","reasoning":"owners disagree","confidence":0.5}`,
			wantAction: types.ActionManualReview,
			wantDesc:   "AI recommends manual review: owners disagree",
		},
		{
			name:      "unregistered tracker",
			alertType: types.AlertPRMergedTaskOpen,
			rec:       `{"actionType":"COMPLETE_TASK","targetPlatform":"LINEAR","targetEntityId":"ENG-1","confidence":0.9}`,
			wantDesc:  "Target PM connector not available: LINEAR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setup(t)
			a := h.insert(t, tt.alertType, ptr(tt.rec))

			res, err := h.disp.ExecuteAction(context.Background(), a.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.True(t, res.FromRecommendation)
			assert.Equal(t, tt.wantAction, res.ActionTaken)
			assert.Equal(t, tt.wantDesc, res.Description)
			assert.Equal(t, tt.wantPMOps, h.asana.Ops())
			assert.Equal(t, tt.wantPROps, h.gh.Ops())
			assert.Equal(t, tt.wantResolved, h.isResolved(t, a.ID))
		})
	}
}

func TestPRActionWithUnparseableURL(t *testing.T) {
	h := setup(t)
	a := &types.Alert{
		ID: "a1", Type: types.AlertStalePR, Severity: types.SeverityWarning, Title: "stale",
		AIActionJSON: ptr(`{"actionType":"ADD_PR_COMMENT","confidence":0.8}`),
		SourceSystem: types.ConnectorGitHub, SourceID: "1", SourceURL: "not a url",
		TargetSystem: types.ConnectorGitHub, TargetID: "1",
	}
	_, _, err := h.store.InsertAlertIfAbsent(context.Background(), a)
	require.NoError(t, err)

	res, err := h.disp.ExecuteAction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Could not parse PR URL from alert", res.Description)
	assert.Empty(t, h.gh.Calls())

	claimed, err := h.store.ClaimAlertForAction(context.Background(), a.ID, DefaultConfig().ClaimTTL)
	require.NoError(t, err)
	assert.True(t, claimed, "claim is released after a failed action")
}

func TestLegacyDispatch(t *testing.T) {
	tests := []struct {
		alertType   types.AlertType
		wantSuccess bool
		wantDesc    string
		wantPMOps   []string
		wantPR      []gatewaytest.Call
	}{
		{
			alertType:   types.AlertPRReadyTaskNotUpdated,
			wantSuccess: true,
			wantDesc:    "Updated ASANA task status to 'In Review'",
			wantPMOps:   []string{"update_status", "add_comment", "add_comment"},
		},
		{
			alertType:   types.AlertStalePR,
			wantSuccess: true,
			wantDesc:    "Added stale PR reminder comment to GitHub",
			wantPR:      []gatewaytest.Call{{Op: "add_comment", Target: "acme/api#42", Value: staleReminder}},
		},
		{
			alertType: types.AlertMissingLink,
			wantDesc:  "Missing link alerts require manual action: add a task reference to the PR",
		},
		{
			alertType: types.AlertStatusMismatch,
			wantDesc:  "No automatic action available for alert type: STATUS_MISMATCH",
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.alertType), func(t *testing.T) {
			h := setup(t)
			a := h.insert(t, tt.alertType, nil)

			res, err := h.disp.ExecuteAction(context.Background(), a.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Equal(t, tt.wantDesc, res.Description)
			assert.Equal(t, tt.wantPMOps, h.asana.Ops())
			assert.Equal(t, tt.wantPR, h.gh.Calls())
			assert.Equal(t, tt.wantSuccess, h.isResolved(t, a.ID))
		})
	}
}

func TestAuditCommentFailureIsSwallowed(t *testing.T) {
	h := setup(t)
	h.asana.Errors = map[string]error{"add_comment": errors.New("asana 500")}
	a := h.insert(t, types.AlertPRMergedTaskOpen, nil)

	res, err := h.disp.ExecuteAction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, h.isResolved(t, a.ID))
}

func TestGatewayFailureLeavesAlertOpen(t *testing.T) {
	h := setup(t)
	h.asana.Errors = map[string]error{"complete_task": errors.New("asana timeout")}
	a := h.insert(t, types.AlertPRMergedTaskOpen, nil)

	res, err := h.disp.ExecuteAction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Action failed: asana timeout", res.Description)
	assert.False(t, h.isResolved(t, a.ID))

	h.asana.Errors = nil
	res, err = h.disp.ExecuteAction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, res.Success, "a later approval can retry")
}
