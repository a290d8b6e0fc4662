package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ess-portal-api/internal/models"
	"github.com/noah-isme/ess-portal-api/internal/repository"
	appErrors "github.com/noah-isme/ess-portal-api/pkg/errors"
)

type requestRepoStub struct {
	requests map[string]*models.Request
	filters  []models.RequestFilter
}

func newRequestRepoStub() *requestRepoStub {
	return &requestRepoStub{requests: make(map[string]*models.Request)}
}

func (r *requestRepoStub) Create(ctx context.Context, request *models.Request) error {
	if request.ID == "" {
		request.ID = "req-" + time.Now().Format("150405.000000000")
	}
	stored := *request
	r.requests[request.ID] = &stored
	return nil
}

func (r *requestRepoStub) GetByID(ctx context.Context, id string) (*models.Request, error) {
	if request, ok := r.requests[id]; ok {
		clone := *request
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (r *requestRepoStub) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	r.filters = append(r.filters, filter)
	var result []models.Request
	for _, request := range r.requests {
		if filter.RequesterID != "" && request.RequesterID != filter.RequesterID {
			continue
		}
		if filter.SubstituteID != "" && (request.SubstituteID == nil || *request.SubstituteID != filter.SubstituteID) {
			continue
		}
		if filter.Department != "" && request.Department != filter.Department {
			continue
		}
		if len(filter.FinalStatus) > 0 {
			matched := false
			for _, status := range filter.FinalStatus {
				if request.FinalStatus == status {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		result = append(result, *request)
	}
	return result, nil
}

// ApplyStageDecision mirrors the repository's conditional write: the update
// only lands while the stage is PENDING and the disposition UNDER_REVIEW.
func (r *requestRepoStub) ApplyStageDecision(ctx context.Context, params repository.StageDecisionParams) error {
	request, ok := r.requests[params.RequestID]
	if !ok {
		return sql.ErrNoRows
	}
	if request.StatusOf(params.Stage) != models.StagePending || request.FinalStatus != models.FinalUnderReview {
		return sql.ErrNoRows
	}
	actedAt := params.ActedAt
	switch params.Stage {
	case models.StageSubstitute:
		request.SubstituteStatus = params.Status
		request.SubstituteNote = params.Note
		request.SubstituteActor = &params.ActorName
		request.SubstituteActedAt = &actedAt
	case models.StageManager:
		request.ManagerStatus = params.Status
		request.ManagerNote = params.Note
		request.ManagerActor = &params.ActorName
		request.ManagerActedAt = &actedAt
	case models.StageHR:
		request.HRStatus = params.Status
		request.HRNote = params.Note
		request.HRActor = &params.ActorName
		request.HRActedAt = &actedAt
	}
	request.FinalStatus = params.FinalStatus
	request.UpdatedAt = actedAt
	return nil
}

type auditTrailStub struct {
	logs []*models.AuditLog
}

func (a *auditTrailStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func seedRequest(repo *requestRepoStub, id string, withSubstitute bool) *models.Request {
	request := &models.Request{
		ID:               id,
		RequesterID:      "emp-1",
		RequesterName:    "Dian Pertiwi",
		Department:       "Finance",
		Category:         models.CategoryLeave,
		Details:          "annual leave",
		SubstituteStatus: models.StageNotRequired,
		ManagerStatus:    models.StagePending,
		HRStatus:         models.StagePending,
		FinalStatus:      models.FinalUnderReview,
		CreatedAt:        time.Now().UTC(),
	}
	if withSubstitute {
		substituteID := "emp-2"
		substituteName := "Bayu Santoso"
		request.SubstituteID = &substituteID
		request.SubstituteName = &substituteName
		request.SubstituteStatus = models.StagePending
	}
	repo.requests[id] = request
	return request
}

var (
	substituteActor = models.Actor{ID: "emp-2", Role: models.RoleEmployee, Department: "Finance", FullName: "Bayu Santoso"}
	managerActor    = models.Actor{ID: "mgr-1", Role: models.RoleManager, Department: "Finance", FullName: "Rina Wulandari"}
	hrActor         = models.Actor{ID: "hr-1", Role: models.RoleHR, Department: "People", FullName: "Sari Dewi"}
)

func TestApprovalServiceFullChainWithSubstitute(t *testing.T) {
	repo := newRequestRepoStub()
	audit := &auditTrailStub{}
	seedRequest(repo, "req-1", true)

	var events []models.DispositionEvent
	notifier := DispositionNotifierFunc(func(ctx context.Context, event models.DispositionEvent) {
		events = append(events, event)
	})
	svc := NewApprovalService(repo, audit, nil, WithDispositionNotifier(notifier))
	ctx := context.Background()

	updated, err := svc.Decide(ctx, "req-1", models.StageSubstitute, models.DecisionApproved, substituteActor, "covered")
	require.NoError(t, err)
	require.Equal(t, models.StageApproved, updated.SubstituteStatus)
	require.Equal(t, models.FinalUnderReview, updated.FinalStatus)
	require.Empty(t, events)

	updated, err = svc.Decide(ctx, "req-1", models.StageManager, models.DecisionApproved, managerActor, "")
	require.NoError(t, err)
	require.Equal(t, models.StageApproved, updated.ManagerStatus)
	require.Equal(t, models.FinalUnderReview, updated.FinalStatus)

	updated, err = svc.Decide(ctx, "req-1", models.StageHR, models.DecisionApproved, hrActor, "compliant")
	require.NoError(t, err)
	require.Equal(t, models.StageApproved, updated.HRStatus)
	require.Equal(t, models.FinalApproved, updated.FinalStatus)

	require.Len(t, events, 1)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, models.FinalApproved, events[0].FinalStatus)
	require.Len(t, audit.logs, 3)
	assert.Equal(t, models.AuditActionStageApprove, audit.logs[0].Action)
}

func TestApprovalServiceSkipsSubstituteWhenNotRequired(t *testing.T) {
	repo := newRequestRepoStub()
	seedRequest(repo, "req-1", false)
	svc := NewApprovalService(repo, &auditTrailStub{}, nil)
	ctx := context.Background()

	// The manager stage is immediately actionable.
	updated, err := svc.Decide(ctx, "req-1", models.StageManager, models.DecisionApproved, managerActor, "")
	require.NoError(t, err)
	require.Equal(t, models.StageApproved, updated.ManagerStatus)

	// A NOT_REQUIRED stage is never decidable.
	_, err = svc.Decide(ctx, "req-1", models.StageSubstitute, models.DecisionApproved, substituteActor, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyDecided.Code, appErrors.FromError(err).Code)
}

func TestApprovalServiceRejectionShortCircuits(t *testing.T) {
	repo := newRequestRepoStub()
	seedRequest(repo, "req-1", true)

	var events []models.DispositionEvent
	notifier := DispositionNotifierFunc(func(ctx context.Context, event models.DispositionEvent) {
		events = append(events, event)
	})
	svc := NewApprovalService(repo, &auditTrailStub{}, nil, WithDispositionNotifier(notifier))
	ctx := context.Background()

	updated, err := svc.Decide(ctx, "req-1", models.StageSubstitute, models.DecisionRejected, substituteActor, "not available")
	require.NoError(t, err)
	require.Equal(t, models.StageRejected, updated.SubstituteStatus)
	require.Equal(t, models.FinalRejected, updated.FinalStatus)
	require.Len(t, events, 1)
	assert.Equal(t, models.FinalRejected, events[0].FinalStatus)

	// Later stages stay PENDING but the request is closed to decisions.
	require.Equal(t, models.StagePending, updated.ManagerStatus)
	_, err = svc.Decide(ctx, "req-1", models.StageManager, models.DecisionApproved, managerActor, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTerminalState.Code, appErrors.FromError(err).Code)
}

func TestApprovalServiceDoubleDecision(t *testing.T) {
	repo := newRequestRepoStub()
	seedRequest(repo, "req-1", true)
	svc := NewApprovalService(repo, &auditTrailStub{}, nil)
	ctx := context.Background()

	_, err := svc.Decide(ctx, "req-1", models.StageSubstitute, models.DecisionApproved, substituteActor, "")
	require.NoError(t, err)

	_, err = svc.Decide(ctx, "req-1", models.StageSubstitute, models.DecisionApproved, substituteActor, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyDecided.Code, appErrors.FromError(err).Code)

	_, err = svc.Decide(ctx, "req-1", models.StageSubstitute, models.DecisionRejected, substituteActor, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyDecided.Code, appErrors.FromError(err).Code)
}

func TestApprovalServiceOutOfOrder(t *testing.T) {
	repo := newRequestRepoStub()
	seedRequest(repo, "req-1", true)
	svc := NewApprovalService(repo, &auditTrailStub{}, nil)
	ctx := context.Background()

	_, err := svc.Decide(ctx, "req-1", models.StageHR, models.DecisionApproved, hrActor, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOutOfOrder.Code, appErrors.FromError(err).Code)

	_, err = svc.Decide(ctx, "req-1", models.StageManager, models.DecisionApproved, managerActor, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOutOfOrder.Code, appErrors.FromError(err).Code)
}

func TestApprovalServiceUnauthorizedActors(t *testing.T) {
	repo := newRequestRepoStub()
	seedRequest(repo, "req-1", true)
	svc := NewApprovalService(repo, &auditTrailStub{}, nil)
	ctx := context.Background()

	// Only the named substitute may act on the substitute stage.
	intruder := models.Actor{ID: "emp-9", Role: models.RoleEmployee, Department: "Finance", FullName: "Eka Putra"}
	_, err := svc.Decide(ctx, "req-1", models.StageSubstitute, models.DecisionApproved, intruder, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.Decide(ctx, "req-1", models.StageSubstitute, models.DecisionApproved, substituteActor, "")
	require.NoError(t, err)

	// A manager from another department is not eligible.
	outsider := models.Actor{ID: "mgr-9", Role: models.RoleManager, Department: "Engineering", FullName: "Putri Ayu"}
	_, err = svc.Decide(ctx, "req-1", models.StageManager, models.DecisionApproved, outsider, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestApprovalServiceUnknownRequest(t *testing.T) {
	svc := NewApprovalService(newRequestRepoStub(), &auditTrailStub{}, nil)

	_, err := svc.Decide(context.Background(), "missing", models.StageManager, models.DecisionApproved, managerActor, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

type racingRepoStub struct {
	*requestRepoStub
}

func (r *racingRepoStub) ApplyStageDecision(ctx context.Context, params repository.StageDecisionParams) error {
	// Simulate a competing decision landing between read and write.
	return sql.ErrNoRows
}

func TestApprovalServiceConcurrentModification(t *testing.T) {
	repo := newRequestRepoStub()
	seedRequest(repo, "req-1", false)
	svc := NewApprovalService(&racingRepoStub{repo}, &auditTrailStub{}, nil)

	_, err := svc.Decide(context.Background(), "req-1", models.StageManager, models.DecisionApproved, managerActor, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConcurrentMod.Code, appErrors.FromError(err).Code)
}

func TestApprovalServicePendingTasksByRole(t *testing.T) {
	repo := newRequestRepoStub()
	first := seedRequest(repo, "req-1", true)
	first.CreatedAt = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	second := seedRequest(repo, "req-2", false)
	second.CreatedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	svc := NewApprovalService(repo, &auditTrailStub{}, nil)
	ctx := context.Background()

	// The substitute only sees the request naming them.
	tasks, cacheHit, err := svc.PendingTasks(ctx, substituteActor)
	require.NoError(t, err)
	assert.False(t, cacheHit)
	require.Len(t, tasks, 1)
	assert.Equal(t, "req-1", tasks[0].Request.ID)
	assert.Equal(t, models.StageSubstitute, tasks[0].Stage)

	// The manager sees only requests whose substitute gate is cleared.
	tasks, _, err = svc.PendingTasks(ctx, managerActor)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "req-2", tasks[0].Request.ID)
	assert.Equal(t, models.StageManager, tasks[0].Stage)

	// HR waits for the manager stage.
	tasks, _, err = svc.PendingTasks(ctx, hrActor)
	require.NoError(t, err)
	require.Empty(t, tasks)

	_, err = svc.Decide(ctx, "req-1", models.StageSubstitute, models.DecisionApproved, substituteActor, "")
	require.NoError(t, err)
	_, err = svc.Decide(ctx, "req-2", models.StageManager, models.DecisionApproved, managerActor, "")
	require.NoError(t, err)

	tasks, _, err = svc.PendingTasks(ctx, managerActor)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "req-1", tasks[0].Request.ID)

	tasks, _, err = svc.PendingTasks(ctx, hrActor)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "req-2", tasks[0].Request.ID)
	assert.Equal(t, models.StageHR, tasks[0].Stage)
}

func TestApprovalServicePendingTasksOrdering(t *testing.T) {
	repo := newRequestRepoStub()
	older := seedRequest(repo, "req-b", false)
	older.CreatedAt = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	newer := seedRequest(repo, "req-a", false)
	newer.CreatedAt = time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)

	svc := NewApprovalService(repo, &auditTrailStub{}, nil)

	tasks, _, err := svc.PendingTasks(context.Background(), managerActor)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "req-b", tasks[0].Request.ID)
	assert.Equal(t, "req-a", tasks[1].Request.ID)
}
