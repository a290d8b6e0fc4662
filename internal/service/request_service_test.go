package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ess-portal-api/internal/dto"
	"github.com/noah-isme/ess-portal-api/internal/models"
	appErrors "github.com/noah-isme/ess-portal-api/pkg/errors"
)

type directoryStub struct {
	users map[string]*models.User
}

func newDirectoryStub() *directoryStub {
	balances, _ := json.Marshal(map[string]float64{"ANNUAL": 12})
	return &directoryStub{users: map[string]*models.User{
		"emp-1": {ID: "emp-1", FullName: "Dian Pertiwi", Department: "Finance", Role: models.RoleEmployee, LeaveBalances: balances},
		"emp-2": {ID: "emp-2", FullName: "Bayu Santoso", Department: "Finance", Role: models.RoleEmployee},
	}}
}

func (d *directoryStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := d.users[id]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func date(day int) *time.Time {
	d := time.Date(2026, 4, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func TestRequestServiceCreateLeaveWithSubstitute(t *testing.T) {
	repo := newRequestRepoStub()
	audit := &auditTrailStub{}
	svc := NewRequestService(repo, newDirectoryStub(), audit, nil, nil)

	actor := models.Actor{ID: "emp-1", Role: models.RoleEmployee, Department: "Finance", FullName: "Dian Pertiwi"}
	request, err := svc.Create(context.Background(), dto.CreateRequestPayload{
		Category:     models.CategoryLeave,
		SubType:      "ANNUAL",
		Details:      "family trip",
		StartDate:    date(6),
		EndDate:      date(8),
		SubstituteID: "emp-2",
	}, actor)
	require.NoError(t, err)

	assert.Equal(t, "Dian Pertiwi", request.RequesterName)
	assert.Equal(t, "Finance", request.Department)
	require.NotNil(t, request.Days)
	assert.Equal(t, 3, *request.Days)
	require.NotNil(t, request.SubstituteName)
	assert.Equal(t, "Bayu Santoso", *request.SubstituteName)
	assert.Equal(t, models.StagePending, request.SubstituteStatus)
	assert.Equal(t, models.StagePending, request.ManagerStatus)
	assert.Equal(t, models.StagePending, request.HRStatus)
	assert.Equal(t, models.FinalUnderReview, request.FinalStatus)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionRequestCreate, audit.logs[0].Action)
}

func TestRequestServiceCreateWithoutSubstitute(t *testing.T) {
	repo := newRequestRepoStub()
	svc := NewRequestService(repo, newDirectoryStub(), nil, nil, nil)

	actor := models.Actor{ID: "emp-1", Role: models.RoleEmployee, Department: "Finance"}
	request, err := svc.Create(context.Background(), dto.CreateRequestPayload{
		Category:  models.CategoryPermission,
		Details:   "doctor appointment",
		StartDate: date(6),
		EndDate:   date(6),
	}, actor)
	require.NoError(t, err)
	assert.Equal(t, models.StageNotRequired, request.SubstituteStatus)
	require.NotNil(t, request.Days)
	assert.Equal(t, 1, *request.Days)
}

func TestRequestServiceCreateValidation(t *testing.T) {
	svc := NewRequestService(newRequestRepoStub(), newDirectoryStub(), nil, nil, nil)
	actor := models.Actor{ID: "emp-1", Role: models.RoleEmployee, Department: "Finance"}
	ctx := context.Background()

	cases := []struct {
		name    string
		payload dto.CreateRequestPayload
	}{
		{"missing details", dto.CreateRequestPayload{Category: models.CategoryLeave}},
		{"unknown category", dto.CreateRequestPayload{Category: "GADGET", Details: "x"}},
		{"leave without dates", dto.CreateRequestPayload{Category: models.CategoryLeave, Details: "x"}},
		{"inverted range", dto.CreateRequestPayload{Category: models.CategoryLeave, Details: "x", StartDate: date(8), EndDate: date(6)}},
		{"loan without amount", dto.CreateRequestPayload{Category: models.CategoryLoan, Details: "x"}},
		{"substitute is requester", dto.CreateRequestPayload{Category: models.CategoryPermission, Details: "x", StartDate: date(6), EndDate: date(6), SubstituteID: "emp-1"}},
		{"unknown substitute", dto.CreateRequestPayload{Category: models.CategoryPermission, Details: "x", StartDate: date(6), EndDate: date(6), SubstituteID: "ghost"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.payload, actor)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
		})
	}
}

func TestRequestServiceGetVisibility(t *testing.T) {
	repo := newRequestRepoStub()
	seedRequest(repo, "req-1", true)
	svc := NewRequestService(repo, newDirectoryStub(), nil, nil, nil)
	ctx := context.Background()

	cases := []struct {
		name    string
		actor   models.Actor
		allowed bool
	}{
		{"requester", models.Actor{ID: "emp-1", Role: models.RoleEmployee, Department: "Finance"}, true},
		{"substitute", models.Actor{ID: "emp-2", Role: models.RoleEmployee, Department: "Finance"}, true},
		{"hr", models.Actor{ID: "hr-1", Role: models.RoleHR, Department: "People"}, true},
		{"same department manager", models.Actor{ID: "mgr-1", Role: models.RoleManager, Department: "Finance"}, true},
		{"other department manager", models.Actor{ID: "mgr-9", Role: models.RoleManager, Department: "Engineering"}, false},
		{"unrelated employee", models.Actor{ID: "emp-9", Role: models.RoleEmployee, Department: "Finance"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			request, err := svc.Get(ctx, "req-1", tc.actor)
			if tc.allowed {
				require.NoError(t, err)
				assert.Equal(t, "req-1", request.ID)
				return
			}
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
		})
	}
}

func TestRequestServiceGetUnknown(t *testing.T) {
	svc := NewRequestService(newRequestRepoStub(), newDirectoryStub(), nil, nil, nil)

	_, err := svc.Get(context.Background(), "missing", models.Actor{ID: "emp-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRequestServiceListScopes(t *testing.T) {
	repo := newRequestRepoStub()
	svc := NewRequestService(repo, newDirectoryStub(), nil, nil, nil)
	ctx := context.Background()

	// Non-HR roles trigger two scans: the role scope plus requests naming
	// the actor as substitute.
	_, err := svc.List(ctx, dto.RequestQuery{}, models.Actor{ID: "emp-1", Role: models.RoleEmployee, Department: "Finance"})
	require.NoError(t, err)
	require.Len(t, repo.filters, 2)
	assert.Equal(t, "emp-1", repo.filters[0].RequesterID)
	assert.Equal(t, "emp-1", repo.filters[1].SubstituteID)
	assert.Empty(t, repo.filters[1].RequesterID)

	repo.filters = nil
	_, err = svc.List(ctx, dto.RequestQuery{}, models.Actor{ID: "mgr-1", Role: models.RoleManager, Department: "Finance"})
	require.NoError(t, err)
	require.Len(t, repo.filters, 2)
	assert.Equal(t, "Finance", repo.filters[0].Department)
	assert.Empty(t, repo.filters[0].RequesterID)
	assert.Equal(t, "mgr-1", repo.filters[1].SubstituteID)

	repo.filters = nil
	_, err = svc.List(ctx, dto.RequestQuery{FinalStatus: []models.FinalStatus{models.FinalApproved}}, models.Actor{ID: "hr-1", Role: models.RoleHR})
	require.NoError(t, err)
	require.Len(t, repo.filters, 1)
	assert.Empty(t, repo.filters[0].RequesterID)
	assert.Empty(t, repo.filters[0].Department)
	assert.Equal(t, []models.FinalStatus{models.FinalApproved}, repo.filters[0].FinalStatus)
}

func TestRequestServiceListIncludesSubstituteAssignments(t *testing.T) {
	repo := newRequestRepoStub()
	svc := NewRequestService(repo, newDirectoryStub(), nil, nil, nil)
	ctx := context.Background()

	seedRequest(repo, "req-1", true)

	// emp-2 is the named substitute, not the requester, and still sees the
	// request when listing.
	requests, err := svc.List(ctx, dto.RequestQuery{}, models.Actor{ID: "emp-2", Role: models.RoleEmployee, Department: "Engineering"})
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "req-1", requests[0].ID)

	// An unrelated employee sees nothing.
	requests, err = svc.List(ctx, dto.RequestQuery{}, models.Actor{ID: "emp-9", Role: models.RoleEmployee, Department: "Engineering"})
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestRequestServiceListDeduplicatesSubstituteOverlap(t *testing.T) {
	repo := newRequestRepoStub()
	svc := NewRequestService(repo, newDirectoryStub(), nil, nil, nil)
	ctx := context.Background()

	substituteID := "mgr-1"
	substituteName := "Rina Wulandari"
	repo.requests["req-2"] = &models.Request{
		ID:               "req-2",
		RequesterID:      "emp-3",
		RequesterName:    "Agus Salim",
		Department:       "Finance",
		Category:         models.CategoryLeave,
		SubstituteID:     &substituteID,
		SubstituteName:   &substituteName,
		SubstituteStatus: models.StagePending,
		ManagerStatus:    models.StagePending,
		HRStatus:         models.StagePending,
		FinalStatus:      models.FinalUnderReview,
	}

	// The request matches both the department scan and the substitute scan
	// for this manager; it must appear exactly once.
	requests, err := svc.List(ctx, dto.RequestQuery{}, models.Actor{ID: "mgr-1", Role: models.RoleManager, Department: "Finance"})
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "req-2", requests[0].ID)
}
