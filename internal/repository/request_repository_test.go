package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ess-portal-api/internal/models"
)

func newRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func requestRows(id string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "requester_id", "requester_name", "department", "category", "sub_type", "details",
		"start_date", "end_date", "days", "amount", "substitute_id", "substitute_name",
		"status_substitute", "substitute_note", "substitute_actor", "substitute_acted_at",
		"status_manager", "manager_note", "manager_actor", "manager_acted_at",
		"status_hr", "hr_note", "hr_actor", "hr_acted_at",
		"final_status", "created_at", "updated_at",
	}).AddRow(
		id, "emp-1", "Amal Said", "Finance", "LEAVE", "ANNUAL", "family trip",
		now, now, 3, nil, nil, nil,
		"NOT_REQUIRED", nil, nil, nil,
		"PENDING", nil, nil, nil,
		"PENDING", nil, nil, nil,
		"UNDER_REVIEW", now, now,
	)
}

func TestRequestRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	request := &models.Request{
		RequesterID:      "emp-1",
		RequesterName:    "Amal Said",
		Department:       "Finance",
		Category:         models.CategoryLeave,
		Details:          "family trip",
		SubstituteStatus: models.StageNotRequired,
		ManagerStatus:    models.StagePending,
		HRStatus:         models.StagePending,
	}
	require.NoError(t, repo.Create(context.Background(), request))
	require.NotEmpty(t, request.ID)
	require.Equal(t, models.FinalUnderReview, request.FinalStatus)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, requester_id, requester_name")).
		WithArgs(request.ID).
		WillReturnRows(requestRows(request.ID))

	found, err := repo.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, request.ID, found.ID)
	require.Equal(t, models.StageNotRequired, found.SubstituteStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, requester_id, requester_name")).
		WithArgs("Finance", "UNDER_REVIEW").
		WillReturnRows(requestRows("req-1"))

	list, err := repo.List(context.Background(), models.RequestFilter{
		Department:  "Finance",
		FinalStatus: []models.FinalStatus{models.FinalUnderReview},
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "req-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApplyStageDecision(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	note := "ok"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ApplyStageDecision(context.Background(), StageDecisionParams{
		RequestID:   "req-1",
		Stage:       models.StageManager,
		Status:      models.StageApproved,
		FinalStatus: models.FinalUnderReview,
		ActorName:   "Mona HR",
		Note:        &note,
		ActedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApplyStageDecisionConflict(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	// Zero rows affected means the stage was no longer PENDING (or the request
	// already reached a terminal disposition) when the update ran.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE requests")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ApplyStageDecision(context.Background(), StageDecisionParams{
		RequestID:   "req-1",
		Stage:       models.StageHR,
		Status:      models.StageApproved,
		FinalStatus: models.FinalApproved,
		ActorName:   "Mona HR",
		ActedAt:     time.Now().UTC(),
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApplyStageDecisionUnknownStage(t *testing.T) {
	db, _, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	err := repo.ApplyStageDecision(context.Background(), StageDecisionParams{
		RequestID: "req-1",
		Stage:     models.Stage("PAYROLL"),
	})
	require.Error(t, err)
}
