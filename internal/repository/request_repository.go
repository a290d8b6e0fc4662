package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/ess-portal-api/internal/models"
)

const requestColumns = `id, requester_id, requester_name, department, category, sub_type, details,
       start_date, end_date, days, amount, substitute_id, substitute_name,
       status_substitute, substitute_note, substitute_actor, substitute_acted_at,
       status_manager, manager_note, manager_actor, manager_acted_at,
       status_hr, hr_note, hr_actor, hr_acted_at,
       final_status, created_at, updated_at`

// RequestRepository persists self-service requests and their approval state.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new request row.
func (r *RequestRepository) Create(ctx context.Context, request *models.Request) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now
	if request.FinalStatus == "" {
		request.FinalStatus = models.FinalUnderReview
	}
	const query = `INSERT INTO requests
	(id, requester_id, requester_name, department, category, sub_type, details,
	 start_date, end_date, days, amount, substitute_id, substitute_name,
	 status_substitute, substitute_note, substitute_actor, substitute_acted_at,
	 status_manager, manager_note, manager_actor, manager_acted_at,
	 status_hr, hr_note, hr_actor, hr_acted_at,
	 final_status, created_at, updated_at)
	VALUES (:id, :requester_id, :requester_name, :department, :category, :sub_type, :details,
	 :start_date, :end_date, :days, :amount, :substitute_id, :substitute_name,
	 :status_substitute, :substitute_note, :substitute_actor, :substitute_acted_at,
	 :status_manager, :manager_note, :manager_actor, :manager_acted_at,
	 :status_hr, :hr_note, :hr_actor, :hr_acted_at,
	 :final_status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	query := fmt.Sprintf("SELECT %s FROM requests WHERE id = $1", requestColumns)
	var request models.Request
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns requests matching the filter. Ordering is stable (creation
// time ascending with the id as tiebreak) so repeated queries with unchanged
// state return rows in the same order.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString("SELECT ")
	builder.WriteString(requestColumns)
	builder.WriteString(" FROM requests")

	conditions := make([]string, 0, 5)
	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		conditions = append(conditions, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if filter.SubstituteID != "" {
		args = append(args, filter.SubstituteID)
		conditions = append(conditions, fmt.Sprintf("substitute_id = $%d", len(args)))
	}
	if filter.Department != "" {
		args = append(args, filter.Department)
		conditions = append(conditions, fmt.Sprintf("department = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if len(filter.FinalStatus) > 0 {
		placeholders := make([]string, len(filter.FinalStatus))
		for i, status := range filter.FinalStatus {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("final_status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at ASC, id ASC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return requests, nil
}

// StageDecisionParams groups the columns written when a stage is decided.
type StageDecisionParams struct {
	RequestID   string
	Stage       models.Stage
	Status      models.StageStatus
	FinalStatus models.FinalStatus
	ActorName   string
	Note        *string
	ActedAt     time.Time
}

// stageColumns maps a stage onto its status/note/actor/timestamp columns.
func stageColumns(stage models.Stage) (status, note, actor, actedAt string, ok bool) {
	switch stage {
	case models.StageSubstitute:
		return "status_substitute", "substitute_note", "substitute_actor", "substitute_acted_at", true
	case models.StageManager:
		return "status_manager", "manager_note", "manager_actor", "manager_acted_at", true
	case models.StageHR:
		return "status_hr", "hr_note", "hr_actor", "hr_acted_at", true
	}
	return "", "", "", "", false
}

// ApplyStageDecision writes the stage outcome and the recomputed final status
// in a single conditional UPDATE. The write only succeeds while the stage is
// still PENDING and the request is still under review, which is the optimistic
// guard against two actors deciding the same stage concurrently. A failed
// precondition surfaces as sql.ErrNoRows and leaves the row untouched.
func (r *RequestRepository) ApplyStageDecision(ctx context.Context, params StageDecisionParams) error {
	statusCol, noteCol, actorCol, actedAtCol, ok := stageColumns(params.Stage)
	if !ok {
		return fmt.Errorf("unknown stage %q", params.Stage)
	}
	query := fmt.Sprintf(`UPDATE requests
	SET %s = :status, %s = :note, %s = :actor_name, %s = :acted_at,
	    final_status = :final_status, updated_at = :acted_at
	WHERE id = :id AND %s = '%s' AND final_status = '%s'`,
		statusCol, noteCol, actorCol, actedAtCol,
		statusCol, models.StagePending, models.FinalUnderReview,
	)
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":           params.RequestID,
		"status":       params.Status,
		"note":         params.Note,
		"actor_name":   params.ActorName,
		"acted_at":     params.ActedAt,
		"final_status": params.FinalStatus,
	})
	if err != nil {
		return fmt.Errorf("apply stage decision: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check stage decision rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
