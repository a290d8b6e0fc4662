package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/ess-portal-api/internal/dto"
	"github.com/noah-isme/ess-portal-api/internal/models"
	appErrors "github.com/noah-isme/ess-portal-api/pkg/errors"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type requestStore interface {
	Create(ctx context.Context, request *models.Request) error
	GetByID(ctx context.Context, id string) (*models.Request, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error)
}

type employeeDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// RequestService handles request intake and visibility-scoped reads. Stage
// state never changes here; that is the approval engine's job.
type RequestService struct {
	repo      requestStore
	directory employeeDirectory
	audit     auditLogger
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// RequestServiceOption customises optional collaborators.
type RequestServiceOption func(*RequestService)

// WithRequestMetrics attaches the metrics collector.
func WithRequestMetrics(metrics *MetricsService) RequestServiceOption {
	return func(s *RequestService) {
		s.metrics = metrics
	}
}

// NewRequestService constructs the service.
func NewRequestService(repo requestStore, directory employeeDirectory, audit auditLogger, validate *validator.Validate, logger *zap.Logger, opts ...RequestServiceOption) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RequestService{repo: repo, directory: directory, audit: audit, validator: validate, logger: logger}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create validates and stores a new request on behalf of the actor. The
// substitute stage starts PENDING only when a substitute is named, otherwise
// NOT_REQUIRED; manager and HR always start PENDING and the disposition is
// UNDER_REVIEW.
func (s *RequestService) Create(ctx context.Context, payload dto.CreateRequestPayload, actor models.Actor) (*models.Request, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}
	category := models.ServiceCategory(strings.ToUpper(string(payload.Category)))
	switch category {
	case models.CategoryLeave, models.CategoryLoan, models.CategoryPurchase, models.CategoryTravel, models.CategoryPermission:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported service category")
	}

	requester, err := s.directory.FindByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "requester not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load requester")
	}

	request := &models.Request{
		RequesterID:      requester.ID,
		RequesterName:    requester.FullName,
		Department:       requester.Department,
		Category:         category,
		Details:          strings.TrimSpace(payload.Details),
		StartDate:        payload.StartDate,
		EndDate:          payload.EndDate,
		Amount:           payload.Amount,
		SubstituteStatus: models.StageNotRequired,
		ManagerStatus:    models.StagePending,
		HRStatus:         models.StagePending,
		FinalStatus:      models.FinalUnderReview,
	}
	if subType := strings.TrimSpace(payload.SubType); subType != "" {
		request.SubType = &subType
	}

	if err := s.applyCategoryRules(request, requester); err != nil {
		return nil, err
	}

	if substituteID := strings.TrimSpace(payload.SubstituteID); substituteID != "" {
		if substituteID == actor.ID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "substitute cannot be the requester")
		}
		substitute, err := s.directory.FindByID(ctx, substituteID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "named substitute does not exist")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve substitute")
		}
		request.SubstituteID = &substitute.ID
		request.SubstituteName = &substitute.FullName
		request.SubstituteStatus = models.StagePending
	}

	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	if s.metrics != nil {
		s.metrics.RecordRequestSubmitted(request.Category)
	}
	s.emitAudit(ctx, actor, request)
	return request, nil
}

// applyCategoryRules enforces the payload constraints that depend on the
// service category and derives the day count for date-ranged requests.
func (s *RequestService) applyCategoryRules(request *models.Request, requester *models.User) error {
	switch request.Category {
	case models.CategoryLeave, models.CategoryTravel, models.CategoryPermission:
		if request.StartDate == nil || request.EndDate == nil {
			return appErrors.Clone(appErrors.ErrValidation, "start_date and end_date are required")
		}
		if request.EndDate.Before(*request.StartDate) {
			return appErrors.Clone(appErrors.ErrValidation, "end_date must not precede start_date")
		}
		days := int(request.EndDate.Sub(*request.StartDate).Hours()/24) + 1
		request.Days = &days
		if request.Category == models.CategoryLeave {
			s.warnOnLowBalance(requester, request, days)
		}
	case models.CategoryLoan, models.CategoryPurchase:
		if request.Amount == nil || *request.Amount <= 0 {
			return appErrors.Clone(appErrors.ErrValidation, "amount must be positive")
		}
	}
	return nil
}

// warnOnLowBalance flags leave submissions exceeding the recorded balance.
// Balance accounting itself is out of scope; the request is not rejected.
func (s *RequestService) warnOnLowBalance(requester *models.User, request *models.Request, days int) {
	if len(requester.LeaveBalances) == 0 || request.SubType == nil {
		return
	}
	var balances map[string]float64
	if err := json.Unmarshal(requester.LeaveBalances, &balances); err != nil {
		return
	}
	balance, ok := balances[*request.SubType]
	if ok && float64(days) > balance {
		s.logger.Warn("leave request exceeds recorded balance",
			zap.String("requester_id", requester.ID),
			zap.String("leave_type", *request.SubType),
			zap.Int("days", days),
			zap.Float64("balance", balance),
		)
	}
}

// Get returns a request the actor is allowed to see.
func (s *RequestService) Get(ctx context.Context, id string, actor models.Actor) (*models.Request, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if !s.visible(request, actor) {
		return nil, appErrors.ErrForbidden
	}
	return request, nil
}

// List returns requests scoped to the actor's role: employees see their own,
// substitutes see requests naming them, managerial roles see their
// department, HR sees everything.
func (s *RequestService) List(ctx context.Context, query dto.RequestQuery, actor models.Actor) ([]models.Request, error) {
	filter := models.RequestFilter{
		Category:    query.Category,
		FinalStatus: query.FinalStatus,
		Limit:       query.Limit,
		Offset:      query.Offset,
	}
	scoped := filter
	switch {
	case actor.Role == models.RoleHR:
		// unrestricted
	case actor.Role.ManagerialRole():
		scoped.Department = actor.Department
	default:
		scoped.RequesterID = actor.ID
	}
	requests, err := s.repo.List(ctx, scoped)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	if actor.Role == models.RoleHR {
		return requests, nil
	}

	// A named substitute sees requests naming them even outside their own
	// scope; a second scan picks those up.
	asSubstitute := filter
	asSubstitute.SubstituteID = actor.ID
	naming, err := s.repo.List(ctx, asSubstitute)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list substitute requests")
	}
	return mergeRequests(requests, naming), nil
}

// mergeRequests combines two scans, dropping duplicates and restoring the
// store's created_at ordering.
func mergeRequests(a, b []models.Request) []models.Request {
	seen := make(map[string]struct{}, len(a))
	for _, request := range a {
		seen[request.ID] = struct{}{}
	}
	merged := a
	for _, request := range b {
		if _, dup := seen[request.ID]; dup {
			continue
		}
		merged = append(merged, request)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}

func (s *RequestService) visible(request *models.Request, actor models.Actor) bool {
	switch {
	case request.RequesterID == actor.ID:
		return true
	case request.SubstituteID != nil && *request.SubstituteID == actor.ID:
		return true
	case actor.Role == models.RoleHR:
		return true
	case actor.Role.ManagerialRole() && actor.Department == request.Department:
		return true
	}
	return false
}

func (s *RequestService) emitAudit(ctx context.Context, actor models.Actor, request *models.Request) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"category": request.Category,
		"sub_type": request.SubType,
		"days":     request.Days,
		"amount":   request.Amount,
	})
	log := &models.AuditLog{
		UserID:     &actor.ID,
		ActorName:  actor.FullName,
		Action:     models.AuditActionRequestCreate,
		Resource:   "request",
		ResourceID: &request.ID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "request-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
