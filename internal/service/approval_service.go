package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ess-portal-api/internal/models"
	"github.com/noah-isme/ess-portal-api/internal/repository"
	"github.com/noah-isme/ess-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/ess-portal-api/pkg/errors"
)

type approvalRequestStore interface {
	GetByID(ctx context.Context, id string) (*models.Request, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error)
	ApplyStageDecision(ctx context.Context, params repository.StageDecisionParams) error
}

// DispositionNotifier receives terminal-disposition events. Implementations
// must not block the caller; delivery is fire-and-forget from the engine's
// point of view.
type DispositionNotifier interface {
	NotifyDisposition(ctx context.Context, event models.DispositionEvent)
}

// DispositionNotifierFunc allows using plain functions as notifiers.
type DispositionNotifierFunc func(ctx context.Context, event models.DispositionEvent)

// NotifyDisposition implements DispositionNotifier.
func (f DispositionNotifierFunc) NotifyDisposition(ctx context.Context, event models.DispositionEvent) {
	f(ctx, event)
}

// ApprovalService is the approval engine: the sole mutator of stage state and
// the read side answering each actor's pending work queue. Eligibility and
// ordering rules live in the workflow package; this service enforces them
// against stored state.
type ApprovalService struct {
	repo     approvalRequestStore
	audit    auditLogger
	notifier DispositionNotifier
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
}

// ApprovalServiceOption configures the service.
type ApprovalServiceOption func(*ApprovalService)

// WithDispositionNotifier sets the notifier invoked on terminal transitions.
func WithDispositionNotifier(notifier DispositionNotifier) ApprovalServiceOption {
	return func(s *ApprovalService) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// WithTaskCache enables per-actor caching of pending-task payloads.
func WithTaskCache(cache *CacheService) ApprovalServiceOption {
	return func(s *ApprovalService) {
		s.cache = cache
	}
}

// WithApprovalMetrics wires decision counters.
func WithApprovalMetrics(metrics *MetricsService) ApprovalServiceOption {
	return func(s *ApprovalService) {
		s.metrics = metrics
	}
}

// NewApprovalService constructs the service.
func NewApprovalService(repo approvalRequestStore, audit auditLogger, logger *zap.Logger, opts ...ApprovalServiceOption) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ApprovalService{repo: repo, audit: audit, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Decide applies an actor's verdict to a stage of the request. Preconditions
// are checked in a fixed order so every failure maps onto exactly one error:
// NOT_FOUND, TERMINAL_STATE, ALREADY_DECIDED, OUT_OF_ORDER, FORBIDDEN, then
// CONCURRENT_MODIFICATION if the conditional write loses a race. On success
// the stage outcome and the recomputed final disposition land in one atomic
// write and the updated request is returned.
func (s *ApprovalService) Decide(ctx context.Context, requestID string, stage models.Stage, decision models.Decision, actor models.Actor, note string) (*models.Request, error) {
	if !decision.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "decision must be APPROVED or REJECTED")
	}
	switch stage {
	case models.StageSubstitute, models.StageManager, models.StageHR:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown approval stage")
	}

	request, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}

	if request.FinalStatus.Terminal() {
		return nil, appErrors.ErrTerminalState
	}
	// A stage decided once stays decided; even a repeat of the same verdict is
	// refused so each stage keeps a single immutable audit trail.
	if request.StatusOf(stage) != models.StagePending {
		return nil, appErrors.ErrAlreadyDecided
	}
	applicable, ok := workflow.ApplicableStage(request)
	if !ok || applicable != stage {
		return nil, appErrors.ErrOutOfOrder
	}
	if !workflow.MayAct(actor, request, stage) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor is not authorized for this stage")
	}

	now := time.Now().UTC()
	nextFinal := workflow.NextFinalStatus(request, stage, decision)
	params := repository.StageDecisionParams{
		RequestID:   request.ID,
		Stage:       stage,
		Status:      decision.StageStatus(),
		FinalStatus: nextFinal,
		ActorName:   actor.FullName,
		Note:        optionalString(note),
		ActedAt:     now,
	}
	if err := s.repo.ApplyStageDecision(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Another decision interleaved between our read and write.
			return nil, appErrors.ErrConcurrentMod
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist decision")
	}

	s.applyDecisionLocally(request, params)
	s.recordDecision(ctx, request, stage, decision, actor, params.Note)
	s.invalidateTaskQueues(ctx)

	if request.FinalStatus.Terminal() && s.notifier != nil {
		s.notifier.NotifyDisposition(ctx, models.DispositionEvent{
			RequestID:   request.ID,
			FinalStatus: request.FinalStatus,
			RequesterID: request.RequesterID,
			OccurredAt:  now,
		})
	}
	return request, nil
}

// PendingTasks answers which requests currently require action from the
// actor. It is a pure projection over stored state plus the stage policy:
// nothing is mutated and an empty queue is a valid steady state. The bool
// reports whether the answer came from cache.
func (s *ApprovalService) PendingTasks(ctx context.Context, actor models.Actor) ([]models.PendingTask, bool, error) {
	cacheKey := "tasks:" + actor.ID
	if s.cache.Enabled() {
		var cached []models.PendingTask
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return cached, true, nil
		}
	}

	candidates, err := s.collectCandidates(ctx, actor)
	if err != nil {
		return nil, false, err
	}

	tasks := make([]models.PendingTask, 0, len(candidates))
	for i := range candidates {
		request := candidates[i]
		stage, ok := workflow.ApplicableStage(&request)
		if !ok {
			continue
		}
		if !workflow.MayAct(actor, &request, stage) {
			continue
		}
		tasks = append(tasks, models.PendingTask{Request: request, Stage: stage})
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Request.CreatedAt.Equal(tasks[j].Request.CreatedAt) {
			return tasks[i].Request.ID < tasks[j].Request.ID
		}
		return tasks[i].Request.CreatedAt.Before(tasks[j].Request.CreatedAt)
	})

	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, cacheKey, tasks, 0)
	}
	return tasks, false, nil
}

// collectCandidates narrows the scan to requests the actor could plausibly
// act on before the policy filters them: requests naming the actor as
// substitute, the actor's department for managerial roles, and everything
// still under review for HR.
func (s *ApprovalService) collectCandidates(ctx context.Context, actor models.Actor) ([]models.Request, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveDBQuery("pending_task_scan", time.Since(start))
		}
	}()

	underReview := []models.FinalStatus{models.FinalUnderReview}
	seen := make(map[string]struct{})
	var candidates []models.Request

	appendAll := func(requests []models.Request) {
		for _, request := range requests {
			if _, dup := seen[request.ID]; dup {
				continue
			}
			seen[request.ID] = struct{}{}
			candidates = append(candidates, request)
		}
	}

	asSubstitute, err := s.repo.List(ctx, models.RequestFilter{SubstituteID: actor.ID, FinalStatus: underReview, Limit: 200})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list substitute tasks")
	}
	appendAll(asSubstitute)

	if actor.Role.ManagerialRole() {
		departmental, err := s.repo.List(ctx, models.RequestFilter{Department: actor.Department, FinalStatus: underReview, Limit: 200})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list department tasks")
		}
		appendAll(departmental)
	}

	if actor.Role == models.RoleHR {
		all, err := s.repo.List(ctx, models.RequestFilter{FinalStatus: underReview, Limit: 200})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list hr tasks")
		}
		appendAll(all)
	}

	return candidates, nil
}

func (s *ApprovalService) applyDecisionLocally(request *models.Request, params repository.StageDecisionParams) {
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
}

func (s *ApprovalService) recordDecision(ctx context.Context, request *models.Request, stage models.Stage, decision models.Decision, actor models.Actor, note *string) {
	if s.metrics != nil {
		s.metrics.RecordApprovalDecision(stage, decision)
	}
	if s.audit == nil {
		return
	}
	action := models.AuditActionStageApprove
	if decision == models.DecisionRejected {
		action = models.AuditActionStageReject
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"stage":        stage,
		"decision":     decision,
		"final_status": request.FinalStatus,
	})
	log := &models.AuditLog{
		UserID:     &actor.ID,
		ActorName:  actor.FullName,
		Action:     action,
		Resource:   "request",
		ResourceID: &request.ID,
		Note:       note,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "approval-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

// invalidateTaskQueues drops all cached task queues; a single decision can
// change the queue of several actors at once.
func (s *ApprovalService) invalidateTaskQueues(ctx context.Context) {
	if !s.cache.Enabled() {
		return
	}
	if err := s.cache.Invalidate(ctx, "tasks:*"); err != nil {
		s.logger.Warn("failed to invalidate task queues", zap.Error(err))
	}
}
