// Package workflow holds the pure decision rules of the approval chain.
// It is the single source of truth for stage ordering, actor authorization,
// and the derived final disposition; nothing in here touches storage.
package workflow

import "github.com/noah-isme/ess-portal-api/internal/models"

// StageOrder lists the approval checkpoints in the order they gate a request.
var StageOrder = []models.Stage{models.StageSubstitute, models.StageManager, models.StageHR}

// ApplicableStage returns the single stage currently awaiting a decision, or
// false when the request is terminal or no stage is actionable. The substitute
// stage is skipped when its status is NOT_REQUIRED.
func ApplicableStage(req *models.Request) (models.Stage, bool) {
	if req == nil || req.FinalStatus.Terminal() {
		return "", false
	}
	if req.SubstituteStatus == models.StagePending {
		return models.StageSubstitute, true
	}
	substituteSatisfied := req.SubstituteStatus == models.StageApproved || req.SubstituteStatus == models.StageNotRequired
	if req.ManagerStatus == models.StagePending && substituteSatisfied {
		return models.StageManager, true
	}
	if req.HRStatus == models.StagePending && req.ManagerStatus == models.StageApproved {
		return models.StageHR, true
	}
	return "", false
}

// MayAct is the authorization predicate for a stage decision.
//
//   - Substitute: the actor must be the employee the request names.
//   - Manager: the actor needs a managerial role in the requester's department.
//   - HR: the actor must hold the HR role.
func MayAct(actor models.Actor, req *models.Request, stage models.Stage) bool {
	if req == nil {
		return false
	}
	switch stage {
	case models.StageSubstitute:
		return req.SubstituteID != nil && *req.SubstituteID == actor.ID
	case models.StageManager:
		return actor.Role.ManagerialRole() && actor.Department == req.Department
	case models.StageHR:
		return actor.Role == models.RoleHR
	}
	return false
}

// RecomputeFinalStatus derives the request disposition from scratch. Any
// rejected stage rejects the request; only HR approval approves it; everything
// else stays under review.
func RecomputeFinalStatus(substitute, manager, hr models.StageStatus) models.FinalStatus {
	if substitute == models.StageRejected || manager == models.StageRejected || hr == models.StageRejected {
		return models.FinalRejected
	}
	if hr == models.StageApproved {
		return models.FinalApproved
	}
	return models.FinalUnderReview
}

// NextFinalStatus projects the disposition after applying the decision to the
// given stage, without mutating the request.
func NextFinalStatus(req *models.Request, stage models.Stage, decision models.Decision) models.FinalStatus {
	substitute, manager, hr := req.SubstituteStatus, req.ManagerStatus, req.HRStatus
	switch stage {
	case models.StageSubstitute:
		substitute = decision.StageStatus()
	case models.StageManager:
		manager = decision.StageStatus()
	case models.StageHR:
		hr = decision.StageStatus()
	}
	return RecomputeFinalStatus(substitute, manager, hr)
}
