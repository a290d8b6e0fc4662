package models

import "time"

// ServiceCategory enumerates the request categories employees may submit.
type ServiceCategory string

const (
	CategoryLeave      ServiceCategory = "LEAVE"
	CategoryLoan       ServiceCategory = "LOAN"
	CategoryPurchase   ServiceCategory = "PURCHASE"
	CategoryTravel     ServiceCategory = "TRAVEL"
	CategoryPermission ServiceCategory = "PERMISSION"
)

// Stage identifies one of the sequential approval checkpoints.
type Stage string

const (
	StageSubstitute Stage = "SUBSTITUTE"
	StageManager    Stage = "MANAGER"
	StageHR         Stage = "HR"
)

// StageStatus captures the state of a single approval stage.
type StageStatus string

const (
	StageNotRequired StageStatus = "NOT_REQUIRED"
	StagePending     StageStatus = "PENDING"
	StageApproved    StageStatus = "APPROVED"
	StageRejected    StageStatus = "REJECTED"
)

// Decision is an actor's verdict on a single stage.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// Valid reports whether the decision is one of the two accepted verdicts.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// StageStatus maps the decision onto the resulting stage status.
func (d Decision) StageStatus() StageStatus {
	if d == DecisionRejected {
		return StageRejected
	}
	return StageApproved
}

// FinalStatus is the derived request-level disposition. It is never written
// directly by an actor; the approval engine recomputes it from the three
// stage statuses on every decision.
type FinalStatus string

const (
	FinalUnderReview FinalStatus = "UNDER_REVIEW"
	FinalApproved    FinalStatus = "APPROVED"
	FinalRejected    FinalStatus = "REJECTED"
)

// Terminal reports whether the disposition accepts no further decisions.
func (f FinalStatus) Terminal() bool {
	return f == FinalApproved || f == FinalRejected
}

// Request is the central self-service entity moving through the approval
// chain Substitute -> Manager -> HR.
type Request struct {
	ID            string          `db:"id" json:"id"`
	RequesterID   string          `db:"requester_id" json:"requester_id"`
	RequesterName string          `db:"requester_name" json:"requester_name"`
	Department    string          `db:"department" json:"department"`
	Category      ServiceCategory `db:"category" json:"category"`
	SubType       *string         `db:"sub_type" json:"sub_type,omitempty"`

	// Payload fields are opaque to the approval core.
	Details   string     `db:"details" json:"details"`
	StartDate *time.Time `db:"start_date" json:"start_date,omitempty"`
	EndDate   *time.Time `db:"end_date" json:"end_date,omitempty"`
	Days      *int       `db:"days" json:"days,omitempty"`
	Amount    *float64   `db:"amount" json:"amount,omitempty"`

	SubstituteID   *string `db:"substitute_id" json:"substitute_id,omitempty"`
	SubstituteName *string `db:"substitute_name" json:"substitute_name,omitempty"`

	SubstituteStatus  StageStatus `db:"status_substitute" json:"status_substitute"`
	SubstituteNote    *string     `db:"substitute_note" json:"substitute_note,omitempty"`
	SubstituteActor   *string     `db:"substitute_actor" json:"substitute_actor,omitempty"`
	SubstituteActedAt *time.Time  `db:"substitute_acted_at" json:"substitute_acted_at,omitempty"`

	ManagerStatus  StageStatus `db:"status_manager" json:"status_manager"`
	ManagerNote    *string     `db:"manager_note" json:"manager_note,omitempty"`
	ManagerActor   *string     `db:"manager_actor" json:"manager_actor,omitempty"`
	ManagerActedAt *time.Time  `db:"manager_acted_at" json:"manager_acted_at,omitempty"`

	HRStatus  StageStatus `db:"status_hr" json:"status_hr"`
	HRNote    *string     `db:"hr_note" json:"hr_note,omitempty"`
	HRActor   *string     `db:"hr_actor" json:"hr_actor,omitempty"`
	HRActedAt *time.Time  `db:"hr_acted_at" json:"hr_acted_at,omitempty"`

	FinalStatus FinalStatus `db:"final_status" json:"final_status"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// StatusOf returns the status of the given stage.
func (r *Request) StatusOf(stage Stage) StageStatus {
	switch stage {
	case StageSubstitute:
		return r.SubstituteStatus
	case StageManager:
		return r.ManagerStatus
	case StageHR:
		return r.HRStatus
	}
	return ""
}

// RequestFilter constrains listing queries.
type RequestFilter struct {
	RequesterID  string
	SubstituteID string
	Department   string
	Category     ServiceCategory
	FinalStatus  []FinalStatus
	Limit        int
	Offset       int
}

// PendingTask pairs a request with the stage awaiting the queried actor.
type PendingTask struct {
	Request Request `json:"request"`
	Stage   Stage   `json:"stage"`
}

// DispositionEvent is emitted when a request reaches a terminal disposition.
// Delivery format and transport are owned by external consumers.
type DispositionEvent struct {
	RequestID   string      `json:"request_id"`
	FinalStatus FinalStatus `json:"final_status"`
	RequesterID string      `json:"requester_id"`
	OccurredAt  time.Time   `json:"occurred_at"`
}
