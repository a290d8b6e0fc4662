package dto

import (
	"time"

	"github.com/noah-isme/ess-portal-api/internal/models"
)

// CreateRequestPayload is the submission body for a new self-service request.
type CreateRequestPayload struct {
	Category     models.ServiceCategory `json:"category" validate:"required"`
	SubType      string                 `json:"sub_type"`
	Details      string                 `json:"details" validate:"required"`
	StartDate    *time.Time             `json:"start_date"`
	EndDate      *time.Time             `json:"end_date"`
	Amount       *float64               `json:"amount"`
	SubstituteID string                 `json:"substitute_id"`
}

// RequestQuery mirrors supported listing filters.
type RequestQuery struct {
	Category    models.ServiceCategory
	FinalStatus []models.FinalStatus
	Limit       int
	Offset      int
}
