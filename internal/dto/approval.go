package dto

import "github.com/noah-isme/ess-portal-api/internal/models"

// DecisionPayload carries an actor's verdict on a stage.
type DecisionPayload struct {
	Stage    models.Stage    `json:"stage"`
	Decision models.Decision `json:"decision"`
	Note     string          `json:"note"`
}
