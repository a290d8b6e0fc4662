package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/ess-portal-api/internal/dto"
	"github.com/noah-isme/ess-portal-api/internal/models"
	appErrors "github.com/noah-isme/ess-portal-api/pkg/errors"
	"github.com/noah-isme/ess-portal-api/pkg/export"
	"github.com/noah-isme/ess-portal-api/pkg/storage"
)

type requestReader interface {
	Get(ctx context.Context, id string, actor models.Actor) (*models.Request, error)
	List(ctx context.Context, query dto.RequestQuery, actor models.Actor) ([]models.Request, error)
}

// ExportService renders approved-request certificates and CSV extracts of
// request history. Reads go through the request service so visibility rules
// apply unchanged.
type ExportService struct {
	requests    requestReader
	certificate *export.CertificateRenderer
	csv         *export.CSVExporter
	documents   *storage.LocalStorage
	companyName string
	logger      *zap.Logger
}

// ExportServiceOption customises optional collaborators.
type ExportServiceOption func(*ExportService)

// WithDocumentStorage keeps rendered certificates on disk so repeat downloads
// skip re-rendering. Safe because an approved request never changes again.
func WithDocumentStorage(documents *storage.LocalStorage) ExportServiceOption {
	return func(s *ExportService) {
		s.documents = documents
	}
}

// NewExportService constructs the service.
func NewExportService(requests requestReader, companyName string, logger *zap.Logger, opts ...ExportServiceOption) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ExportService{
		requests:    requests,
		certificate: export.NewCertificateRenderer(),
		csv:         export.NewCSVExporter(),
		companyName: companyName,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// RenderCertificate produces the printable approval record. Only fully
// approved requests have one; stage actor names, notes and timestamps are
// immutable once decided, so the document is stable.
func (s *ExportService) RenderCertificate(ctx context.Context, requestID string, actor models.Actor) ([]byte, error) {
	request, err := s.requests.Get(ctx, requestID, actor)
	if err != nil {
		return nil, err
	}
	if request.FinalStatus != models.FinalApproved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "certificate is only available for approved requests")
	}

	documentName := "certificates/" + request.ID + ".pdf"
	if s.documents != nil {
		if cached, err := s.documents.Read(documentName); err == nil {
			return cached, nil
		}
	}

	data := export.CertificateData{
		CompanyName:   s.companyName,
		RequestID:     request.ID,
		Category:      titleCase(string(request.Category)),
		RequesterName: request.RequesterName,
		Department:    request.Department,
		Details:       request.Details,
		SubmittedAt:   request.CreatedAt,
	}
	if request.SubType != nil {
		data.SubType = *request.SubType
	}
	if request.StartDate != nil && request.EndDate != nil {
		period := fmt.Sprintf("%s to %s", request.StartDate.Format("2006-01-02"), request.EndDate.Format("2006-01-02"))
		if request.Days != nil {
			period = fmt.Sprintf("%s (%d days)", period, *request.Days)
		}
		data.Period = period
	}

	if request.SubstituteStatus != models.StageNotRequired {
		data.Stages = append(data.Stages, export.CertificateStage{
			Title:   "Substitute",
			Actor:   deref(request.SubstituteActor),
			Note:    deref(request.SubstituteNote),
			ActedAt: request.SubstituteActedAt,
		})
	}
	data.Stages = append(data.Stages,
		export.CertificateStage{
			Title:   "Manager",
			Actor:   deref(request.ManagerActor),
			Note:    deref(request.ManagerNote),
			ActedAt: request.ManagerActedAt,
		},
		export.CertificateStage{
			Title:   "HR",
			Actor:   deref(request.HRActor),
			Note:    deref(request.HRNote),
			ActedAt: request.HRActedAt,
		},
	)

	pdf, err := s.certificate.Render(data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate")
	}
	if s.documents != nil {
		if _, err := s.documents.Save(documentName, pdf); err != nil {
			s.logger.Warn("failed to store certificate", zap.String("request_id", request.ID), zap.Error(err))
		}
	}
	return pdf, nil
}

// RenderRequestsCSV exports the actor-visible request history as CSV.
func (s *ExportService) RenderRequestsCSV(ctx context.Context, query dto.RequestQuery, actor models.Actor) ([]byte, error) {
	requests, err := s.requests.List(ctx, query, actor)
	if err != nil {
		return nil, err
	}
	dataset := export.Dataset{
		Headers: []string{"id", "requester", "department", "category", "sub_type", "final_status", "created_at"},
	}
	for _, request := range requests {
		row := map[string]string{
			"id":           request.ID,
			"requester":    request.RequesterName,
			"department":   request.Department,
			"category":     string(request.Category),
			"sub_type":     deref(request.SubType),
			"final_status": string(request.FinalStatus),
			"created_at":   request.CreatedAt.Format("2006-01-02"),
		}
		dataset.Rows = append(dataset.Rows, row)
	}
	payload, err := s.csv.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
	}
	return payload, nil
}

func titleCase(raw string) string {
	raw = strings.ToLower(raw)
	if raw == "" {
		return raw
	}
	return strings.ToUpper(raw[:1]) + raw[1:]
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
