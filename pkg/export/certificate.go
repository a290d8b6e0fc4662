package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CertificateStage describes one decided approval stage on the certificate.
type CertificateStage struct {
	Title   string
	Actor   string
	Note    string
	ActedAt *time.Time
}

// CertificateData carries everything rendered onto an approval certificate.
type CertificateData struct {
	CompanyName   string
	RequestID     string
	Category      string
	SubType       string
	RequesterName string
	Department    string
	Details       string
	Period        string
	SubmittedAt   time.Time
	Stages        []CertificateStage
}

// CertificateRenderer produces the printable record of a fully approved
// request.
type CertificateRenderer struct{}

// NewCertificateRenderer constructs a renderer.
func NewCertificateRenderer() *CertificateRenderer {
	return &CertificateRenderer{}
}

// Render builds the PDF document.
func (r *CertificateRenderer) Render(data CertificateData) ([]byte, error) {
	if data.RequestID == "" {
		return nil, fmt.Errorf("certificate requires a request id")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	if data.CompanyName != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, data.CompanyName, "", 1, "C", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 15)
	title := fmt.Sprintf("%s Request Approval", data.Category)
	pdf.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
	pdf.Line(15, pdf.GetY()+1, 195, pdf.GetY()+1)
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 10)
	fields := []struct {
		label string
		value string
	}{
		{"Request ID", data.RequestID},
		{"Employee", data.RequesterName},
		{"Department", data.Department},
		{"Type", data.SubType},
		{"Period", data.Period},
		{"Submitted", data.SubmittedAt.Format("2006-01-02")},
		{"Details", data.Details},
	}
	for _, field := range fields {
		if field.value == "" {
			continue
		}
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(40, 7, field.label, "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 7, field.value, "", "", false)
	}

	pdf.Ln(6)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Approval Chain", "", 1, "", false, 0, "")
	pdf.SetFont("Arial", "B", 9)
	widths := []float64{45, 55, 45, 35}
	headers := []string{"Stage", "Approved By", "Note", "Date"}
	for i, header := range headers {
		pdf.CellFormat(widths[i], 7, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, stage := range data.Stages {
		date := ""
		if stage.ActedAt != nil {
			date = stage.ActedAt.Format("2006-01-02 15:04")
		}
		pdf.CellFormat(widths[0], 7, stage.Title, "1", 0, "", false, 0, "")
		pdf.CellFormat(widths[1], 7, stage.Actor, "1", 0, "", false, 0, "")
		pdf.CellFormat(widths[2], 7, stage.Note, "1", 0, "", false, 0, "")
		pdf.CellFormat(widths[3], 7, date, "1", 0, "", false, 0, "")
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}
