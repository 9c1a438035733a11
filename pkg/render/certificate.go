package render

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CertificateData carries everything the fixed layout needs.
type CertificateData struct {
	StudentName       string
	CourseName        string
	CompletionDate    time.Time
	Location          string
	CertificateNumber string
	InstructorName    string
	IssuerName        string
	FounderName       string
	FounderTitle      string
	QRPNG             []byte
}

// CertificateRenderer produces the completion certificate PDF.
type CertificateRenderer struct{}

// NewCertificateRenderer constructs a renderer.
func NewCertificateRenderer() *CertificateRenderer {
	return &CertificateRenderer{}
}

// Render draws the certificate onto a single landscape A4 page.
func (r *CertificateRenderer) Render(data CertificateData) ([]byte, error) {
	if data.StudentName == "" || data.CourseName == "" || data.CertificateNumber == "" {
		return nil, fmt.Errorf("certificate requires student, course and number")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()
	width, height := pdf.GetPageSize()

	pdf.SetFont("Arial", "B", 28)
	pdf.SetXY(0, 30)
	pdf.CellFormat(width, 12, "CERTIFICATE OF COMPLETION", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(width, 10, data.IssuerName, "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 14)
	pdf.CellFormat(width, 8, "This certifies that", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 22)
	pdf.CellFormat(width, 12, data.StudentName, "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 14)
	pdf.CellFormat(width, 8, "has successfully completed the course", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(width, 10, data.CourseName, "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 12)
	completion := "N/A"
	if !data.CompletionDate.IsZero() {
		completion = data.CompletionDate.Format("January 2, 2006")
	}
	pdf.CellFormat(width, 7, fmt.Sprintf("Completed on: %s", completion), "", 1, "C", false, 0, "")
	if data.Location != "" {
		pdf.CellFormat(width, 7, fmt.Sprintf("Location: %s", data.Location), "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)
	pdf.CellFormat(width, 7, fmt.Sprintf("Certificate Number: %s", data.CertificateNumber), "", 1, "C", false, 0, "")

	// Signature block.
	pdf.SetFont("Arial", "", 10)
	pdf.SetXY(30, height-45)
	pdf.CellFormat(60, 5, data.FounderName, "", 2, "L", false, 0, "")
	pdf.CellFormat(60, 5, data.FounderTitle, "", 0, "L", false, 0, "")

	pdf.SetXY(width-110, height-45)
	pdf.CellFormat(60, 5, data.InstructorName, "", 2, "L", false, 0, "")
	pdf.CellFormat(60, 5, "Course Instructor", "", 0, "L", false, 0, "")

	if len(data.QRPNG) > 0 {
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("qr-"+data.CertificateNumber, opts, bytes.NewReader(data.QRPNG))
		pdf.ImageOptions("qr-"+data.CertificateNumber, width-55, height-65, 35, 35, false, opts, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate pdf: %w", err)
	}
	return buf.Bytes(), nil
}
