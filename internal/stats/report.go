package stats

import (
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// Report is a point-in-time health summary
type Report struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Window      time.Duration       `json:"window"`
	Stats       types.Stats         `json:"stats"`
	Recent      []types.ErrorRecord `json:"recent"`
}

// RenderPDF writes the report as a PDF document
func (r *Report) RenderPDF(w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	// Title
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Error Monitoring Report")
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 9)
	pdf.Cell(40, 6, fmt.Sprintf("Generated %s", r.GeneratedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(12)

	// Summary
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 10, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	lines := []string{
		fmt.Sprintf("Health: %s", r.Stats.Health),
		fmt.Sprintf("Total Errors: %d", r.Stats.Total),
		fmt.Sprintf("Critical: %d", r.Stats.Critical),
		fmt.Sprintf("Moderate: %d", r.Stats.Moderate),
		fmt.Sprintf("Minor: %d", r.Stats.Minor),
		fmt.Sprintf("Fixed: %d", r.Stats.Fixed),
		fmt.Sprintf("Pending: %d", r.Stats.Pending),
	}
	for _, line := range lines {
		pdf.Cell(40, 6, line)
		pdf.Ln(6)
	}
	pdf.Ln(6)

	if len(r.Recent) > 0 {
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(40, 10, fmt.Sprintf("Recent Errors (last %s)", r.Window))
		pdf.Ln(10)

		for i, rec := range r.Recent {
			pdf.SetFont("Arial", "B", 10)
			pdf.Cell(40, 6, fmt.Sprintf("%d. [%s] %s", i+1, rec.Severity, rec.Module))
			pdf.Ln(6)

			pdf.SetFont("Arial", "", 9)
			pdf.Cell(40, 5, fmt.Sprintf("Type: %s | Status: %s | %s", rec.ErrorType, rec.Status, rec.CreatedAt.UTC().Format(time.RFC3339)))
			pdf.Ln(5)
			pdf.MultiCell(0, 4, rec.Message, "", "", false)
			if rec.FixApplied && rec.FixDescription != "" {
				pdf.MultiCell(0, 4, "Fix: "+rec.FixDescription, "", "", false)
			}
			pdf.Ln(2)

			if pdf.GetY() > 250 {
				pdf.AddPage()
			}
		}
	}

	return pdf.Output(w)
}
