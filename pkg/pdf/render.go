// Package pdf renders a MoM as a single PDF document.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"momflow/pkg/domain"
)

const DefaultTimeout = 10 * time.Second

var ErrRenderTimeout = errors.New("pdf render timed out")

// Renderer lays out MoM documents.
type Renderer struct {
	timeout time.Duration
}

func NewRenderer(timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Renderer{timeout: timeout}
}

// Render returns the PDF bytes for m. It gives up with ErrRenderTimeout when
// the renderer timeout or ctx expires first.
func (r *Renderer) Render(ctx context.Context, m domain.Mom, project domain.Project, creator domain.User) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := layout(m, project, creator)
		done <- result{data: data, err: err}
	}()
	select {
	case res := <-done:
		return res.data, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrRenderTimeout, ctx.Err())
	}
}

// Filename is the download name of a MoM PDF.
func Filename(m domain.Mom) string {
	if m.MomNumber != nil && *m.MomNumber != "" {
		return fmt.Sprintf("mom-%s.pdf", *m.MomNumber)
	}
	return fmt.Sprintf("mom-%d.pdf", m.ID)
}

func layout(m domain.Mom, project domain.Project, creator domain.User) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(m.Title, true)
	doc.SetAuthor(displayName(creator), true)
	doc.SetCreationDate(m.CreatedAt)
	doc.SetMargins(18, 18, 18)
	doc.SetAutoPageBreak(true, 18)
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 18)
	doc.CellFormat(0, 10, tr("Minutes of Meeting"), "", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "B", 14)
	doc.MultiCell(0, 8, tr(m.Title), "", "L", false)
	doc.Ln(2)

	doc.SetFont("Helvetica", "", 10)
	number := "-"
	if m.MomNumber != nil {
		number = *m.MomNumber
	}
	completion := "-"
	if m.CompletionDate != nil {
		completion = m.CompletionDate.Format("2006-01-02")
	}
	for _, row := range [][2]string{
		{"Number", number},
		{"Project", project.Title},
		{"Status", string(m.Status)},
		{"Place", orDash(m.Place)},
		{"Completion date", completion},
		{"Prepared by", displayName(creator)},
	} {
		doc.SetFont("Helvetica", "B", 10)
		doc.CellFormat(40, 6, tr(row[0]), "", 0, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 10)
		doc.MultiCell(0, 6, tr(row[1]), "", "L", false)
	}

	section(doc, tr, "Discussion", m.Discussion)
	section(doc, tr, "Open issues", m.OpenIssues)
	section(doc, tr, "Updates", m.Updates)
	section(doc, tr, "Notes", m.Notes)

	if m.RejectionComment != "" && m.Status == domain.MomNeedsRevision {
		doc.Ln(4)
		doc.SetFont("Helvetica", "B", 12)
		doc.CellFormat(0, 8, tr("Revision requested"), "", 1, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 10)
		doc.MultiCell(0, 6, tr(m.RejectionComment), "", "L", false)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func section(doc *fpdf.Fpdf, tr func(string) string, heading string, items []domain.ChecklistItem) {
	doc.Ln(4)
	doc.SetFont("Helvetica", "B", 12)
	doc.CellFormat(0, 8, tr(heading), "B", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 10)
	if len(items) == 0 {
		doc.CellFormat(0, 6, tr("No entries"), "", 1, "L", false, 0, "")
		return
	}
	for _, item := range items {
		mark := "[ ]"
		if item.Completed {
			mark = "[x]"
		}
		doc.CellFormat(10, 6, mark, "", 0, "L", false, 0, "")
		doc.MultiCell(0, 6, tr(item.Text), "", "L", false)
	}
}

func displayName(u domain.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
