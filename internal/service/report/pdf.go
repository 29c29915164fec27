package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-pdf/fpdf"

	"potholecam/internal/model"
)

// ErrNoData is returned when there are no records to report on.
var ErrNoData = errors.New("no data")

// Page geometry in points on a Letter page.
const (
	pageHeight   = 792.0
	marginLeft   = 100.0
	marginBottom = 36.0
	titleTop     = 42.0
	firstTop     = 92.0
	lineHeight   = 16.0
	imageWidth   = 400.0
	imageHeight  = 300.0
	blockGap     = 18.0

	// BlockHeight is the vertical space of one record: two text lines and the image.
	BlockHeight = 2*lineHeight + imageHeight + blockGap
)

// Placement is where a record block starts.
type Placement struct {
	Page int     // 1-based
	Top  float64 // distance from the top edge
}

// Layout places n record blocks top to bottom. The first page leaves room
// for the header; a block that would cross the bottom margin starts a new page.
func Layout(n int) []Placement {
	out := make([]Placement, 0, n)
	page, top := 1, firstTop
	for i := 0; i < n; i++ {
		if top+BlockHeight > pageHeight-marginBottom {
			page++
			top = titleTop
		}
		out = append(out, Placement{Page: page, Top: top})
		top += BlockHeight
	}
	return out
}

// Generator renders the detection log as a PDF.
type Generator struct {
	JPEGQuality int
	Now         func() time.Time
}

// NewGenerator creates a Generator encoding frames at jpegQuality.
func NewGenerator(jpegQuality int) *Generator {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 90
	}
	return &Generator{JPEGQuality: jpegQuality, Now: time.Now}
}

// Write renders records oldest first to w.
func (g *Generator) Write(w io.Writer, records []model.DetectionRecord) error {
	pdf, err := g.build(records)
	if err != nil {
		return err
	}
	return pdf.Output(w)
}

// WriteFile renders records to path. No file is created for an empty log.
func (g *Generator) WriteFile(path string, records []model.DetectionRecord) error {
	var buf bytes.Buffer
	if err := g.Write(&buf, records); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func (g *Generator) build(records []model.DetectionRecord) (*fpdf.Fpdf, error) {
	if len(records) == 0 {
		return nil, ErrNoData
	}

	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetTitle("Pothole Detection Report", true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Text(marginLeft, titleTop, "Pothole Detection Report")
	pdf.SetFont("Helvetica", "", 12)
	pdf.Text(marginLeft, titleTop+20, "Generated on: "+g.Now().Format("2006-01-02 15:04:05"))

	page := 1
	for i, place := range Layout(len(records)) {
		if place.Page != page {
			pdf.AddPage()
			pdf.SetFont("Helvetica", "", 12)
			page = place.Page
		}
		if err := g.block(pdf, i, records[i], place.Top); err != nil {
			return nil, err
		}
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}
	return pdf, nil
}

func (g *Generator) block(pdf *fpdf.Fpdf, idx int, record model.DetectionRecord, top float64) error {
	pdf.Text(marginLeft, top, fmt.Sprintf("Detection #%d    Potholes detected: %d", idx+1, len(record.Detections)))

	second := "Time: " + record.Timestamp.Format("2006-01-02 15:04:05")
	if record.Location != nil {
		second += "    Location: " + record.Location.String()
	}
	pdf.Text(marginLeft, top+lineHeight, second)

	if record.Frame.Empty() {
		return nil
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, record.Frame.RGBA, imaging.JPEG, imaging.JPEGQuality(g.JPEGQuality)); err != nil {
		return fmt.Errorf("encoding frame %d: %w", idx+1, err)
	}

	name := fmt.Sprintf("frame-%d", idx)
	opts := fpdf.ImageOptions{ImageType: "JPG"}
	pdf.RegisterImageOptionsReader(name, opts, &buf)
	pdf.ImageOptions(name, marginLeft, top+2*lineHeight-lineHeight/2, imageWidth, imageHeight, false, opts, 0, "")
	return nil
}
