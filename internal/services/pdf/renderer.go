package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

const (
	bodyFont     = "Helvetica"
	bodyFontSize = 11.0
)

var pdfcpuOnce sync.Once

// Renderer implements interfaces.DocumentRenderer with goldmark and fpdf.
// Every document is checked with pdfcpu before it is returned.
type Renderer struct {
	pageSize string
	margin   float64
	logger   arbor.ILogger
}

var _ interfaces.DocumentRenderer = (*Renderer)(nil)

// NewRenderer creates a PDF renderer
func NewRenderer(config common.PDFConfig, logger arbor.ILogger) *Renderer {
	pdfcpuOnce.Do(api.DisableConfigDir)

	pageSize := config.PageSize
	if pageSize == "" {
		pageSize = "A4"
	}
	margin := config.MarginMM
	if margin <= 0 {
		margin = 20
	}
	return &Renderer{
		pageSize: pageSize,
		margin:   margin,
		logger:   logger,
	}
}

// NewDocumentRenderer returns the configured renderer, or one that always
// reports models.ErrRendererUnavailable when PDF output is disabled
func NewDocumentRenderer(config common.PDFConfig, logger arbor.ILogger) interfaces.DocumentRenderer {
	if !config.Enabled {
		logger.Warn().Msg("PDF rendering disabled; pdf jobs will fail")
		return &DisabledRenderer{}
	}
	return NewRenderer(config, logger)
}

// Extension implements interfaces.DocumentRenderer
func (r *Renderer) Extension() string {
	return "pdf"
}

// Render lays out the ebook's title page, introduction, chapters and conclusion
func (r *Renderer) Render(ctx context.Context, ebook *models.Ebook) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ebook == nil || ebook.Content == nil {
		return nil, models.PreconditionError("ebook has no content to render")
	}

	data, err := r.convert(ebook.Title, subtitle(ebook), ebookMarkdown(ebook))
	if err != nil {
		r.logger.Error().Err(err).Str("ebook_id", ebook.ID).Msg("Failed to generate PDF")
		return nil, err
	}

	pages, err := verify(data)
	if err != nil {
		return nil, fmt.Errorf("rendered PDF failed validation: %w", err)
	}

	r.logger.Debug().
		Str("ebook_id", ebook.ID).
		Int("pdf_size", len(data)).
		Int("pages", pages).
		Msg("PDF generated successfully")
	return data, nil
}

func (r *Renderer) convert(title, sub, markdown string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", r.pageSize, "")
	pdf.SetMargins(r.margin, r.margin, r.margin)
	pdf.SetAutoPageBreak(true, r.margin)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(footer(pdf, bodyFont, r.margin))
	if title != "" {
		pdf.SetTitle(title, true)
	}

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if title != "" {
		r.titlePage(pdf, tr, title, sub)
	}
	pdf.AddPage()
	pdf.SetFont(bodyFont, "", bodyFontSize)

	md := goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
	source := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(source))

	writer := &markdownWriter{
		pdf:           pdf,
		source:        source,
		logger:        r.logger,
		tr:            tr,
		font:          bodyFont,
		size:          bodyFontSize,
		margin:        r.margin,
		chapterBreaks: true,
	}
	if err := writer.render(doc); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) titlePage(pdf *fpdf.Fpdf, tr func(string) string, title, sub string) {
	pdf.AddPage()
	_, pageHeight := pdf.GetPageSize()

	pdf.SetY(pageHeight / 3)
	pdf.SetFont(bodyFont, "B", 26)
	pdf.MultiCell(0, 12, tr(title), "", "C", false)

	if sub != "" {
		pdf.Ln(6)
		pdf.SetFont(bodyFont, "", 13)
		pdf.SetTextColor(90, 90, 90)
		pdf.MultiCell(0, 7, tr(sub), "", "C", false)
		pdf.SetTextColor(0, 0, 0)
	}
}

func subtitle(ebook *models.Ebook) string {
	var parts []string
	if ebook.Metadata.TargetAudience != "" {
		parts = append(parts, "For "+ebook.Metadata.TargetAudience)
	}
	if ebook.Metadata.Industry != "" {
		parts = append(parts, ebook.Metadata.Industry)
	}
	return strings.Join(parts, " | ")
}

// verify parses the document with pdfcpu and returns its page count
func verify(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return 0, err
	}
	return api.PageCount(bytes.NewReader(data), nil)
}

// DisabledRenderer is used when PDF output is switched off
type DisabledRenderer struct{}

var _ interfaces.DocumentRenderer = (*DisabledRenderer)(nil)

func (d *DisabledRenderer) Render(ctx context.Context, ebook *models.Ebook) ([]byte, error) {
	return nil, models.ErrRendererUnavailable
}

func (d *DisabledRenderer) Extension() string {
	return "pdf"
}
