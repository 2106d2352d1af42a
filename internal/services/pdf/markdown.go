package pdf

import (
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// markdownWriter walks a goldmark AST and lays it out on an fpdf document
type markdownWriter struct {
	pdf       *fpdf.Fpdf
	source    []byte
	logger    arbor.ILogger
	tr        func(string) string
	font      string
	size      float64
	margin    float64
	bold      bool
	italic    bool
	inList    bool
	listLevel int
	// chapterBreaks starts every level-1 heading after the first on a new page
	chapterBreaks bool
	seenH1        bool
}

func (w *markdownWriter) render(node ast.Node) error {
	return ast.Walk(node, w.walk)
}

func (w *markdownWriter) updateFont() {
	style := ""
	if w.bold {
		style += "B"
	}
	if w.italic {
		style += "I"
	}
	w.pdf.SetFont(w.font, style, w.size)
}

func (w *markdownWriter) lineHeight() float64 {
	return w.size * 0.5
}

func (w *markdownWriter) contentWidth() float64 {
	pageWidth, _ := w.pdf.GetPageSize()
	return pageWidth - 2*w.margin
}

func (w *markdownWriter) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch n.Kind() {
	case ast.KindHeading:
		return w.handleHeading(n.(*ast.Heading), entering)
	case ast.KindParagraph:
		if !entering {
			w.pdf.Ln(w.lineHeight() + 2)
		}
	case ast.KindText:
		return w.handleText(n.(*ast.Text), entering)
	case ast.KindEmphasis:
		return w.handleEmphasis(n.(*ast.Emphasis), entering)
	case ast.KindCodeSpan:
		return w.handleCodeSpan(n.(*ast.CodeSpan), entering)
	case ast.KindFencedCodeBlock, ast.KindCodeBlock:
		if entering {
			w.renderCodeBlock(n.Lines())
			return ast.WalkSkipChildren, nil
		}
	case ast.KindList:
		return w.handleList(entering)
	case ast.KindListItem:
		return w.handleListItem(entering)
	case ast.KindThematicBreak:
		if entering {
			y := w.pdf.GetY() + 2
			pageWidth, _ := w.pdf.GetPageSize()
			w.pdf.Line(w.margin, y, pageWidth-w.margin, y)
			w.pdf.Ln(4)
		}
	case extast.KindTable:
		return w.handleTable(n.(*extast.Table), entering)
	}
	return ast.WalkContinue, nil
}

func (w *markdownWriter) handleHeading(n *ast.Heading, entering bool) (ast.WalkStatus, error) {
	if !entering {
		w.pdf.Ln(w.lineHeight() + 3)
		w.updateFont()
		return ast.WalkContinue, nil
	}

	if n.Level == 1 && w.chapterBreaks {
		if w.seenH1 {
			w.pdf.AddPage()
		}
		w.seenH1 = true
	} else {
		w.pdf.Ln(4)
	}

	var size float64
	switch n.Level {
	case 1:
		size = w.size + 7
	case 2:
		size = w.size + 4
	case 3:
		size = w.size + 2
	default:
		size = w.size + 1
	}
	w.pdf.SetFont(w.font, "B", size)
	return ast.WalkContinue, nil
}

func (w *markdownWriter) handleText(n *ast.Text, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	w.pdf.Write(w.lineHeight(), w.tr(string(n.Segment.Value(w.source))))
	if n.SoftLineBreak() {
		w.pdf.Write(w.lineHeight(), " ")
	}
	if n.HardLineBreak() {
		w.pdf.Ln(w.lineHeight())
	}
	return ast.WalkContinue, nil
}

func (w *markdownWriter) handleEmphasis(n *ast.Emphasis, entering bool) (ast.WalkStatus, error) {
	if n.Level == 2 {
		w.bold = entering
	} else {
		w.italic = entering
	}
	w.updateFont()
	return ast.WalkContinue, nil
}

func (w *markdownWriter) handleCodeSpan(n *ast.CodeSpan, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	w.pdf.SetFont("Courier", "", w.size)
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if textNode, ok := c.(*ast.Text); ok {
			w.pdf.Write(w.lineHeight(), w.tr(string(textNode.Segment.Value(w.source))))
		}
	}
	w.updateFont()
	return ast.WalkSkipChildren, nil
}

func (w *markdownWriter) renderCodeBlock(lines *text.Segments) {
	w.pdf.Ln(2)
	w.pdf.SetFont("Courier", "", w.size-1)
	w.pdf.SetFillColor(245, 245, 245)

	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		txt := strings.TrimRight(string(line.Value(w.source)), "\n")
		w.pdf.MultiCell(0, w.lineHeight(), w.tr(txt), "", "L", true)
	}

	w.pdf.SetFillColor(255, 255, 255)
	w.updateFont()
	w.pdf.Ln(2)
}

func (w *markdownWriter) handleList(entering bool) (ast.WalkStatus, error) {
	if entering {
		w.inList = true
		w.listLevel++
	} else {
		w.listLevel--
		if w.listLevel == 0 {
			w.inList = false
			w.pdf.Ln(2)
		}
	}
	return ast.WalkContinue, nil
}

func (w *markdownWriter) handleListItem(entering bool) (ast.WalkStatus, error) {
	if entering {
		// Start on a fresh line so bullets never overlap the previous block
		w.pdf.Ln(w.lineHeight())
		w.pdf.SetX(w.margin + float64(w.listLevel)*5.0)
		w.pdf.Write(w.lineHeight(), w.tr("• "))
	}
	return ast.WalkContinue, nil
}

func (w *markdownWriter) handleTable(n *extast.Table, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	var rows [][]string
	var findRows func(node ast.Node)
	findRows = func(node ast.Node) {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			switch c := child.(type) {
			case *extast.TableHeader:
				rows = append(rows, w.extractRow(c))
			case *extast.TableRow:
				rows = append(rows, w.extractRow(c))
			}
		}
	}
	findRows(n)

	w.renderTable(rows)
	return ast.WalkSkipChildren, nil
}

func (w *markdownWriter) extractRow(n ast.Node) []string {
	var row []string
	for cell := n.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if _, ok := cell.(*extast.TableCell); ok {
			row = append(row, w.tr(string(cell.Text(w.source))))
		}
	}
	return row
}

func (w *markdownWriter) renderTable(rows [][]string) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	w.pdf.Ln(2)

	numCols := len(rows[0])
	fontSize := w.size - 2
	lineHeight := fontSize * 0.45
	colWidths := w.columnWidths(rows, numCols, w.contentWidth(), fontSize)
	_, pageHeight := w.pdf.GetPageSize()

	for i, row := range rows {
		if i == 0 {
			w.pdf.SetFont(w.font, "B", fontSize)
		} else {
			w.pdf.SetFont(w.font, "", fontSize)
		}

		maxLines := 1
		for j, cell := range row {
			if j < numCols {
				if lines := len(w.wrap(cell, colWidths[j]-2)); lines > maxLines {
					maxLines = lines
				}
			}
		}
		if maxLines > 8 {
			maxLines = 8
		}

		rowHeight := float64(maxLines)*lineHeight + 2
		startY := w.pdf.GetY()
		startX := w.margin
		if startY+rowHeight > pageHeight-w.margin {
			w.pdf.AddPage()
			startY = w.pdf.GetY()
		}

		x := startX
		for j, cell := range row {
			if j >= numCols {
				break
			}
			if i == 0 {
				w.pdf.SetFillColor(230, 230, 230)
				w.pdf.Rect(x, startY, colWidths[j], rowHeight, "FD")
			} else {
				w.pdf.Rect(x, startY, colWidths[j], rowHeight, "D")
			}

			w.pdf.SetXY(x+1, startY+1)
			lines := w.wrap(cell, colWidths[j]-2)
			for k := 0; k < len(lines) && k < maxLines; k++ {
				w.pdf.SetX(x + 1)
				w.pdf.CellFormat(colWidths[j]-2, lineHeight, lines[k], "", 2, "L", false, 0, "")
			}
			x += colWidths[j]
		}

		w.pdf.SetXY(startX, startY+rowHeight)
	}

	w.pdf.SetFillColor(255, 255, 255)
	w.pdf.Ln(3)
	w.updateFont()
}

// columnWidths sizes columns by measured content, bounded and scaled to the page
func (w *markdownWriter) columnWidths(rows [][]string, numCols int, pageWidth, fontSize float64) []float64 {
	colWidths := make([]float64, numCols)

	for r, row := range rows {
		style := ""
		if r == 0 {
			style = "B"
		}
		w.pdf.SetFont(w.font, style, fontSize)
		for i, cell := range row {
			if i < numCols {
				if width := w.pdf.GetStringWidth(cell) + 4; width > colWidths[i] {
					colWidths[i] = width
				}
			}
		}
	}

	minWidth := 12.0
	maxWidth := pageWidth / 3.0
	total := 0.0
	for i := range colWidths {
		if colWidths[i] < minWidth {
			colWidths[i] = minWidth
		}
		if colWidths[i] > maxWidth {
			colWidths[i] = maxWidth
		}
		total += colWidths[i]
	}

	scale := pageWidth / total
	if scale > 1.5 {
		scale = 1.5
	}
	for i := range colWidths {
		colWidths[i] *= scale
	}
	return colWidths
}

// wrap breaks text into lines no wider than width using measured string widths
func (w *markdownWriter) wrap(s string, width float64) []string {
	words := strings.Fields(s)
	if len(words) == 0 || width <= 0 {
		return []string{s}
	}

	var lines []string
	current := ""
	currentWidth := 0.0
	spaceWidth := w.pdf.GetStringWidth(" ")

	for _, word := range words {
		wordWidth := w.pdf.GetStringWidth(word)
		switch {
		case current == "":
			current, currentWidth = word, wordWidth
		case currentWidth+spaceWidth+wordWidth <= width:
			current += " " + word
			currentWidth += spaceWidth + wordWidth
		default:
			lines = append(lines, current)
			current, currentWidth = word, wordWidth
		}
	}
	return append(lines, current)
}

// footer prints "Page N of M" on every page
func footer(pdf *fpdf.Fpdf, font string, margin float64) func() {
	return func() {
		pdf.SetY(-margin + 5)
		pdf.SetFont(font, "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}
}
