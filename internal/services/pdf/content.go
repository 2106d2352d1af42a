package pdf

import (
	"fmt"
	"strings"

	"github.com/ternarybob/folio/internal/models"
)

// ebookMarkdown assembles the book body. Level-1 headings mark the sections
// that start on a new page; headings inside generated text are demoted.
func ebookMarkdown(ebook *models.Ebook) string {
	var b strings.Builder
	content := ebook.Content

	if intro := strings.TrimSpace(content.Introduction); intro != "" {
		b.WriteString("# Introduction\n\n")
		b.WriteString(demoteHeadings(intro))
		b.WriteString("\n\n")
	}

	for _, ch := range content.Chapters {
		fmt.Fprintf(&b, "# Chapter %d: %s\n\n", ch.Number, strings.TrimSpace(ch.Title))
		b.WriteString(demoteHeadings(strings.TrimSpace(ch.Body)))
		b.WriteString("\n\n")

		if len(ch.KeyPoints) > 0 {
			b.WriteString("### Key takeaways\n\n")
			for _, p := range ch.KeyPoints {
				fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(p))
			}
			b.WriteString("\n")
		}
	}

	if conclusion := strings.TrimSpace(content.Conclusion); conclusion != "" {
		b.WriteString("# Conclusion\n\n")
		b.WriteString(demoteHeadings(conclusion))
		b.WriteString("\n")
	}

	return b.String()
}

// demoteHeadings pushes ATX headings down one level, leaving fenced code alone
func demoteHeadings(markdown string) string {
	lines := strings.Split(markdown, "\n")
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence || !strings.HasPrefix(trimmed, "#") {
			continue
		}
		level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
		if level >= 6 || len(trimmed) == level || trimmed[level] != ' ' {
			continue
		}
		lines[i] = "#" + trimmed
	}
	return strings.Join(lines, "\n")
}
