package generator

import (
	"fmt"
	"strings"

	"github.com/ternarybob/folio/internal/models"
)

const systemPrompt = `You are an experienced business ebook author writing lead-magnet ebooks for marketing agencies.
Write clear, practical, well-structured prose for the stated audience and industry.
Always answer with a single JSON object and nothing else.`

// Approximate words per printed page
const wordsPerPage = 250

func descriptionPrompt(title, audience, industry string, chapterCount, pagesPerChapter int) string {
	return fmt.Sprintf(`Plan an ebook.

Title: %s
Target audience: %s
Industry: %s

Requirements:
- exactly %d chapters, numbered 1 to %d
- every chapter has pageCount %d
- totalPages is %d
- difficulty is one of beginner, intermediate, advanced

Return JSON with fields: targetAudience (string), objectives (array of strings), benefits (array of strings),
chapters (array of {number, title, summary, pageCount}), totalPages (integer), estimatedReadTime (string),
difficulty (string).`,
		title, orDefault(audience, "general business readers"), orDefault(industry, "general"),
		chapterCount, chapterCount, pagesPerChapter, chapterCount*pagesPerChapter)
}

func introductionPrompt(book models.BookContext) string {
	return fmt.Sprintf(`Write the introduction of this ebook.

%s

Return JSON: {"introduction": "<markdown text, about %d words>"}`, bookSummary(book), wordsPerPage*2)
}

func chapterPrompt(book models.BookContext, outline models.ChapterOutline) string {
	return fmt.Sprintf(`Write chapter %d of this ebook.

%s

Chapter to write:
Number: %d
Title: %s
Summary: %s
Length: about %d words (%d pages)

Use markdown headings (##, ###), short paragraphs and bullet lists where useful.
Return JSON: {"number": %d, "title": "<title>", "content": "<markdown body>", "wordCount": <integer>, "keyPoints": ["<3 to 5 takeaways>"]}`,
		outline.Number, bookSummary(book), outline.Number, outline.Title, outline.Summary,
		outline.PageCount*wordsPerPage, outline.PageCount, outline.Number)
}

func conclusionPrompt(book models.BookContext, keyPoints []string) string {
	var points strings.Builder
	for _, p := range keyPoints {
		points.WriteString("- ")
		points.WriteString(p)
		points.WriteString("\n")
	}

	return fmt.Sprintf(`Write the conclusion of this ebook, tying together the key points below and ending with a call to action.

%s

Key points from all chapters:
%s
Return JSON: {"conclusion": "<markdown text, about %d words>"}`, bookSummary(book), points.String(), wordsPerPage*2)
}

func bookSummary(book models.BookContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", book.Title)
	fmt.Fprintf(&b, "Target audience: %s\n", orDefault(book.TargetAudience, "general business readers"))
	fmt.Fprintf(&b, "Industry: %s\n", orDefault(book.Industry, "general"))

	if d := book.Description; d != nil {
		if len(d.Objectives) > 0 {
			fmt.Fprintf(&b, "Objectives: %s\n", strings.Join(d.Objectives, "; "))
		}
		if d.Difficulty != "" {
			fmt.Fprintf(&b, "Difficulty: %s\n", d.Difficulty)
		}
		b.WriteString("Chapters:\n")
		for _, ch := range d.Chapters {
			fmt.Fprintf(&b, "%d. %s - %s\n", ch.Number, ch.Title, ch.Summary)
		}
	}
	return b.String()
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
