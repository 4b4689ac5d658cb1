package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/scholar/internal/models"
)

// headingNames maps lower-cased heading text to the canonical section name.
var headingNames = map[string]string{
	"abstract":              "Abstract",
	"introduction":          "Introduction",
	"background":            "Background",
	"related work":          "Related Work",
	"methodology":           "Methodology",
	"methods":               "Methods",
	"method":                "Methods",
	"materials and methods": "Methods",
	"experiments":           "Experiments",
	"experimental setup":    "Experiments",
	"evaluation":            "Evaluation",
	"results":               "Results",
	"discussion":            "Discussion",
	"limitations":           "Limitations",
	"conclusion":            "Conclusion",
	"conclusions":           "Conclusion",
	"future work":           "Future Work",
	"acknowledgments":       "Acknowledgments",
	"acknowledgements":      "Acknowledgments",
	"references":            "References",
	"bibliography":          "References",
}

// numberingRe strips "1", "2.3", "IV." style numbering and Markdown hashes from a heading line.
var numberingRe = regexp.MustCompile(`^(#{1,6}\s*)?((\d+(\.\d+)*|[IVX]+)\.?\s+)?`)

// DetectHeading returns the canonical section name if line is a recognised heading.
func DetectHeading(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || utf8.RuneCountInString(line) > 48 {
		return "", false
	}
	s := numberingRe.ReplaceAllString(line, "")
	s = strings.ToLower(strings.TrimRight(strings.TrimSpace(s), ".:"))
	name, ok := headingNames[s]
	return name, ok
}

// sectionBuilder accumulates lines into sections, recording page breaks as it goes.
type sectionBuilder struct {
	sections []models.Section
	cur      *models.Section
	text     strings.Builder
	runes    int
	page     int // page of the next line
	lastPage int // page of the last line written to cur
}

func newSectionBuilder() *sectionBuilder {
	return &sectionBuilder{page: 1}
}

// start begins a new section named name.
func (b *sectionBuilder) start(name string) {
	b.flush()
	b.cur = &models.Section{Name: name, Page: b.page}
	b.lastPage = b.page
}

func (b *sectionBuilder) setPage(page int) {
	b.page = page
}

// add appends a line of text to the current section, starting an unnamed one if needed.
func (b *sectionBuilder) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if b.cur == nil {
		b.start(UnknownSection)
	}
	switch {
	case b.runes == 0:
		b.cur.Page = b.page
	default:
		b.text.WriteByte('\n')
		b.runes++
		if b.page != b.lastPage {
			b.cur.PageBreaks = append(b.cur.PageBreaks, models.PageBreak{Offset: b.runes, Page: b.page})
		}
	}
	b.lastPage = b.page
	b.text.WriteString(line)
	b.runes += utf8.RuneCountInString(line)
}

func (b *sectionBuilder) flush() {
	if b.cur != nil && b.runes > 0 {
		b.cur.Text = b.text.String()
		b.cur.OrderIndex = len(b.sections)
		b.sections = append(b.sections, *b.cur)
	}
	b.cur = nil
	b.text.Reset()
	b.runes = 0
}

func (b *sectionBuilder) done() []models.Section {
	b.flush()
	return b.sections
}

// sectionsFromPages splits page texts into sections at recognised heading lines.
// A section that runs over several pages records a page break at each page start.
func sectionsFromPages(pages []string) []models.Section {
	b := newSectionBuilder()
	for i, text := range pages {
		b.setPage(i + 1)
		for _, line := range strings.Split(text, "\n") {
			if name, ok := DetectHeading(line); ok {
				b.start(name)
				continue
			}
			b.add(line)
		}
	}
	return b.done()
}

func abstractOf(sections []models.Section) string {
	for _, s := range sections {
		if s.Name == "Abstract" {
			return s.Text
		}
	}
	return ""
}
