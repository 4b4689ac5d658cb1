package extract

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/scholar/internal/models"
)

// teiNode is a namespace-agnostic TEI element. Mixed content keeps document order:
// text runs are child nodes with an empty name.
type teiNode struct {
	name     string
	attrs    map[string]string
	children []*teiNode
	text     string
}

func parseTEITree(r io.Reader) (*teiNode, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	root := &teiNode{}
	stack := []*teiNode{root}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse TEI: %w", err)
		}
		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			n := &teiNode{name: t.Name.Local, attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				n.attrs[a.Name.Local] = a.Value
			}
			top.children = append(top.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			top.children = append(top.children, &teiNode{text: string(t)})
		}
	}
	if len(root.children) == 0 {
		return nil, fmt.Errorf("parse TEI: empty document")
	}
	return root, nil
}

// child returns the first direct child element named name.
func (n *teiNode) child(name string) *teiNode {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// path follows direct children by name.
func (n *teiNode) path(names ...string) *teiNode {
	for _, name := range names {
		n = n.child(name)
	}
	return n
}

// find returns the first descendant element named name, depth first.
func (n *teiNode) find(name string) *teiNode {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if c.name == name {
			return c
		}
		if f := c.find(name); f != nil {
			return f
		}
	}
	return nil
}

// findAll returns every descendant element named name, not descending into matches.
func (n *teiNode) findAll(name string) []*teiNode {
	if n == nil {
		return nil
	}
	var out []*teiNode
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
			continue
		}
		out = append(out, c.findAll(name)...)
	}
	return out
}

// innerText concatenates descendant text in document order. Bibliographic reference
// callouts are dropped so their bracketed numbers do not collide with answer citations.
func (n *teiNode) innerText() string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	n.writeText(&b)
	return strings.Join(strings.Fields(b.String()), " ")
}

func (n *teiNode) writeText(b *strings.Builder) {
	for _, c := range n.children {
		if c.name == "" {
			b.WriteString(c.text)
			continue
		}
		if c.name == "ref" && c.attrs["type"] == "bibr" {
			continue
		}
		c.writeText(b)
		b.WriteByte(' ')
	}
}

// page returns the page of the first coords attribute at or below n, or 0.
// GROBID coords look like "page,x,y,w,h;page,x,y,w,h".
func (n *teiNode) page() int {
	if n == nil {
		return 0
	}
	if c, ok := n.attrs["coords"]; ok {
		first, _, _ := strings.Cut(c, ",")
		if p, err := strconv.Atoi(strings.TrimSpace(first)); err == nil && p > 0 {
			return p
		}
	}
	for _, c := range n.children {
		if p := c.page(); p > 0 {
			return p
		}
	}
	return 0
}

// teiPiece is a run of text with the page it starts on (0 when unknown).
type teiPiece struct {
	text string
	page int
}

// paragraphPieces splits a paragraph into sentence pieces when GROBID segmented it,
// so that a paragraph crossing a page boundary gets a page break at the right sentence.
func paragraphPieces(p *teiNode) []teiPiece {
	sentences := p.findAll("s")
	if len(sentences) == 0 {
		if t := p.innerText(); t != "" {
			return []teiPiece{{text: t, page: p.page()}}
		}
		return nil
	}
	pieces := make([]teiPiece, 0, len(sentences))
	for _, s := range sentences {
		if t := s.innerText(); t != "" {
			pieces = append(pieces, teiPiece{text: t, page: s.page()})
		}
	}
	return pieces
}

// teiSection assembles paragraphs into a models.Section with page breaks.
type teiSection struct {
	section  models.Section
	text     strings.Builder
	runes    int
	lastPage int
}

func (s *teiSection) addParagraph(pieces []teiPiece, fallbackPage int) int {
	for i, piece := range pieces {
		page := piece.page
		if page == 0 {
			page = max(s.lastPage, fallbackPage)
		}
		sep := " "
		if i == 0 {
			sep = "\n\n"
		}
		if s.runes == 0 {
			s.section.Page = page
		} else {
			s.text.WriteString(sep)
			s.runes += utf8.RuneCountInString(sep)
			if page != s.lastPage {
				s.section.PageBreaks = append(s.section.PageBreaks, models.PageBreak{Offset: s.runes, Page: page})
			}
		}
		s.lastPage = page
		s.text.WriteString(piece.text)
		s.runes += utf8.RuneCountInString(piece.text)
	}
	if s.lastPage == 0 {
		return fallbackPage
	}
	return s.lastPage
}

func (s *teiSection) finish() (models.Section, bool) {
	s.section.Text = s.text.String()
	return s.section, s.runes > 0
}

// ParseTEI converts GROBID TEI XML into a Document. The abstract becomes the first
// section; body divisions follow in document order.
func ParseTEI(r io.Reader) (*models.Document, error) {
	root, err := parseTEITree(r)
	if err != nil {
		return nil, err
	}
	tei := root.find("TEI")
	if tei == nil {
		tei = root
	}
	header := tei.child("teiHeader")
	fileDesc := header.child("fileDesc")

	doc := &models.Document{
		Title:   fileDesc.path("titleStmt", "title").innerText(),
		Authors: teiAuthors(fileDesc.child("sourceDesc")),
		Year:    teiYear(fileDesc),
	}

	page := 1
	var sections []models.Section
	if abstract := header.path("profileDesc", "abstract"); abstract != nil {
		ts := &teiSection{section: models.Section{Name: "Abstract"}}
		for _, p := range abstract.findAll("p") {
			page = ts.addParagraph(paragraphPieces(p), page)
		}
		if s, ok := ts.finish(); ok {
			doc.Abstract = s.Text
			sections = append(sections, s)
		}
	}

	body := tei.path("text", "body")
	divs := body.findAll("div")
	for _, div := range divs {
		name := "Body"
		if head := div.child("head"); head != nil {
			if t := head.innerText(); t != "" {
				name = t
			}
			if hp := head.page(); hp > 0 {
				page = hp
			}
		}
		ts := &teiSection{section: models.Section{Name: name}}
		for _, p := range div.findAll("p") {
			page = ts.addParagraph(paragraphPieces(p), page)
		}
		if s, ok := ts.finish(); ok {
			sections = append(sections, s)
		}
	}
	if len(divs) == 0 && body != nil {
		ts := &teiSection{section: models.Section{Name: "Body"}}
		for _, p := range body.findAll("p") {
			page = ts.addParagraph(paragraphPieces(p), page)
		}
		if s, ok := ts.finish(); ok {
			sections = append(sections, s)
		}
	}
	for i := range sections {
		sections[i].OrderIndex = i
	}
	doc.Sections = sections

	if back := tei.path("text", "back"); back != nil {
		for _, bs := range back.findAll("biblStruct") {
			if t := bs.find("title").innerText(); t != "" {
				doc.References = append(doc.References, t)
			}
		}
	}
	return doc, nil
}

func teiAuthors(sourceDesc *teiNode) []string {
	var authors []string
	for _, a := range sourceDesc.findAll("author") {
		pn := a.child("persName")
		if pn == nil {
			continue
		}
		var parts []string
		for _, c := range pn.children {
			if c.name == "forename" || c.name == "surname" {
				if t := c.innerText(); t != "" {
					parts = append(parts, t)
				}
			}
		}
		if len(parts) > 0 {
			authors = append(authors, strings.Join(parts, " "))
		}
	}
	return authors
}

func teiYear(fileDesc *teiNode) int {
	candidates := []*teiNode{fileDesc.path("publicationStmt", "date")}
	for _, d := range fileDesc.child("sourceDesc").findAll("date") {
		candidates = append(candidates, d)
	}
	for _, d := range candidates {
		if d == nil {
			continue
		}
		when := d.attrs["when"]
		if len(when) >= 4 {
			if y, err := strconv.Atoi(when[:4]); err == nil && y > 0 {
				return y
			}
		}
	}
	return 0
}
