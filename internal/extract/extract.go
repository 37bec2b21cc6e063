// Package extract pulls the title, description and comments out of an
// indicator page. Each field is extracted independently: a missing or broken
// field degrades to its sentinel and is reported as a warning.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
)

// Selectors locate each field in the page markup.
type Selectors struct {
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
	Comment     string `mapstructure:"comment"`
}

// DefaultSelectors matches the script page layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Title:       "h1.title",
		Description: "div.description",
		Comment:     "div.comment",
	}
}

func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	if s.Title == "" {
		s.Title = d.Title
	}
	if s.Description == "" {
		s.Description = d.Description
	}
	if s.Comment == "" {
		s.Comment = d.Comment
	}
	return s
}

// Warning describes one field that fell back to its sentinel.
type Warning struct {
	Field string
	Err   *indicator.FetchError
}

// Result is the extracted record plus per-field warnings.
type Result struct {
	Record   indicator.FetchedRecord
	Warnings []Warning
}

// Extractor applies Selectors to page bodies.
type Extractor struct {
	selectors Selectors
}

// New builds an Extractor; empty selectors use DefaultSelectors.
func New(selectors Selectors) *Extractor {
	return &Extractor{selectors: selectors.withDefaults()}
}

// Extract never fails: an unparsable body yields a record made of sentinels.
func (e *Extractor) Extract(url string, body []byte) Result {
	res := Result{Record: indicator.FetchedRecord{
		URL:         url,
		Title:       indicator.UnknownTitle,
		Description: indicator.UnknownDescription,
		Comments:    []string{},
	}}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		res.warn(url, "document", fmt.Errorf("parse html: %w", err))
		return res
	}

	if title, err := e.field(doc, e.selectors.Title); err != nil {
		res.warn(url, "title", err)
	} else {
		res.Record.Title = title
	}

	if desc, err := e.field(doc, e.selectors.Description); err != nil {
		res.warn(url, "description", err)
	} else {
		res.Record.Description = normalizeSpace(desc)
	}

	if comments, err := e.comments(doc); err != nil {
		res.warn(url, "comments", err)
	} else {
		res.Record.Comments = comments
	}
	return res
}

func (r *Result) warn(url, field string, err error) {
	r.Warnings = append(r.Warnings, Warning{
		Field: field,
		Err:   &indicator.FetchError{URL: url, Kind: indicator.FetchParse, Err: err},
	})
}

func (e *Extractor) field(doc *goquery.Document, selector string) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("select %q: %v", selector, rec)
		}
	}()
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("no element matches %q", selector)
	}
	text = strings.TrimSpace(sel.Text())
	if text == "" {
		return "", fmt.Errorf("element %q is empty", selector)
	}
	return text, nil
}

func (e *Extractor) comments(doc *goquery.Document) (out []string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("select %q: %v", e.selectors.Comment, rec)
		}
	}()
	out = []string{}
	doc.Find(e.selectors.Comment).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out, nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
