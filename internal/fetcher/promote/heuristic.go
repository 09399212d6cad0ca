// Package promote fetches pages statically and re-renders them in a browser
// when the static body cannot hold contact details yet.
package promote

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/contact-harvester/internal/extract"
)

// DefaultMinTextChars is the visible text a static page needs before it is
// trusted without a render.
const DefaultMinTextChars = 60

// Reason explains why a body was promoted. The zero value means it was not.
type Reason string

// Promotion reasons.
const (
	ReasonNone        Reason = ""
	ReasonEmpty       Reason = "empty"
	ReasonThinText    Reason = "thin_text"
	ReasonAppShell    Reason = "app_shell"
	ReasonScriptHeavy Reason = "script_heavy"
)

// Heuristic decides whether a statically fetched page must be rendered
// before it is searched for an address.
type Heuristic struct {
	MinTextChars int
	extractor    *extract.Extractor
}

// NewHeuristic creates a detector; minText <= 0 uses DefaultMinTextChars.
func NewHeuristic(minText int) *Heuristic {
	if minText <= 0 {
		minText = DefaultMinTextChars
	}
	return &Heuristic{MinTextChars: minText, extractor: extract.New()}
}

var appShellMarkers = []string{
	`id="__next"`,
	`id="root"`,
	`id="app"`,
	"data-reactroot",
	"ng-version",
}

// ShouldPromote reports whether Decide found a reason to render body.
func (h *Heuristic) ShouldPromote(body string) bool {
	return h.Decide(body) != ReasonNone
}

// Decide returns why body needs a browser render, or ReasonNone. A page
// that already shows an address is never promoted.
func (h *Heuristic) Decide(body string) Reason {
	if strings.TrimSpace(body) == "" {
		return ReasonEmpty
	}
	if email, _ := h.extractor.Extract(body); email != "" {
		return ReasonNone
	}
	if dom, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		text := strings.Join(strings.Fields(extract.VisibleText(dom.Find("body"))), " ")
		if len(text) < h.MinTextChars {
			return ReasonThinText
		}
	}
	for _, marker := range appShellMarkers {
		if strings.Contains(body, marker) {
			return ReasonAppShell
		}
	}
	if scriptDensityHigh(body) {
		return ReasonScriptHeavy
	}
	return ReasonNone
}

func scriptDensityHigh(body string) bool {
	lower := strings.ToLower(body)
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed tag: count the rest of the document.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage > 0 && coverage*100/total >= 25
}
