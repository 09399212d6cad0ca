// Package extract pulls a contact email out of page content using an ordered
// list of strategies. Everything here is pure: no I/O, deterministic output.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Name identifies the strategy that produced a match.
type Name string

// Built-in strategies in their default priority order.
const (
	Mailto Name = "mailto"
	Text   Name = "text"
)

var (
	emailPattern     = regexp.MustCompile(`[\w.%+-]+@[\w.-]+\.[A-Za-z]{2,}`)
	validEmail       = regexp.MustCompile(`^[\w.%+-]+@[\w.-]+\.[A-Za-z]{2,}$`)
	mailtoRefPattern = regexp.MustCompile(`(?i)mailto:([\w.%+-]+@[\w.-]+\.[A-Za-z]{2,})`)

	// Matches of the free-text grammar that are really asset names.
	assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}

	// Elements whose text never reaches the reader.
	hiddenElements = map[string]bool{
		"script": true, "style": true, "noscript": true, "template": true, "head": true,
	}

	// Inline elements continue the surrounding line; every other element
	// starts a new one, as innerText does.
	inlineElements = map[string]bool{
		"a": true, "abbr": true, "b": true, "bdi": true, "bdo": true, "cite": true,
		"code": true, "data": true, "dfn": true, "em": true, "font": true, "i": true,
		"kbd": true, "label": true, "mark": true, "q": true, "s": true, "samp": true,
		"small": true, "span": true, "strong": true, "sub": true, "sup": true,
		"time": true, "u": true, "var": true, "wbr": true,
	}
)

// Valid reports whether s satisfies the address grammar local@domain.tld.
func Valid(s string) bool {
	return validEmail.MatchString(s)
}

// Document is the content handed to strategies. The HTML tree is parsed at
// most once and shared by every strategy that asks for it.
type Document struct {
	Raw string

	once sync.Once
	dom  *goquery.Document
}

// NewDocument wraps raw page content.
func NewDocument(raw string) *Document {
	return &Document{Raw: raw}
}

// DOM returns the parsed tree, or nil when the content cannot be parsed.
func (d *Document) DOM() *goquery.Document {
	d.once.Do(func() {
		dom, err := goquery.NewDocumentFromReader(strings.NewReader(d.Raw))
		if err == nil {
			d.dom = dom
		}
	})
	return d.dom
}

// Strategy is one extraction stage. Find returns the first address it
// recognizes and true, or "" and false.
type Strategy struct {
	Name Name
	Find func(doc *Document) (string, bool)
}

// MailtoStrategy reads addresses declared in mailto links. Anchors are
// checked first; bare "mailto:" references in scripts or attributes follow.
func MailtoStrategy() Strategy {
	return Strategy{Name: Mailto, Find: findMailto}
}

// TextStrategy scans the visible text of the document with the address
// grammar, falling back to the raw content.
func TextStrategy() Strategy {
	return Strategy{Name: Text, Find: findText}
}

// ByName resolves configured strategy names in order.
func ByName(names []string) ([]Strategy, error) {
	out := make([]Strategy, 0, len(names))
	for _, n := range names {
		switch Name(strings.ToLower(strings.TrimSpace(n))) {
		case Mailto:
			out = append(out, MailtoStrategy())
		case Text:
			out = append(out, TextStrategy())
		default:
			return nil, fmt.Errorf("unknown extraction strategy %q", n)
		}
	}
	return out, nil
}

// Extractor applies strategies in priority order; the first match wins.
type Extractor struct {
	strategies []Strategy
}

// New builds an Extractor. With no strategies it uses mailto then text.
func New(strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = []Strategy{MailtoStrategy(), TextStrategy()}
	}
	return &Extractor{strategies: append([]Strategy(nil), strategies...)}
}

// Strategies returns the configured order.
func (e *Extractor) Strategies() []Name {
	names := make([]Name, 0, len(e.strategies))
	for _, s := range e.strategies {
		names = append(names, s.Name)
	}
	return names
}

// Extract returns the first address found and the strategy that found it.
// No match is not an error: it returns "" and an empty name.
func (e *Extractor) Extract(content string) (string, Name) {
	if strings.TrimSpace(content) == "" {
		return "", ""
	}
	doc := NewDocument(content)
	for _, s := range e.strategies {
		if email, ok := s.Find(doc); ok {
			return email, s.Name
		}
	}
	return "", ""
}

func findMailto(doc *Document) (string, bool) {
	if dom := doc.DOM(); dom != nil {
		var found string
		dom.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href, _ := sel.Attr("href")
			if email := mailtoAddress(href); email != "" {
				found = email
				return false
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}
	if m := mailtoRefPattern.FindStringSubmatch(doc.Raw); m != nil {
		return strings.ToLower(m[1]), true
	}
	return "", false
}

func mailtoAddress(href string) string {
	href = strings.TrimSpace(href)
	if len(href) < len("mailto:") || !strings.EqualFold(href[:len("mailto:")], "mailto:") {
		return ""
	}
	addr := href[len("mailto:"):]
	addr, _, _ = strings.Cut(addr, "?")
	// Multiple recipients are comma separated; keep the first.
	addr, _, _ = strings.Cut(addr, ",")
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !Valid(addr) {
		return ""
	}
	return addr
}

func findText(doc *Document) (string, bool) {
	if dom := doc.DOM(); dom != nil {
		if email := firstAddress(VisibleText(dom.Find("body"))); email != "" {
			return email, true
		}
	}
	if email := firstAddress(doc.Raw); email != "" {
		return email, true
	}
	return "", false
}

func firstAddress(text string) string {
	for _, m := range emailPattern.FindAllString(text, -1) {
		if isAsset(m) {
			continue
		}
		return m
	}
	return ""
}

func isAsset(match string) bool {
	lower := strings.ToLower(match)
	for _, suffix := range assetSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// VisibleText renders the text of sel roughly the way a browser's innerText
// does: hidden elements are dropped and block boundaries become newlines, so
// text in adjacent cells or list items never runs together.
func VisibleText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			name := goquery.NodeName(c)
			switch {
			case name == "#text":
				b.WriteString(c.Text())
			case name == "br":
				b.WriteByte('\n')
			case hiddenElements[name]:
			case inlineElements[name]:
				walk(c)
			case strings.HasPrefix(name, "#"):
				// comments and doctype
			default:
				b.WriteByte('\n')
				walk(c)
				b.WriteByte('\n')
			}
		})
	}
	walk(sel)
	return b.String()
}
