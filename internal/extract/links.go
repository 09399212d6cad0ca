package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FirstLink returns the first anchor whose href contains any of needles
// (case-insensitive), resolved against baseURL. Non-http(s) links are skipped.
func FirstLink(content, baseURL string, needles ...string) string {
	if content == "" || len(needles) == 0 {
		return ""
	}
	doc := NewDocument(content)
	dom := doc.DOM()
	if dom == nil {
		return ""
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		base = nil
	}

	var found string
	dom.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || !containsAny(strings.ToLower(href), needles) {
			return true
		}
		resolved := resolve(base, href)
		if resolved == "" {
			return true
		}
		found = resolved
		return false
	})
	return found
}

// SocialLink returns the first link pointing at one of hosts (or a subdomain
// of one), e.g. "facebook.com" matches "https://www.facebook.com/acme".
func SocialLink(content, baseURL string, hosts ...string) string {
	doc := NewDocument(content)
	dom := doc.DOM()
	if dom == nil || len(hosts) == 0 {
		return ""
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		base = nil
	}
	var found string
	dom.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		resolved := resolve(base, strings.TrimSpace(href))
		if resolved == "" {
			return true
		}
		u, err := url.Parse(resolved)
		if err != nil {
			return true
		}
		host := strings.ToLower(u.Hostname())
		for _, h := range hosts {
			h = strings.ToLower(h)
			if host == h || strings.HasSuffix(host, "."+h) {
				found = resolved
				return false
			}
		}
		return true
	})
	return found
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	ref.Fragment, ref.RawFragment = "", ""
	return ref.String()
}
