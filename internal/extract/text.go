package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Tags whose text is noise inside article content: captions, embeds, ads.
var skippedTextTags = map[string]struct{}{
	"figure":     {},
	"figcaption": {},
	"script":     {},
	"style":      {},
	"iframe":     {},
	"video":      {},
	"ins":        {},
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	// Leading source/location stamp, eg. "(Dân trí) - " or "(TPO): ".
	leadingSourceTag = regexp.MustCompile(`^\([^)]*\)\s*[-–—:]\s*`)
)

// NormalizeWhitespace collapses whitespace runs to single spaces and trims.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// StripSourceTag removes a leading parenthetical source/location stamp
// followed by a dash or colon separator from a summary.
func StripSourceTag(s string) string {
	return strings.TrimSpace(leadingSourceTag.ReplaceAllString(s, ""))
}

// JoinFragments assembles non-empty fragments into newline-separated text.
func JoinFragments(fragments []string) string {
	kept := make([]string, 0, len(fragments))
	for _, f := range fragments {
		f = strings.TrimSpace(f)
		if f != "" {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, "\n")
}

// ChildFragments returns the ordered text fragments of sel's direct
// children, including bare text nodes. Sports ledes often nest a location
// stamp tag inside the summary; walking children keeps such fragments
// separable instead of smearing them into one string.
func ChildFragments(sel *goquery.Selection) []string {
	var fragments []string
	for _, node := range sel.Nodes {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if text := nodeText(child); text != "" {
				fragments = append(fragments, text)
			}
		}
	}
	return fragments
}

// SelectionFragments returns one text fragment per matched element, in
// document order. The result is a fully materialized slice: callers can
// range over it as many times as they need.
func SelectionFragments(sel *goquery.Selection) []string {
	var fragments []string
	sel.Each(func(_ int, s *goquery.Selection) {
		for _, node := range s.Nodes {
			if text := nodeText(node); text != "" {
				fragments = append(fragments, text)
			}
		}
	})
	return fragments
}

// nodeText accumulates the text content of a node, skipping embedded
// non-prose elements, and normalizes its whitespace.
func nodeText(node *html.Node) string {
	var b strings.Builder
	collectText(node, &b)
	return NormalizeWhitespace(b.String())
}

func collectText(node *html.Node, b *strings.Builder) {
	switch node.Type {
	case html.TextNode:
		b.WriteString(node.Data)
	case html.ElementNode:
		if _, skip := skippedTextTags[strings.ToLower(node.Data)]; skip {
			return
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, b)
	}
}
