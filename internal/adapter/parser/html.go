package parser

import (
	"html"
	"regexp"
	"strings"
)

var (
	dropElements = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`),
		regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`),
		regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`),
		regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`),
		regexp.MustCompile(`(?s)<!--.*?-->`),
	}
	headingTag    = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]\s*>`)
	cellClose     = regexp.MustCompile(`(?i)</t[dh]\s*>`)
	listItemOpen  = regexp.MustCompile(`(?i)<li[^>]*>`)
	lineBreaks    = regexp.MustCompile(`(?i)<br\s*/?>|</(li|tr)\s*>`)
	blockBoundary = regexp.MustCompile(`(?i)</?(p|div|table|ul|ol|blockquote|pre|section|article|header|footer|main|hr)[^>]*>`)
	allTags       = regexp.MustCompile(`<[^>]+>`)
	interTagBreak = regexp.MustCompile(`>\s*\n\s*<`)
)

// htmlToText rewrites HTML into the plain-text conventions layoutText
// understands: "#" heading lines, pipe-separated table rows and blank
// lines between blocks.
func htmlToText(content string) string {
	for _, re := range dropElements {
		content = re.ReplaceAllString(content, "")
	}
	content = interTagBreak.ReplaceAllString(content, "> <")

	content = headingTag.ReplaceAllStringFunc(content, func(m string) string {
		sub := headingTag.FindStringSubmatch(m)
		title := strings.Join(strings.Fields(html.UnescapeString(allTags.ReplaceAllString(sub[2], " "))), " ")
		return "\n\n" + strings.Repeat("#", int(sub[1][0]-'0')) + " " + title + "\n\n"
	})

	content = cellClose.ReplaceAllString(content, " | ")
	content = listItemOpen.ReplaceAllString(content, "- ")
	content = lineBreaks.ReplaceAllString(content, "\n")
	content = blockBoundary.ReplaceAllString(content, "\n\n")
	content = allTags.ReplaceAllString(content, "")
	content = html.UnescapeString(content)

	// Source indentation and wrapping inside a block are not structure.
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}
