package ingestion

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/medcontent/backend/pkg/logger"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	htmlTagRe    = regexp.MustCompile(`(?i)<\s*(html|body|p|div|h[1-6]|ul|ol|li|br|span|article|section)[\s>/]`)

	mdHeaderRe     = regexp.MustCompile(`#+\s`)
	mdBoldStarRe   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	mdBoldUnderRe  = regexp.MustCompile(`__(.*?)__`)
	mdItalStarRe   = regexp.MustCompile(`\*(.*?)\*`)
	mdItalUnderRe  = regexp.MustCompile(`_(.*?)_`)
	mdCodeRe       = regexp.MustCompile("`{1,3}(.*?)`{1,3}")
	mdImageRe      = regexp.MustCompile(`!\[(.*?)\]\(.*?\)`)
	mdLinkRe       = regexp.MustCompile(`\[(.*?)\]\(.*?\)`)
	mdRuleRe       = regexp.MustCompile(`-{3,}`)
	mdCheckboxRe   = regexp.MustCompile(`-\s\[[ x]\]\s`)
	mdQuoteRe      = regexp.MustCompile(`(?m)^\s*>\s`)
	mdListMarkerRe = regexp.MustCompile(`(?m)^\s*[-*+]\s`)
)

func looksLikeHTML(content string) bool {
	return htmlTagRe.MatchString(content)
}

// cleanHTML returns the visible body text with page chrome removed.
func cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// stripMarkdown removes common markdown syntax and flattens the text onto one line.
func stripMarkdown(md string) string {
	text := mdHeaderRe.ReplaceAllString(md, "")
	text = mdBoldStarRe.ReplaceAllString(text, "$1")
	text = mdBoldUnderRe.ReplaceAllString(text, "$1")
	text = mdItalStarRe.ReplaceAllString(text, "$1")
	text = mdItalUnderRe.ReplaceAllString(text, "$1")
	text = mdCodeRe.ReplaceAllString(text, "$1")
	text = mdImageRe.ReplaceAllString(text, "$1")
	text = mdLinkRe.ReplaceAllString(text, "$1")
	text = mdRuleRe.ReplaceAllString(text, "")
	text = mdCheckboxRe.ReplaceAllString(text, "")
	text = mdQuoteRe.ReplaceAllString(text, "")
	text = mdListMarkerRe.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// Excerpt shortens markdown content to maxLen characters of plain text.
func Excerpt(markdown string, maxLen int) string {
	text := stripMarkdown(markdown)
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	return strings.TrimSpace(string([]rune(text)[:maxLen])) + "..."
}

func sentences(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		logger.Warn("Sentence segmentation failed, using whole text", zap.Error(err))
		return []string{text}
	}

	out := make([]string, 0, len(doc.Sentences()))
	for _, s := range doc.Sentences() {
		if t := strings.TrimSpace(s.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// chunkSentences packs sentences into chunks of at most size characters. Each chunk after the
// first repeats the previous chunk's last sentence when it fits. Sentences longer than size are
// split on word boundaries.
func chunkSentences(parts []string, size int) []string {
	var chunks []string
	var current []string
	curLen := 0

	for _, s := range splitLong(parts, size) {
		sLen := utf8.RuneCountInString(s)
		add := sLen
		if len(current) > 0 {
			add++
		}

		if curLen+add > size && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))

			last := current[len(current)-1]
			lastLen := utf8.RuneCountInString(last)
			current, curLen = nil, 0
			if lastLen+1+sLen <= size {
				current, curLen = []string{last}, lastLen
			}

			add = sLen
			if len(current) > 0 {
				add++
			}
		}

		current = append(current, s)
		curLen += add
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

func splitLong(parts []string, size int) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if utf8.RuneCountInString(p) <= size {
			out = append(out, p)
			continue
		}

		var b strings.Builder
		n := 0
		for _, w := range strings.Fields(p) {
			wLen := utf8.RuneCountInString(w)
			if n > 0 && n+1+wLen > size {
				out = append(out, b.String())
				b.Reset()
				n = 0
			}
			if n > 0 {
				b.WriteByte(' ')
				n++
			}
			b.WriteString(w)
			n += wLen
		}
		if n > 0 {
			out = append(out, b.String())
		}
	}
	return out
}
