// Package parser splits Markdown source files into frontmatter and body and
// derives the per-file metadata the extractor needs (title, wikilinks,
// chapter number, word count).
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// ErrInvalidUTF8 is returned for content that is not valid UTF-8 text.
var ErrInvalidUTF8 = errors.New("content is not valid UTF-8")

var (
	wikilinkRe   = regexp.MustCompile(`\[\[(.*?)\]\]`)
	chapterNumRe = regexp.MustCompile(`(?i)ch(?:apter)?[_-]?0*(\d+)`)
	cnChapterRe  = regexp.MustCompile(`第\s*0*(\d+)\s*章`)
)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Links       []string
	Title       string
}

// Parse extracts frontmatter, body, wikilinks and title from raw Markdown bytes.
// Invalid UTF-8 and malformed YAML frontmatter are errors.
func Parse(data []byte) (*Result, error) {
	if !utf8.Valid(data) {
		return nil, ErrInvalidUTF8
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	return &Result{
		Frontmatter: fm,
		Body:        body,
		Links:       extractLinks(body),
		Title:       deriveTitle(fm, body),
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter: a horizontal rule, not frontmatter.
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, "", fmt.Errorf("parser: frontmatter: %w", err)
	}

	return fm, body, nil
}

// extractLinks returns deduplicated wikilink targets, normalising aliases.
func extractLinks(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		raw := m[1]
		// [[Target|Alias]] → Target.
		target := raw
		if i := strings.Index(raw, "|"); i >= 0 {
			target = raw[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise the first non-empty line (truncated).
func deriveTitle(fm map[string]interface{}, body string) string {
	if s := String(fm, "title"); s != "" {
		return s
	}
	first := ""
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
		if first == "" && trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			first = trimmed
		}
	}
	if utf8.RuneCountInString(first) > 100 {
		first = string([]rune(first)[:100])
	}
	return first
}

// String returns fm[key] as a string, or "" when absent or not a scalar.
func String(fm map[string]interface{}, key string) string {
	if fm == nil {
		return ""
	}
	switch v := fm[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// ChapterNumber resolves a chapter number from frontmatter ("number" or
// "chapter"), then the file name (ch001.md, chapter-12.md), then a 第N章
// heading in the body. It returns 0 when none is found.
func ChapterNumber(p string, res *Result) int {
	if res != nil {
		for _, key := range []string{"number", "chapter"} {
			if n, err := strconv.Atoi(String(res.Frontmatter, key)); err == nil && n > 0 {
				return n
			}
		}
	}
	stem := strings.TrimSuffix(path.Base(p), path.Ext(p))
	if m := chapterNumRe.FindStringSubmatch(stem); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	if m := cnChapterRe.FindStringSubmatch(stem); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	if res != nil {
		if m := cnChapterRe.FindStringSubmatch(res.Body); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

// WordCount counts each Han ideograph as one word and each run of other
// letters or digits as one word.
func WordCount(body string) int {
	n := 0
	inWord := false
	for _, r := range body {
		switch {
		case unicode.Is(unicode.Han, r):
			n++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				n++
				inWord = true
			}
		default:
			inWord = false
		}
	}
	return n
}
