package messagebox

import (
	"net/url"
	"regexp"
	"strings"
)

// urlPattern matches absolute http(s) URLs. Markdown link delimiters and
// whitespace terminate a match so `[title](http://…)` splits cleanly.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"\)\]]+`)

// URLRewriter replaces absolute links to known local tenant hosts with
// root-relative equivalents, preserving markdown-link structure and leaving
// inline code spans and 4-space blocks untouched. Unknown hosts pass through.
type URLRewriter struct {
	hosts map[string]bool
}

func NewURLRewriter(hosts []string) *URLRewriter {
	m := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		m[strings.ToLower(h)] = true
	}
	return &URLRewriter{hosts: m}
}

// Rewrite applies the rewrite rules to every URL match in body. Rewriting is
// idempotent: root-relative links contain no absolute URL to match again.
func (r *URLRewriter) Rewrite(body string) string {
	matches := urlPattern.FindAllStringIndex(body, -1)
	if len(matches) == 0 {
		return body
	}

	// Right to left so earlier indices stay valid.
	for i := len(matches) - 1; i >= 0; i-- {
		start, end := matches[i][0], matches[i][1]
		raw := body[start:end]

		path, ok := r.localPath(raw)
		if !ok {
			continue
		}
		if inCodeSpan(body, start) || inCodeBlock(body, start) {
			continue
		}

		before := byte(0)
		if start > 0 {
			before = body[start-1]
		}
		after := byte(0)
		if end < len(body) {
			after = body[end]
		}

		var repl string
		switch {
		case before == '[' && after == ']':
			// Title position of a markdown link.
			repl = path
		case before == '(' && after == ')':
			// Target position of a markdown link.
			repl = path
		default:
			repl = "[" + path + "](" + path + ")"
		}
		body = body[:start] + repl + body[end:]
	}
	return body
}

// localPath resolves the root-relative equivalent of a URL when its host is a
// known local tenant host.
func (r *URLRewriter) localPath(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if !r.hosts[strings.ToLower(u.Host)] {
		return "", false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		path += "#" + u.Fragment
	}
	return path, true
}

// inCodeSpan reports whether the offset sits after an odd number of backticks
// on its line, i.e. inside an inline code span.
func inCodeSpan(body string, offset int) bool {
	lineStart := strings.LastIndexByte(body[:offset], '\n') + 1
	return strings.Count(body[lineStart:offset], "`")%2 == 1
}

// inCodeBlock reports whether the offset's line begins with at least four
// spaces and every non-blank line back to the last blank line does too.
func inCodeBlock(body string, offset int) bool {
	lineStart := strings.LastIndexByte(body[:offset], '\n') + 1
	if !indented(lineAt(body, lineStart)) {
		return false
	}

	// Walk preceding lines until a blank one.
	for pos := lineStart - 1; pos > 0; {
		prevStart := strings.LastIndexByte(body[:pos], '\n') + 1
		line := body[prevStart:pos]
		if strings.TrimSpace(line) == "" {
			break
		}
		if !indented(line) {
			return false
		}
		pos = prevStart - 1
	}
	return true
}

func lineAt(body string, lineStart int) string {
	rest := body[lineStart:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		return rest[:i]
	}
	return rest
}

func indented(line string) bool {
	return strings.HasPrefix(line, "    ")
}
