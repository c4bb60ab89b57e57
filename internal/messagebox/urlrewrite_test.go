package messagebox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newRewriter() *URLRewriter {
	return NewURLRewriter([]string{"tenant.example"})
}

func TestRewriteBareURLWrapsIntoLink(t *testing.T) {
	r := newRewriter()
	got := r.Rewrite("see http://tenant.example/docs/syllabus for details")
	assert.Equal(t, "see [/docs/syllabus](/docs/syllabus) for details", got)
}

func TestRewriteKeepsUnknownHosts(t *testing.T) {
	r := newRewriter()
	body := "see http://elsewhere.example/docs for details"
	assert.Equal(t, body, r.Rewrite(body))
}

func TestRewriteTitleAndTargetPositions(t *testing.T) {
	r := newRewriter()
	got := r.Rewrite("[http://tenant.example/x](http://tenant.example/x)")
	assert.Equal(t, "[/x](/x)", got)
}

func TestRewriteSkipsInlineCodeSpan(t *testing.T) {
	r := newRewriter()
	got := r.Rewrite("`http://tenant.example/x` and http://tenant.example/y")
	assert.Equal(t, "`http://tenant.example/x` and [/y](/y)", got)
}

func TestRewriteSkipsIndentedBlock(t *testing.T) {
	r := newRewriter()
	body := "intro\n\n    code http://tenant.example/x\n    more http://tenant.example/y\n"
	assert.Equal(t, body, r.Rewrite(body))
}

func TestRewriteIndentedLineAfterProseIsNotABlock(t *testing.T) {
	r := newRewriter()
	body := "prose line\n    http://tenant.example/x"
	got := r.Rewrite(body)
	assert.Equal(t, "prose line\n    [/x](/x)", got)
}

func TestRewritePreservesQueryAndFragment(t *testing.T) {
	r := newRewriter()
	got := r.Rewrite("http://tenant.example/search?q=go#results")
	assert.Equal(t, "[/search?q=go#results](/search?q=go#results)", got)
}

func TestRewriteHostRootBecomesSlash(t *testing.T) {
	r := newRewriter()
	got := r.Rewrite("visit http://tenant.example now")
	assert.Equal(t, "visit [/](/) now", got)
}

func TestRewriteIsIdempotent(t *testing.T) {
	r := newRewriter()
	bodies := []string{
		"see http://tenant.example/docs for details",
		"[http://tenant.example/x](http://tenant.example/x)",
		"`http://tenant.example/x` and http://tenant.example/y",
		"plain text with no links",
	}
	for _, body := range bodies {
		once := r.Rewrite(body)
		assert.Equal(t, once, r.Rewrite(once), "input: %s", body)
	}
}
