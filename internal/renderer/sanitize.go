package renderer

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	pagePolicyOnce sync.Once
	pagePolicy     *bluemonday.Policy
)

// pageSanitizer returns the policy applied to rendered pages when sanitizing
// is enabled. It keeps what the renderer itself emits (diagram blocks, their
// ids and alignment, highlighted code, heading anchors and embedded images)
// and drops raw HTML scripts, handlers and styles written by page authors.
// Page scripts are built separately and never pass through it.
//
// id is allowed by UGCPolicy itself; a second allowance duplicates it.
func pageSanitizer() *bluemonday.Policy {
	pagePolicyOnce.Do(func() {
		policy := bluemonday.UGCPolicy()
		policy.RequireNoFollowOnLinks(false)
		policy.AllowStyling()
		policy.AllowElements("figure", "figcaption")
		policy.AllowAttrs("align").OnElements("p", "div")
		policy.AllowAttrs("target").Matching(bluemonday.SpaceSeparatedTokens).OnElements("a")
		policy.AllowDataURIImages()
		pagePolicy = policy
	})
	return pagePolicy
}

func sanitizeHTML(html string) string {
	return pageSanitizer().Sanitize(html)
}
