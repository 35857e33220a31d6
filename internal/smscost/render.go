// Package smscost renders SMS templates and estimates segment count and cost.
//
// The pipeline is Render → Classify → Segment → Estimate. Every stage is a
// pure function over its inputs, so callers may invoke it concurrently.
package smscost

import "strings"

// Template tokens recognised by Render.
const (
	TokenLink    = "[LINK]"
	TokenCompany = "[NAZWA_FIRMY]"
)

// RenderContext carries the values substituted into a template.
type RenderContext struct {
	LinkValue   string
	CompanyName string
}

// Render substitutes every [LINK] and [NAZWA_FIRMY] token in tmpl.
// An empty company name leaves the [NAZWA_FIRMY] token in place so an
// unconfigured account is visible in previews.
func Render(tmpl string, rc RenderContext) string {
	company := rc.CompanyName
	if company == "" {
		company = TokenCompany
	}
	r := strings.NewReplacer(
		TokenLink, rc.LinkValue,
		TokenCompany, company,
	)
	return r.Replace(tmpl)
}

// HasTokens reports whether tmpl contains any recognised token.
func HasTokens(tmpl string) bool {
	return strings.Contains(tmpl, TokenLink) || strings.Contains(tmpl, TokenCompany)
}
