package llms

import (
	"regexp"
	"strings"
)

var (
	// One outer fenced code block of any tag, tolerating a single-line
	// form (```json {...}```) as well as the usual multi-line form.
	fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z0-9]*\\s*(.*?)\\s*```$")

	thoughtPattern = regexp.MustCompile(`(?s)<(?:think(?:ing)?|reflection)>.*?</(?:think(?:ing)?|reflection)>`)
)

// CleanResponse strips the junk free-text models wrap JSON in: a single
// outer Markdown code fence, then any thinking/reflection regions, then
// surrounding whitespace.
func CleanResponse(content string) string {
	trimmed := strings.TrimSpace(content)
	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		trimmed = strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(thoughtPattern.ReplaceAllString(trimmed, ""))
}
