// ABOUTME: Markdown rendering for the research summary
// ABOUTME: goldmark defaults keep raw HTML in provider text out of the output

package coordinator

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

// renderHTML converts the composed markdown summary to HTML. The default
// goldmark renderer drops raw HTML in the source text rather than passing it
// through.
func renderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), nil
}
