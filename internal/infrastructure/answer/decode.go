package answer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"NewsPipeline/internal/domain"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// StripFences removes a Markdown code-fence wrapper from the answer text if
// one is present; generative providers often fence structured output.
func StripFences(text string) string {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return strings.TrimSpace(text)
}

// DecodeJSON parses the answer text into v after stripping fences. A parse
// failure wraps domain.ErrBadPayload so callers can treat it as recoverable.
func DecodeJSON(text string, v any) error {
	if err := json.Unmarshal([]byte(StripFences(text)), v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	return nil
}
