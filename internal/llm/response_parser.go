package llm

import (
	"fmt"
	"strings"
)

// ExtractJSONArray locates the first balanced JSON array in text that may
// contain extra prose. LLMs routinely add explanations before or after the
// JSON despite instructions, and markdown code fences around it.
//
// Bracket balance is tracked with string/escape awareness rather than a blind
// json.Unmarshal of the whole response, so leading and trailing noise never
// breaks parsing. Returns ErrParse when no complete array is present.
func ExtractJSONArray(text string) (string, error) {
	// Strip common markdown code fences first.
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "[")
	if start == -1 {
		return "", fmt.Errorf("%w: no '[' found", ErrParse)
	}

	depth := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if escape {
			escape = false
			continue
		}
		if ch == '\\' {
			escape = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("%w: unbalanced brackets", ErrParse)
}
