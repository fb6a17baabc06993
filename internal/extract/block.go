package extract

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/leaseops/leaseverify/internal/model"
)

// Errors returned by ParseBlock. Callers translate them into a
// resilience.ParseFailure for the item.
var (
	ErrNoBlock    = eris.New("no structured block found")
	ErrUnbalanced = eris.New("structured block is unbalanced")
)

// wrapperTokens are fence markers models wrap JSON output in. They are
// stripped before scanning so a fence brace never confuses the matcher.
var wrapperTokens = []string{"```json", "```JSON", "```"}

// ParseBlock isolates the outermost balanced {...} span in raw model
// output and decodes it into an ordered FieldMap. The input may carry a
// textual preamble, trailing commentary, or markdown fences around the
// block; everything outside the span is ignored.
func ParseBlock(raw string) (*model.FieldMap, error) {
	cleaned := raw
	for _, tok := range wrapperTokens {
		cleaned = strings.ReplaceAll(cleaned, tok, "")
	}

	span, err := balancedSpan(cleaned)
	if err != nil {
		return nil, err
	}

	var fm model.FieldMap
	if err := json.Unmarshal([]byte(span), &fm); err != nil {
		return nil, eris.Wrap(err, "extract: decode structured block")
	}
	return &fm, nil
}

// balancedSpan returns the first balanced top-level {...} span in s,
// tracking JSON string literals so braces inside values do not count.
func balancedSpan(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoBlock
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}

	return "", ErrUnbalanced
}
