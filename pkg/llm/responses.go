package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json|JSON|javascript|js)?\\s*(.*?)```")
	openFenceRe   = regexp.MustCompile("(?s)```(?:json|JSON|javascript|js)?\\s*")
)

// ExtractJSONFromResponse extracts JSON from LLM response that may contain markdown
// code blocks or other text. Near-JSON (comments, trailing commas, single
// quotes) is repaired. It returns the original response if no JSON is found.
//
// Example:
//
//	response := "Here is the data:\n```json\n{\"key\": \"value\"}\n```"
//	jsonStr := ExtractJSONFromResponse(response)
//	fmt.Println(jsonStr) // Output: {"key": "value"}
func ExtractJSONFromResponse(text string) string {
	text = strings.TrimSpace(RemoveBlocks(text, "think"))

	if m := fencedBlockRe.FindStringSubmatch(text); len(m) > 1 {
		if out, ok := validOrRepaired(strings.TrimSpace(m[1])); ok {
			return out
		}
	}

	for _, candidate := range findJSONBlocks(text) {
		if out, ok := validOrRepaired(candidate); ok {
			return out
		}
	}

	if out, ok := validOrRepaired(text); ok {
		return out
	}

	return text
}

// ExtractPartialJSON returns the JSON prefix of a response that may still be
// streaming, completed into a parseable document. ok is false while no JSON
// value has started yet.
func ExtractPartialJSON(text string) (string, bool) {
	text = RemoveBlocks(text, "think")
	if loc := openFenceRe.FindStringIndex(text); loc != nil {
		text = text[loc[1]:]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	candidate := strings.TrimSpace(text[start:])
	if json.Valid([]byte(candidate)) {
		return candidate, true
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return "", false
	}
	return repaired, true
}

func isValidJSONStart(text string) bool {
	return strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[")
}

func validOrRepaired(candidate string) (string, bool) {
	if !isValidJSONStart(candidate) {
		return "", false
	}
	if json.Valid([]byte(candidate)) {
		return candidate, true
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil || !json.Valid([]byte(repaired)) {
		return "", false
	}
	return repaired, true
}

// findJSONBlocks returns every balanced {...} or [...] block, in order of
// their opening character
func findJSONBlocks(text string) []string {
	var results []string

	for i := 0; i < len(text); i++ {
		open := text[i]
		if open != '{' && open != '[' {
			continue
		}
		if end := matchingClose(text[i:]); end > 0 {
			results = append(results, text[i:i+end+1])
		}
	}

	return results
}

// matchingClose finds the index closing the bracket at text[0], or -1
func matchingClose(text string) int {
	open := text[0]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}

	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}

// RemoveBlocks removes all blocks of the specified tag from the input string.
// For example, RemoveBlocks(text, "think") will remove all <think>...</think> blocks.
func RemoveBlocks(text, tag string) string {
	pattern := fmt.Sprintf(`(?s)<%s>.*?</%s>`, regexp.QuoteMeta(tag), regexp.QuoteMeta(tag))
	return regexp.MustCompile(pattern).ReplaceAllString(text, "")
}

// ExtractJSONToStruct extracts JSON from a response and decodes it into out
func ExtractJSONToStruct(response string, out any) error {
	return json.Unmarshal([]byte(ExtractJSONFromResponse(response)), out)
}
