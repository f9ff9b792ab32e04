package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```json[ \\t]*\\n?(.*?)```")

type extractionBlock struct {
	Fields map[string]json.RawMessage `json:"fields"`
}

// parseReply splits model output into the visible reply and the extraction
// block. When the model emits several blocks the last one wins. A block that
// is not a JSON object is reported as malformed.
func parseReply(text string) (reply string, fields map[string]json.RawMessage, malformed bool) {
	matches := fencedJSON.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(text), nil, false
	}

	last := matches[len(matches)-1]
	payload := strings.TrimSpace(text[last[2]:last[3]])

	var b strings.Builder
	prev := 0
	for _, m := range matches {
		b.WriteString(text[prev:m[0]])
		prev = m[1]
	}
	b.WriteString(text[prev:])
	reply = strings.TrimSpace(b.String())

	var block extractionBlock
	if err := json.Unmarshal([]byte(payload), &block); err != nil {
		return reply, nil, true
	}
	return reply, block.Fields, false
}
