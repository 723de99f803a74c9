package a2ui

import (
	"encoding/json"
	"strings"
)

// Delimiter separates the free-text preamble from the JSON message array.
const Delimiter = "---a2ui_JSON---"

// FormatResponse renders text plus an optional message array. No messages
// means a plain text response with no delimiter.
func FormatResponse(text string, msgs []Message) (string, error) {
	text = strings.TrimSpace(text)
	if len(msgs) == 0 {
		return text, nil
	}
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return "", err
		}
	}
	body, err := json.Marshal(msgs)
	if err != nil {
		return "", &ValidationError{Reason: "encode messages", Err: err}
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\n")
	b.WriteString(Delimiter)
	b.WriteString("\n")
	b.Write(body)
	return b.String(), nil
}

// ParseResponse splits a response into its text and decoded messages.
// A JSON part wrapped in a markdown code fence is accepted.
func ParseResponse(s string) (string, []Message, error) {
	before, after, found := strings.Cut(s, Delimiter)
	text := strings.TrimSpace(before)
	if !found {
		return text, nil, nil
	}
	payload := stripFence(strings.TrimSpace(after))
	if payload == "" {
		return text, nil, nil
	}
	msgs, err := DecodeMessages([]byte(payload))
	if err != nil {
		return text, nil, err
	}
	return text, msgs, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line, e.g. ```json.
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
