package extract

import "strings"

const fence = "```"

// WholeText treats the entire text as the candidate.
func WholeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoCandidate
	}
	return text, nil
}

// TaggedFence returns the body of the first ```json block (tag is case-insensitive).
// An unterminated block runs to the end of the text.
func TaggedFence(text string) (string, error) {
	const tag = "json"
	for from := 0; ; {
		i := strings.Index(text[from:], fence)
		if i < 0 {
			return "", ErrNoCandidate
		}
		start := from + i + len(fence)
		if end := start + len(tag); end <= len(text) && strings.EqualFold(text[start:end], tag) {
			return fenceBody(text[end:]), nil
		}
		from = start
	}
}

// GenericFence returns the body of the first ``` block, skipping its info string.
func GenericFence(text string) (string, error) {
	i := strings.Index(text, fence)
	if i < 0 {
		return "", ErrNoCandidate
	}
	body := text[i+len(fence):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	}
	return fenceBody(body), nil
}

func fenceBody(body string) string {
	if j := strings.Index(body, fence); j >= 0 {
		body = body[:j]
	}
	return strings.TrimSpace(body)
}
