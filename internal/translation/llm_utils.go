package translation

import (
	"encoding/json"
	"html"
	"regexp"
	"strings"
)

const defaultLLMConfidence = 0.6

// Only terminated entities are decoded. `&notes` is a valid concatenation.
var entityPattern = regexp.MustCompile(`&(?:#[0-9]+|#[xX][0-9A-Fa-f]+|[A-Za-z][A-Za-z0-9]*);`)

// CleanExpression strips code fences and decodes escaped markup.
func CleanExpression(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// drop the language tag on the fence line
		if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], "([{=") {
			text = text[nl+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(unescapeEntities(text))
}

func unescapeEntities(text string) string {
	return entityPattern.ReplaceAllStringFunc(text, func(ent string) string {
		decoded := html.UnescapeString(ent)
		// an unknown name decodes through a legacy prefix and keeps its tail
		if strings.HasSuffix(decoded, ";") && decoded != ";" {
			return ent
		}
		return decoded
	})
}

type llmReply struct {
	TargetExpression string   `json:"targetExpression"`
	Confidence       *float64 `json:"confidence"`
	Warnings         []string `json:"warnings"`
}

// parseLLMReply accepts the structured JSON reply the prompt asks for, and
// falls back to treating the whole text as the expression.
func parseLLMReply(text string) *Response {
	cleaned := CleanExpression(text)
	if cleaned == "" {
		return &Response{Failed: true, Error: "empty response from model"}
	}

	var reply llmReply
	if strings.HasPrefix(cleaned, "{") && json.Unmarshal([]byte(cleaned), &reply) == nil && reply.TargetExpression != "" {
		resp := &Response{
			TargetExpression: CleanExpression(reply.TargetExpression),
			Confidence:       defaultLLMConfidence,
			Warnings:         reply.Warnings,
		}
		if reply.Confidence != nil {
			resp.Confidence = clamp01(*reply.Confidence)
		}
		return resp
	}

	return &Response{
		TargetExpression: cleaned,
		Confidence:       defaultLLMConfidence,
		Warnings:         []string{"model returned unstructured output"},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
